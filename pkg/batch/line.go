package batch

import (
	"fmt"
	"regexp"
)

// Line is a parsed input line: the raw text, the separator used to split it
// and the resulting fields.
type Line struct {
	text      string
	separator string
	fields    []string
}

// NewLine splits text on the separator regular expression.
func NewLine(text, separator string) (Line, error) {
	re, err := regexp.Compile(separator)
	if err != nil {
		return Line{}, fmt.Errorf("compile separator %q: %w", separator, err)
	}
	return newLine(text, separator, re), nil
}

func newLine(text, separator string, re *regexp.Regexp) Line {
	var fields []string
	if text != "" {
		fields = re.Split(text, -1)
	}
	return Line{text: text, separator: separator, fields: fields}
}

// Text returns the line as read, without its terminator.
func (l Line) Text() string { return l.text }

// Separator returns the separator expression the line was split on.
func (l Line) Separator() string { return l.separator }

// Fields returns a copy of the line's fields.
func (l Line) Fields() []string {
	out := make([]string, len(l.fields))
	copy(out, l.fields)
	return out
}

// NumFields returns the number of fields.
func (l Line) NumFields() int { return len(l.fields) }

// Field returns the i-th field, or false if the line has fewer fields.
func (l Line) Field(i int) (string, bool) {
	if i < 0 || i >= len(l.fields) {
		return "", false
	}
	return l.fields[i], true
}

// Parser turns a raw line into a Line. Implementations return a
// FormatError for malformed input; the owning worker records it and moves on.
type Parser interface {
	Parse(raw string) (Line, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(raw string) (Line, error)

// Parse calls f(raw).
func (f ParserFunc) Parse(raw string) (Line, error) { return f(raw) }

// SplitParser returns a Parser that splits lines on a separator regular
// expression. It panics if the expression does not compile.
func SplitParser(separator string) Parser {
	re := regexp.MustCompile(separator)
	return ParserFunc(func(raw string) (Line, error) {
		return newLine(raw, separator, re), nil
	})
}

// DefaultSeparator splits on runs of whitespace.
const DefaultSeparator = `\s+`
