package batch

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// DefaultEncoding is used when no encoding is configured.
const DefaultEncoding = "utf-8"

// Charset is a resolved input encoding.
type Charset struct {
	name string
	enc  encoding.Encoding
	eol  int
}

// LookupCharset resolves an encoding name (WHATWG labels such as "utf-8",
// "latin1", "windows-1252", "shift_jis"). Only encodings in which a newline
// is the single byte 0x0A are accepted, since lines are split on raw bytes.
func LookupCharset(name string) (*Charset, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultEncoding
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return nil, fmt.Errorf("batch: unsupported encoding %q: %w", name, err)
	}
	canonical, err := htmlindex.Name(enc)
	if err != nil {
		canonical = strings.ToLower(name)
	}
	eol, err := enc.NewEncoder().String("\n")
	if err != nil || eol != "\n" {
		return nil, fmt.Errorf("batch: encoding %q does not use single-byte line feeds", name)
	}
	return &Charset{name: canonical, enc: enc, eol: len(eol)}, nil
}

// Name returns the canonical encoding name.
func (c *Charset) Name() string { return c.name }

// EOLLen returns the encoded length of a line terminator.
func (c *Charset) EOLLen() int { return c.eol }

// EncodedLen returns the number of bytes s occupies in this encoding.
// Characters the encoding cannot represent count as one byte.
func (c *Charset) EncodedLen(s string) int {
	if c.isUTF8() {
		return len(s)
	}
	b, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).String(s)
	if err != nil {
		return len(s)
	}
	return len(b)
}

func (c *Charset) isUTF8() bool {
	return c.name == "utf-8"
}

// decoder returns a function converting raw bytes to UTF-8 text.
func (c *Charset) decoder() func([]byte) (string, error) {
	if c.isUTF8() {
		return func(b []byte) (string, error) { return string(b), nil }
	}
	dec := c.enc.NewDecoder()
	return func(b []byte) (string, error) {
		out, err := dec.Bytes(b)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}
