package batch

// Section is a batch of parsed lines claimed atomically from a Reader.
type Section struct {
	// Lines holds the parsed lines in input order.
	Lines []Line

	// Rejected holds lines the parser refused. They do not count toward the
	// section size.
	Rejected []*Error

	// Last is set when the end of input was reached while filling the
	// section. A last section may still hold lines to process.
	Last bool
}

// Len returns the number of parsed lines.
func (s *Section) Len() int {
	return len(s.Lines)
}
