package stream

import (
	"strings"
)

// Assembler accumulates fragments into a growing message buffer. Appends
// are pure concatenation in arrival order; no normalization, no truncation.
// Callers must append from a single goroutine per buffer.
type Assembler struct {
	buf strings.Builder
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Append adds a fragment and returns the full buffer so far.
func (a *Assembler) Append(fragment string) string {
	a.buf.WriteString(fragment)
	return a.buf.String()
}

// Text returns the buffer accumulated so far.
func (a *Assembler) Text() string {
	return a.buf.String()
}

// Len returns the byte length of the buffer.
func (a *Assembler) Len() int {
	return a.buf.Len()
}
