package merge

import (
	"bytes"
	"fmt"
	"io"
	"strings"
)

// DefaultVerbosity shows conflicts and per-path progress but not the
// commit titles of the recursion.
const DefaultVerbosity = 2

// Output collects the progress and conflict messages of a merge.
//
// A message of level v is shown when the merge is at the top level and
// the verbosity is at least v, or at any depth once the verbosity is 5
// or more. Nested messages are indented two spaces per level. Messages
// are buffered until Flush unless the verbosity is 5 or more.
type Output struct {
	w         io.Writer
	verbosity int
	buf       bytes.Buffer
	all       strings.Builder
}

// NewOutput returns an Output writing flushed messages to w. A nil w
// keeps messages only in memory.
func NewOutput(w io.Writer, verbosity int) *Output {
	if w == nil {
		w = io.Discard
	}
	return &Output{w: w, verbosity: verbosity}
}

func (o *Output) show(depth, level int) bool {
	return (depth == 0 && o.verbosity >= level) || o.verbosity >= 5
}

// Printf formats one message line at depth with level.
func (o *Output) Printf(depth, level int, format string, args ...any) {
	if !o.show(depth, level) {
		return
	}
	o.line(depth, fmt.Sprintf(format, args...))
}

func (o *Output) line(depth int, text string) {
	o.buf.WriteString(strings.Repeat("  ", depth))
	o.buf.WriteString(text)
	o.buf.WriteByte('\n')
	if o.verbosity >= 5 {
		o.Flush()
	}
}

// Flush writes buffered messages.
func (o *Output) Flush() error {
	if o.buf.Len() == 0 {
		return nil
	}
	o.all.Write(o.buf.Bytes())
	_, err := o.w.Write(o.buf.Bytes())
	o.buf.Reset()
	return err
}

// String returns every message flushed so far.
func (o *Output) String() string {
	return o.all.String()
}
