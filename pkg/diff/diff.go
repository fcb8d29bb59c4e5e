// Package diff computes line-level edit scripts and hunks between two
// buffers, and estimates content similarity for rename detection.
package diff

import "bytes"

// Options controls how a diff is computed.
type Options struct {
	// Context is the number of unchanged lines kept around each hunk.
	// Hunks separated by at most 2*Context unchanged lines are joined.
	Context int
	// Minimal always computes a minimal edit script. Without it, very
	// expensive diffs fall back to one replace block for the part that
	// could not be resolved within the cost bound.
	Minimal bool
}

// Hunk is a contiguous change: OldLines lines starting at OldStart in the
// old buffer are replaced by NewLines lines starting at NewStart in the
// new buffer. Starts are 0-based; a count of zero marks a pure insertion
// or deletion at that position. With context, the ranges include the
// surrounding unchanged lines.
type Hunk struct {
	OldStart, OldLines int
	NewStart, NewLines int
}

// OldEnd is the exclusive end of the old range.
func (h Hunk) OldEnd() int { return h.OldStart + h.OldLines }

// NewEnd is the exclusive end of the new range.
func (h Hunk) NewEnd() int { return h.NewStart + h.NewLines }

// Lines splits buf into lines, keeping each line's terminating newline. An
// incomplete last line counts as a line.
func Lines(buf []byte) []string {
	if len(buf) == 0 {
		return nil
	}
	lines := make([]string, 0, bytes.Count(buf, []byte{'\n'})+1)
	for len(buf) > 0 {
		i := bytes.IndexByte(buf, '\n')
		if i < 0 {
			lines = append(lines, string(buf))
			break
		}
		lines = append(lines, string(buf[:i+1]))
		buf = buf[i+1:]
	}
	return lines
}

// CountLines returns len(Lines(buf)) without allocating.
func CountLines(buf []byte) int {
	n := bytes.Count(buf, []byte{'\n'})
	if len(buf) > 0 && buf[len(buf)-1] != '\n' {
		n++
	}
	return n
}

// Diff computes the hunks turning a into b.
func Diff(a, b []byte, opts Options) []Hunk {
	return LineHunks(Lines(a), Lines(b), opts)
}

// LineHunks computes the hunks turning line sequence a into b.
func LineHunks(a, b []string, opts Options) []Hunk {
	return hunksFromOps(editTypes(a, b, opts.Minimal), opts.Context, len(a), len(b))
}

// Edits returns the full edit script turning a into b.
func Edits(a, b []string, opts Options) []Op {
	types := editTypes(a, b, opts.Minimal)
	ops := make([]Op, len(types))
	i, j := 0, 0
	for n, t := range types {
		switch t {
		case Equal:
			ops[n] = Op{Type: Equal, Line: a[i]}
			i++
			j++
		case Delete:
			ops[n] = Op{Type: Delete, Line: a[i]}
			i++
		case Insert:
			ops[n] = Op{Type: Insert, Line: b[j]}
			j++
		}
	}
	return ops
}

// costLimit bounds the work of a non-minimal diff so the kept trace stays
// within a fixed budget of integers.
func costLimit(n int) int {
	const budget = 1 << 25
	limit := budget / (n + 1)
	if limit < 256 {
		limit = 256
	}
	return limit
}

func editTypes(a, b []string, minimal bool) []OpType {
	// Common prefix and suffix never take part in the search.
	pre := 0
	for pre < len(a) && pre < len(b) && a[pre] == b[pre] {
		pre++
	}
	suf := 0
	for suf < len(a)-pre && suf < len(b)-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		suf++
	}

	midA := a[pre : len(a)-suf]
	midB := b[pre : len(b)-suf]

	ops := make([]OpType, 0, len(a)+len(b))
	for i := 0; i < pre; i++ {
		ops = append(ops, Equal)
	}

	switch {
	case len(midA) == 0:
		for range midB {
			ops = append(ops, Insert)
		}
	case len(midB) == 0:
		for range midA {
			ops = append(ops, Delete)
		}
	default:
		ia, ib := intern(midA, midB)
		limit := 0
		if !minimal {
			limit = costLimit(len(ia) + len(ib))
		}
		mid, ok := myers(ia, ib, limit)
		if !ok {
			mid = mid[:0]
			for range midA {
				mid = append(mid, Delete)
			}
			for range midB {
				mid = append(mid, Insert)
			}
		}
		ops = append(ops, mid...)
	}

	for i := 0; i < suf; i++ {
		ops = append(ops, Equal)
	}
	return ops
}

func intern(a, b []string) ([]int, []int) {
	ids := make(map[string]int, len(a)+len(b))
	conv := func(lines []string) []int {
		out := make([]int, len(lines))
		for i, l := range lines {
			id, ok := ids[l]
			if !ok {
				id = len(ids)
				ids[l] = id
			}
			out[i] = id
		}
		return out
	}
	return conv(a), conv(b)
}

// hunksFromOps groups an edit script into hunks, joining changes closer
// than 2*context lines and widening each hunk by context lines.
func hunksFromOps(ops []OpType, context, n, m int) []Hunk {
	var raw []Hunk
	i, j := 0, 0
	for k := 0; k < len(ops); {
		if ops[k] == Equal {
			i++
			j++
			k++
			continue
		}
		h := Hunk{OldStart: i, NewStart: j}
		for k < len(ops) && ops[k] != Equal {
			if ops[k] == Delete {
				i++
			} else {
				j++
			}
			k++
		}
		h.OldLines = i - h.OldStart
		h.NewLines = j - h.NewStart
		raw = append(raw, h)
	}
	if context <= 0 || len(raw) == 0 {
		return raw
	}

	var out []Hunk
	cur := raw[0]
	for _, h := range raw[1:] {
		if h.OldStart-cur.OldEnd() <= 2*context {
			cur.OldLines = h.OldEnd() - cur.OldStart
			cur.NewLines = h.NewEnd() - cur.NewStart
			continue
		}
		out = append(out, widen(cur, context, n, m))
		cur = h
	}
	return append(out, widen(cur, context, n, m))
}

func widen(h Hunk, context, n, m int) Hunk {
	before := context
	if h.OldStart < before {
		before = h.OldStart
	}
	if h.NewStart < before {
		before = h.NewStart
	}
	after := context
	if n-h.OldEnd() < after {
		after = n - h.OldEnd()
	}
	if m-h.NewEnd() < after {
		after = m - h.NewEnd()
	}
	return Hunk{
		OldStart: h.OldStart - before,
		OldLines: h.OldLines + before + after,
		NewStart: h.NewStart - before,
		NewLines: h.NewLines + before + after,
	}
}
