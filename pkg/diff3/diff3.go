// Package diff3 merges two versions of a text against their common base,
// line by line, marking overlapping incompatible changes as conflicts.
package diff3

import (
	"bytes"
	"sort"
	"strings"

	"github.com/odvcencio/weave/pkg/diff"
)

// HunkType classifies a hunk in a three-way merge result.
type HunkType int

const (
	HunkClean    HunkType = iota // Hunk was merged cleanly.
	HunkConflict                 // Hunk has a conflict that requires manual resolution.
)

// Style selects how conflicts are rendered.
type Style int

const (
	StyleMerge Style = iota // ours and theirs only
	StyleDiff3              // ours, base and theirs
)

// Favor resolves conflicting regions without markers.
type Favor int

const (
	FavorNone Favor = iota
	FavorOurs
	FavorTheirs
	FavorUnion
)

// DefaultMarkerSize is the length of conflict marker runs.
const DefaultMarkerSize = 7

// Options controls labels and conflict handling.
type Options struct {
	OursLabel   string
	BaseLabel   string
	TheirsLabel string
	MarkerSize  int
	Style       Style
	Favor       Favor
	Minimal     bool
}

// Hunk represents a contiguous section of the merge output.
type Hunk struct {
	Type                       HunkType
	Base, Ours, Theirs, Merged []byte
}

// Result holds the outcome of a three-way merge.
type Result struct {
	Merged       []byte // Full merged content (with conflict markers if conflicts exist).
	HasConflicts bool   // True if any hunk is a conflict.
	Conflicts    int    // Number of conflict hunks.
	Hunks        []Hunk // Individual hunks in document order.
}

// sideHunk is a base-relative change coming from one side.
type sideHunk struct {
	diff.Hunk
	theirs bool
}

// Merge performs a three-way merge of base, ours, and theirs.
//
// Both sides are diffed against base. Changes whose base ranges overlap
// (an insertion touching a change counts as overlapping) are grouped
// into regions; a region changed by one side takes that side, a region
// changed identically by both merges cleanly, anything else conflicts.
func Merge(base, ours, theirs []byte, opts Options) Result {
	if opts.MarkerSize <= 0 {
		opts.MarkerSize = DefaultMarkerSize
	}
	baseLines := diff.Lines(base)
	oursLines := diff.Lines(ours)
	theirsLines := diff.Lines(theirs)

	dopts := diff.Options{Minimal: opts.Minimal}
	var all []sideHunk
	for _, h := range diff.LineHunks(baseLines, oursLines, dopts) {
		all = append(all, sideHunk{Hunk: h})
	}
	for _, h := range diff.LineHunks(baseLines, theirsLines, dopts) {
		all = append(all, sideHunk{Hunk: h, theirs: true})
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].OldStart < all[j].OldStart
	})

	m := merger{opts: opts, base: baseLines, ours: oursLines, theirs: theirsLines}
	pos := 0
	for i := 0; i < len(all); {
		lo, hi := all[i].OldStart, all[i].OldEnd()
		j := i + 1
		for j < len(all) && overlaps(lo, hi, all[j].Hunk) {
			if all[j].OldEnd() > hi {
				hi = all[j].OldEnd()
			}
			j++
		}
		m.unchanged(pos, lo)
		m.region(lo, hi, all[i:j])
		pos = hi
		i = j
	}
	m.unchanged(pos, len(baseLines))

	return Result{
		Merged:       m.out.Bytes(),
		HasConflicts: m.conflicts > 0,
		Conflicts:    m.conflicts,
		Hunks:        m.hunks,
	}
}

// overlaps reports whether h touches the region [lo, hi). Two non-empty
// ranges must share a line; an empty range (an insertion) also touches a
// region it borders.
func overlaps(lo, hi int, h diff.Hunk) bool {
	if h.OldStart < hi {
		return true
	}
	return h.OldStart == hi && (h.OldLines == 0 || lo == hi)
}

type merger struct {
	opts               Options
	base, ours, theirs []string
	out                bytes.Buffer
	hunks              []Hunk
	conflicts          int
}

func (m *merger) unchanged(from, to int) {
	if from >= to {
		return
	}
	text := joinLines(m.base[from:to])
	m.out.Write(text)
	m.hunks = append(m.hunks, Hunk{Type: HunkClean, Base: text, Merged: text})
}

// sideText rebuilds one side's version of base region [lo, hi) from the
// side's hunks that fall inside it.
func sideText(base, side []string, lo, hi int, hunks []sideHunk, theirs bool) ([]string, bool) {
	var out []string
	pos := lo
	changed := false
	for _, h := range hunks {
		if h.theirs != theirs {
			continue
		}
		changed = true
		out = append(out, base[pos:h.OldStart]...)
		out = append(out, side[h.NewStart:h.NewEnd()]...)
		pos = h.OldEnd()
	}
	out = append(out, base[pos:hi]...)
	return out, changed
}

func (m *merger) region(lo, hi int, hunks []sideHunk) {
	baseText := m.base[lo:hi]
	oursText, oursChanged := sideText(m.base, m.ours, lo, hi, hunks, false)
	theirsText, theirsChanged := sideText(m.base, m.theirs, lo, hi, hunks, true)

	switch {
	case oursChanged && !theirsChanged:
		m.clean(baseText, oursText, nil, oursText)
		return
	case theirsChanged && !oursChanged:
		m.clean(baseText, nil, theirsText, theirsText)
		return
	case linesEqual(oursText, theirsText):
		m.clean(baseText, oursText, theirsText, oursText)
		return
	}

	switch m.opts.Favor {
	case FavorOurs:
		m.clean(baseText, oursText, theirsText, oursText)
		return
	case FavorTheirs:
		m.clean(baseText, oursText, theirsText, theirsText)
		return
	case FavorUnion:
		union := append(append([]string(nil), oursText...), theirsText...)
		m.clean(baseText, oursText, theirsText, union)
		return
	}

	if m.opts.Style == StyleDiff3 {
		m.conflict(baseText, oursText, theirsText)
		return
	}

	// Lines both sides agree on at the edges of the region are not part
	// of the conflict.
	pre := 0
	for pre < len(oursText) && pre < len(theirsText) && oursText[pre] == theirsText[pre] {
		pre++
	}
	suf := 0
	for suf < len(oursText)-pre && suf < len(theirsText)-pre &&
		oursText[len(oursText)-1-suf] == theirsText[len(theirsText)-1-suf] {
		suf++
	}
	if pre > 0 {
		common := oursText[:pre]
		m.clean(nil, common, common, common)
	}
	m.conflict(baseText, oursText[pre:len(oursText)-suf], theirsText[pre:len(theirsText)-suf])
	if suf > 0 {
		common := oursText[len(oursText)-suf:]
		m.clean(nil, common, common, common)
	}
}

func (m *merger) clean(base, ours, theirs, merged []string) {
	text := joinLines(merged)
	m.out.Write(text)
	m.hunks = append(m.hunks, Hunk{
		Type:   HunkClean,
		Base:   joinLines(base),
		Ours:   joinLines(ours),
		Theirs: joinLines(theirs),
		Merged: text,
	})
}

func (m *merger) conflict(base, ours, theirs []string) {
	m.conflicts++
	start := m.out.Len()
	writeMarker(&m.out, '<', m.opts.MarkerSize, m.opts.OursLabel)
	writeSection(&m.out, ours)
	if m.opts.Style == StyleDiff3 {
		writeMarker(&m.out, '|', m.opts.MarkerSize, m.opts.BaseLabel)
		writeSection(&m.out, base)
	}
	writeMarker(&m.out, '=', m.opts.MarkerSize, "")
	writeSection(&m.out, theirs)
	writeMarker(&m.out, '>', m.opts.MarkerSize, m.opts.TheirsLabel)

	merged := make([]byte, m.out.Len()-start)
	copy(merged, m.out.Bytes()[start:])
	m.hunks = append(m.hunks, Hunk{
		Type:   HunkConflict,
		Base:   joinLines(base),
		Ours:   joinLines(ours),
		Theirs: joinLines(theirs),
		Merged: merged,
	})
}

func writeMarker(buf *bytes.Buffer, c byte, size int, label string) {
	buf.WriteString(strings.Repeat(string(c), size))
	if label != "" {
		buf.WriteByte(' ')
		buf.WriteString(label)
	}
	buf.WriteByte('\n')
}

// writeSection writes lines and terminates an incomplete last line so the
// following marker starts on its own line.
func writeSection(buf *bytes.Buffer, lines []string) {
	for _, l := range lines {
		buf.WriteString(l)
	}
	if n := len(lines); n > 0 && !strings.HasSuffix(lines[n-1], "\n") {
		buf.WriteByte('\n')
	}
}

func joinLines(lines []string) []byte {
	if len(lines) == 0 {
		return nil
	}
	return []byte(strings.Join(lines, ""))
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
