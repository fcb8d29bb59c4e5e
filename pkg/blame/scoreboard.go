package blame

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/odvcencio/weave/pkg/diff"
)

// ErrInconsistent reports that the blame entries stopped partitioning the
// blamed line range.
var ErrInconsistent = errors.New("blame: inconsistent scoreboard")

const none = -1

// entry is a run of final-image lines [lno, lno+num) currently blamed on
// suspect, where they start at line sLno of the suspect's file. Entries
// live in the scoreboard arena and are linked in lno order.
type entry struct {
	prev, next int

	lno, num int
	sLno     int
	suspect  *origin
	guilty   bool
	// score caches the triviality score; zero means not computed.
	score int
}

func (e *entry) same(o *origin) bool {
	return e.suspect != nil && o != nil && e.suspect.key == o.key
}

// split is the up to three pieces an entry breaks into when part of it
// moves to another origin: before, moved, after. A piece with a nil
// suspect is absent.
type split [3]entry

// scoreboard holds the final image and the entries covering the blamed
// range [start, end) of it.
type scoreboard struct {
	final      []string
	start, end int

	ents    []entry
	head    int
	origins *origins

	// verify runs the full partition check after every apply.
	verify bool
}

// verifySteps is the verify setting of new scoreboards.
var verifySteps bool

func newScoreboard(final []string, start, end int, suspect *origin, reg *origins) *scoreboard {
	sb := &scoreboard{final: final, start: start, end: end, head: none, origins: reg, verify: verifySteps}
	if end > start {
		sb.ents = append(sb.ents, entry{
			prev: none, next: none,
			lno: start, num: end - start, sLno: start,
			suspect: reg.incref(suspect),
		})
		sb.head = 0
	}
	return sb
}

func (sb *scoreboard) at(i int) *entry { return &sb.ents[i] }

// lastInTarget returns the end of the highest suspect-side range still
// provisionally blamed on target, or -1 when nothing is.
func (sb *scoreboard) lastInTarget(target *origin) int {
	last := -1
	for i := sb.head; i != none; i = sb.ents[i].next {
		e := sb.at(i)
		if e.guilty || !e.same(target) {
			continue
		}
		if end := e.sLno + e.num; end > last {
			last = end
		}
	}
	return last
}

// provisional lists the entries still provisionally blamed on target.
func (sb *scoreboard) provisional(target *origin) []int {
	var out []int
	for i := sb.head; i != none; i = sb.ents[i].next {
		if e := sb.at(i); !e.guilty && e.same(target) {
			out = append(out, i)
		}
	}
	return out
}

// insertAfter links a copy of src into the list right after entry prev
// and returns its index. The caller keeps the list in lno order.
func (sb *scoreboard) insertAfter(prev int, src entry) int {
	src.suspect = sb.origins.incref(src.suspect)
	src.score = 0
	idx := len(sb.ents)
	src.prev, src.next = prev, sb.ents[prev].next
	sb.ents = append(sb.ents, src)
	sb.ents[prev].next = idx
	if n := sb.ents[idx].next; n != none {
		sb.ents[n].prev = idx
	}
	return idx
}

// replace overwrites entry i with src, keeping its place in the list.
func (sb *scoreboard) replace(i int, src entry) {
	e := sb.at(i)
	old := e.suspect
	prev, next := e.prev, e.next
	*e = src
	e.prev, e.next = prev, next
	e.suspect = sb.origins.incref(src.suspect)
	e.score = 0
	sb.origins.decref(old)
}

// splitOverlap cuts e at the unchanged run of lines [tlno, same) of its
// suspect's file, which corresponds to the parent's lines from plno. The
// middle piece goes to parent. It is absent when the run does not
// overlap e.
func (sb *scoreboard) splitOverlap(e *entry, tlno, plno, same int, parent *origin) split {
	var sp split
	if e.sLno < tlno {
		sp[0] = entry{suspect: sb.origins.incref(e.suspect), lno: e.lno, sLno: e.sLno, num: tlno - e.sLno}
		sp[1].lno = e.lno + tlno - e.sLno
		sp[1].sLno = plno
	} else {
		sp[1].lno = e.lno
		sp[1].sLno = plno + (e.sLno - tlno)
	}

	var chunkEnd int
	if same < e.sLno+e.num {
		sp[2] = entry{
			suspect: sb.origins.incref(e.suspect),
			lno:     e.lno + (same - e.sLno),
			sLno:    same,
			num:     e.sLno + e.num - same,
		}
		chunkEnd = sp[2].lno
	} else {
		chunkEnd = e.lno + e.num
	}
	sp[1].num = chunkEnd - sp[1].lno
	if sp[1].num < 1 {
		sb.release(&sp)
		return split{}
	}
	sp[1].suspect = sb.origins.incref(parent)
	return sp
}

// release drops the references a split holds.
func (sb *scoreboard) release(sp *split) {
	for i := range sp {
		sb.origins.decref(sp[i].suspect)
		sp[i].suspect = nil
	}
}

// apply replaces entry i by the pieces of sp.
func (sb *scoreboard) apply(sp *split, i int) error {
	switch {
	case sp[0].suspect != nil && sp[2].suspect != nil:
		sb.replace(i, sp[0])
		sb.insertAfter(sb.insertAfter(i, sp[1]), sp[2])
	case sp[0].suspect == nil && sp[2].suspect == nil:
		sb.replace(i, sp[1])
	case sp[0].suspect != nil:
		sb.replace(i, sp[0])
		sb.insertAfter(i, sp[1])
	default:
		sb.replace(i, sp[1])
		sb.insertAfter(i, sp[2])
	}
	if !sb.verify {
		return nil
	}
	return sb.check()
}

// keepBetter replaces best with candidate unless candidate's moved piece
// scores lower. The kept split takes its own references.
func (sb *scoreboard) keepBetter(best *split, candidate *split) {
	if candidate[1].suspect == nil {
		return
	}
	if best[1].suspect != nil && sb.score(&candidate[1]) < sb.score(&best[1]) {
		return
	}
	for i := range candidate {
		sb.origins.incref(candidate[i].suspect)
	}
	sb.release(best)
	*best = *candidate
}

// score is one plus the number of alphanumeric characters in e's final
// lines. Runs of punctuation and blank lines score low, so they are not
// worth attributing to a move or copy.
func (sb *scoreboard) score(e *entry) int {
	if e.score != 0 {
		return e.score
	}
	score := 1
	for _, line := range sb.final[e.lno : e.lno+e.num] {
		for i := 0; i < len(line); i++ {
			if c := line[i]; 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' {
				score++
			}
		}
	}
	e.score = score
	return score
}

// check verifies that the entries partition [start, end) in order.
func (sb *scoreboard) check() error {
	var merr *multierror.Error
	want, prev := sb.start, none
	for i := sb.head; i != none; i = sb.ents[i].next {
		e := sb.at(i)
		if e.prev != prev {
			merr = multierror.Append(merr, fmt.Errorf("%w: entry at line %d links back to %d, not %d", ErrInconsistent, e.lno, e.prev, prev))
		}
		if e.num < 1 {
			merr = multierror.Append(merr, fmt.Errorf("%w: entry at line %d is empty", ErrInconsistent, e.lno))
		}
		if e.lno != want {
			merr = multierror.Append(merr, fmt.Errorf("%w: entry starts at line %d, expected %d", ErrInconsistent, e.lno, want))
		}
		if e.suspect == nil {
			merr = multierror.Append(merr, fmt.Errorf("%w: entry at line %d has no suspect", ErrInconsistent, e.lno))
		}
		want = e.lno + e.num
		prev = i
	}
	if want != sb.end {
		merr = multierror.Append(merr, fmt.Errorf("%w: entries end at line %d, expected %d", ErrInconsistent, want, sb.end))
	}
	return merr.ErrorOrNil()
}

// coalesce joins neighbours blamed on the same origin whose suspect-side
// ranges are contiguous.
func (sb *scoreboard) coalesce() error {
	for i := sb.head; i != none; i = sb.ents[i].next {
		for {
			e := sb.at(i)
			n := e.next
			if n == none {
				break
			}
			next := sb.at(n)
			if !e.same(next.suspect) || e.guilty != next.guilty || e.sLno+e.num != next.sLno {
				break
			}
			e.num += next.num
			e.score = 0
			e.next = next.next
			if e.next != none {
				sb.ents[e.next].prev = i
			}
			sb.origins.decref(next.suspect)
			next.suspect = nil
		}
	}
	return sb.check()
}

// chunk is one changed region between a parent's file and its child's.
// Child lines before same match the parent lines before the previous
// chunk's pNext; pNext and tNext are the first unchanged lines after
// the region on the parent and child side.
type chunk struct {
	same, pNext, tNext int
}

// compare diffs parent against target. With context > 0, changes
// separated by no more than 2*context unchanged lines form one chunk.
func compare(parent, target []string, context int) []chunk {
	hunks := diff.LineHunks(parent, target, diff.Options{Minimal: true})
	var out []chunk
	for i, h := range hunks {
		if i > 0 && context > 0 && h.OldStart-hunks[i-1].OldEnd() <= 2*context {
			last := &out[len(out)-1]
			last.pNext, last.tNext = h.OldEnd(), h.NewEnd()
			continue
		}
		out = append(out, chunk{same: h.NewStart, pNext: h.OldEnd(), tNext: h.NewEnd()})
	}
	return out
}
