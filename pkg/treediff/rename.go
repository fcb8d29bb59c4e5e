package treediff

import (
	"fmt"
	"path"
	"sort"

	"github.com/odvcencio/weave/pkg/diff"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type source struct {
	entry   Entry
	deleted bool // the path is gone from the new tree
	change  int  // index of the Deleted change, or -1
}

type pairing struct {
	dst, src int
	score    int
}

type detector struct {
	db    object.Reader
	opts  Options
	blobs map[object.Hash][]byte
}

func (d *detector) content(h object.Hash) ([]byte, error) {
	if data, ok := d.blobs[h]; ok {
		return data, nil
	}
	data, err := object.ReadBlob(d.db, h)
	if err != nil {
		return nil, fmt.Errorf("rename detection: %w", err)
	}
	d.blobs[h] = data
	return data, nil
}

func renameable(mode string) bool {
	k := object.ModeKind(mode)
	return k == object.KindRegular || k == object.KindSymlink
}

// better orders two candidate sources for the same destination: higher
// score, then same basename as the destination, then smaller path.
func better(dstPath string, a, b source, sa, sb int) bool {
	if sa != sb {
		return sa > sb
	}
	baseA := path.Base(a.entry.Path) == path.Base(dstPath)
	baseB := path.Base(b.entry.Path) == path.Base(dstPath)
	if baseA != baseB {
		return baseA
	}
	return a.entry.Path < b.entry.Path
}

func (d *detector) detect(changes []Change, unchanged []Entry) ([]Change, error) {
	var dsts []int
	var srcs []source
	for i, c := range changes {
		switch {
		case c.Status == Added && renameable(c.To.Mode):
			dsts = append(dsts, i)
		case c.Status == Deleted && renameable(c.From.Mode):
			srcs = append(srcs, source{entry: c.From, deleted: true, change: i})
		case c.Status == Modified && d.opts.Copies && renameable(c.From.Mode):
			srcs = append(srcs, source{entry: c.From, change: -1})
		}
	}
	if d.opts.Copies && d.opts.FindCopiesHarder {
		for _, e := range unchanged {
			if renameable(e.Mode) {
				srcs = append(srcs, source{entry: e, change: -1})
			}
		}
	}
	if len(dsts) == 0 || len(srcs) == 0 {
		return changes, nil
	}
	sort.SliceStable(srcs, func(i, j int) bool { return srcs[i].entry.Path < srcs[j].entry.Path })

	assigned := make(map[int]pairing) // keyed by change index of the destination
	used := make(map[int]bool)        // source index

	// Exact matches first.
	for _, di := range dsts {
		dst := changes[di].To
		best := -1
		for si, src := range srcs {
			if src.entry.Hash != dst.Hash || object.ModeKind(src.entry.Mode) != object.ModeKind(dst.Mode) {
				continue
			}
			if !d.opts.Copies && used[si] {
				continue
			}
			if best < 0 || better(dst.Path, src, srcs[best], MaxScore, MaxScore) {
				best = si
			}
		}
		if best >= 0 {
			assigned[di] = pairing{dst: di, src: best, score: MaxScore}
			used[best] = true
		}
	}

	remaining := lo.Filter(dsts, func(di int, _ int) bool {
		_, ok := assigned[di]
		return !ok
	})
	candidateIdx := make([]int, 0, len(srcs))
	for si := range srcs {
		if d.opts.Copies || !used[si] {
			candidateIdx = append(candidateIdx, si)
		}
	}

	exact := len(assigned)
	if len(remaining) > 0 && len(candidateIdx) > 0 {
		limit := d.opts.RenameLimit
		if limit > 0 && len(remaining)*len(candidateIdx) > limit*limit {
			d.opts.Logger.Warn("inexact rename detection skipped",
				zap.Int("sources", len(candidateIdx)),
				zap.Int("destinations", len(remaining)),
				zap.Int("limit", limit))
		} else {
			pairs, err := d.inexact(changes, remaining, srcs, candidateIdx)
			if err != nil {
				return nil, err
			}
			for _, p := range pairs {
				if _, ok := assigned[p.dst]; ok {
					continue
				}
				if !d.opts.Copies && used[p.src] {
					continue
				}
				assigned[p.dst] = p
				used[p.src] = true
			}
		}
	}
	d.opts.Logger.Debug("rename detection",
		zap.Int("exact", exact),
		zap.Int("inexact", len(assigned)-exact),
		zap.Int("sources", len(srcs)),
		zap.Int("destinations", len(dsts)))

	return rewrite(changes, srcs, assigned), nil
}

// candidatesPerDst bounds how many acceptable sources each destination
// keeps, so that a destination whose best source is taken elsewhere can
// still pair with its next best.
const candidatesPerDst = 4

// inexact scores every remaining destination against every candidate
// source and returns the acceptable pairs, best first.
func (d *detector) inexact(changes []Change, remaining []int, srcs []source, candidateIdx []int) ([]pairing, error) {
	var pairs []pairing
	for _, di := range remaining {
		dst := changes[di].To
		dstData, err := d.content(dst.Hash)
		if err != nil {
			return nil, err
		}
		var kept []pairing
		for _, si := range candidateIdx {
			src := srcs[si]
			if object.ModeKind(src.entry.Mode) != object.ModeKind(dst.Mode) {
				continue
			}
			srcData, err := d.content(src.entry.Hash)
			if err != nil {
				return nil, err
			}
			if tooDifferentInSize(len(srcData), len(dstData), d.opts.MinScore) {
				continue
			}
			score := diff.Score(srcData, dstData, MaxScore)
			if score < d.opts.MinScore {
				continue
			}
			kept = append(kept, pairing{dst: di, src: si, score: score})
		}
		sort.SliceStable(kept, func(i, j int) bool {
			return better(dst.Path, srcs[kept[i].src], srcs[kept[j].src], kept[i].score, kept[j].score)
		})
		if len(kept) > candidatesPerDst {
			kept = kept[:candidatesPerDst]
		}
		pairs = append(pairs, kept...)
	}

	sort.SliceStable(pairs, func(i, j int) bool {
		a, b := pairs[i], pairs[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.dst != b.dst {
			return changes[a.dst].To.Path < changes[b.dst].To.Path
		}
		return better(changes[a.dst].To.Path, srcs[a.src], srcs[b.src], a.score, b.score)
	})
	return pairs, nil
}

// tooDifferentInSize skips pairs whose size difference alone already
// rules out reaching minScore.
func tooDifferentInSize(a, b, minScore int) bool {
	small, large := a, b
	if small > large {
		small, large = large, small
	}
	delta := large - small
	return int64(large)*int64(MaxScore-minScore) < int64(delta)*int64(MaxScore)
}

// rewrite replaces paired Added changes with Renamed or Copied ones. A
// deleted source is renamed to the first of its destinations in path
// order and copied to the rest; its Deleted change then disappears.
func rewrite(changes []Change, srcs []source, assigned map[int]pairing) []Change {
	if len(assigned) == 0 {
		return changes
	}
	bySrc := lo.GroupBy(lo.Values(assigned), func(p pairing) int { return p.src })

	drop := make(map[int]bool)
	out := make([]Change, len(changes))
	copy(out, changes)
	for si, pairs := range bySrc {
		src := srcs[si]
		sort.Slice(pairs, func(i, j int) bool {
			return changes[pairs[i].dst].To.Path < changes[pairs[j].dst].To.Path
		})
		for n, p := range pairs {
			status := Copied
			if src.deleted && n == 0 {
				status = Renamed
				drop[src.change] = true
			}
			out[p.dst] = Change{Status: status, From: src.entry, To: changes[p.dst].To, Score: p.score}
		}
	}

	return lo.Filter(out, func(_ Change, i int) bool { return !drop[i] })
}
