package merge

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/odvcencio/weave/pkg/index"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/treediff"
	"go.uber.org/zap"
)

// stageData is the base/ours/theirs view of one path while merging.
type stageData struct {
	stages    [4]FileSide
	processed bool
}

func (e *stageData) side(stage index.Stage, p string) FileSide {
	s := e.stages[stage]
	s.Path = p
	return s
}

type stageTable struct {
	byPath map[string]*stageData
}

func newStageTable(ix *index.Index) *stageTable {
	t := &stageTable{byPath: make(map[string]*stageData)}
	for _, p := range ix.Unmerged() {
		st := ix.Stages(p)
		e := &stageData{}
		for _, stage := range []index.Stage{index.StageBase, index.StageOurs, index.StageTheirs} {
			if st[stage].Exists() {
				e.stages[stage] = FileSide{Path: p, Mode: st[stage].Mode, Hash: st[stage].Hash}
			}
		}
		t.byPath[p] = e
	}
	return t
}

func (t *stageTable) paths() []string {
	out := make([]string, 0, len(t.byPath))
	for p := range t.byPath {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// lookup returns the entry for p, reading it from the three trees when the
// index had already resolved the path.
func (t *stageTable) lookup(db object.Reader, p string, base, ours, theirs object.Hash) (*stageData, error) {
	if e, ok := t.byPath[p]; ok {
		return e, nil
	}
	e := &stageData{}
	for stage, tree := range map[index.Stage]object.Hash{index.StageBase: base, index.StageOurs: ours, index.StageTheirs: theirs} {
		te, err := object.TreeEntryAtPath(db, tree, p)
		if errors.Is(err, object.ErrNotFound) || (err == nil && te.IsDir()) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("merge: read %s of %s: %w", p, stage, err)
		}
		e.stages[stage] = FileSide{Path: p, Mode: te.Mode, Hash: te.Hash}
	}
	t.byPath[p] = e
	return e, nil
}

// rename is one path renamed by a side relative to the base.
type rename struct {
	src, dst  treediff.Entry
	srcEntry  *stageData
	dstEntry  *stageData
	processed bool
}

func sideOf(e treediff.Entry) FileSide {
	return FileSide{Path: e.Path, Mode: e.Mode, Hash: e.Hash}
}

// renames detects the renames from base to tree, sorted by source path.
func (m *Merger) renames(entries *stageTable, tree, base, ours, theirs object.Hash) ([]*rename, error) {
	changes, err := treediff.Diff(m.db, base, tree, treediff.Options{
		Renames:     true,
		MinScore:    m.opts.RenameScore,
		RenameLimit: m.opts.RenameLimit,
		Logger:      m.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("merge: detect renames: %w", err)
	}
	var out []*rename
	for _, c := range changes {
		if c.Status != treediff.Renamed {
			continue
		}
		re := &rename{src: c.From, dst: c.To}
		if re.srcEntry, err = entries.lookup(m.db, c.From.Path, base, ours, theirs); err != nil {
			return nil, err
		}
		if re.dstEntry, err = entries.lookup(m.db, c.To.Path, base, ours, theirs); err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].src.Path < out[j].src.Path })
	m.logger.Debug("renames", zap.String("tree", string(tree)), zap.Int("count", len(out)))
	return out, nil
}

// processRenames walks the renames of both sides in source order and
// resolves every rename, including the combinations where both sides
// renamed the same source or onto the same destination.
func (m *Merger) processRenames(aRenames, bRenames []*rename) (bool, error) {
	aByDst := make(map[string]*rename, len(aRenames))
	for _, re := range aRenames {
		aByDst[re.dst.Path] = re
	}
	bByDst := make(map[string]*rename, len(bRenames))
	for _, re := range bRenames {
		bByDst[re.dst.Path] = re
	}

	clean := true
	for i, j := 0, 0; i < len(aRenames) || j < len(bRenames); {
		var ren1, ren2 *rename
		switch {
		case i >= len(aRenames):
			ren2 = bRenames[j]
			j++
		case j >= len(bRenames):
			ren1 = aRenames[i]
			i++
		default:
			cmp := strings.Compare(aRenames[i].src.Path, bRenames[j].src.Path)
			if cmp <= 0 {
				ren1 = aRenames[i]
				i++
			}
			if cmp >= 0 {
				ren2 = bRenames[j]
				j++
			}
		}

		fromOurs := ren1 != nil
		branch1, branch2 := m.branch1, m.branch2
		otherByDst := bByDst
		if !fromOurs {
			ren1, ren2 = ren2, ren1
			branch1, branch2 = branch2, branch1
			otherByDst = aByDst
		}

		ren1.dstEntry.processed = true
		ren1.srcEntry.processed = true
		if ren1.processed {
			continue
		}
		ren1.processed = true

		var ok bool
		var err error
		if ren2 != nil {
			ok, err = m.renamedInBoth(ren1, ren2, branch1, branch2)
		} else {
			ok, err = m.renamedInOne(ren1, fromOurs, branch1, branch2, otherByDst)
		}
		if err != nil {
			return false, err
		}
		if !ok {
			clean = false
		}
	}
	return clean, nil
}

func (m *Merger) renamedInBoth(ren1, ren2 *rename, branch1, branch2 string) (bool, error) {
	src := ren1.src.Path
	if src != ren2.src.Path {
		return false, fmt.Errorf("merge: rename sources differ: %s != %s", src, ren2.src.Path)
	}
	ren2.dstEntry.processed = true
	ren2.processed = true

	dst := ren1.dst.Path
	if dst != ren2.dst.Path {
		unresolved := ""
		if m.depth > 0 {
			unresolved = " (left unresolved)"
		}
		m.output(1, `CONFLICT (rename/rename): Rename "%s"->"%s" in branch "%s" rename "%s"->"%s" in "%s"%s`,
			src, dst, branch1, src, ren2.dst.Path, branch2, unresolved)
		if m.depth > 0 {
			m.idx.Remove(src)
			m.updateFile(false, ren1.src.Mode, ren1.src.Hash, src)
		}
		return false, m.conflictRenameRename(ren1, branch1, ren2, branch2)
	}

	m.removeFile(true, src, true)
	mfi, err := m.mergeFile(sideOf(ren1.src), sideOf(ren1.dst), sideOf(ren2.dst), branch1, branch2)
	if err != nil {
		return false, err
	}
	if mfi.Merge || !mfi.Clean {
		m.output(1, "Renaming %s->%s", src, dst)
	}
	if mfi.Merge {
		m.output(2, "Auto-merging %s", dst)
	}
	if !mfi.Clean {
		m.output(1, "CONFLICT (content): merge conflict in %s", dst)
		m.conflict(dst)
		if m.depth == 0 {
			one, a, b := sideOf(ren1.src), sideOf(ren1.dst), sideOf(ren2.dst)
			if err := m.updateStages(dst, &one, &a, &b, true); err != nil {
				return false, err
			}
		}
	}
	m.updateFile(mfi.Clean, mfi.Mode, mfi.Hash, dst)
	return mfi.Clean, nil
}

// conflictRenameRename leaves both destinations of a source renamed
// differently by each side.
func (m *Merger) conflictRenameRename(ren1 *rename, branch1 string, ren2 *rename, branch2 string) error {
	dst1, dst2 := ren1.dst.Path, ren2.dst.Path
	name1, name2 := dst1, dst2
	if m.dirs.Contains(dst1) {
		name1 = m.uniquePath(dst1, branch1)
		m.output(1, "%s is a directory in %s adding as %s instead", dst1, branch2, name1)
		m.removeFile(false, dst1, false)
	}
	if m.dirs.Contains(dst2) {
		name2 = m.uniquePath(dst2, branch2)
		m.output(1, "%s is a directory in %s adding as %s instead", dst2, branch1, name2)
		m.removeFile(false, dst2, false)
	}
	m.conflict(name1)
	m.conflict(name2)
	if m.depth > 0 {
		m.idx.Remove(name1)
		m.idx.Remove(name2)
		return nil
	}
	two1, two2 := sideOf(ren1.dst), sideOf(ren2.dst)
	if err := m.updateStages(name1, nil, &two1, nil, true); err != nil {
		return err
	}
	if err := m.updateStages(name2, nil, nil, &two2, true); err != nil {
		return err
	}
	m.updateFile(false, two1.Mode, two1.Hash, name1)
	m.updateFile(false, two2.Mode, two2.Hash, name2)
	return nil
}

func (m *Merger) renamedInOne(ren1 *rename, fromOurs bool, branch1, branch2 string, otherByDst map[string]*rename) (bool, error) {
	src, dst := ren1.src.Path, ren1.dst.Path
	// The side that did not rename.
	stage := index.StageOurs
	if fromOurs {
		stage = index.StageTheirs
	}
	m.removeFile(true, src, m.depth > 0 || stage == index.StageTheirs)

	srcOther := ren1.srcEntry.side(stage, src)
	dstOther := ren1.dstEntry.side(stage, dst)

	clean := true
	tryMerge := false
	switch {
	case m.dirs.Contains(dst):
		clean = false
		m.conflict(dst)
		m.output(1, "CONFLICT (rename/directory): Rename %s->%s in %s  directory %s added in %s",
			src, dst, branch1, dst, branch2)
		newPath := m.uniquePath(dst, branch1)
		m.output(1, "Renaming %s to %s instead", src, newPath)
		m.removeFile(false, dst, false)
		m.updateFile(false, ren1.dst.Mode, ren1.dst.Hash, newPath)

	case !srcOther.Exists():
		clean = false
		m.conflict(dst)
		m.output(1, "CONFLICT (rename/delete): Rename %s->%s in %s and deleted in %s",
			src, dst, branch1, branch2)
		m.updateFile(false, ren1.dst.Mode, ren1.dst.Hash, dst)
		if m.depth == 0 {
			two := sideOf(ren1.dst)
			a, b := &two, (*FileSide)(nil)
			if !fromOurs {
				a, b = b, a
			}
			if err := m.updateStages(dst, nil, a, b, true); err != nil {
				return false, err
			}
		}

	case dstOther.Exists():
		clean = false
		tryMerge = true
		m.conflict(dst)
		m.output(1, "CONFLICT (rename/add): Rename %s->%s in %s. %s added in %s",
			src, dst, branch1, dst, branch2)
		if m.depth > 0 {
			one := FileSide{Path: dst}
			a := FileSide{Path: dst, Mode: ren1.dst.Mode, Hash: ren1.dst.Hash}
			mfi, err := m.mergeFile(one, a, dstOther, branch1, branch2)
			if err != nil {
				return false, err
			}
			m.output(1, "Adding merged %s", dst)
			m.updateFile(false, mfi.Mode, mfi.Hash, dst)
		} else {
			newPath := m.uniquePath(dst, branch2)
			m.output(1, "Adding as %s instead", newPath)
			m.updateFile(false, dstOther.Mode, dstOther.Hash, newPath)
		}

	case otherByDst[dst] != nil:
		ren2 := otherByDst[dst]
		clean = false
		ren2.processed = true
		m.conflict(dst)
		m.output(1, "CONFLICT (rename/rename): Rename %s->%s in %s. Rename %s->%s in %s",
			src, dst, branch1, ren2.src.Path, ren2.dst.Path, branch2)
		m.conflictRenameRename2(ren1, branch1, ren2, branch2)

	default:
		tryMerge = true
	}

	if !tryMerge {
		return clean, nil
	}

	one := sideOf(ren1.src)
	a, b := sideOf(ren1.dst), srcOther
	if !fromOurs {
		a, b = srcOther, sideOf(ren1.dst)
	}
	mfi, err := m.mergeFile(one, a, b, m.branch1, m.branch2)
	if err != nil {
		return false, err
	}
	if mfi.Clean && mfi.Hash == ren1.dst.Hash && mfi.Mode == ren1.dst.Mode {
		m.output(3, "Skipped %s (merged same as existing)", dst)
		m.updateFile(true, mfi.Mode, mfi.Hash, dst)
		return clean, nil
	}
	if mfi.Merge || !mfi.Clean {
		m.output(1, "Renaming %s => %s", src, dst)
	}
	if mfi.Merge {
		m.output(2, "Auto-merging %s", dst)
	}
	if !mfi.Clean {
		clean = false
		m.conflict(dst)
		m.output(1, "CONFLICT (rename/modify): Merge conflict in %s", dst)
		if m.depth == 0 {
			if err := m.updateStages(dst, &one, &a, &b, true); err != nil {
				return false, err
			}
		}
	}
	m.updateFile(mfi.Clean, mfi.Mode, mfi.Hash, dst)
	return clean, nil
}

// conflictRenameRename2 handles two sources renamed onto one destination:
// each is kept under a disambiguated name.
func (m *Merger) conflictRenameRename2(ren1 *rename, branch1 string, ren2 *rename, branch2 string) {
	path1 := m.uniquePath(ren1.dst.Path, branch1)
	path2 := m.uniquePath(ren2.dst.Path, branch2)
	m.output(1, "Renaming %s to %s and %s to %s instead", ren1.src.Path, path1, ren2.src.Path, path2)
	m.removeFile(false, ren1.dst.Path, false)
	m.removeFile(true, ren2.src.Path, false)
	m.updateFile(false, ren1.dst.Mode, ren1.dst.Hash, path1)
	m.updateFile(false, ren2.dst.Mode, ren2.dst.Hash, path2)
}
