// Package merge implements three-way merging of files, trees and commits.
//
// A Merger resolves every path of two trees against their common base,
// following renames detected on both sides. Conflicts are part of the
// Result, not errors: the merger always processes every path so the
// caller sees the complete conflict set at once.
package merge

import (
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/odvcencio/weave/pkg/diff3"
	"github.com/odvcencio/weave/pkg/graph"
	"github.com/odvcencio/weave/pkg/index"
	"github.com/odvcencio/weave/pkg/object"
	"go.uber.org/zap"
)

// ErrUnmergedIndex is returned when a merge is attempted on top of an index
// that still has conflicts.
var ErrUnmergedIndex = errors.New("you need to resolve your current index first")

// DefaultRenameLimit bounds inexact rename detection during a merge.
const DefaultRenameLimit = 500

// Options configures a Merger.
type Options struct {
	// BranchOurs and BranchTheirs name the two sides in messages and
	// conflict markers.
	BranchOurs   string
	BranchTheirs string
	// AncestorName labels the base in diff3-style markers. Commit merges
	// always use "merged common ancestors".
	AncestorName string

	// Verbosity selects which messages are shown; see Output.
	Verbosity int
	// Out receives flushed messages. Nil keeps them in memory only.
	Out io.Writer

	// RenameLimit bounds inexact rename detection; zero is unlimited.
	RenameLimit int
	// RenameScore is the rename acceptance threshold on the
	// treediff.MaxScore scale; zero means the default.
	RenameScore int

	Style      diff3.Style
	MarkerSize int
	Favor      diff3.Favor
	Minimal    bool
	Tool       string
	// Renormalize merges files as if their line endings were LF.
	Renormalize bool

	Logger *zap.Logger
}

// DefaultOptions returns the options a merge uses when nothing is
// configured.
func DefaultOptions() Options {
	return Options{
		BranchOurs:   "ours",
		BranchTheirs: "theirs",
		Verbosity:    DefaultVerbosity,
		RenameLimit:  DefaultRenameLimit,
		MarkerSize:   diff3.DefaultMarkerSize,
	}
}

// Result is the outcome of a tree merge.
type Result struct {
	// Tree is the merged tree. Conflicted paths carry whatever the merge
	// left in place of the file: content with markers, the surviving
	// side of a delete/modify, or disambiguated copies.
	Tree object.Hash
	// Clean is false when any path needs manual resolution.
	Clean bool
	// Conflicts lists conflicted paths in the order they were found.
	Conflicts []string
	// Index holds a resolved entry for every clean path and the
	// base/ours/theirs stages of every conflicted one.
	Index *index.Index
}

// Merger runs tree and commit merges against one content store. It is not
// safe for concurrent use.
type Merger struct {
	db     object.Database
	graph  *graph.Graph
	opts   Options
	out    *Output
	logger *zap.Logger

	depth    int
	branch1  string
	branch2  string
	ancestor string

	// Per tree merge state.
	idx       *index.Index
	work      map[string]index.Entry
	files     *treeset.Set
	dirs      *treeset.Set
	conflicts *linkedhashset.Set
}

// New returns a Merger over db.
func New(db object.Database, opts Options) *Merger {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BranchOurs == "" {
		opts.BranchOurs = "ours"
	}
	if opts.BranchTheirs == "" {
		opts.BranchTheirs = "theirs"
	}
	return &Merger{
		db:       db,
		graph:    graph.New(db, opts.Logger),
		opts:     opts,
		out:      NewOutput(opts.Out, opts.Verbosity),
		logger:   opts.Logger,
		branch1:  opts.BranchOurs,
		branch2:  opts.BranchTheirs,
		ancestor: opts.AncestorName,
	}
}

// Output returns the message buffer of the merger.
func (m *Merger) Output() *Output { return m.out }

// RequireMerged fails with ErrUnmergedIndex when ix still has conflicts.
func RequireMerged(ix *index.Index) error {
	if unmerged := ix.Unmerged(); len(unmerged) > 0 {
		return fmt.Errorf("%d unmerged paths, first %q: %w", len(unmerged), unmerged[0], ErrUnmergedIndex)
	}
	return nil
}

func (m *Merger) output(level int, format string, args ...any) {
	m.out.Printf(m.depth, level, format, args...)
}

// MergeTrees merges ours and theirs against base. An empty hash stands for
// the empty tree.
func (m *Merger) MergeTrees(ours, theirs, base object.Hash) (*Result, error) {
	res, err := m.mergeTrees(ours, theirs, base)
	if ferr := m.out.Flush(); err == nil && ferr != nil {
		err = fmt.Errorf("merge trees: flush output: %w", ferr)
	}
	return res, err
}

func (m *Merger) mergeTrees(ours, theirs, base object.Hash) (*Result, error) {
	if base == theirs {
		m.output(0, "Already up-to-date!")
		ix, err := index.FromTree(m.db, ours)
		if err != nil {
			return nil, fmt.Errorf("merge trees: %w", err)
		}
		return &Result{Tree: ours, Clean: true, Index: ix}, nil
	}
	if ours == theirs {
		ix, err := index.FromTree(m.db, ours)
		if err != nil {
			return nil, fmt.Errorf("merge trees: %w", err)
		}
		return &Result{Tree: ours, Clean: true, Index: ix}, nil
	}

	idx, err := index.ThreeWay(m.db, base, ours, theirs)
	if err != nil {
		return nil, fmt.Errorf("merging of trees %s and %s failed: %w", ours, theirs, err)
	}
	m.idx = idx
	m.conflicts = linkedhashset.New()
	m.work = nil
	if m.depth == 0 {
		m.work = make(map[string]index.Entry)
		for _, p := range idx.Paths() {
			st := idx.Stages(p)
			switch {
			case st[index.StageResolved].Exists():
				m.work[p] = st[index.StageResolved]
			case st[index.StageOurs].Exists():
				m.work[p] = st[index.StageOurs]
			}
		}
	}

	clean := true
	if len(idx.Unmerged()) > 0 {
		if err := m.loadFilesDirs(ours, theirs); err != nil {
			return nil, err
		}
		entries := newStageTable(idx)
		reHead, err := m.renames(entries, ours, base, ours, theirs)
		if err != nil {
			return nil, err
		}
		reMerge, err := m.renames(entries, theirs, base, ours, theirs)
		if err != nil {
			return nil, err
		}
		ok, err := m.processRenames(reHead, reMerge)
		if err != nil {
			return nil, err
		}
		clean = ok
		for _, p := range entries.paths() {
			e := entries.byPath[p]
			if e.processed {
				continue
			}
			ok, err := m.processEntry(p, e)
			if err != nil {
				return nil, err
			}
			if !ok {
				clean = false
			}
		}
	}

	tree, err := m.writeResultTree()
	if err != nil {
		return nil, err
	}
	res := &Result{Tree: tree, Clean: clean, Index: m.idx}
	for _, v := range m.conflicts.Values() {
		res.Conflicts = append(res.Conflicts, v.(string))
	}
	m.logger.Info("tree merge",
		zap.Int("depth", m.depth),
		zap.Bool("clean", clean),
		zap.Int("conflicts", len(res.Conflicts)),
		zap.String("tree", string(tree)))
	return res, nil
}

// writeResultTree writes the index at depth > 0 and the worktree view at
// the top level.
func (m *Merger) writeResultTree() (object.Hash, error) {
	if m.depth > 0 {
		h, err := m.idx.WriteTree(m.db)
		if err != nil {
			return "", fmt.Errorf("write merged ancestor tree: %w", err)
		}
		return h, nil
	}
	files := make([]object.FileEntry, 0, len(m.work))
	for p, e := range m.work {
		files = append(files, object.FileEntry{Path: p, Mode: e.Mode, Hash: e.Hash})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	h, err := object.BuildTree(m.db, files)
	if err != nil {
		return "", fmt.Errorf("write merged tree: %w", err)
	}
	return h, nil
}

// loadFilesDirs records every file and directory path of both sides.
func (m *Merger) loadFilesDirs(trees ...object.Hash) error {
	m.files = treeset.NewWithStringComparator()
	m.dirs = treeset.NewWithStringComparator()
	for _, t := range trees {
		entries, err := object.FlattenTree(m.db, t)
		if err != nil {
			return fmt.Errorf("merge trees: %w", err)
		}
		for _, e := range entries {
			m.files.Add(e.Path)
			for dir := path.Dir(e.Path); dir != "."; dir = path.Dir(dir) {
				m.dirs.Add(dir)
			}
		}
	}
	return nil
}

func (m *Merger) conflict(p string) {
	m.conflicts.Add(p)
}

// uniquePath returns p~branch, with "/" in the branch replaced, adding a
// numeric suffix until the name is free. The name is reserved.
func (m *Merger) uniquePath(p, branch string) string {
	stem := p + "~" + strings.ReplaceAll(branch, "/", "_")
	candidate := stem
	for n := 0; m.taken(candidate); n++ {
		candidate = fmt.Sprintf("%s_%d", stem, n)
	}
	m.files.Add(candidate)
	return candidate
}

func (m *Merger) taken(p string) bool {
	if m.files.Contains(p) || m.dirs.Contains(p) {
		return true
	}
	_, ok := m.work[p]
	return ok
}

// updateFile records the merge outcome for p. Clean results and every
// result while building a merged ancestor go to the index; the top-level
// worktree view always gets the content.
func (m *Merger) updateFile(clean bool, mode string, h object.Hash, p string) {
	if m.depth > 0 || clean {
		m.idx.Resolve(p, mode, h)
	}
	if m.depth == 0 {
		if !m.roomFor(p) {
			m.logger.Warn("failed to create path, perhaps a D/F conflict", zap.String("path", p))
			return
		}
		m.work[p] = index.Entry{Path: p, Mode: mode, Hash: h}
	}
}

// roomFor reports whether p can be a file in the worktree view: no
// directory lives at p and no file sits at any of its parents.
func (m *Merger) roomFor(p string) bool {
	for dir := path.Dir(p); dir != "."; dir = path.Dir(dir) {
		if _, ok := m.work[dir]; ok {
			return false
		}
	}
	prefix := p + "/"
	for q := range m.work {
		if strings.HasPrefix(q, prefix) {
			return false
		}
	}
	return true
}

// removeFile drops p from the index (when clean or nested) and from the
// worktree view unless noWorktree is set.
func (m *Merger) removeFile(clean bool, p string, noWorktree bool) {
	if m.depth > 0 || clean {
		m.idx.Remove(p)
	}
	if m.depth == 0 && !noWorktree {
		delete(m.work, p)
	}
}

// updateStages replaces the stages of p with the given versions.
func (m *Merger) updateStages(p string, o, a, b *FileSide, clear bool) error {
	if clear {
		m.idx.Remove(p)
	}
	for stage, side := range map[index.Stage]*FileSide{index.StageBase: o, index.StageOurs: a, index.StageTheirs: b} {
		if side != nil && side.Exists() {
			if err := m.idx.Add(index.Entry{Path: p, Stage: stage, Mode: side.Mode, Hash: side.Hash}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *Merger) fileOptions(branch1, branch2 string) FileOptions {
	return FileOptions{
		OursLabel:     branch1,
		TheirsLabel:   branch2,
		AncestorLabel: m.ancestor,
		Style:         m.opts.Style,
		MarkerSize:    m.opts.MarkerSize,
		Favor:         m.opts.Favor,
		Minimal:       m.opts.Minimal,
		Virtual:       m.depth > 0,
		Tool:          m.opts.Tool,
		Renormalize:   m.opts.Renormalize,
		Logger:        m.logger,
	}
}

func (m *Merger) mergeFile(one, a, b FileSide, branch1, branch2 string) (FileResult, error) {
	return MergeFile(m.db, one, a, b, m.fileOptions(branch1, branch2))
}

// processEntry resolves one path that is still unmerged after rename
// handling.
func (m *Merger) processEntry(p string, e *stageData) (bool, error) {
	o, a, b := e.side(index.StageBase, p), e.side(index.StageOurs, p), e.side(index.StageTheirs, p)
	m.logger.Debug("process entry",
		zap.String("path", p),
		zap.Bool("base", o.Exists()),
		zap.Bool("ours", a.Exists()),
		zap.Bool("theirs", b.Exists()))

	switch {
	case o.Exists() && (!a.Exists() || !b.Exists()):
		// Deleted in one side.
		if (!a.Exists() && !b.Exists()) ||
			(sameContent(a, o) && !b.Exists()) ||
			(!a.Exists() && sameContent(b, o)) {
			if a.Exists() {
				m.output(2, "Removing %s", p)
			}
			m.removeFile(true, p, !a.Exists())
			return true, nil
		}
		m.conflict(p)
		if !a.Exists() {
			m.output(1, "CONFLICT (delete/modify): %s deleted in %s and modified in %s. Version %s of %s left in tree.",
				p, m.branch1, m.branch2, m.branch2, p)
			m.updateFile(false, b.Mode, b.Hash, p)
		} else {
			m.output(1, "CONFLICT (delete/modify): %s deleted in %s and modified in %s. Version %s of %s left in tree.",
				p, m.branch2, m.branch1, m.branch1, p)
			m.updateFile(false, a.Mode, a.Hash, p)
		}
		return false, nil

	case !o.Exists() && a.Exists() != b.Exists():
		// Added in one side.
		addBranch, otherBranch, side, conf := m.branch1, m.branch2, a, "file/directory"
		if !a.Exists() {
			addBranch, otherBranch, side, conf = m.branch2, m.branch1, b, "directory/file"
		}
		if m.dirs.Contains(p) {
			newPath := m.uniquePath(p, addBranch)
			m.conflict(p)
			m.output(1, "CONFLICT (%s): There is a directory with name %s in %s. Adding %s as %s",
				conf, p, otherBranch, p, newPath)
			m.removeFile(false, p, false)
			m.updateFile(false, side.Mode, side.Hash, newPath)
			return false, nil
		}
		m.output(2, "Adding %s", p)
		m.updateFile(true, side.Mode, side.Hash, p)
		return true, nil

	case a.Exists() && b.Exists():
		// Added in both, or modified in both.
		reason := "content"
		if !o.Exists() {
			reason = "add/add"
			if m.depth == 0 && a.Hash != b.Hash {
				return m.addAdd(p, a, b)
			}
		}
		m.output(2, "Auto-merging %s", p)
		mfi, err := m.mergeFile(o, a, b, m.branch1, m.branch2)
		if err != nil {
			return false, err
		}
		if !mfi.Clean {
			if object.ModeKind(mfi.Mode) == object.KindGitlink {
				reason = "submodule"
			}
			m.conflict(p)
			m.output(1, "CONFLICT (%s): Merge conflict in %s", reason, p)
		}
		m.updateFile(mfi.Clean, mfi.Mode, mfi.Hash, p)
		return mfi.Clean, nil

	case !o.Exists() && !a.Exists() && !b.Exists():
		m.removeFile(true, p, !a.Exists())
		return true, nil
	}
	return false, fmt.Errorf("merge %s: fatal merge failure, unexpected stages", p)
}

// addAdd handles two different files added at the same path: each version
// is written under its own disambiguated name and the path keeps its
// ours/theirs stages.
func (m *Merger) addAdd(p string, a, b FileSide) (bool, error) {
	m.conflict(p)
	m.output(1, "CONFLICT (add/add): Merge conflict in %s", p)
	oursPath := m.uniquePath(p, m.branch1)
	theirsPath := m.uniquePath(p, m.branch2)
	m.output(1, "Adding as %s and %s instead", oursPath, theirsPath)
	m.removeFile(false, p, false)
	m.updateFile(false, a.Mode, a.Hash, oursPath)
	m.updateFile(false, b.Mode, b.Hash, theirsPath)
	return false, nil
}
