// Package index holds per-path stage entries for an in-progress merge.
//
// Stage 0 is a resolved entry; stages 1, 2 and 3 hold the base, ours and
// theirs versions of a conflicted path. A path is either resolved or
// carries one or more of stages 1-3, never both.
package index

import (
	"errors"
	"fmt"
	"sort"

	"github.com/odvcencio/weave/pkg/object"
)

// Stage selects one of the four slots of a path.
type Stage int

const (
	StageResolved Stage = iota
	StageBase
	StageOurs
	StageTheirs
)

func (s Stage) String() string {
	switch s {
	case StageResolved:
		return "resolved"
	case StageBase:
		return "base"
	case StageOurs:
		return "ours"
	case StageTheirs:
		return "theirs"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// ErrUnmerged is returned when a tree is requested from an index that still
// has conflicted paths.
var ErrUnmerged = errors.New("index has unmerged paths")

// ErrInvalidStage reports an entry whose stage is not one of the four
// slots.
var ErrInvalidStage = errors.New("invalid stage")

// Entry is one stage of one path.
type Entry struct {
	Path  string      `json:"path"`
	Stage Stage       `json:"stage"`
	Mode  string      `json:"mode"`
	Hash  object.Hash `json:"hash"`
}

// Exists reports whether e names a present version.
func (e Entry) Exists() bool { return e.Mode != "" }

// Same reports whether two entries carry the same mode and content.
func (e Entry) Same(o Entry) bool {
	return e.Mode == o.Mode && e.Hash == o.Hash
}

// Stages holds the four slots of a path; absent slots are zero Entries.
type Stages [4]Entry

// Unmerged reports whether any conflict stage is present.
func (s Stages) Unmerged() bool {
	return s[StageBase].Exists() || s[StageOurs].Exists() || s[StageTheirs].Exists()
}

// Index is an in-memory index. The zero value is not usable; call New.
type Index struct {
	paths map[string]*Stages
}

// New returns an empty index.
func New() *Index {
	return &Index{paths: make(map[string]*Stages)}
}

// Add stores e in its stage slot. Adding a resolved entry drops any
// conflict stages of the path, and adding a conflict stage drops the
// resolved entry. A stage outside 0-3 fails with ErrInvalidStage.
func (ix *Index) Add(e Entry) error {
	if e.Stage < StageResolved || e.Stage > StageTheirs {
		return fmt.Errorf("%w: %s: %d", ErrInvalidStage, e.Path, e.Stage)
	}
	ix.set(e)
	return nil
}

func (ix *Index) set(e Entry) {
	st := ix.paths[e.Path]
	if st == nil {
		st = &Stages{}
		ix.paths[e.Path] = st
	}
	if e.Stage == StageResolved {
		*st = Stages{}
	} else {
		st[StageResolved] = Entry{}
	}
	st[e.Stage] = e
}

// Resolve replaces every stage of path with one resolved entry.
func (ix *Index) Resolve(path, mode string, h object.Hash) {
	ix.set(Entry{Path: path, Stage: StageResolved, Mode: mode, Hash: h})
}

// Remove drops every stage of path.
func (ix *Index) Remove(path string) {
	delete(ix.paths, path)
}

// Entry returns one stage of path.
func (ix *Index) Entry(path string, stage Stage) (Entry, bool) {
	st, ok := ix.paths[path]
	if !ok || stage < StageResolved || stage > StageTheirs || !st[stage].Exists() {
		return Entry{}, false
	}
	return st[stage], true
}

// Stages returns all slots of path.
func (ix *Index) Stages(path string) Stages {
	if st, ok := ix.paths[path]; ok {
		return *st
	}
	return Stages{}
}

// Has reports whether path has any stage.
func (ix *Index) Has(path string) bool {
	_, ok := ix.paths[path]
	return ok
}

// Paths returns every path in sorted order.
func (ix *Index) Paths() []string {
	out := make([]string, 0, len(ix.paths))
	for p := range ix.paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Unmerged returns the conflicted paths in sorted order.
func (ix *Index) Unmerged() []string {
	var out []string
	for p, st := range ix.paths {
		if st.Unmerged() {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Entries returns every present entry sorted by path, then stage.
func (ix *Index) Entries() []Entry {
	var out []Entry
	for _, p := range ix.Paths() {
		for _, e := range ix.paths[p] {
			if e.Exists() {
				out = append(out, e)
			}
		}
	}
	return out
}

// Clone returns an independent copy.
func (ix *Index) Clone() *Index {
	c := New()
	for p, st := range ix.paths {
		cp := *st
		c.paths[p] = &cp
	}
	return c
}

// WriteTree writes the resolved entries as a tree. It fails with
// ErrUnmerged while conflicts remain.
func (ix *Index) WriteTree(w object.Writer) (object.Hash, error) {
	if unmerged := ix.Unmerged(); len(unmerged) > 0 {
		return "", fmt.Errorf("write tree: %d paths, first %q: %w", len(unmerged), unmerged[0], ErrUnmerged)
	}
	files := make([]object.FileEntry, 0, len(ix.paths))
	for _, p := range ix.Paths() {
		e := ix.paths[p][StageResolved]
		files = append(files, object.FileEntry{Path: p, Mode: e.Mode, Hash: e.Hash})
	}
	return object.BuildTree(w, files)
}
