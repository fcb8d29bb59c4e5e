package index

import (
	"fmt"

	"github.com/odvcencio/weave/pkg/object"
)

// FromTree loads every file of tree as a resolved entry.
func FromTree(r object.Reader, tree object.Hash) (*Index, error) {
	files, err := object.FlattenTree(r, tree)
	if err != nil {
		return nil, fmt.Errorf("index from tree %s: %w", tree, err)
	}
	ix := New()
	for _, f := range files {
		ix.Resolve(f.Path, f.Mode, f.Hash)
	}
	return ix, nil
}

// ThreeWay unpacks base, ours and theirs into one index. Paths whose
// outcome is trivial collapse to a resolved entry:
//
//   - all present versions are identical, or ours and theirs agree
//   - one side matches base while both sides still have the path
//
// Every other path keeps its stages for the tree merger to decide.
func ThreeWay(r object.Reader, base, ours, theirs object.Hash) (*Index, error) {
	sides := [3]object.Hash{base, ours, theirs}
	byPath := make(map[string]*Stages)
	for i, tree := range sides {
		files, err := object.FlattenTree(r, tree)
		if err != nil {
			return nil, fmt.Errorf("unpack trees: read %s tree %s: %w", Stage(i+1), tree, err)
		}
		for _, f := range files {
			st := byPath[f.Path]
			if st == nil {
				st = &Stages{}
				byPath[f.Path] = st
			}
			st[i+1] = Entry{Path: f.Path, Stage: Stage(i + 1), Mode: f.Mode, Hash: f.Hash}
		}
	}

	ix := New()
	for p, st := range byPath {
		o, a, b := st[StageBase], st[StageOurs], st[StageTheirs]
		switch {
		case a.Exists() && b.Exists() && a.Same(b):
			ix.Resolve(p, a.Mode, a.Hash)
		case o.Exists() && a.Exists() && b.Exists() && o.Same(a):
			ix.Resolve(p, b.Mode, b.Hash)
		case o.Exists() && a.Exists() && b.Exists() && o.Same(b):
			ix.Resolve(p, a.Mode, a.Hash)
		default:
			cp := *st
			ix.paths[p] = &cp
		}
	}
	return ix, nil
}
