package graph

import (
	"fmt"
	"sync/atomic"

	"github.com/odvcencio/weave/pkg/object"
)

// CommitRef names a node of the commit graph: either a commit stored in the
// content store or a synthetic commit that wraps an intermediate merge
// tree. Synthetic commits are never written anywhere; they compare equal
// only to themselves.
type CommitRef struct {
	hash object.Hash
	syn  *synthetic
}

type synthetic struct {
	tree    object.Hash
	parents []CommitRef
	label   string
	seq     uint64
}

var syntheticSeq atomic.Uint64

// Real refers to a stored commit.
func Real(h object.Hash) CommitRef { return CommitRef{hash: h} }

// Synthetic builds an in-memory commit of tree with the given parents.
// label is only used for display.
func Synthetic(tree object.Hash, label string, parents ...CommitRef) CommitRef {
	return CommitRef{syn: &synthetic{
		tree:    tree,
		parents: append([]CommitRef(nil), parents...),
		label:   label,
		seq:     syntheticSeq.Add(1),
	}}
}

// IsZero reports whether r names nothing.
func (r CommitRef) IsZero() bool { return r.hash == "" && r.syn == nil }

// IsSynthetic reports whether r is an in-memory commit.
func (r CommitRef) IsSynthetic() bool { return r.syn != nil }

// Hash returns the stored commit hash, or "" for a synthetic commit.
func (r CommitRef) Hash() object.Hash { return r.hash }

// Label returns the display label of a synthetic commit.
func (r CommitRef) Label() string {
	if r.syn == nil {
		return ""
	}
	return r.syn.label
}

// String identifies r in logs and orderings.
func (r CommitRef) String() string {
	if r.syn != nil {
		return fmt.Sprintf("synthetic#%d", r.syn.seq)
	}
	return string(r.hash)
}
