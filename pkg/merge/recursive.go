package merge

import (
	"fmt"
	"strings"

	"github.com/odvcencio/weave/pkg/graph"
	"github.com/odvcencio/weave/pkg/object"
	"go.uber.org/zap"
)

const (
	tempBranch1     = "Temporary merge branch 1"
	tempBranch2     = "Temporary merge branch 2"
	mergedAncestors = "merged common ancestors"
)

// MergeCommits merges other into head using every lowest common ancestor
// of the two. When there are several, they are first merged into one
// virtual ancestor, recursively. The returned ref is a synthetic commit of
// the merged tree with head and other as parents.
func (m *Merger) MergeCommits(head, other graph.CommitRef) (graph.CommitRef, *Result, error) {
	return m.MergeCommitsWithBases(head, other, nil)
}

// MergeCommitsWithBases is MergeCommits with the common ancestors given
// by the caller, oldest first. A nil bases computes them.
func (m *Merger) MergeCommitsWithBases(head, other graph.CommitRef, bases []graph.CommitRef) (graph.CommitRef, *Result, error) {
	ref, res, err := m.mergeRecursive(head, other, bases)
	if ferr := m.out.Flush(); err == nil && ferr != nil {
		err = fmt.Errorf("merge: flush output: %w", ferr)
	}
	if err != nil {
		return graph.CommitRef{}, nil, err
	}
	return ref, res, nil
}

func (m *Merger) mergeRecursive(h1, h2 graph.CommitRef, bases []graph.CommitRef) (graph.CommitRef, *Result, error) {
	if m.out.show(m.depth, 4) {
		m.output(4, "Merging:")
		m.outputTitle(4, h1)
		m.outputTitle(4, h2)
	}

	if bases == nil {
		found, err := m.graph.MergeBases(h1, h2)
		if err != nil {
			return graph.CommitRef{}, nil, fmt.Errorf("merge: find merge bases: %w", err)
		}
		// MergeBases is newest first; ancestors are folded oldest first.
		bases = make([]graph.CommitRef, len(found))
		for i, b := range found {
			bases[len(found)-1-i] = b
		}
	}
	m.logger.Info("merge bases",
		zap.Int("depth", m.depth),
		zap.Stringer("head", h1),
		zap.Stringer("other", h2),
		zap.Int("bases", len(bases)))

	if m.out.show(m.depth, 5) {
		m.output(5, "found %d common ancestor(s):", len(bases))
		for _, b := range bases {
			m.outputTitle(5, b)
		}
	}

	var merged graph.CommitRef
	if len(bases) == 0 {
		merged = graph.Synthetic("", "ancestor")
	} else {
		merged = bases[0]
		for _, next := range bases[1:] {
			saved1, saved2 := m.branch1, m.branch2
			m.branch1, m.branch2 = tempBranch1, tempBranch2
			m.depth++
			virtual, _, err := m.mergeRecursive(merged, next, nil)
			m.depth--
			m.branch1, m.branch2 = saved1, saved2
			if err != nil {
				return graph.CommitRef{}, nil, err
			}
			merged = virtual
		}
	}

	t1, err := m.graph.Tree(h1)
	if err != nil {
		return graph.CommitRef{}, nil, fmt.Errorf("merge: %w", err)
	}
	t2, err := m.graph.Tree(h2)
	if err != nil {
		return graph.CommitRef{}, nil, fmt.Errorf("merge: %w", err)
	}
	tb, err := m.graph.Tree(merged)
	if err != nil {
		return graph.CommitRef{}, nil, fmt.Errorf("merge: %w", err)
	}

	m.ancestor = mergedAncestors
	res, err := m.mergeTrees(t1, t2, tb)
	if err != nil {
		return graph.CommitRef{}, nil, err
	}
	return graph.Synthetic(res.Tree, "merged tree", h1, h2), res, nil
}

func (m *Merger) outputTitle(level int, ref graph.CommitRef) {
	m.output(level, "%s", m.commitTitle(ref))
}

// commitTitle renders a commit as its abbreviated hash and subject, or as
// "virtual <label>" for a synthetic commit.
func (m *Merger) commitTitle(ref graph.CommitRef) string {
	if ref.IsSynthetic() {
		return "virtual " + ref.Label()
	}
	c, err := m.graph.Commit(ref.Hash())
	if err != nil {
		return ref.Hash().Short(7) + " (bad commit)"
	}
	return ref.Hash().Short(7) + " " + subject(c)
}

func subject(c *object.CommitObj) string {
	msg := strings.TrimLeft(c.Message, "\n")
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}
