package merge

import (
	"strings"
	"testing"

	"github.com/odvcencio/weave/pkg/graph"
	"github.com/odvcencio/weave/pkg/index"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/object/objecttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) commit(content string, when int64, parents ...object.Hash) object.Hash {
	f.t.Helper()
	return objecttest.Commit(f.t, f.db, f.tree(map[string]string{"f": content}), when, parents...)
}

const nineLines = "1\n2\n3\n4\n5\n6\n7\n8\n9\n"

func edit(content string, line int, text string) string {
	parts := strings.SplitAfter(content, "\n")
	parts[line-1] = text + "\n"
	return strings.Join(parts, "")
}

func TestMergeCommitsLinearHistory(t *testing.T) {
	f := newFixture(t)
	base := f.commit(nineLines, 1)
	ours := f.commit(edit(nineLines, 1, "ours"), 2, base)
	theirs := f.commit(edit(nineLines, 9, "theirs"), 3, base)

	ref, res, err := f.merger(DefaultVerbosity).MergeCommits(graph.Real(ours), graph.Real(theirs))
	require.NoError(t, err)
	assert.True(t, res.Clean)
	assert.True(t, ref.IsSynthetic())
	assert.Equal(t, "merged tree", ref.Label())
	assert.Equal(t, edit(edit(nineLines, 1, "ours"), 9, "theirs"), objecttest.ReadFile(t, f.db, res.Tree, "f"))

	g := graph.New(f.db, nil)
	parents, err := g.Parents(ref)
	require.NoError(t, err)
	require.Len(t, parents, 2)
	assert.Equal(t, ours, parents[0].Hash())
	assert.Equal(t, theirs, parents[1].Hash())

	tree, err := g.Tree(ref)
	require.NoError(t, err)
	assert.Equal(t, res.Tree, tree)
}

func TestMergeCommitsAlreadyMerged(t *testing.T) {
	f := newFixture(t)
	base := f.commit(nineLines, 1)
	head := f.commit(edit(nineLines, 5, "x"), 2, base)

	_, res, err := f.merger(DefaultVerbosity).MergeCommits(graph.Real(head), graph.Real(base))
	require.NoError(t, err)
	assert.True(t, res.Clean)
	assert.Equal(t, "Already up-to-date!\n", f.out.String())
}

func TestMergeCommitsWithoutCommonAncestor(t *testing.T) {
	f := newFixture(t)
	left := objecttest.Commit(t, f.db, f.tree(map[string]string{"a": "a\n"}), 1)
	right := objecttest.Commit(t, f.db, f.tree(map[string]string{"b": "b\n"}), 2)

	_, res, err := f.merger(5).MergeCommits(graph.Real(left), graph.Real(right))
	require.NoError(t, err)
	assert.True(t, res.Clean)
	assert.Equal(t, map[string]string{"a": "a\n", "b": "b\n"}, f.files(res.Tree))
	assert.Contains(t, f.out.String(), "found 0 common ancestor(s):\n")
}

// crissCross builds two heads whose merge bases are a1 and b1:
//
//	base - a1 - a2 - head1
//	     \    X    /
//	      b1 - b2 - head2
func (f *fixture) crissCross(a1, b1, merged1, merged2, head1, head2 string) (object.Hash, object.Hash, object.Hash, object.Hash) {
	f.t.Helper()
	base := f.commit(nineLines, 1)
	ca := f.commit(a1, 2, base)
	cb := f.commit(b1, 3, base)
	a2 := f.commit(merged1, 4, ca, cb)
	b2 := f.commit(merged2, 5, cb, ca)
	return f.commit(head1, 6, a2), f.commit(head2, 7, b2), ca, cb
}

func TestMergeCommitsCrissCross(t *testing.T) {
	f := newFixture(t)
	a1 := edit(nineLines, 2, "A")
	b1 := edit(nineLines, 8, "B")
	both := edit(a1, 8, "B")
	h1, h2, ca, cb := f.crissCross(a1, b1, both, both, edit(both, 1, "head1"), edit(both, 9, "head2"))

	_, res, err := f.merger(5).MergeCommits(graph.Real(h1), graph.Real(h2))
	require.NoError(t, err)
	assert.True(t, res.Clean, f.out.String())
	assert.Equal(t, edit(edit(both, 1, "head1"), 9, "head2"), objecttest.ReadFile(t, f.db, res.Tree, "f"))

	out := f.out.String()
	assert.Contains(t, out, "Merging:\n"+h1.Short(7)+" commit at 6\n"+h2.Short(7)+" commit at 7\n")
	assert.Contains(t, out, "found 2 common ancestor(s):\n"+ca.Short(7)+" commit at 2\n"+cb.Short(7)+" commit at 3\n")
	assert.Contains(t, out, "  Merging:\n  "+ca.Short(7)+" commit at 2\n  "+cb.Short(7)+" commit at 3\n")
	assert.Contains(t, out, "  found 1 common ancestor(s):\n")
}

func TestMergeCommitsCrissCrossConflictingAncestors(t *testing.T) {
	f := newFixture(t)
	a1 := edit(nineLines, 5, "a")
	b1 := edit(nineLines, 5, "b")
	h1, h2, _, _ := f.crissCross(a1, b1, a1, b1, a1, b1)

	_, res, err := f.merger(5).MergeCommits(graph.Real(h1), graph.Real(h2))
	require.NoError(t, err)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"f"}, res.Conflicts)

	out := f.out.String()
	// The virtual ancestor is built from a conflicted merge one level down.
	assert.Contains(t, out, "  CONFLICT (content): Merge conflict in f\n")
	assert.Contains(t, out, "\nCONFLICT (content): Merge conflict in f\n")

	st := res.Index.Stages("f")
	require.True(t, st[index.StageBase].Exists())
	ancestor, err := object.ReadBlob(f.db, st[index.StageBase].Hash)
	require.NoError(t, err)
	assert.Contains(t, string(ancestor), "<<<<<<< Temporary merge branch 1\n")
	assert.Contains(t, string(ancestor), ">>>>>>> Temporary merge branch 2\n")
}

func TestMergeCommitsWithExplicitBases(t *testing.T) {
	f := newFixture(t)
	base := f.commit(nineLines, 1)
	ours := f.commit(edit(nineLines, 1, "ours"), 2, base)
	theirs := f.commit(edit(nineLines, 9, "theirs"), 3, base)

	m := f.merger(4)
	_, res, err := m.MergeCommitsWithBases(graph.Real(ours), graph.Real(theirs), []graph.CommitRef{graph.Real(base)})
	require.NoError(t, err)
	assert.True(t, res.Clean)
	assert.NotContains(t, f.out.String(), "common ancestor")
	assert.Contains(t, f.out.String(), "Merging:\n")
}

func TestMergeCommitsSyntheticInput(t *testing.T) {
	f := newFixture(t)
	base := f.commit(nineLines, 1)
	ours := f.commit(edit(nineLines, 1, "ours"), 2, base)
	theirs := f.commit(edit(nineLines, 9, "theirs"), 3, base)

	m := f.merger(4)
	first, _, err := m.MergeCommits(graph.Real(ours), graph.Real(theirs))
	require.NoError(t, err)

	third := f.commit(edit(nineLines, 5, "third"), 4, base)
	_, res, err := m.MergeCommits(first, graph.Real(third))
	require.NoError(t, err)
	assert.True(t, res.Clean)
	assert.Equal(t, edit(edit(edit(nineLines, 1, "ours"), 9, "theirs"), 5, "third"), objecttest.ReadFile(t, f.db, res.Tree, "f"))
	assert.Contains(t, f.out.String(), "virtual merged tree\n")
}
