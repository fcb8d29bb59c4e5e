package merge

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/odvcencio/weave/pkg/index"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/object/objecttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t   *testing.T
	db  *object.Store
	out *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{t: t, db: objecttest.Store(), out: &bytes.Buffer{}}
}

func (f *fixture) tree(files map[string]string) object.Hash {
	f.t.Helper()
	return objecttest.Tree(f.t, f.db, files)
}

func (f *fixture) merger(verbosity int) *Merger {
	opts := DefaultOptions()
	opts.Verbosity = verbosity
	opts.Out = f.out
	return New(f.db, opts)
}

func (f *fixture) mergeTrees(ours, theirs, base object.Hash) *Result {
	f.t.Helper()
	res, err := f.merger(DefaultVerbosity).MergeTrees(ours, theirs, base)
	require.NoError(f.t, err)
	return res
}

// files returns path -> content of every file in tree.
func (f *fixture) files(tree object.Hash) map[string]string {
	f.t.Helper()
	entries, err := object.FlattenTree(f.db, tree)
	require.NoError(f.t, err)
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := object.ReadBlob(f.db, e.Hash)
		require.NoError(f.t, err)
		out[e.Path] = string(data)
	}
	return out
}

func stagesOf(ix *index.Index, p string) []index.Stage {
	var out []index.Stage
	for stage, e := range ix.Stages(p) {
		if e.Exists() {
			out = append(out, index.Stage(stage))
		}
	}
	return out
}

func lines(n int, prefix string) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString(prefix)
		b.WriteString(strings.Repeat("x", i))
		b.WriteByte('\n')
	}
	return b.String()
}

func TestMergeTreesClean(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"a": tenLines, "b": "keep\n"})
	ours := f.tree(map[string]string{"a": strings.Replace(tenLines, "1\n", "one\n", 1), "b": "keep\n"})
	theirs := f.tree(map[string]string{"a": strings.Replace(tenLines, "10\n", "ten\n", 1), "b": "keep\n", "c": "new\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.True(t, res.Clean)
	assert.Empty(t, res.Conflicts)
	assert.Empty(t, res.Index.Unmerged())
	assert.Equal(t, map[string]string{
		"a": "one\n2\n3\n4\n5\n6\n7\n8\n9\nten\n",
		"b": "keep\n",
		"c": "new\n",
	}, f.files(res.Tree))
	assert.Equal(t, "Auto-merging a\nAdding c\n", f.out.String())

	written, err := res.Index.WriteTree(f.db)
	require.NoError(t, err)
	assert.Equal(t, res.Tree, written)
}

func TestMergeTreesAlreadyUpToDate(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"a": "1\n"})
	ours := f.tree(map[string]string{"a": "2\n"})

	res := f.mergeTrees(ours, base, base)
	assert.True(t, res.Clean)
	assert.Equal(t, ours, res.Tree)
	assert.Equal(t, "Already up-to-date!\n", f.out.String())

	// Merging a tree with itself is the identity.
	res = f.mergeTrees(ours, ours, base)
	assert.True(t, res.Clean)
	assert.Equal(t, ours, res.Tree)
}

func TestMergeTreesTakesTheirsWhenOursIsBase(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"a": "1\n", "gone": "x\n"})
	theirs := f.tree(map[string]string{"a": "2\n", "dir/new": "n\n"})

	res := f.mergeTrees(base, theirs, base)
	assert.True(t, res.Clean)
	assert.Equal(t, theirs, res.Tree)
}

func TestMergeTreesContentConflict(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"f": "a\nb\nc\n"})
	ours := f.tree(map[string]string{"f": "a\nours\nc\n"})
	theirs := f.tree(map[string]string{"f": "a\ntheirs\nc\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"f"}, res.Conflicts)
	assert.Equal(t, "Auto-merging f\nCONFLICT (content): Merge conflict in f\n", f.out.String())
	assert.Equal(t, []index.Stage{index.StageBase, index.StageOurs, index.StageTheirs}, stagesOf(res.Index, "f"))
	assert.Equal(t, "a\n<<<<<<< ours\nours\n=======\ntheirs\n>>>>>>> theirs\nc\n", f.files(res.Tree)["f"])

	_, err := res.Index.WriteTree(f.db)
	assert.True(t, errors.Is(err, index.ErrUnmerged))
	assert.ErrorIs(t, RequireMerged(res.Index), ErrUnmergedIndex)
}

func TestMergeTreesDeleteModify(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"f": "v1\n", "k": "k\n"})
	ours := f.tree(map[string]string{"k": "k\n"})
	theirs := f.tree(map[string]string{"f": "v2\n", "k": "k\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"f"}, res.Conflicts)
	assert.Equal(t,
		"CONFLICT (delete/modify): f deleted in ours and modified in theirs. Version theirs of f left in tree.\n",
		f.out.String())
	assert.Equal(t, map[string]string{"f": "v2\n", "k": "k\n"}, f.files(res.Tree))
	assert.Equal(t, []index.Stage{index.StageBase, index.StageTheirs}, stagesOf(res.Index, "f"))
}

func TestMergeTreesDeleteUnchanged(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"f": "v1\n", "k": "k\n"})
	ours := f.tree(map[string]string{"f": "v1\n", "k": "k\n", "o": "o\n"})
	theirs := f.tree(map[string]string{"k": "k\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.True(t, res.Clean)
	assert.Equal(t, map[string]string{"k": "k\n", "o": "o\n"}, f.files(res.Tree))
	assert.Contains(t, f.out.String(), "Removing f\n")
}

func TestMergeTreesAddAdd(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"k": "k\n"})
	ours := f.tree(map[string]string{"k": "k\n", "n": "ours\n"})
	theirs := f.tree(map[string]string{"k": "k\n", "n": "theirs\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"n"}, res.Conflicts)
	assert.Equal(t, map[string]string{"k": "k\n", "n~ours": "ours\n", "n~theirs": "theirs\n"}, f.files(res.Tree))
	assert.Equal(t, []index.Stage{index.StageOurs, index.StageTheirs}, stagesOf(res.Index, "n"))
	assert.Equal(t,
		"CONFLICT (add/add): Merge conflict in n\nAdding as n~ours and n~theirs instead\n",
		f.out.String())
}

func TestMergeTreesUniquePathSkipsTakenNames(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"k": "k\n"})
	ours := f.tree(map[string]string{"k": "k\n", "n": "ours\n", "n~ours": "taken\n"})
	theirs := f.tree(map[string]string{"k": "k\n", "n": "theirs\n"})

	res := f.mergeTrees(ours, theirs, base)
	files := f.files(res.Tree)
	assert.Equal(t, "ours\n", files["n~ours_0"])
	assert.Equal(t, "taken\n", files["n~ours"])
	assert.Equal(t, "theirs\n", files["n~theirs"])
}

func TestMergeTreesFileDirectory(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"k": "k\n"})
	ours := f.tree(map[string]string{"k": "k\n", "d": "file\n"})
	theirs := f.tree(map[string]string{"k": "k\n", "d/x": "inner\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"d"}, res.Conflicts)
	assert.Equal(t, map[string]string{"k": "k\n", "d~ours": "file\n", "d/x": "inner\n"}, f.files(res.Tree))
	assert.Contains(t, f.out.String(),
		"CONFLICT (file/directory): There is a directory with name d in theirs. Adding d as d~ours\n")
}

func TestMergeTreesBranchNamesWithSlashes(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"k": "k\n"})
	ours := f.tree(map[string]string{"k": "k\n", "d/x": "inner\n"})
	theirs := f.tree(map[string]string{"k": "k\n", "d": "file\n"})

	opts := DefaultOptions()
	opts.BranchOurs = "feature/a"
	opts.BranchTheirs = "topic/b"
	opts.Out = f.out
	res, err := New(f.db, opts).MergeTrees(ours, theirs, base)
	require.NoError(t, err)
	assert.Contains(t, f.files(res.Tree), "d~topic_b")
	assert.Contains(t, f.out.String(), "CONFLICT (directory/file): There is a directory with name d in feature/a.")
}

func TestMergeTreesRenameFollowsModify(t *testing.T) {
	f := newFixture(t)
	body := lines(10, "line ")
	modified := strings.Replace(body, "line xxxxxxxxxx\n", "changed\n", 1)
	base := f.tree(map[string]string{"old.txt": body})
	ours := f.tree(map[string]string{"new.txt": body})
	theirs := f.tree(map[string]string{"old.txt": modified})

	res := f.mergeTrees(ours, theirs, base)
	assert.True(t, res.Clean, f.out.String())
	assert.Equal(t, map[string]string{"new.txt": modified}, f.files(res.Tree))
	assert.Empty(t, res.Index.Unmerged())
}

func TestMergeTreesRenameInTheirs(t *testing.T) {
	f := newFixture(t)
	body := lines(10, "line ")
	modified := strings.Replace(body, "line x\n", "first\n", 1)
	base := f.tree(map[string]string{"old.txt": body})
	ours := f.tree(map[string]string{"old.txt": modified})
	theirs := f.tree(map[string]string{"sub/new.txt": body})

	res := f.mergeTrees(ours, theirs, base)
	assert.True(t, res.Clean, f.out.String())
	assert.Equal(t, map[string]string{"sub/new.txt": modified}, f.files(res.Tree))
}

func TestMergeTreesRenameModifyConflict(t *testing.T) {
	f := newFixture(t)
	body := lines(10, "line ")
	base := f.tree(map[string]string{"old.txt": body})
	ours := f.tree(map[string]string{"new.txt": strings.Replace(body, "line x\n", "ours\n", 1)})
	theirs := f.tree(map[string]string{"old.txt": strings.Replace(body, "line x\n", "theirs\n", 1)})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"new.txt"}, res.Conflicts)
	out := f.out.String()
	assert.Equal(t, 1, strings.Count(out, "CONFLICT"), out)
	assert.Contains(t, out, "Renaming old.txt => new.txt\n")
	assert.Contains(t, out, "CONFLICT (rename/modify): Merge conflict in new.txt\n")
	assert.Equal(t, []index.Stage{index.StageBase, index.StageOurs, index.StageTheirs}, stagesOf(res.Index, "new.txt"))

	files := f.files(res.Tree)
	assert.NotContains(t, files, "old.txt")
	assert.Contains(t, files["new.txt"], "<<<<<<< ours:new.txt\n")
	assert.Contains(t, files["new.txt"], ">>>>>>> theirs:old.txt\n")
}

func TestMergeTreesRenameModifyUsesTemporaryLabels(t *testing.T) {
	f := newFixture(t)
	body := lines(10, "line ")
	base := f.tree(map[string]string{"old.txt": body})
	ours := f.tree(map[string]string{"new.txt": strings.Replace(body, "line x\n", "ours\n", 1)})
	theirs := f.tree(map[string]string{"old.txt": strings.Replace(body, "line x\n", "theirs\n", 1)})

	// Building a merged ancestor one level down.
	m := f.merger(DefaultVerbosity)
	m.depth = 1
	m.branch1, m.branch2 = tempBranch1, tempBranch2
	res, err := m.MergeTrees(ours, theirs, base)
	require.NoError(t, err)
	assert.False(t, res.Clean)

	got := f.files(res.Tree)["new.txt"]
	assert.Contains(t, got, "<<<<<<< "+tempBranch1+":new.txt\n")
	assert.Contains(t, got, ">>>>>>> "+tempBranch2+":old.txt\n")
	assert.NotContains(t, got, "ours:new.txt")
}

func TestMergeTreesRenameDelete(t *testing.T) {
	f := newFixture(t)
	body := lines(8, "row ")
	base := f.tree(map[string]string{"a": body, "k": "k\n"})
	ours := f.tree(map[string]string{"b": body, "k": "k\n"})
	theirs := f.tree(map[string]string{"k": "k\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"b"}, res.Conflicts)
	assert.Equal(t, "CONFLICT (rename/delete): Rename a->b in ours and deleted in theirs\n", f.out.String())
	assert.Equal(t, map[string]string{"b": body, "k": "k\n"}, f.files(res.Tree))
	assert.Equal(t, []index.Stage{index.StageOurs}, stagesOf(res.Index, "b"))
}

func TestMergeTreesRenameRenameDifferentTargets(t *testing.T) {
	f := newFixture(t)
	body := lines(8, "row ")
	base := f.tree(map[string]string{"a": body})
	ours := f.tree(map[string]string{"b": body})
	theirs := f.tree(map[string]string{"c": body})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"b", "c"}, res.Conflicts)
	assert.Equal(t,
		"CONFLICT (rename/rename): Rename \"a\"->\"b\" in branch \"ours\" rename \"a\"->\"c\" in \"theirs\"\n",
		f.out.String())
	assert.Equal(t, map[string]string{"b": body, "c": body}, f.files(res.Tree))
	assert.Equal(t, []index.Stage{index.StageOurs}, stagesOf(res.Index, "b"))
	assert.Equal(t, []index.Stage{index.StageTheirs}, stagesOf(res.Index, "c"))
}

func TestMergeTreesRenameRenameSameTarget(t *testing.T) {
	f := newFixture(t)
	body := lines(10, "row ")
	base := f.tree(map[string]string{"a": body})
	ours := f.tree(map[string]string{"b": strings.Replace(body, "row x\n", "top\n", 1)})
	theirs := f.tree(map[string]string{"b": strings.Replace(body, "row xxxxxxxxxx\n", "bottom\n", 1)})

	res := f.mergeTrees(ours, theirs, base)
	assert.True(t, res.Clean, f.out.String())
	want := strings.Replace(strings.Replace(body, "row x\n", "top\n", 1), "row xxxxxxxxxx\n", "bottom\n", 1)
	assert.Equal(t, map[string]string{"b": want}, f.files(res.Tree))
	assert.Contains(t, f.out.String(), "Auto-merging b\n")
}

func TestMergeTreesRenameOntoAddedPath(t *testing.T) {
	f := newFixture(t)
	body := lines(8, "row ")
	base := f.tree(map[string]string{"a": body})
	ours := f.tree(map[string]string{"c": body})
	theirs := f.tree(map[string]string{"a": body, "c": "something else entirely\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	assert.Equal(t, []string{"c"}, res.Conflicts)
	out := f.out.String()
	assert.Contains(t, out, "CONFLICT (rename/add): Rename a->c in ours. c added in theirs\n")
	assert.Contains(t, out, "Adding as c~theirs instead\n")
	assert.Equal(t, map[string]string{"c": body, "c~theirs": "something else entirely\n"}, f.files(res.Tree))
}

func TestMergeTreesRenameIntoDirectory(t *testing.T) {
	f := newFixture(t)
	body := lines(8, "row ")
	base := f.tree(map[string]string{"a": body})
	ours := f.tree(map[string]string{"d": body})
	theirs := f.tree(map[string]string{"a": body, "d/x": "inner\n"})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	out := f.out.String()
	assert.Contains(t, out, "CONFLICT (rename/directory): Rename a->d in ours  directory d added in theirs\n")
	assert.Contains(t, out, "Renaming a to d~ours instead\n")
	files := f.files(res.Tree)
	assert.Equal(t, body, files["d~ours"])
	assert.Equal(t, "inner\n", files["d/x"])
}

func TestMergeTreesConflictOrderFollowsDiscovery(t *testing.T) {
	f := newFixture(t)
	body := lines(10, "line ")
	base := f.tree(map[string]string{"a": "a\nb\nc\n", "old": body})
	ours := f.tree(map[string]string{"a": "a\nours\nc\n", "zz": strings.Replace(body, "line x\n", "ours\n", 1)})
	theirs := f.tree(map[string]string{"a": "a\ntheirs\nc\n", "old": strings.Replace(body, "line x\n", "theirs\n", 1)})

	res := f.mergeTrees(ours, theirs, base)
	assert.False(t, res.Clean)
	// Renames are handled before the remaining paths.
	assert.Equal(t, []string{"zz", "a"}, res.Conflicts)
}

func TestMergeTreesVerbosity(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"f": "a\nb\nc\n"})
	ours := f.tree(map[string]string{"f": "a\nours\nc\n", "o": "o\n"})
	theirs := f.tree(map[string]string{"f": "a\ntheirs\nc\n"})

	_, err := f.merger(1).MergeTrees(ours, theirs, base)
	require.NoError(t, err)
	assert.Equal(t, "CONFLICT (content): Merge conflict in f\n", f.out.String())

	f.out.Reset()
	_, err = f.merger(0).MergeTrees(ours, theirs, base)
	require.NoError(t, err)
	assert.Empty(t, f.out.String())
}

func TestMergeTreesMissingTree(t *testing.T) {
	f := newFixture(t)
	base := f.tree(map[string]string{"f": "1\n"})
	ours := f.tree(map[string]string{"f": "2\n"})
	_, err := f.merger(DefaultVerbosity).MergeTrees(ours, object.Hash(strings.Repeat("ab", 32)), base)
	assert.ErrorIs(t, err, object.ErrNotFound)
}
