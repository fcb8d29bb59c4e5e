package treediff

import (
	"fmt"
	"strings"
	"testing"

	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/object/objecttest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summary(changes []Change) []string {
	out := make([]string, len(changes))
	for i, c := range changes {
		out[i] = c.String()
	}
	return out
}

func lines(prefix string, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(prefix)
		sb.WriteString(" line ")
		sb.WriteByte(byte('a' + i%26))
		sb.WriteString(strings.Repeat("x", i))
		sb.WriteByte('\n')
	}
	return sb.String()
}

func TestDiffAddDeleteModify(t *testing.T) {
	db := objecttest.Store()
	a := objecttest.Tree(t, db, map[string]string{
		"keep.txt":    "same\n",
		"mod.txt":     "old\n",
		"gone.txt":    "bye\n",
		"dir/sub.txt": "nested\n",
	})
	b := objecttest.Tree(t, db, map[string]string{
		"keep.txt":    "same\n",
		"mod.txt":     "new\n",
		"new.txt":     "hi\n",
		"dir/sub.txt": "nested changed\n",
	})

	changes, err := Diff(db, a, b, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"M dir/sub.txt", "D gone.txt", "M mod.txt", "A new.txt"}, summary(changes))
}

func TestDiffFromEmptyTree(t *testing.T) {
	db := objecttest.Store()
	b := objecttest.Tree(t, db, map[string]string{"a": "1\n", "d/b": "2\n"})

	changes, err := Diff(db, "", b, Options{Renames: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A a", "A d/b"}, summary(changes))
}

func TestDiffIdenticalTrees(t *testing.T) {
	db := objecttest.Store()
	a := objecttest.Tree(t, db, map[string]string{"a": "1\n"})
	changes, err := Diff(db, a, a, Options{Renames: true})
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDiffTypeChangeAndFileToDirectory(t *testing.T) {
	db := objecttest.Store()
	a := objecttest.TreeFiles(t, db, map[string]objecttest.File{
		"link": {Mode: object.TreeModeFile, Content: "target"},
		"x":    {Mode: object.TreeModeFile, Content: "file\n"},
	})
	b := objecttest.TreeFiles(t, db, map[string]objecttest.File{
		"link":    {Mode: object.TreeModeSymlink, Content: "target"},
		"x/inner": {Mode: object.TreeModeFile, Content: "file\n"},
	})

	changes, err := Diff(db, a, b, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"T link", "D x", "A x/inner"}, summary(changes))
}

func TestDiffModeOnlyChangeIsModified(t *testing.T) {
	db := objecttest.Store()
	a := objecttest.TreeFiles(t, db, map[string]objecttest.File{"run.sh": {Mode: object.TreeModeFile, Content: "echo\n"}})
	b := objecttest.TreeFiles(t, db, map[string]objecttest.File{"run.sh": {Mode: object.TreeModeExecutable, Content: "echo\n"}})

	changes, err := Diff(db, a, b, Options{})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Modified, changes[0].Status)
	assert.Equal(t, object.TreeModeExecutable, changes[0].To.Mode)
}

func TestExactRenameIsFullSimilarity(t *testing.T) {
	db := objecttest.Store()
	content := lines("content", 10)
	a := objecttest.Tree(t, db, map[string]string{"P": content})
	b := objecttest.Tree(t, db, map[string]string{"Q": content})

	changes, err := Diff(db, a, b, Options{Renames: true})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Renamed, changes[0].Status)
	assert.Equal(t, "P", changes[0].From.Path)
	assert.Equal(t, "Q", changes[0].To.Path)
	assert.Equal(t, 100, changes[0].Similarity())
}

func TestRenamesDisabled(t *testing.T) {
	db := objecttest.Store()
	content := lines("content", 10)
	a := objecttest.Tree(t, db, map[string]string{"P": content})
	b := objecttest.Tree(t, db, map[string]string{"Q": content})

	changes, err := Diff(db, a, b, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"D P", "A Q"}, summary(changes))
}

func TestInexactRenameThreshold(t *testing.T) {
	db := objecttest.Store()
	base := lines("body", 20)
	edited := strings.Replace(base, "body line a\n", "body line CHANGED\n", 1)
	a := objecttest.Tree(t, db, map[string]string{"old/name.go": base})
	b := objecttest.Tree(t, db, map[string]string{"new/name.go": edited})

	changes, err := Diff(db, a, b, Options{Renames: true})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, Renamed, changes[0].Status)
	assert.GreaterOrEqual(t, changes[0].Score, DefaultMinScore)
	assert.Less(t, changes[0].Similarity(), 100)

	strict, err := ParseScore("100")
	require.NoError(t, err)
	changes, err = Diff(db, a, b, Options{Renames: true, MinScore: strict})
	require.NoError(t, err)
	assert.Equal(t, []string{"A new/name.go", "D old/name.go"}, summary(changes))
}

func TestRenameTieBreaksOnBasenameThenPath(t *testing.T) {
	db := objecttest.Store()
	content := lines("dup", 8)
	a := objecttest.Tree(t, db, map[string]string{
		"a/other.txt": content,
		"z/file.txt":  content,
	})
	b := objecttest.Tree(t, db, map[string]string{
		"moved/file.txt": content,
	})

	changes, err := Diff(db, a, b, Options{Renames: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"D a/other.txt", "R100 z/file.txt -> moved/file.txt"}, summary(changes))

	// Without a basename match the smallest source path wins.
	b2 := objecttest.Tree(t, db, map[string]string{"elsewhere.txt": content})
	changes, err = Diff(db, a, b2, Options{Renames: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"R100 a/other.txt -> elsewhere.txt", "D z/file.txt"}, summary(changes))
}

func fixedLines(prefix string, from, to int) string {
	var sb strings.Builder
	for i := from; i < to; i++ {
		fmt.Fprintf(&sb, "%s line %02d\n", prefix, i)
	}
	return sb.String()
}

func TestRenameFallsBackToNextBestSource(t *testing.T) {
	db := objecttest.Store()
	a := objecttest.Tree(t, db, map[string]string{
		"s1": fixedLines("x", 0, 20),
		"s2": fixedLines("y", 0, 20),
	})
	b := objecttest.Tree(t, db, map[string]string{
		// d1 keeps 19 of s1's 20 lines; d2 is half s1 and half s2, so s1
		// ranks first for both destinations.
		"d1": fixedLines("x", 0, 19) + "x line XX\n",
		"d2": fixedLines("x", 0, 10) + fixedLines("y", 0, 10),
	})

	minScore, err := ParseScore("40")
	require.NoError(t, err)
	changes, err := Diff(db, a, b, Options{Renames: true, MinScore: minScore})
	require.NoError(t, err)
	assert.Equal(t, []string{"R095 s1 -> d1", "R050 s2 -> d2"}, summary(changes))
}

func TestCopiesFromModifiedAndHarder(t *testing.T) {
	db := objecttest.Store()
	tmpl := lines("tmpl", 12)
	stable := lines("stable", 12)
	a := objecttest.Tree(t, db, map[string]string{
		"tmpl.txt":   tmpl,
		"stable.txt": stable,
	})
	b := objecttest.Tree(t, db, map[string]string{
		"tmpl.txt":        tmpl + "appended\n",
		"stable.txt":      stable,
		"tmpl-copy.txt":   tmpl,
		"stable-copy.txt": stable,
	})

	changes, err := Diff(db, a, b, Options{Copies: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"A stable-copy.txt", "C100 tmpl.txt -> tmpl-copy.txt", "M tmpl.txt"}, summary(changes))

	changes, err = Diff(db, a, b, Options{Copies: true, FindCopiesHarder: true})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"C100 stable.txt -> stable-copy.txt",
		"C100 tmpl.txt -> tmpl-copy.txt",
		"M tmpl.txt",
	}, summary(changes))
}

func TestDeletedSourceRenamedOnceThenCopied(t *testing.T) {
	db := objecttest.Store()
	content := lines("split", 10)
	a := objecttest.Tree(t, db, map[string]string{"orig.txt": content})
	b := objecttest.Tree(t, db, map[string]string{"one.txt": content, "two.txt": content})

	changes, err := Diff(db, a, b, Options{Copies: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"R100 orig.txt -> one.txt", "C100 orig.txt -> two.txt"}, summary(changes))
}

func TestRenameLimitSkipsInexact(t *testing.T) {
	db := objecttest.Store()
	base := lines("limit", 20)
	edited := base + "tail\n"
	a := objecttest.Tree(t, db, map[string]string{"x1": base, "x2": lines("other", 20)})
	b := objecttest.Tree(t, db, map[string]string{"y1": edited, "y2": lines("other", 21)})

	changes, err := Diff(db, a, b, Options{Renames: true, RenameLimit: 1})
	require.NoError(t, err)
	for _, c := range changes {
		assert.NotEqual(t, Renamed, c.Status, c.String())
	}

	changes, err = Diff(db, a, b, Options{Renames: true})
	require.NoError(t, err)
	renamed := 0
	for _, c := range changes {
		if c.Status == Renamed {
			renamed++
		}
	}
	assert.Equal(t, 2, renamed)
}

func TestPathsFilter(t *testing.T) {
	db := objecttest.Store()
	content := lines("follow", 10)
	a := objecttest.Tree(t, db, map[string]string{"old.txt": content, "noise.txt": "1\n"})
	b := objecttest.Tree(t, db, map[string]string{"new.txt": content, "noise.txt": "2\n"})

	changes, err := Diff(db, a, b, Options{Renames: true, Paths: []string{"new.txt"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"R100 old.txt -> new.txt"}, summary(changes))

	changes, err = Diff(db, a, b, Options{Paths: []string{"noise.txt"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"M noise.txt"}, summary(changes))
}

func TestParseScore(t *testing.T) {
	s, err := ParseScore("50%")
	require.NoError(t, err)
	assert.Equal(t, DefaultMinScore, s)

	s, err = ParseScore("")
	require.NoError(t, err)
	assert.Equal(t, DefaultMinScore, s)

	_, err = ParseScore("150")
	assert.Error(t, err)
}

func TestDiffMissingTreeFails(t *testing.T) {
	db := objecttest.Store()
	_, err := Diff(db, "deadbeef", "", Options{})
	assert.ErrorIs(t, err, object.ErrNotFound)
}
