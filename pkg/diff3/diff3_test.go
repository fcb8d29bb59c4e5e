package diff3

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// 1. Clean merge: ours adds lines at top, theirs adds lines at bottom
// ---------------------------------------------------------------------------

func TestMerge_CleanTopBottom(t *testing.T) {
	base := []byte("line1\nline2\nline3\n")
	ours := []byte("new-top\nline1\nline2\nline3\n")
	theirs := []byte("line1\nline2\nline3\nnew-bottom\n")

	r := Merge(base, ours, theirs, Options{})

	if r.HasConflicts {
		t.Fatal("expected clean merge, got conflicts")
	}

	want := "new-top\nline1\nline2\nline3\nnew-bottom\n"
	if string(r.Merged) != want {
		t.Errorf("merged =\n%s\nwant =\n%s", r.Merged, want)
	}
}

// ---------------------------------------------------------------------------
// 2. Ours-only change: theirs unchanged
// ---------------------------------------------------------------------------

func TestMerge_OursOnly(t *testing.T) {
	base := []byte("aaa\nbbb\nccc\n")
	ours := []byte("aaa\nBBB\nccc\n")
	theirs := []byte("aaa\nbbb\nccc\n") // same as base

	r := Merge(base, ours, theirs, Options{})

	if r.HasConflicts {
		t.Fatal("expected clean merge, got conflicts")
	}
	want := "aaa\nBBB\nccc\n"
	if string(r.Merged) != want {
		t.Errorf("merged =\n%s\nwant =\n%s", r.Merged, want)
	}
}

// ---------------------------------------------------------------------------
// 3. Theirs-only change: ours unchanged
// ---------------------------------------------------------------------------

func TestMerge_TheirsOnly(t *testing.T) {
	base := []byte("aaa\nbbb\nccc\n")
	ours := []byte("aaa\nbbb\nccc\n") // same as base
	theirs := []byte("aaa\nBBB\nccc\n")

	r := Merge(base, ours, theirs, Options{})

	if r.HasConflicts {
		t.Fatal("expected clean merge, got conflicts")
	}
	want := "aaa\nBBB\nccc\n"
	if string(r.Merged) != want {
		t.Errorf("merged =\n%s\nwant =\n%s", r.Merged, want)
	}
}

// ---------------------------------------------------------------------------
// 4. Conflict: both change same line differently
// ---------------------------------------------------------------------------

func TestMerge_Conflict(t *testing.T) {
	base := []byte("aaa\nbbb\nccc\n")
	ours := []byte("aaa\nOURS\nccc\n")
	theirs := []byte("aaa\nTHEIRS\nccc\n")

	r := Merge(base, ours, theirs, Options{})

	if !r.HasConflicts {
		t.Fatal("expected conflicts, got clean merge")
	}

	// The merged output should contain conflict markers.
	if !bytes.Contains(r.Merged, []byte("<<<<<<<")) {
		t.Error("merged output missing <<<<<<< marker")
	}
	if !bytes.Contains(r.Merged, []byte("=======")) {
		t.Error("merged output missing ======= marker")
	}
	if !bytes.Contains(r.Merged, []byte(">>>>>>>")) {
		t.Error("merged output missing >>>>>>> marker")
	}

	// There should be at least one conflict hunk.
	hasConflictHunk := false
	for _, h := range r.Hunks {
		if h.Type == HunkConflict {
			hasConflictHunk = true
		}
	}
	if !hasConflictHunk {
		t.Error("expected at least one HunkConflict in Hunks")
	}
}

// ---------------------------------------------------------------------------
// 5. Both make identical change: no conflict
// ---------------------------------------------------------------------------

func TestMerge_IdenticalChange(t *testing.T) {
	base := []byte("aaa\nbbb\nccc\n")
	ours := []byte("aaa\nSAME\nccc\n")
	theirs := []byte("aaa\nSAME\nccc\n")

	r := Merge(base, ours, theirs, Options{})

	if r.HasConflicts {
		t.Fatal("expected clean merge when both sides make the same change")
	}
	want := "aaa\nSAME\nccc\n"
	if string(r.Merged) != want {
		t.Errorf("merged =\n%s\nwant =\n%s", r.Merged, want)
	}
}

// ---------------------------------------------------------------------------
// 6. Non-overlapping inserts in different parts of file: clean merge
// ---------------------------------------------------------------------------

func TestMerge_NonOverlappingInserts(t *testing.T) {
	base := []byte("aaa\nbbb\nccc\nddd\neee\n")
	ours := []byte("aaa\nOUR-INSERT\nbbb\nccc\nddd\neee\n")
	theirs := []byte("aaa\nbbb\nccc\nddd\nTHEIR-INSERT\neee\n")

	r := Merge(base, ours, theirs, Options{})

	if r.HasConflicts {
		t.Fatalf("expected clean merge, got conflicts:\n%s", r.Merged)
	}

	want := "aaa\nOUR-INSERT\nbbb\nccc\nddd\nTHEIR-INSERT\neee\n"
	if string(r.Merged) != want {
		t.Errorf("merged =\n%s\nwant =\n%s", r.Merged, want)
	}
}

// ---------------------------------------------------------------------------
// 7. Delete vs modify: conflict
// ---------------------------------------------------------------------------

func TestMerge_DeleteVsModify(t *testing.T) {
	base := []byte("aaa\nbbb\nccc\n")
	ours := []byte("aaa\nccc\n")            // deleted "bbb"
	theirs := []byte("aaa\nBBB-MOD\nccc\n") // modified "bbb"

	r := Merge(base, ours, theirs, Options{})

	if !r.HasConflicts {
		t.Fatal("expected conflict when one side deletes and the other modifies")
	}
}

// ---------------------------------------------------------------------------
// 8. Empty inputs
// ---------------------------------------------------------------------------

func TestMerge_EmptyBase(t *testing.T) {
	base := []byte("")
	ours := []byte("hello\n")
	theirs := []byte("world\n")

	r := Merge(base, ours, theirs, Options{})

	// Both sides added content to an empty base, so this is a conflict
	// since both inserted at the same position.
	if !r.HasConflicts {
		t.Fatal("expected conflict when both sides add to empty base")
	}
}

func TestMerge_EmptyOurs(t *testing.T) {
	base := []byte("aaa\nbbb\n")
	ours := []byte("")
	theirs := []byte("aaa\nbbb\n") // same as base

	r := Merge(base, ours, theirs, Options{})

	if r.HasConflicts {
		t.Fatal("expected clean merge")
	}
	// Ours deleted everything, theirs unchanged → take ours.
	if string(r.Merged) != "" {
		t.Errorf("merged = %q, want empty", r.Merged)
	}
}

func TestMerge_EmptyTheirs(t *testing.T) {
	base := []byte("aaa\nbbb\n")
	ours := []byte("aaa\nbbb\n") // same as base
	theirs := []byte("")

	r := Merge(base, ours, theirs, Options{})

	if r.HasConflicts {
		t.Fatal("expected clean merge")
	}
	if string(r.Merged) != "" {
		t.Errorf("merged = %q, want empty", r.Merged)
	}
}

func TestMerge_AllEmpty(t *testing.T) {
	r := Merge([]byte{}, []byte{}, []byte{}, Options{})
	if r.HasConflicts {
		t.Fatal("expected clean merge for all-empty inputs")
	}
	if len(r.Merged) != 0 {
		t.Errorf("expected empty merged, got %q", r.Merged)
	}
}

// ---------------------------------------------------------------------------
// 9. Large file performance sanity check
// ---------------------------------------------------------------------------

func TestMerge_LargeFile(t *testing.T) {
	var baseBuf, oursBuf, theirsBuf strings.Builder
	const n = 2000

	for i := 0; i < n; i++ {
		line := fmt.Sprintf("line-%04d\n", i)
		baseBuf.WriteString(line)
		oursBuf.WriteString(line)
		theirsBuf.WriteString(line)
	}

	// Ours changes line 100.
	oursLines := strings.Split(oursBuf.String(), "\n")
	oursLines[100] = "OURS-CHANGED"
	oursContent := []byte(strings.Join(oursLines, "\n"))

	// Theirs changes line 1900.
	theirsLines := strings.Split(theirsBuf.String(), "\n")
	theirsLines[1900] = "THEIRS-CHANGED"
	theirsContent := []byte(strings.Join(theirsLines, "\n"))

	base := []byte(baseBuf.String())

	start := time.Now()
	r := Merge(base, oursContent, theirsContent, Options{})
	elapsed := time.Since(start)

	if r.HasConflicts {
		t.Fatal("expected clean merge for non-overlapping changes")
	}

	if elapsed > 5*time.Second {
		t.Fatalf("merge took %v, expected < 5s for %d lines", elapsed, n)
	}

	if !bytes.Contains(r.Merged, []byte("OURS-CHANGED")) {
		t.Error("merged output missing OURS-CHANGED")
	}
	if !bytes.Contains(r.Merged, []byte("THEIRS-CHANGED")) {
		t.Error("merged output missing THEIRS-CHANGED")
	}
}

// ---------------------------------------------------------------------------
// 10. Labels, styles and favor options
// ---------------------------------------------------------------------------

func TestMerge_ConflictMarkersWithLabels(t *testing.T) {
	r := Merge([]byte("A\n"), []byte("B\n"), []byte("C\n"), Options{OursLabel: "ours", TheirsLabel: "theirs"})
	want := "<<<<<<< ours\nB\n=======\nC\n>>>>>>> theirs\n"
	if string(r.Merged) != want {
		t.Errorf("merged =\n%s\nwant =\n%s", r.Merged, want)
	}
	if r.Conflicts != 1 {
		t.Errorf("Conflicts = %d, want 1", r.Conflicts)
	}
}

func TestMerge_Diff3Style(t *testing.T) {
	r := Merge([]byte("A\n"), []byte("B\n"), []byte("C\n"), Options{
		OursLabel: "HEAD", BaseLabel: "base", TheirsLabel: "topic", Style: StyleDiff3,
	})
	want := "<<<<<<< HEAD\nB\n||||||| base\nA\n=======\nC\n>>>>>>> topic\n"
	if string(r.Merged) != want {
		t.Errorf("merged =\n%s\nwant =\n%s", r.Merged, want)
	}
}

func TestMerge_MarkerSize(t *testing.T) {
	r := Merge([]byte("A\n"), []byte("B\n"), []byte("C\n"), Options{MarkerSize: 3})
	want := "<<<\nB\n===\nC\n>>>\n"
	if string(r.Merged) != want {
		t.Errorf("merged = %q, want %q", r.Merged, want)
	}
}

func TestMerge_Favor(t *testing.T) {
	base, ours, theirs := []byte("x\nA\ny\n"), []byte("x\nB\ny\n"), []byte("x\nC\ny\n")
	cases := []struct {
		favor Favor
		want  string
	}{
		{FavorOurs, "x\nB\ny\n"},
		{FavorTheirs, "x\nC\ny\n"},
		{FavorUnion, "x\nB\nC\ny\n"},
	}
	for _, tc := range cases {
		r := Merge(base, ours, theirs, Options{Favor: tc.favor})
		if r.HasConflicts {
			t.Errorf("favor %d: unexpected conflict", tc.favor)
		}
		if string(r.Merged) != tc.want {
			t.Errorf("favor %d: merged = %q, want %q", tc.favor, r.Merged, tc.want)
		}
	}
}

func TestMerge_ConflictTrimsCommonEdges(t *testing.T) {
	base := []byte("a\nb\nc\n")
	ours := []byte("a\nsame\nB1\nsame2\nc\n")
	theirs := []byte("a\nsame\nB2\nsame2\nc\n")
	r := Merge(base, ours, theirs, Options{})
	want := "a\nsame\n<<<<<<<\nB1\n=======\nB2\n>>>>>>>\nsame2\nc\n"
	if string(r.Merged) != want {
		t.Errorf("merged =\n%s\nwant =\n%s", r.Merged, want)
	}
}

func TestMerge_IncompleteLastLineInConflict(t *testing.T) {
	r := Merge([]byte("A"), []byte("B"), []byte("C"), Options{})
	want := "<<<<<<<\nB\n=======\nC\n>>>>>>>\n"
	if string(r.Merged) != want {
		t.Errorf("merged = %q, want %q", r.Merged, want)
	}
}

func TestMerge_KeepsMissingNewlineWhenClean(t *testing.T) {
	r := Merge([]byte("a\nb"), []byte("A\nb"), []byte("a\nb"), Options{})
	if r.HasConflicts || string(r.Merged) != "A\nb" {
		t.Errorf("merged = %q, conflicts=%v", r.Merged, r.HasConflicts)
	}
}

func TestMerge_SymmetricVerdict(t *testing.T) {
	cases := [][3]string{
		{"A\nB\nC\n", "A\nB\nC\n", "A\nB\nD\n"},
		{"A\n", "B\n", "C\n"},
		{"1\n2\n3\n4\n", "0\n1\n2\n3\n4\n", "1\n2\n3\n4\n5\n"},
		{"1\n2\n3\n", "1\n3\n", "1\n2x\n3\n"},
		{"", "a\n", "b\n"},
	}
	for i, c := range cases {
		ab := Merge([]byte(c[0]), []byte(c[1]), []byte(c[2]), Options{})
		ba := Merge([]byte(c[0]), []byte(c[2]), []byte(c[1]), Options{})
		if ab.HasConflicts != ba.HasConflicts || ab.Conflicts != ba.Conflicts {
			t.Errorf("case %d: verdict differs after swapping sides", i)
		}
		if !ab.HasConflicts {
			continue
		}
		for _, side := range []string{c[1], c[2]} {
			for _, line := range strings.SplitAfter(side, "\n") {
				if line != "" && !bytes.Contains(ab.Merged, []byte(line)) {
					t.Errorf("case %d: conflict output lost line %q", i, line)
				}
			}
		}
	}
}
