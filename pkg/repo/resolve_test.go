package repo

import (
	"errors"
	"testing"
	"time"

	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/object/objecttest"
)

// history builds root <- c1 <- c2 and a side commit s1 off root, then the
// merge m of c2 and s1, with main pointing at m.
func history(t *testing.T, r *Repo) map[string]object.Hash {
	t.Helper()
	tree := objecttest.Tree(t, r.Store, map[string]string{"f": "x\n"})
	root := objecttest.Commit(t, r.Store, tree, 1)
	c1 := objecttest.Commit(t, r.Store, tree, 2, root)
	c2 := objecttest.Commit(t, r.Store, tree, 3, c1)
	s1 := objecttest.Commit(t, r.Store, tree, 4, root)
	m := objecttest.Commit(t, r.Store, tree, 5, c2, s1)
	if err := r.UpdateRef("refs/heads/main", m, "test"); err != nil {
		t.Fatalf("UpdateRef: %v", err)
	}
	return map[string]object.Hash{"root": root, "c1": c1, "c2": c2, "s1": s1, "m": m}
}

func TestResolve(t *testing.T) {
	r := initRepo(t)
	c := history(t, r)

	cases := map[string]object.Hash{
		"HEAD":                     c["m"],
		"main":                     c["m"],
		"refs/heads/main":          c["m"],
		"HEAD^":                    c["c2"],
		"HEAD^1":                   c["c2"],
		"HEAD^2":                   c["s1"],
		"HEAD^0":                   c["m"],
		"main~2":                   c["c1"],
		"main~3":                   c["root"],
		"HEAD^2^":                  c["root"],
		"main~1^":                  c["c1"],
		string(c["c2"]):            c["c2"],
		string(c["s1"])[:12]:       c["s1"],
		string(c["s1"])[:12] + "~": c["root"],
	}
	for name, want := range cases {
		got, err := r.Resolve(name)
		if err != nil {
			t.Errorf("Resolve(%q): %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("Resolve(%q) = %s, want %s", name, got.Short(12), want.Short(12))
		}
	}
}

func TestResolve_Errors(t *testing.T) {
	r := initRepo(t)
	history(t, r)

	for _, name := range []string{"", "nope", "HEAD^3", "main~9", "HEAD^x", "zz"} {
		if _, err := r.Resolve(name); !errors.Is(err, object.ErrNotFound) {
			t.Errorf("Resolve(%q) error = %v, want ErrNotFound", name, err)
		}
	}
}

func TestCommitTreeAndAdvance(t *testing.T) {
	r := initRepo(t)
	c := history(t, r)
	tree, err := object.CommitTree(r.Store, c["m"])
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("", 2*3600))
	h, err := r.CommitTree(tree, []object.Hash{c["m"]}, "next", Signature{Ident: "A U Thor <a@example.com>", When: when})
	if err != nil {
		t.Fatalf("CommitTree: %v", err)
	}
	commit, err := object.ReadCommit(r.Store, h)
	if err != nil {
		t.Fatalf("ReadCommit: %v", err)
	}
	if commit.Message != "next\n" || commit.AuthorTimezone != "+0200" || commit.Timestamp != when.Unix() {
		t.Fatalf("commit = %+v", commit)
	}

	if err := r.Advance(h, "commit: next"); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	got, err := r.Resolve("HEAD")
	if err != nil || got != h {
		t.Fatalf("HEAD = %s, %v; want %s", got, err, h)
	}

	if _, err := r.CommitTree(tree, nil, "x", Signature{}); err == nil {
		t.Fatal("CommitTree without identity should fail")
	}
}
