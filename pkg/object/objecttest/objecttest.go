// Package objecttest builds small object graphs for tests.
package objecttest

import (
	"fmt"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/odvcencio/weave/pkg/object"
)

// Store returns an empty in-memory loose object store.
func Store() *object.Store {
	return object.NewStoreFS(memfs.New())
}

// File is a tree entry with an explicit mode.
type File struct {
	Mode    string
	Content string
}

// Blob writes content as a blob.
func Blob(t testing.TB, w object.Writer, content string) object.Hash {
	t.Helper()
	h, err := object.WriteBlob(w, []byte(content))
	if err != nil {
		t.Fatalf("write blob: %v", err)
	}
	return h
}

// Tree writes regular files (path -> content) as a tree.
func Tree(t testing.TB, w object.Writer, files map[string]string) object.Hash {
	t.Helper()
	withModes := make(map[string]File, len(files))
	for p, c := range files {
		withModes[p] = File{Mode: object.TreeModeFile, Content: c}
	}
	return TreeFiles(t, w, withModes)
}

// TreeFiles writes files with explicit modes as a tree. A gitlink's
// Content is used as the commit hash it points at.
func TreeFiles(t testing.TB, w object.Writer, files map[string]File) object.Hash {
	t.Helper()
	entries := make([]object.FileEntry, 0, len(files))
	for p, f := range files {
		var h object.Hash
		if f.Mode == object.TreeModeGitlink {
			h = object.Hash(f.Content)
		} else {
			h = Blob(t, w, f.Content)
		}
		entries = append(entries, object.FileEntry{Path: p, Mode: f.Mode, Hash: h})
	}
	h, err := object.BuildTree(w, entries)
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	return h
}

// Commit writes a commit of tree at time when with the given parents.
func Commit(t testing.TB, w object.Writer, tree object.Hash, when int64, parents ...object.Hash) object.Hash {
	t.Helper()
	h, err := object.WriteCommit(w, &object.CommitObj{
		TreeHash:           tree,
		Parents:            parents,
		Author:             "Test Author <author@example.com>",
		Timestamp:          when,
		Committer:          "Test Committer <committer@example.com>",
		CommitterTimestamp: when,
		Message:            fmt.Sprintf("commit at %d\n", when),
	})
	if err != nil {
		t.Fatalf("write commit: %v", err)
	}
	return h
}

// ReadFile returns the content at path in tree, failing the test when
// the path is missing.
func ReadFile(t testing.TB, r object.Reader, tree object.Hash, path string) string {
	t.Helper()
	e, err := object.TreeEntryAtPath(r, tree, path)
	if err != nil {
		t.Fatalf("lookup %s: %v", path, err)
	}
	data, err := object.ReadBlob(r, e.Hash)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}
