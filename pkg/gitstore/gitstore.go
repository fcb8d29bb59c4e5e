// Package gitstore serves a git repository as an object database.
//
// Blobs pass through unchanged. Trees and commits are translated between
// git's encoding and the canonical payloads of package object, so the
// diff, merge and blame engines run on git history as they do on a weave
// store. Hashes are git's SHA-1 object names.
package gitstore

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	gitobject "github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	"github.com/odvcencio/weave/pkg/object"
)

// Store adapts a go-git repository to object.Database and
// object.Resolver.
type Store struct {
	repo *git.Repository
	st   storer.Storer
}

// New wraps an opened repository.
func New(repo *git.Repository) *Store {
	return &Store{repo: repo, st: repo.Storer}
}

// Open opens the git repository containing path.
func Open(path string) (*Store, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("gitstore open %s: %w", path, err)
	}
	return New(repo), nil
}

// Repository returns the underlying repository.
func (s *Store) Repository() *git.Repository { return s.repo }

func toGitHash(h object.Hash) (plumbing.Hash, bool) {
	if len(h) != 40 {
		return plumbing.ZeroHash, false
	}
	return plumbing.NewHash(string(h)), true
}

func fromGitHash(h plumbing.Hash) object.Hash {
	return object.Hash(h.String())
}

// Read returns the canonical payload of object h.
func (s *Store) Read(h object.Hash) (object.ObjectType, []byte, error) {
	gh, ok := toGitHash(h)
	if !ok {
		return "", nil, fmt.Errorf("object read %q: %w", h, object.ErrNotFound)
	}
	o, err := s.st.EncodedObject(plumbing.AnyObject, gh)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return "", nil, fmt.Errorf("object read %s: %w", h, object.ErrNotFound)
		}
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}

	switch o.Type() {
	case plumbing.BlobObject:
		data, err := readAll(o)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: %w", h, err)
		}
		return object.TypeBlob, data, nil
	case plumbing.TreeObject:
		tree, err := gitobject.DecodeTree(s.st, o)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: %v: %w", h, err, object.ErrCorrupt)
		}
		tr, err := fromGitTree(tree)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: %w", h, err)
		}
		return object.TypeTree, object.MarshalTree(tr), nil
	case plumbing.CommitObject:
		c, err := gitobject.DecodeCommit(s.st, o)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: %v: %w", h, err, object.ErrCorrupt)
		}
		return object.TypeCommit, object.MarshalCommit(fromGitCommit(c)), nil
	default:
		return "", nil, fmt.Errorf("object read %s: %s objects are not supported: %w", h, o.Type(), object.ErrTypeMismatch)
	}
}

func readAll(o plumbing.EncodedObject) ([]byte, error) {
	r, err := o.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Write stores a canonical payload as a git object.
func (s *Store) Write(objType object.ObjectType, data []byte) (object.Hash, error) {
	o := s.st.NewEncodedObject()
	switch objType {
	case object.TypeBlob:
		o.SetType(plumbing.BlobObject)
		w, err := o.Writer()
		if err != nil {
			return "", fmt.Errorf("object write: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			w.Close()
			return "", fmt.Errorf("object write: %w", err)
		}
		if err := w.Close(); err != nil {
			return "", fmt.Errorf("object write: %w", err)
		}
	case object.TypeTree:
		tr, err := object.UnmarshalTree(data)
		if err != nil {
			return "", fmt.Errorf("object write: %w", err)
		}
		tree, err := toGitTree(tr)
		if err != nil {
			return "", fmt.Errorf("object write: %w", err)
		}
		if err := tree.Encode(o); err != nil {
			return "", fmt.Errorf("object write: encode tree: %w", err)
		}
	case object.TypeCommit:
		c, err := object.UnmarshalCommit(data)
		if err != nil {
			return "", fmt.Errorf("object write: %w", err)
		}
		commit, err := toGitCommit(c)
		if err != nil {
			return "", fmt.Errorf("object write: %w", err)
		}
		if err := commit.Encode(o); err != nil {
			return "", fmt.Errorf("object write: encode commit: %w", err)
		}
	default:
		return "", fmt.Errorf("object write: unknown type %q", objType)
	}

	h, err := s.st.SetEncodedObject(o)
	if err != nil {
		return "", fmt.Errorf("object write: %w", err)
	}
	return fromGitHash(h), nil
}

// Resolve parses a git revision (refs, abbreviated hashes, ^ and ~
// selectors) with go-git.
func (s *Store) Resolve(name string) (object.Hash, error) {
	h, err := s.repo.ResolveRevision(plumbing.Revision(strings.TrimSpace(name)))
	if err != nil {
		return "", fmt.Errorf("resolve %q: %v: %w", name, err, object.ErrNotFound)
	}
	return fromGitHash(*h), nil
}

// UpdateRef points the named reference at h.
func (s *Store) UpdateRef(name string, h object.Hash) error {
	gh, ok := toGitHash(h)
	if !ok {
		return fmt.Errorf("update ref %q: bad hash %q", name, h)
	}
	ref := plumbing.NewHashReference(plumbing.ReferenceName(name), gh)
	if err := s.st.SetReference(ref); err != nil {
		return fmt.Errorf("update ref %q: %w", name, err)
	}
	return nil
}

// Advance moves the branch HEAD points at, or a detached HEAD, to h.
func (s *Store) Advance(h object.Hash) error {
	head, err := s.st.Reference(plumbing.HEAD)
	if err != nil {
		return fmt.Errorf("advance: %w", err)
	}
	if head.Type() == plumbing.SymbolicReference {
		return s.UpdateRef(head.Target().String(), h)
	}
	return s.UpdateRef(plumbing.HEAD.String(), h)
}

var modes = map[filemode.FileMode]string{
	filemode.Dir:        object.TreeModeDir,
	filemode.Regular:    object.TreeModeFile,
	filemode.Deprecated: object.TreeModeFile,
	filemode.Executable: object.TreeModeExecutable,
	filemode.Symlink:    object.TreeModeSymlink,
	filemode.Submodule:  object.TreeModeGitlink,
}

func fromGitTree(tree *gitobject.Tree) (*object.TreeObj, error) {
	tr := &object.TreeObj{Entries: make([]object.TreeEntry, 0, len(tree.Entries))}
	for _, e := range tree.Entries {
		mode, ok := modes[e.Mode]
		if !ok {
			return nil, fmt.Errorf("tree entry %q: unsupported mode %s: %w", e.Name, e.Mode, object.ErrCorrupt)
		}
		tr.Entries = append(tr.Entries, object.TreeEntry{Name: e.Name, Mode: mode, Hash: fromGitHash(e.Hash)})
	}
	sort.Slice(tr.Entries, func(i, j int) bool { return tr.Entries[i].Name < tr.Entries[j].Name })
	return tr, nil
}

// toGitTree converts entries and sorts them the way git does: a
// directory sorts as if its name ended in a slash.
func toGitTree(tr *object.TreeObj) (*gitobject.Tree, error) {
	tree := &gitobject.Tree{Entries: make([]gitobject.TreeEntry, 0, len(tr.Entries))}
	for _, e := range tr.Entries {
		mode, err := filemode.New(e.Mode)
		if err != nil {
			return nil, fmt.Errorf("tree entry %q: %w", e.Name, err)
		}
		gh, ok := toGitHash(e.Hash)
		if !ok {
			return nil, fmt.Errorf("tree entry %q: %q is not a git object name", e.Name, e.Hash)
		}
		tree.Entries = append(tree.Entries, gitobject.TreeEntry{Name: e.Name, Mode: mode, Hash: gh})
	}
	sortKey := func(e gitobject.TreeEntry) string {
		if e.Mode == filemode.Dir {
			return e.Name + "/"
		}
		return e.Name
	}
	sort.Slice(tree.Entries, func(i, j int) bool { return sortKey(tree.Entries[i]) < sortKey(tree.Entries[j]) })
	return tree, nil
}

func fromGitCommit(c *gitobject.Commit) *object.CommitObj {
	parents := make([]object.Hash, len(c.ParentHashes))
	for i, p := range c.ParentHashes {
		parents[i] = fromGitHash(p)
	}
	return &object.CommitObj{
		TreeHash:           fromGitHash(c.TreeHash),
		Parents:            parents,
		Author:             ident(c.Author),
		Timestamp:          c.Author.When.Unix(),
		AuthorTimezone:     c.Author.When.Format("-0700"),
		Committer:          ident(c.Committer),
		CommitterTimestamp: c.Committer.When.Unix(),
		CommitterTimezone:  c.Committer.When.Format("-0700"),
		Message:            c.Message,
	}
}

func toGitCommit(c *object.CommitObj) (*gitobject.Commit, error) {
	tree, ok := toGitHash(c.TreeHash)
	if !ok {
		return nil, fmt.Errorf("commit tree %q is not a git object name", c.TreeHash)
	}
	parents := make([]plumbing.Hash, len(c.Parents))
	for i, p := range c.Parents {
		if parents[i], ok = toGitHash(p); !ok {
			return nil, fmt.Errorf("commit parent %q is not a git object name", p)
		}
	}
	author := signature(c.Author, c.Timestamp, c.AuthorTimezone)
	committer := author
	if c.Committer != "" {
		committer = signature(c.Committer, c.CommitterTimestamp, c.CommitterTimezone)
	}
	return &gitobject.Commit{
		Author:       author,
		Committer:    committer,
		Message:      c.Message,
		TreeHash:     tree,
		ParentHashes: parents,
	}, nil
}

func ident(sig gitobject.Signature) string {
	return fmt.Sprintf("%s <%s>", sig.Name, sig.Email)
}

// signature splits "Name <email>" and attaches the time in zone tz.
func signature(id string, unix int64, tz string) gitobject.Signature {
	name, email := id, ""
	if lt := strings.LastIndexByte(id, '<'); lt >= 0 {
		name = strings.TrimSpace(id[:lt])
		email = strings.TrimSuffix(strings.TrimSpace(id[lt+1:]), ">")
	}
	return gitobject.Signature{Name: name, Email: email, When: time.Unix(unix, 0).In(zone(tz))}
}

func zone(tz string) *time.Location {
	n, err := strconv.Atoi(tz)
	if err != nil || len(tz) != 5 {
		return time.UTC
	}
	sign := 1
	if n < 0 {
		sign, n = -1, -n
	}
	return time.FixedZone("", sign*((n/100)*3600+(n%100)*60))
}
