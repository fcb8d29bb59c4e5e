package object

import "errors"

// Hash is a lowercase hex-encoded object digest. Objects in a loose store are
// SHA-256; objects coming from a git repository are SHA-1.
type Hash string

// IsZero reports whether h is the empty hash.
func (h Hash) IsZero() bool { return h == "" }

// Short returns the first n characters of h (or all of it).
func (h Hash) Short(n int) string {
	if len(h) <= n {
		return string(h)
	}
	return string(h[:n])
}

// ObjectType identifies the kind of object stored.
type ObjectType string

const (
	TypeBlob   ObjectType = "blob"
	TypeTree   ObjectType = "tree"
	TypeCommit ObjectType = "commit"
)

const (
	// Tree mode constants compatible with Git's canonical mode strings.
	TreeModeDir        = "40000"
	TreeModeFile       = "100644"
	TreeModeExecutable = "100755"
	TreeModeSymlink    = "120000"
	TreeModeGitlink    = "160000"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrCorrupt      = errors.New("object corrupt")
	ErrAmbiguous    = errors.New("ambiguous object name")
	ErrTypeMismatch = errors.New("object type mismatch")
)

// Kind is the file-type part of a tree mode.
type Kind int

const (
	KindNone Kind = iota
	KindRegular
	KindSymlink
	KindGitlink
	KindDir
)

func (k Kind) String() string {
	switch k {
	case KindRegular:
		return "file"
	case KindSymlink:
		return "symlink"
	case KindGitlink:
		return "gitlink"
	case KindDir:
		return "directory"
	default:
		return "none"
	}
}

// ModeKind returns the file-type bits of mode. An empty mode is KindNone.
func ModeKind(mode string) Kind {
	switch mode {
	case "":
		return KindNone
	case TreeModeDir:
		return KindDir
	case TreeModeSymlink:
		return KindSymlink
	case TreeModeGitlink:
		return KindGitlink
	default:
		return KindRegular
	}
}

// Blob holds raw file data.
type Blob struct {
	Data []byte
}

// TreeEntry is one entry in a tree object. Hash names a blob for files and
// symlinks, a subtree for directories and a foreign commit for gitlinks.
type TreeEntry struct {
	Name string
	Mode string
	Hash Hash
}

// IsDir reports whether the entry is a subtree.
func (e TreeEntry) IsDir() bool { return e.Mode == TreeModeDir }

// TreeObj holds a sorted list of tree entries.
type TreeObj struct {
	Entries []TreeEntry // sorted by Name
}

// CommitObj represents a commit pointing to a tree with metadata.
type CommitObj struct {
	TreeHash           Hash
	Parents            []Hash
	Author             string
	Timestamp          int64
	AuthorTimezone     string
	Committer          string
	CommitterTimestamp int64
	CommitterTimezone  string
	Message            string
}

// When returns the committer timestamp, falling back to the author one.
func (c *CommitObj) When() int64 {
	if c.CommitterTimestamp != 0 {
		return c.CommitterTimestamp
	}
	return c.Timestamp
}
