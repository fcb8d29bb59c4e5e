package object

import "fmt"

// Reader reads objects by hash.
type Reader interface {
	Read(h Hash) (ObjectType, []byte, error)
}

// Writer stores objects and returns their hash.
type Writer interface {
	Write(objType ObjectType, data []byte) (Hash, error)
}

// Resolver maps a name (hash, hash prefix or ref) to an object hash.
type Resolver interface {
	Resolve(name string) (Hash, error)
}

// Database is the full content store surface the engines consume.
type Database interface {
	Reader
	Writer
}

func readTyped(r Reader, h Hash, want ObjectType) ([]byte, error) {
	objType, data, err := r.Read(h)
	if err != nil {
		return nil, err
	}
	if objType != want {
		return nil, fmt.Errorf("object %s: got %q, want %q: %w", h, objType, want, ErrTypeMismatch)
	}
	return data, nil
}

// WriteBlob stores data as a blob.
func WriteBlob(w Writer, data []byte) (Hash, error) {
	return w.Write(TypeBlob, MarshalBlob(&Blob{Data: data}))
}

// ReadBlob reads a blob's content.
func ReadBlob(r Reader, h Hash) ([]byte, error) {
	data, err := readTyped(r, h, TypeBlob)
	if err != nil {
		return nil, err
	}
	b, err := UnmarshalBlob(data)
	if err != nil {
		return nil, err
	}
	return b.Data, nil
}

// WriteTree serializes and stores a TreeObj.
func WriteTree(w Writer, tr *TreeObj) (Hash, error) {
	return w.Write(TypeTree, MarshalTree(tr))
}

// ReadTree reads and deserializes a TreeObj. An empty hash reads as the
// empty tree.
func ReadTree(r Reader, h Hash) (*TreeObj, error) {
	if h == "" {
		return &TreeObj{}, nil
	}
	data, err := readTyped(r, h, TypeTree)
	if err != nil {
		return nil, err
	}
	return UnmarshalTree(data)
}

// WriteCommit serializes and stores a CommitObj.
func WriteCommit(w Writer, c *CommitObj) (Hash, error) {
	return w.Write(TypeCommit, MarshalCommit(c))
}

// ReadCommit reads and deserializes a CommitObj.
func ReadCommit(r Reader, h Hash) (*CommitObj, error) {
	data, err := readTyped(r, h, TypeCommit)
	if err != nil {
		return nil, err
	}
	return UnmarshalCommit(data)
}

// CommitParents returns the parent hashes of commit h.
func CommitParents(r Reader, h Hash) ([]Hash, error) {
	c, err := ReadCommit(r, h)
	if err != nil {
		return nil, err
	}
	return c.Parents, nil
}

// CommitTree returns the root tree hash of commit h.
func CommitTree(r Reader, h Hash) (Hash, error) {
	c, err := ReadCommit(r, h)
	if err != nil {
		return "", err
	}
	return c.TreeHash, nil
}

// EmptyTree writes (or finds) the empty tree and returns its hash.
func EmptyTree(w Writer) (Hash, error) {
	return WriteTree(w, &TreeObj{})
}
