package object

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the frame header every zstd stream starts with. A plain
// envelope starts with an object type name, so the two never collide.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Store is a content-addressed object store with a 2-character fan-out
// directory layout: objects/ab/cdef0123...
type Store struct {
	fs       billy.Filesystem
	compress bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCompression makes the store zstd-compress newly written objects.
// Reads accept compressed and plain objects regardless.
func WithCompression(enabled bool) StoreOption {
	return func(s *Store) { s.compress = enabled }
}

// NewStore creates a Store rooted at the given directory on the local
// filesystem. The objects/ subdirectory is created lazily on first write.
func NewStore(root string, opts ...StoreOption) *Store {
	return NewStoreFS(osfs.New(root), opts...)
}

// NewStoreFS creates a Store on an arbitrary billy filesystem.
func NewStoreFS(fs billy.Filesystem, opts ...StoreOption) *Store {
	s := &Store{fs: fs}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// objectPath returns the filesystem path for a given hash.
func (s *Store) objectPath(h Hash) string {
	return path.Join("objects", string(h[:2]), string(h[2:]))
}

// Has reports whether the store contains an object with the given hash.
func (s *Store) Has(h Hash) bool {
	if len(h) < 3 {
		return false
	}
	_, err := s.fs.Stat(s.objectPath(h))
	return err == nil
}

// Write stores an object and returns its content hash. The on-disk format
// is "type len\0content", optionally zstd-compressed. Writes are atomic:
// data is written to a temp file and then renamed into place.
func (s *Store) Write(objType ObjectType, data []byte) (Hash, error) {
	envelope := fmt.Sprintf("%s %d\x00", objType, len(data))
	raw := append([]byte(envelope), data...)

	h := HashObject(objType, data)

	// Fast path: already exists.
	if s.Has(h) {
		return h, nil
	}

	if s.compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return "", fmt.Errorf("object write compress: %w", err)
		}
		raw = enc.EncodeAll(raw, nil)
		enc.Close()
	}

	dir := path.Join("objects", string(h[:2]))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("object write mkdir: %w", err)
	}

	tmp, err := s.fs.TempFile(dir, ".tmp-")
	if err != nil {
		return "", fmt.Errorf("object write tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return "", fmt.Errorf("object write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return "", fmt.Errorf("object write close: %w", err)
	}

	if err := s.fs.Rename(tmpName, s.objectPath(h)); err != nil {
		s.fs.Remove(tmpName)
		return "", fmt.Errorf("object write rename: %w", err)
	}

	return h, nil
}

// Read retrieves an object by hash, returning its type and raw content.
func (s *Store) Read(h Hash) (ObjectType, []byte, error) {
	if len(h) < 3 {
		return "", nil, fmt.Errorf("object read %q: %w", h, ErrNotFound)
	}
	raw, err := util.ReadFile(s.fs, s.objectPath(h))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, fmt.Errorf("object read %s: %w", h, ErrNotFound)
		}
		return "", nil, fmt.Errorf("object read %s: %w", h, err)
	}

	if bytes.HasPrefix(raw, zstdMagic) {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: %w", h, err)
		}
		raw, err = dec.DecodeAll(raw, nil)
		dec.Close()
		if err != nil {
			return "", nil, fmt.Errorf("object read %s: decompress: %v: %w", h, err, ErrCorrupt)
		}
	}

	// Parse envelope: "type len\0content"
	nulIdx := bytes.IndexByte(raw, 0)
	if nulIdx < 0 {
		return "", nil, fmt.Errorf("object read %s: invalid format (no NUL): %w", h, ErrCorrupt)
	}
	header := string(raw[:nulIdx])
	content := raw[nulIdx+1:]

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("object read %s: invalid header %q: %w", h, header, ErrCorrupt)
	}
	objType := ObjectType(parts[0])
	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("object read %s: invalid length %q: %w", h, parts[1], ErrCorrupt)
	}
	if len(content) != length {
		return "", nil, fmt.Errorf("object read %s: length mismatch (header=%d, actual=%d): %w", h, length, len(content), ErrCorrupt)
	}

	return objType, content, nil
}

// Resolve expands a full hash or a unique hex prefix of at least four
// characters to the stored object's hash.
func (s *Store) Resolve(name string) (Hash, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if len(name) < 4 || !isHex(name) {
		return "", fmt.Errorf("resolve %q: %w", name, ErrNotFound)
	}
	if s.Has(Hash(name)) {
		return Hash(name), nil
	}

	infos, err := s.fs.ReadDir(path.Join("objects", name[:2]))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("resolve %q: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("resolve %q: %w", name, err)
	}
	var matches []string
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), name[2:]) && !strings.HasPrefix(info.Name(), ".tmp-") {
			matches = append(matches, name[:2]+info.Name())
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("resolve %q: %w", name, ErrNotFound)
	case 1:
		return Hash(matches[0]), nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("resolve %q: %d candidates (%s, ...): %w", name, len(matches), matches[0], ErrAmbiguous)
	}
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
