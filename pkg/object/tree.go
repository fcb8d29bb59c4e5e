package object

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// FileEntry is a non-directory entry of a flattened tree.
type FileEntry struct {
	Path string
	Mode string
	Hash Hash
}

// FlattenTree recursively walks a tree and returns every non-directory
// entry with its full slash-separated path, sorted by path.
func FlattenTree(r Reader, h Hash) ([]FileEntry, error) {
	var out []FileEntry
	if err := flattenTreeRec(r, h, "", &out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func flattenTreeRec(r Reader, h Hash, prefix string, out *[]FileEntry) error {
	tree, err := ReadTree(r, h)
	if err != nil {
		return fmt.Errorf("flatten tree %s: %w", h, err)
	}
	for _, e := range tree.Entries {
		full := e.Name
		if prefix != "" {
			full = prefix + "/" + e.Name
		}
		if e.IsDir() {
			if err := flattenTreeRec(r, e.Hash, full, out); err != nil {
				return err
			}
			continue
		}
		*out = append(*out, FileEntry{Path: full, Mode: e.Mode, Hash: e.Hash})
	}
	return nil
}

// TreeEntryAtPath walks from root tree h to the entry named by the
// slash-separated path p.
func TreeEntryAtPath(r Reader, h Hash, p string) (TreeEntry, error) {
	p = strings.Trim(path.Clean("/"+p), "/")
	if p == "" {
		return TreeEntry{}, fmt.Errorf("tree entry: empty path: %w", ErrNotFound)
	}
	parts := strings.Split(p, "/")
	cur := h
	for i, name := range parts {
		tree, err := ReadTree(r, cur)
		if err != nil {
			return TreeEntry{}, err
		}
		idx := sort.Search(len(tree.Entries), func(j int) bool { return tree.Entries[j].Name >= name })
		if idx >= len(tree.Entries) || tree.Entries[idx].Name != name {
			return TreeEntry{}, fmt.Errorf("tree entry %q: %w", p, ErrNotFound)
		}
		e := tree.Entries[idx]
		if i == len(parts)-1 {
			return e, nil
		}
		if !e.IsDir() {
			return TreeEntry{}, fmt.Errorf("tree entry %q: %s is not a directory: %w", p, name, ErrNotFound)
		}
		cur = e.Hash
	}
	return TreeEntry{}, fmt.Errorf("tree entry %q: %w", p, ErrNotFound)
}

// BuildTree converts flat file entries into a hierarchy of tree objects,
// writing every subtree and returning the root hash. Paths use forward
// slashes (e.g. "pkg/util/util.go"). A path that is both a file and a
// directory prefix of another path is an error.
func BuildTree(w Writer, files []FileEntry) (Hash, error) {
	return buildTreeDir(w, files, "")
}

// buildTreeDir builds the tree for the entries below prefix, all of which
// carry paths relative to prefix.
func buildTreeDir(w Writer, files []FileEntry, prefix string) (Hash, error) {
	direct := make(map[string]FileEntry)
	children := make(map[string][]FileEntry)

	for _, f := range files {
		slash := strings.IndexByte(f.Path, '/')
		if slash < 0 {
			direct[f.Path] = f
			continue
		}
		name := f.Path[:slash]
		children[name] = append(children[name], FileEntry{Path: f.Path[slash+1:], Mode: f.Mode, Hash: f.Hash})
	}

	entries := make([]TreeEntry, 0, len(direct)+len(children))
	for name, f := range direct {
		if _, ok := children[name]; ok {
			return "", fmt.Errorf("build tree: %q is both a file and a directory", path.Join(prefix, name))
		}
		mode := f.Mode
		if mode == "" {
			mode = TreeModeFile
		}
		entries = append(entries, TreeEntry{Name: name, Mode: mode, Hash: f.Hash})
	}
	for name, sub := range children {
		childPrefix := path.Join(prefix, name)
		subHash, err := buildTreeDir(w, sub, childPrefix)
		if err != nil {
			return "", err
		}
		entries = append(entries, TreeEntry{Name: name, Mode: TreeModeDir, Hash: subHash})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	h, err := WriteTree(w, &TreeObj{Entries: entries})
	if err != nil {
		return "", fmt.Errorf("write tree (prefix=%q): %w", prefix, err)
	}
	return h, nil
}
