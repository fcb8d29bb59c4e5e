// Package treediff compares two trees and reports per-path changes,
// optionally pairing deleted and added paths as renames or copies.
package treediff

import (
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/odvcencio/weave/pkg/object"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Status tags a change.
type Status int

const (
	Added Status = iota + 1
	Deleted
	Modified
	Renamed
	Copied
	TypeChanged
)

// Letter returns the one-letter status used in raw diff output.
func (s Status) Letter() string {
	switch s {
	case Added:
		return "A"
	case Deleted:
		return "D"
	case Modified:
		return "M"
	case Renamed:
		return "R"
	case Copied:
		return "C"
	case TypeChanged:
		return "T"
	default:
		return "?"
	}
}

func (s Status) String() string {
	switch s {
	case Added:
		return "added"
	case Deleted:
		return "deleted"
	case Modified:
		return "modified"
	case Renamed:
		return "renamed"
	case Copied:
		return "copied"
	case TypeChanged:
		return "type-changed"
	default:
		return "unknown"
	}
}

const (
	// MaxScore is the similarity of identical content.
	MaxScore = 60000
	// DefaultMinScore accepts pairs that are at least half similar.
	DefaultMinScore = MaxScore / 2
)

// Entry is one side of a change. A zero Entry means "absent".
type Entry struct {
	Path string
	Mode string
	Hash object.Hash
}

// Exists reports whether the entry names a present path.
func (e Entry) Exists() bool { return e.Mode != "" }

// Change describes how one path differs between the two trees.
type Change struct {
	Status Status
	From   Entry
	To     Entry
	// Score is the similarity on the MaxScore scale for Renamed and
	// Copied changes.
	Score int
}

// Path returns the path the change is reported under.
func (c Change) Path() string {
	if c.Status == Deleted {
		return c.From.Path
	}
	return c.To.Path
}

// Similarity returns Score as a percentage.
func (c Change) Similarity() int {
	return c.Score * 100 / MaxScore
}

func (c Change) String() string {
	switch c.Status {
	case Renamed, Copied:
		return fmt.Sprintf("%s%03d %s -> %s", c.Status.Letter(), c.Similarity(), c.From.Path, c.To.Path)
	default:
		return fmt.Sprintf("%s %s", c.Status.Letter(), c.Path())
	}
}

// Options configures a tree diff.
type Options struct {
	// Renames pairs deleted paths with similar added paths.
	Renames bool
	// Copies also considers modified paths as sources. It implies Renames.
	Copies bool
	// FindCopiesHarder also considers unchanged paths as copy sources.
	FindCopiesHarder bool
	// MinScore is the acceptance threshold on the MaxScore scale. Zero
	// means DefaultMinScore.
	MinScore int
	// RenameLimit bounds inexact detection to sources*destinations <=
	// RenameLimit^2. Zero means unlimited.
	RenameLimit int
	// Paths restricts the reported changes to these paths.
	Paths []string

	Logger *zap.Logger
}

// ParseScore parses a similarity threshold given as a percentage ("50",
// "50%") into the MaxScore scale.
func ParseScore(s string) (int, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "%")
	if s == "" {
		return DefaultMinScore, nil
	}
	pct, err := strconv.Atoi(s)
	if err != nil || pct < 0 || pct > 100 {
		return 0, fmt.Errorf("invalid similarity %q", s)
	}
	return pct * MaxScore / 100, nil
}

// Diff compares tree a with tree b. Either may be empty, standing for the
// empty tree. Changes come back sorted by Path.
func Diff(db object.Reader, a, b object.Hash, opts Options) ([]Change, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MinScore <= 0 {
		opts.MinScore = DefaultMinScore
	}
	if opts.Copies {
		opts.Renames = true
	}

	w := walker{db: db, opts: opts}
	if len(opts.Paths) > 0 && !opts.Renames {
		w.filter = lo.SliceToMap(opts.Paths, func(p string) (string, struct{}) {
			return p, struct{}{}
		})
	}
	if err := w.diffTrees(a, b, ""); err != nil {
		return nil, err
	}

	changes := w.changes
	if opts.Renames {
		d := detector{db: db, opts: opts, blobs: make(map[object.Hash][]byte)}
		var err error
		changes, err = d.detect(changes, w.unchanged)
		if err != nil {
			return nil, err
		}
	}

	if len(opts.Paths) > 0 {
		want := lo.SliceToMap(opts.Paths, func(p string) (string, bool) { return p, true })
		changes = lo.Filter(changes, func(c Change, _ int) bool {
			return want[c.Path()] || (c.Status == Renamed || c.Status == Copied) && want[c.From.Path]
		})
	}
	sortChanges(changes)
	return changes, nil
}

func sortChanges(changes []Change) {
	sort.SliceStable(changes, func(i, j int) bool {
		if changes[i].Path() != changes[j].Path() {
			return changes[i].Path() < changes[j].Path()
		}
		return changes[i].Status < changes[j].Status
	})
}

type walker struct {
	db        object.Reader
	opts      Options
	filter    map[string]struct{}
	changes   []Change
	unchanged []Entry
}

// wanted reports whether p (or, for directories, something below it) is
// selected by the path filter.
func (w *walker) wanted(p string, dir bool) bool {
	if w.filter == nil {
		return true
	}
	if _, ok := w.filter[p]; ok {
		return true
	}
	if dir {
		for f := range w.filter {
			if strings.HasPrefix(f, p+"/") {
				return true
			}
		}
	}
	return false
}

func (w *walker) diffTrees(a, b object.Hash, prefix string) error {
	if a == b && !w.opts.FindCopiesHarder {
		return nil
	}
	ta, err := object.ReadTree(w.db, a)
	if err != nil {
		return fmt.Errorf("tree diff: read %s: %w", a, err)
	}
	tb, err := object.ReadTree(w.db, b)
	if err != nil {
		return fmt.Errorf("tree diff: read %s: %w", b, err)
	}

	byName := make(map[string][2]*object.TreeEntry)
	for i := range ta.Entries {
		e := &ta.Entries[i]
		pair := byName[e.Name]
		pair[0] = e
		byName[e.Name] = pair
	}
	for i := range tb.Entries {
		e := &tb.Entries[i]
		pair := byName[e.Name]
		pair[1] = e
		byName[e.Name] = pair
	}
	names := lo.Keys(byName)
	sort.Strings(names)

	for _, name := range names {
		pair := byName[name]
		full := path.Join(prefix, name)
		ea, eb := pair[0], pair[1]

		aDir := ea != nil && ea.IsDir()
		bDir := eb != nil && eb.IsDir()
		if !w.wanted(full, aDir || bDir) {
			continue
		}

		switch {
		case aDir && bDir:
			if err := w.diffTrees(ea.Hash, eb.Hash, full); err != nil {
				return err
			}
			continue
		case aDir:
			if err := w.diffTrees(ea.Hash, "", full); err != nil {
				return err
			}
			ea = nil
		case bDir:
			if err := w.diffTrees("", eb.Hash, full); err != nil {
				return err
			}
			eb = nil
		}

		w.compareFiles(full, ea, eb)
	}
	return nil
}

func (w *walker) compareFiles(full string, ea, eb *object.TreeEntry) {
	from := toEntry(full, ea)
	to := toEntry(full, eb)
	switch {
	case ea == nil && eb == nil:
	case ea == nil:
		w.changes = append(w.changes, Change{Status: Added, To: to})
	case eb == nil:
		w.changes = append(w.changes, Change{Status: Deleted, From: from})
	case object.ModeKind(ea.Mode) != object.ModeKind(eb.Mode):
		w.changes = append(w.changes, Change{Status: TypeChanged, From: from, To: to})
	case ea.Hash != eb.Hash || ea.Mode != eb.Mode:
		w.changes = append(w.changes, Change{Status: Modified, From: from, To: to})
	default:
		if w.opts.FindCopiesHarder {
			w.unchanged = append(w.unchanged, from)
		}
	}
}

func toEntry(full string, e *object.TreeEntry) Entry {
	if e == nil {
		return Entry{}
	}
	return Entry{Path: full, Mode: e.Mode, Hash: e.Hash}
}
