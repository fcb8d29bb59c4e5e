// Package blame attributes each line of a file at some commit to the
// commit that introduced it.
//
// Blame starts with every line suspected on the starting commit. It then
// repeatedly takes the suspect of the first undecided run of lines and
// lets it pass blame to its parents: lines unchanged between a parent and
// the suspect move to the parent, lines the suspect changed stay and
// become final. Optionally, lines are also traced to other places in the
// parent's file (moves) or to other files of the parent (copies).
package blame

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/odvcencio/weave/pkg/graph"
	"github.com/odvcencio/weave/pkg/object"
	"github.com/odvcencio/weave/pkg/treediff"
	"go.uber.org/zap"
)

const (
	// DefaultMoveScore is the least triviality score a run of lines needs
	// to be attributed to a move within a file.
	DefaultMoveScore = 20
	// DefaultCopyScore is the least triviality score a run of lines needs
	// to be attributed to a copy from another file.
	DefaultCopyScore = 40

	// maxParents bounds how many parents of a merge are examined.
	maxParents = 16
)

var (
	// ErrNoPath reports that the blamed path does not name a file in the
	// starting commit.
	ErrNoPath = errors.New("blame: no such path")
	// ErrInvalidRange reports a line range outside the file.
	ErrInvalidRange = errors.New("blame: invalid line range")
)

// LineRange selects the final-image lines [Start, End), 0-based.
type LineRange struct {
	Start, End int
}

// IsZero reports whether r selects nothing in particular, meaning the
// whole file.
func (r LineRange) IsZero() bool { return r.Start == 0 && r.End == 0 }

// Options configures a blame run.
type Options struct {
	// Range restricts blame to part of the file. The zero value blames
	// every line.
	Range LineRange
	// RangeSpec is a "-L" style range ("a,b", "a,+n", "/re/,/re/")
	// resolved against the blamed file. It takes precedence over Range.
	RangeSpec string

	// Move looks for lines moved within the parent's version of the file.
	Move bool
	// Copy also looks for lines copied from files the parent changed. It
	// implies Move.
	Copy bool
	// CopyHarder extends copy detection to every file of the parent.
	CopyHarder bool
	// MoveScore and CopyScore are the triviality thresholds. Zero means
	// DefaultMoveScore and DefaultCopyScore.
	MoveScore int
	CopyScore int

	// ShowRoot blames root commits normally instead of as boundaries.
	ShowRoot bool
	// Since makes commits older than it boundaries.
	Since time.Time
	// Stop makes these commits and their ancestors boundaries.
	Stop []object.Hash

	// Progress is called for each run of lines as it becomes final. A
	// non-nil error aborts the blame.
	Progress func(Entry) error

	Logger *zap.Logger
}

// CommitInfo is the part of a commit shown next to blamed lines.
type CommitInfo struct {
	Hash          object.Hash
	Author        string
	AuthorMail    string
	AuthorTime    int64
	AuthorTZ      string
	Committer     string
	CommitterMail string
	CommitterTime int64
	CommitterTZ   string
	Summary       string
	// Boundary is set on commits the walk stopped at.
	Boundary bool
}

// Entry is a run of Count lines starting at FinalLine of the blamed file
// that came from OrigLine of Path in Commit. Line numbers are 0-based.
type Entry struct {
	Commit    object.Hash
	Path      string
	OrigLine  int
	FinalLine int
	Count     int
	Boundary  bool
	Info      *CommitInfo
}

// Stats counts the work a blame run did.
type Stats struct {
	BlobsRead int
	Patches   int
	Commits   int
}

// Result is the outcome of a blame run.
type Result struct {
	Path string
	// Lines is the whole blamed file, split with diff.Lines.
	Lines   []string
	Range   LineRange
	Entries []Entry
	Stats   Stats
}

// Blame attributes the lines of path as of commit start.
func Blame(db object.Reader, start object.Hash, path string, opts Options) (*Result, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Copy || opts.CopyHarder {
		opts.Copy, opts.Move = true, true
	}
	if opts.MoveScore <= 0 {
		opts.MoveScore = DefaultMoveScore
	}
	if opts.CopyScore <= 0 {
		opts.CopyScore = DefaultCopyScore
	}

	s := &session{
		db:    db,
		graph: graph.New(db, opts.Logger),
		opts:  opts,
		info:  make(map[object.Hash]*CommitInfo),
		flags: make(map[object.Hash]commitFlags),
	}
	s.origins = newOrigins(db, &s.stats)
	return s.run(start, path)
}

type commitFlags struct {
	checked       bool
	uninteresting bool
}

type session struct {
	db      object.Reader
	graph   *graph.Graph
	opts    Options
	origins *origins
	sb      *scoreboard
	stats   Stats

	info  map[object.Hash]*CommitInfo
	flags map[object.Hash]commitFlags
}

func (s *session) run(start object.Hash, path string) (*Result, error) {
	commit, err := s.graph.Commit(start)
	if err != nil {
		return nil, fmt.Errorf("blame: %w", err)
	}
	te, err := object.TreeEntryAtPath(s.db, commit.TreeHash, path)
	if err != nil {
		if errors.Is(err, object.ErrNotFound) {
			return nil, fmt.Errorf("%w %s in %s", ErrNoPath, path, start.Short(7))
		}
		return nil, fmt.Errorf("blame: %w", err)
	}
	switch object.ModeKind(te.Mode) {
	case object.KindRegular, object.KindSymlink:
	default:
		return nil, fmt.Errorf("%w %s in %s: not a file", ErrNoPath, path, start.Short(7))
	}

	final := s.origins.get(start, path)
	final.blob = te.Hash
	lines, err := s.origins.load(final)
	if err != nil {
		return nil, err
	}

	rng := s.opts.Range
	if s.opts.RangeSpec != "" {
		if rng, err = ParseRange(s.opts.RangeSpec, lines); err != nil {
			return nil, err
		}
	}
	if rng.IsZero() {
		rng = LineRange{Start: 0, End: len(lines)}
	}
	if rng.Start < 0 || rng.End > len(lines) || rng.Start > rng.End {
		return nil, fmt.Errorf("%w: lines %d-%d of %s, which has %d lines",
			ErrInvalidRange, rng.Start+1, rng.End, path, len(lines))
	}

	s.sb = newScoreboard(lines, rng.Start, rng.End, final, s.origins)
	s.origins.decref(final)

	if err := s.assign(); err != nil {
		return nil, err
	}
	if err := s.sb.coalesce(); err != nil {
		return nil, err
	}

	res := &Result{Path: path, Lines: lines, Range: rng, Stats: s.stats}
	for i := s.sb.head; i != none; i = s.sb.ents[i].next {
		e, err := s.entry(s.sb.at(i))
		if err != nil {
			return nil, err
		}
		res.Entries = append(res.Entries, e)
	}
	s.opts.Logger.Info("blame",
		zap.String("path", path),
		zap.String("commit", string(start)),
		zap.Int("entries", len(res.Entries)),
		zap.Int("commits", s.stats.Commits),
		zap.Int("patches", s.stats.Patches),
		zap.Int("blobs", s.stats.BlobsRead))
	return res, nil
}

// assign runs the main loop until every entry is final.
func (s *session) assign() error {
	for {
		var suspect *origin
		for i := s.sb.head; i != none && suspect == nil; i = s.sb.ents[i].next {
			if e := s.sb.at(i); !e.guilty {
				suspect = e.suspect
			}
		}
		if suspect == nil {
			return nil
		}
		s.origins.incref(suspect)

		h := suspect.key.commit
		commit, err := s.graph.Commit(h)
		if err != nil {
			return fmt.Errorf("blame: %w", err)
		}
		interesting, err := s.interesting(h, commit)
		if err != nil {
			return err
		}
		if interesting {
			s.opts.Logger.Debug("pass blame", zap.Stringer("suspect", suspect))
			if err := s.pass(suspect, commit); err != nil {
				return err
			}
		} else {
			s.markBoundary(h)
		}
		if len(commit.Parents) == 0 && !s.opts.ShowRoot {
			s.markBoundary(h)
		}

		for i := s.sb.head; i != none; i = s.sb.ents[i].next {
			e := s.sb.at(i)
			if e.guilty || !e.same(suspect) {
				continue
			}
			e.guilty = true
			if s.opts.Progress == nil {
				continue
			}
			out, err := s.entry(e)
			if err != nil {
				return err
			}
			if err := s.opts.Progress(out); err != nil {
				return err
			}
		}
		s.origins.decref(suspect)
	}
}

// interesting reports whether blame may pass through commit h: it is
// not older than Since and not reachable from a Stop commit.
func (s *session) interesting(h object.Hash, c *object.CommitObj) (bool, error) {
	f := s.flags[h]
	if f.checked {
		return !f.uninteresting, nil
	}
	f.checked = true
	if !s.opts.Since.IsZero() && c.When() < s.opts.Since.Unix() {
		f.uninteresting = true
	}
	for _, stop := range s.opts.Stop {
		if f.uninteresting {
			break
		}
		below, err := s.graph.IsAncestor(graph.Real(h), graph.Real(stop))
		if err != nil {
			return false, fmt.Errorf("blame: %w", err)
		}
		f.uninteresting = below
	}
	s.flags[h] = f
	return !f.uninteresting, nil
}

func (s *session) markBoundary(h object.Hash) {
	f := s.flags[h]
	f.checked, f.uninteresting = true, true
	s.flags[h] = f
	if ci, ok := s.info[h]; ok {
		ci.Boundary = true
	}
}

// pass lets origin hand its lines to the parents of commit.
func (s *session) pass(o *origin, commit *object.CommitObj) error {
	parents := commit.Parents
	if len(parents) > maxParents {
		parents = parents[:maxParents]
	}
	porigins := make([]*origin, len(parents))
	defer func() {
		for _, p := range porigins {
			s.origins.decref(p)
		}
	}()

	childTree := commit.TreeHash
	finders := []func(object.Hash, object.Hash, *origin) (*origin, error){s.findOrigin, s.findRename}
	for _, find := range finders {
		for i, p := range parents {
			if porigins[i] != nil {
				continue
			}
			po, err := find(p, childTree, o)
			if err != nil {
				return err
			}
			if po == nil {
				continue
			}
			if po.blob == o.blob {
				err := s.passWhole(o, po)
				s.origins.decref(po)
				return err
			}
			dup := false
			for _, prev := range porigins[:i] {
				if prev != nil && prev.blob == po.blob {
					dup = true
					break
				}
			}
			if dup {
				s.origins.decref(po)
				continue
			}
			porigins[i] = po
		}
	}

	s.stats.Commits++
	for _, po := range porigins {
		if po == nil {
			continue
		}
		done, err := s.passToParent(o, po)
		if err != nil || done {
			return err
		}
	}

	if s.opts.Move {
		for _, po := range porigins {
			if po == nil {
				continue
			}
			done, err := s.findMove(o, po)
			if err != nil || done {
				return err
			}
		}
	}

	if s.opts.Copy {
		for i, p := range parents {
			done, err := s.findCopy(o, childTree, p, porigins[i])
			if err != nil || done {
				return err
			}
		}
	}
	return nil
}

// findOrigin looks up o's path in parent. It returns nil when the parent
// has no file there or has one of another type.
func (s *session) findOrigin(parent, childTree object.Hash, o *origin) (*origin, error) {
	ptree, err := s.graph.Tree(graph.Real(parent))
	if err != nil {
		return nil, fmt.Errorf("blame: %w", err)
	}
	changes, err := treediff.Diff(s.db, ptree, childTree, treediff.Options{Paths: []string{o.key.path}, Logger: s.opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("blame: diff %s: %w", parent.Short(7), err)
	}
	if len(changes) == 0 {
		po := s.origins.get(parent, o.key.path)
		po.blob = o.blob
		return po, nil
	}
	for _, c := range changes {
		if c.Path() != o.key.path {
			continue
		}
		switch c.Status {
		case treediff.Modified:
			po := s.origins.get(parent, o.key.path)
			po.blob = c.From.Hash
			return po, nil
		case treediff.Added, treediff.TypeChanged:
			return nil, nil
		default:
			return nil, fmt.Errorf("blame: unexpected %s of %s in %s", c.Status, o.key.path, parent.Short(7))
		}
	}
	return nil, nil
}

// findRename looks for the file o's path was renamed or copied from in
// parent.
func (s *session) findRename(parent, childTree object.Hash, o *origin) (*origin, error) {
	ptree, err := s.graph.Tree(graph.Real(parent))
	if err != nil {
		return nil, fmt.Errorf("blame: %w", err)
	}
	changes, err := treediff.Diff(s.db, ptree, childTree, treediff.Options{
		Renames: true,
		Paths:   []string{o.key.path},
		Logger:  s.opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("blame: rename detection in %s: %w", parent.Short(7), err)
	}
	for _, c := range changes {
		if (c.Status == treediff.Renamed || c.Status == treediff.Copied) && c.To.Path == o.key.path {
			po := s.origins.get(parent, c.From.Path)
			po.blob = c.From.Hash
			return po, nil
		}
	}
	return nil, nil
}

// passWhole blames everything target is suspected for on parent, whose
// file is identical.
func (s *session) passWhole(target, parent *origin) error {
	s.origins.steal(parent, target)
	for i := s.sb.head; i != none; i = s.sb.ents[i].next {
		e := s.sb.at(i)
		if !e.same(target) {
			continue
		}
		old := e.suspect
		e.suspect = s.origins.incref(parent)
		s.origins.decref(old)
	}
	return s.sb.check()
}

// passToParent hands the lines target shares with parent over to it. It
// reports true when target has nothing left to pass.
func (s *session) passToParent(target, parent *origin) (bool, error) {
	last := s.sb.lastInTarget(target)
	if last < 0 {
		return true, nil
	}
	plines, err := s.origins.load(parent)
	if err != nil {
		return false, err
	}
	tlines, err := s.origins.load(target)
	if err != nil {
		return false, err
	}

	s.stats.Patches++
	plno, tlno := 0, 0
	for _, c := range compare(plines, tlines, 0) {
		if err := s.blameChunk(tlno, plno, c.same, target, parent); err != nil {
			return false, err
		}
		plno, tlno = c.pNext, c.tNext
	}
	return false, s.blameChunk(tlno, plno, last, target, parent)
}

// blameChunk passes target's lines [tlno, same), which match parent's
// lines from plno, to parent.
func (s *session) blameChunk(tlno, plno, same int, target, parent *origin) error {
	for i := s.sb.head; i != none; i = s.sb.ents[i].next {
		e := s.sb.at(i)
		if e.guilty || !e.same(target) || same <= e.sLno || tlno >= e.sLno+e.num {
			continue
		}
		sp := s.sb.splitOverlap(e, tlno, plno, same, parent)
		if sp[1].suspect != nil {
			if err := s.sb.apply(&sp, i); err != nil {
				return err
			}
		}
		s.sb.release(&sp)
	}
	return nil
}

// copyInBlob finds the best run of e's lines that also appears in
// plines, the file of parent.
func (s *session) copyInBlob(e *entry, parent *origin, plines []string) split {
	lines := s.sb.final[e.lno : e.lno+e.num]
	ent := *e

	var best split
	plno, tlno := 0, 0
	try := func(same int) {
		sp := s.sb.splitOverlap(&ent, tlno+ent.sLno, plno, same+ent.sLno, parent)
		s.sb.keepBetter(&best, &sp)
		s.sb.release(&sp)
	}
	for _, c := range compare(plines, lines, 1) {
		if ent.num <= tlno {
			return best
		}
		if tlno < c.same {
			try(c.same)
		}
		plno, tlno = c.pNext, c.tNext
	}
	if tlno < ent.num {
		try(ent.num)
	}
	return best
}

// findMove looks for target's lines elsewhere in parent's version of the
// file. It reports true when target has nothing left to pass.
func (s *session) findMove(target, parent *origin) (bool, error) {
	if s.sb.lastInTarget(target) < 0 {
		return true, nil
	}
	plines, err := s.origins.load(parent)
	if err != nil {
		return false, err
	}
	if len(plines) == 0 {
		return false, nil
	}

	for progress := true; progress; {
		progress = false
		for i := s.sb.head; i != none; i = s.sb.ents[i].next {
			e := s.sb.at(i)
			if e.guilty || !e.same(target) {
				continue
			}
			sp := s.copyInBlob(e, parent, plines)
			if sp[1].suspect != nil && s.opts.MoveScore < s.sb.score(&sp[1]) {
				if err := s.sb.apply(&sp, i); err != nil {
					return false, err
				}
				progress = true
			}
			s.sb.release(&sp)
		}
	}
	return false, nil
}

type copySource struct {
	path string
	blob object.Hash
}

// copySources lists the parent files copies may come from: the ones
// parent and child differ in, or with harder every file of parent.
func (s *session) copySources(ptree, childTree object.Hash, harder bool) ([]copySource, error) {
	var out []copySource
	if harder {
		files, err := object.FlattenTree(s.db, ptree)
		if err != nil {
			return nil, fmt.Errorf("blame: %w", err)
		}
		for _, f := range files {
			if blameable(f.Mode) {
				out = append(out, copySource{path: f.Path, blob: f.Hash})
			}
		}
		return out, nil
	}
	changes, err := treediff.Diff(s.db, ptree, childTree, treediff.Options{Logger: s.opts.Logger})
	if err != nil {
		return nil, fmt.Errorf("blame: %w", err)
	}
	for _, c := range changes {
		if c.From.Exists() && blameable(c.From.Mode) {
			out = append(out, copySource{path: c.From.Path, blob: c.From.Hash})
		}
	}
	return out, nil
}

func blameable(mode string) bool {
	k := object.ModeKind(mode)
	return k == object.KindRegular || k == object.KindSymlink
}

// findCopy looks for target's lines in other files of parent. porigin is
// the parent's version of target's file, already searched by findMove.
// It reports true when target has nothing left to pass.
func (s *session) findCopy(target *origin, childTree, parent object.Hash, porigin *origin) (bool, error) {
	list := s.sb.provisional(target)
	if len(list) == 0 {
		return true, nil
	}
	ptree, err := s.graph.Tree(graph.Real(parent))
	if err != nil {
		return false, fmt.Errorf("blame: %w", err)
	}
	harder := s.opts.CopyHarder && (porigin == nil || target.key.path != porigin.key.path)
	sources, err := s.copySources(ptree, childTree, harder)
	if err != nil {
		return false, err
	}

	for {
		best := make([]split, len(list))
		for _, src := range sources {
			if porigin != nil && src.path == porigin.key.path {
				continue
			}
			norigin := s.origins.get(parent, src.path)
			norigin.blob = src.blob
			plines, err := s.origins.load(norigin)
			if err != nil {
				s.origins.decref(norigin)
				return false, err
			}
			if len(plines) > 0 {
				for j, idx := range list {
					sp := s.copyInBlob(s.sb.at(idx), norigin, plines)
					s.sb.keepBetter(&best[j], &sp)
					s.sb.release(&sp)
				}
			}
			s.origins.decref(norigin)
		}

		progress := false
		for j, idx := range list {
			sp := &best[j]
			if sp[1].suspect != nil && s.opts.CopyScore < s.sb.score(&sp[1]) {
				if err := s.sb.apply(sp, idx); err != nil {
					return false, err
				}
				progress = true
			}
			s.sb.release(sp)
		}
		if !progress {
			return false, nil
		}
		if list = s.sb.provisional(target); len(list) == 0 {
			return true, nil
		}
	}
}

// entry converts a scoreboard entry for output.
func (s *session) entry(e *entry) (Entry, error) {
	info, err := s.commitInfo(e.suspect.key.commit)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Commit:    e.suspect.key.commit,
		Path:      e.suspect.key.path,
		OrigLine:  e.sLno,
		FinalLine: e.lno,
		Count:     e.num,
		Boundary:  info.Boundary,
		Info:      info,
	}, nil
}

func (s *session) commitInfo(h object.Hash) (*CommitInfo, error) {
	if ci, ok := s.info[h]; ok {
		return ci, nil
	}
	c, err := s.graph.Commit(h)
	if err != nil {
		return nil, fmt.Errorf("blame: %w", err)
	}
	ci := &CommitInfo{
		Hash:          h,
		AuthorTime:    c.Timestamp,
		AuthorTZ:      tzOrUTC(c.AuthorTimezone),
		CommitterTime: c.CommitterTimestamp,
		CommitterTZ:   tzOrUTC(c.CommitterTimezone),
		Summary:       summary(h, c.Message),
		Boundary:      s.flags[h].uninteresting,
	}
	ci.Author, ci.AuthorMail = splitIdent(c.Author)
	ci.Committer, ci.CommitterMail = splitIdent(c.Committer)
	s.info[h] = ci
	return ci, nil
}

// splitIdent splits "Name <mail>" into the name and "<mail>".
func splitIdent(ident string) (name, mail string) {
	i := strings.LastIndexByte(ident, '<')
	if i < 0 {
		return strings.TrimSpace(ident), "<>"
	}
	return strings.TrimSpace(ident[:i]), strings.TrimSpace(ident[i:])
}

func tzOrUTC(tz string) string {
	if tz == "" {
		return "+0000"
	}
	return tz
}

func summary(h object.Hash, msg string) string {
	line, _, _ := strings.Cut(strings.TrimLeft(msg, "\n"), "\n")
	if line == "" {
		return "(" + string(h) + ")"
	}
	return line
}

// FinalLines returns the lines of r's blamed range.
func (r *Result) FinalLines() []string {
	return r.Lines[r.Range.Start:r.Range.End]
}
