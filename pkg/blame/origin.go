package blame

import (
	"fmt"

	"github.com/odvcencio/weave/pkg/diff"
	"github.com/odvcencio/weave/pkg/object"
)

type originKey struct {
	commit object.Hash
	path   string
}

// origin is one (commit, path) pair that lines can be blamed on.
type origin struct {
	key  originKey
	blob object.Hash
	refs int

	loaded bool
	lines  []string
}

func (o *origin) String() string {
	return o.key.commit.Short(7) + ":" + o.key.path
}

// origins is the registry of live origins. An origin stays registered
// while anything holds a reference to it, so two lookups of the same
// (commit, path) share one cached file.
type origins struct {
	db    object.Reader
	live  map[originKey]*origin
	stats *Stats
}

func newOrigins(db object.Reader, stats *Stats) *origins {
	return &origins{db: db, live: make(map[originKey]*origin), stats: stats}
}

// get returns the origin for commit and path with one reference taken.
func (r *origins) get(commit object.Hash, path string) *origin {
	key := originKey{commit: commit, path: path}
	if o, ok := r.live[key]; ok {
		o.refs++
		return o
	}
	o := &origin{key: key, refs: 1}
	r.live[key] = o
	return o
}

func (r *origins) incref(o *origin) *origin {
	if o != nil {
		o.refs++
	}
	return o
}

func (r *origins) decref(o *origin) {
	if o == nil {
		return
	}
	o.refs--
	if o.refs > 0 {
		return
	}
	if r.live[o.key] == o {
		delete(r.live, o.key)
	}
	o.lines = nil
	o.loaded = false
}

// load returns the lines of o's blob, reading it on first use.
func (r *origins) load(o *origin) ([]string, error) {
	if o.loaded {
		return o.lines, nil
	}
	data, err := object.ReadBlob(r.db, o.blob)
	if err != nil {
		return nil, fmt.Errorf("blame: read %s at %s: %w", o.key.path, o.key.commit.Short(7), err)
	}
	r.stats.BlobsRead++
	o.lines = diff.Lines(data)
	o.loaded = true
	return o.lines, nil
}

// steal hands src's cached file to dst when dst has none loaded.
func (r *origins) steal(dst, src *origin) {
	if dst.loaded || !src.loaded {
		return
	}
	dst.lines, dst.loaded = src.lines, true
	src.lines, src.loaded = nil, false
}
