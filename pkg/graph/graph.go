// Package graph answers reachability questions over the commit graph:
// generation numbers, ancestry and lowest common ancestors.
package graph

import (
	"container/heap"
	"fmt"
	"sort"
	"sync"

	"github.com/odvcencio/weave/pkg/object"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const maxTraversalSteps = 1_000_000

// traversalStepsLimit lets tests tighten the safety bound.
var traversalStepsLimit = maxTraversalSteps

func stepsLimit() int {
	if traversalStepsLimit <= 0 || traversalStepsLimit > maxTraversalSteps {
		return maxTraversalSteps
	}
	return traversalStepsLimit
}

func stepsLimitError(limit int) error {
	return fmt.Errorf("commit graph: traversal exceeded maximum steps (%d)", limit)
}

type pairKey struct {
	left, right object.Hash
}

func canonicalPair(a, b object.Hash) pairKey {
	if a <= b {
		return pairKey{left: a, right: b}
	}
	return pairKey{left: b, right: a}
}

// Graph caches parsed commits, generation numbers and merge bases for one
// content store. It is safe for concurrent readers.
type Graph struct {
	db     object.Reader
	logger *zap.Logger

	mu          sync.RWMutex
	commits     map[object.Hash]*object.CommitObj
	generations map[CommitRef]uint64
	mergeBases  map[pairKey][]object.Hash
}

// New returns a Graph reading commits from db. A nil logger disables
// logging.
func New(db object.Reader, logger *zap.Logger) *Graph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Graph{
		db:          db,
		logger:      logger,
		commits:     make(map[object.Hash]*object.CommitObj),
		generations: make(map[CommitRef]uint64),
		mergeBases:  make(map[pairKey][]object.Hash),
	}
}

// Commit reads (and caches) the stored commit h.
func (g *Graph) Commit(h object.Hash) (*object.CommitObj, error) {
	g.mu.RLock()
	cached, ok := g.commits[h]
	g.mu.RUnlock()
	if ok {
		return cached, nil
	}

	commit, err := object.ReadCommit(g.db, h)
	if err != nil {
		return nil, fmt.Errorf("commit graph: read commit %s: %w", h, err)
	}

	g.mu.Lock()
	if existing, exists := g.commits[h]; exists {
		g.mu.Unlock()
		return existing, nil
	}
	g.commits[h] = commit
	g.mu.Unlock()
	return commit, nil
}

// Parents returns the parents of r.
func (g *Graph) Parents(r CommitRef) ([]CommitRef, error) {
	if r.syn != nil {
		return r.syn.parents, nil
	}
	commit, err := g.Commit(r.hash)
	if err != nil {
		return nil, err
	}
	return lo.Map(commit.Parents, func(p object.Hash, _ int) CommitRef { return Real(p) }), nil
}

// Tree returns the root tree of r.
func (g *Graph) Tree(r CommitRef) (object.Hash, error) {
	if r.syn != nil {
		return r.syn.tree, nil
	}
	commit, err := g.Commit(r.hash)
	if err != nil {
		return "", err
	}
	return commit.TreeHash, nil
}

// When returns the commit time of r. A synthetic commit takes the newest
// time of its parents.
func (g *Graph) When(r CommitRef) (int64, error) {
	if r.syn == nil {
		commit, err := g.Commit(r.hash)
		if err != nil {
			return 0, err
		}
		return commit.When(), nil
	}
	var newest int64
	for _, p := range r.syn.parents {
		t, err := g.When(p)
		if err != nil {
			return 0, err
		}
		if t > newest {
			newest = t
		}
	}
	return newest, nil
}

// Generation returns 1 for a root commit and one more than the highest
// parent generation otherwise.
func (g *Graph) Generation(r CommitRef) (uint64, error) {
	return g.generation(r, make(map[CommitRef]bool))
}

func (g *Graph) generation(r CommitRef, visiting map[CommitRef]bool) (uint64, error) {
	if r.IsZero() {
		return 0, nil
	}
	g.mu.RLock()
	gen, ok := g.generations[r]
	g.mu.RUnlock()
	if ok {
		return gen, nil
	}
	if visiting[r] {
		return 0, fmt.Errorf("commit graph: cycle detected at %s", r)
	}

	visiting[r] = true
	defer delete(visiting, r)

	parents, err := g.Parents(r)
	if err != nil {
		return 0, err
	}
	var maxParent uint64
	for _, p := range parents {
		pg, err := g.generation(p, visiting)
		if err != nil {
			return 0, err
		}
		if pg > maxParent {
			maxParent = pg
		}
	}

	gen = maxParent + 1
	g.mu.Lock()
	g.generations[r] = gen
	g.mu.Unlock()
	return gen, nil
}

// IsAncestor reports whether ancestor is reachable from descendant (a
// commit is its own ancestor).
func (g *Graph) IsAncestor(ancestor, descendant CommitRef) (bool, error) {
	if ancestor == descendant {
		return true, nil
	}
	ancestorGen, err := g.Generation(ancestor)
	if err != nil {
		return false, err
	}
	descendantGen, err := g.Generation(descendant)
	if err != nil {
		return false, err
	}
	if ancestorGen >= descendantGen {
		return false, nil
	}

	limit := stepsLimit()
	visited := map[CommitRef]struct{}{descendant: {}}
	queue := []CommitRef{descendant}
	steps := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		steps++
		if steps > limit {
			return false, stepsLimitError(limit)
		}
		if cur == ancestor {
			return true, nil
		}

		parents, err := g.Parents(cur)
		if err != nil {
			return false, err
		}
		for _, p := range parents {
			if _, seen := visited[p]; seen {
				continue
			}
			pg, err := g.Generation(p)
			if err != nil {
				return false, err
			}
			// Nothing below the ancestor's generation can reach it.
			if pg < ancestorGen {
				continue
			}
			visited[p] = struct{}{}
			queue = append(queue, p)
		}
	}
	return false, nil
}

const (
	paintOurs uint8 = 1 << iota
	paintTheirs
	paintStale
	paintResult
)

// MergeBases returns every lowest common ancestor of a and b, newest
// first. Unrelated histories yield no bases.
func (g *Graph) MergeBases(a, b CommitRef) ([]CommitRef, error) {
	if a.IsZero() || b.IsZero() {
		return nil, nil
	}
	if a == b {
		return []CommitRef{a}, nil
	}

	cacheable := !a.IsSynthetic() && !b.IsSynthetic()
	key := canonicalPair(a.hash, b.hash)
	if cacheable {
		g.mu.RLock()
		cached, ok := g.mergeBases[key]
		g.mu.RUnlock()
		if ok {
			return lo.Map(cached, func(h object.Hash, _ int) CommitRef { return Real(h) }), nil
		}
	}

	candidates, err := g.paintDownToCommon(a, b)
	if err != nil {
		return nil, err
	}
	bases, err := g.removeRedundant(candidates)
	if err != nil {
		return nil, err
	}
	if err := g.sortNewestFirst(bases); err != nil {
		return nil, err
	}
	g.logger.Debug("merge bases",
		zap.Stringer("a", a),
		zap.Stringer("b", b),
		zap.Int("candidates", len(candidates)),
		zap.Int("bases", len(bases)))

	if cacheable && lo.NoneBy(bases, CommitRef.IsSynthetic) {
		g.mu.Lock()
		g.mergeBases[key] = lo.Map(bases, func(r CommitRef, _ int) object.Hash { return r.hash })
		g.mu.Unlock()
	}
	return bases, nil
}

// paintDownToCommon walks down from both tips in generation order, painting
// each commit with the sides that reach it. A commit painted by both sides
// is a candidate; its ancestors are painted stale so the walk can stop as
// soon as only stale commits remain.
func (g *Graph) paintDownToCommon(a, b CommitRef) ([]CommitRef, error) {
	flags := map[CommitRef]uint8{a: paintOurs, b: paintTheirs}
	queue := &maxHeap{}
	for _, r := range []CommitRef{a, b} {
		gen, err := g.Generation(r)
		if err != nil {
			return nil, err
		}
		*queue = append(*queue, queueItem{ref: r, generation: gen})
	}
	heap.Init(queue)

	limit := stepsLimit()
	steps := 0
	var found []CommitRef
	for queue.Len() > 0 && hasFreshWork(*queue, flags) {
		item := heap.Pop(queue).(queueItem)
		steps++
		if steps > limit {
			return nil, stepsLimitError(limit)
		}

		paint := flags[item.ref] & (paintOurs | paintTheirs | paintStale)
		if paint == paintOurs|paintTheirs {
			if flags[item.ref]&paintResult == 0 {
				flags[item.ref] |= paintResult
				found = append(found, item.ref)
			}
			paint |= paintStale
		}

		parents, err := g.Parents(item.ref)
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if flags[p]&paint == paint {
				continue
			}
			flags[p] |= paint
			gen, err := g.Generation(p)
			if err != nil {
				return nil, err
			}
			heap.Push(queue, queueItem{ref: p, generation: gen})
		}
	}

	return lo.Filter(found, func(r CommitRef, _ int) bool {
		return flags[r]&paintStale == 0
	}), nil
}

func hasFreshWork(queue maxHeap, flags map[CommitRef]uint8) bool {
	for _, item := range queue {
		if flags[item.ref]&paintStale == 0 {
			return true
		}
	}
	return false
}

// removeRedundant drops candidates that are ancestors of another candidate.
func (g *Graph) removeRedundant(candidates []CommitRef) ([]CommitRef, error) {
	if len(candidates) < 2 {
		return candidates, nil
	}
	redundant := make(map[CommitRef]bool)
	for i, c := range candidates {
		for j, other := range candidates {
			if i == j || redundant[other] {
				continue
			}
			below, err := g.IsAncestor(c, other)
			if err != nil {
				return nil, err
			}
			if below {
				redundant[c] = true
				break
			}
		}
	}
	return lo.Reject(candidates, func(c CommitRef, _ int) bool { return redundant[c] }), nil
}

func (g *Graph) sortNewestFirst(refs []CommitRef) error {
	when := make(map[CommitRef]int64, len(refs))
	for _, r := range refs {
		t, err := g.When(r)
		if err != nil {
			return err
		}
		when[r] = t
	}
	sort.SliceStable(refs, func(i, j int) bool {
		if when[refs[i]] != when[refs[j]] {
			return when[refs[i]] > when[refs[j]]
		}
		return refs[i].String() < refs[j].String()
	})
	return nil
}
