package query

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/weftlabs/loomdb/pkg/cache"
	"github.com/weftlabs/loomdb/pkg/storage"
)

// CompiledQuery is an immutable parsed selector plus bookkeeping.
//
// Compiled queries are owned by the Engine's cache; callers hold a reference
// but never mutate one. Because a compiled matcher is a pure function of the
// selector text, it stays valid across graph mutations — only cached
// results go stale.
type CompiledQuery struct {
	selector   string
	clauses    []clause
	compiledAt time.Time
	uses       atomic.Uint64
}

// Selector returns the original selector text.
func (cq *CompiledQuery) Selector() string { return cq.selector }

// CompiledAt returns when the selector was parsed.
func (cq *CompiledQuery) CompiledAt() time.Time { return cq.compiledAt }

// Uses returns how many times this compiled query has been executed.
func (cq *CompiledQuery) Uses() uint64 { return cq.uses.Load() }

// Matches reports whether a node satisfies every clause of the selector.
func (cq *CompiledQuery) Matches(n *storage.Node) bool {
	for _, cl := range cq.clauses {
		if !cl.matches(n) {
			return false
		}
	}
	return true
}

// resultEntry is one cached query result: the ordered ID list plus the graph
// generation it was computed at. A generation mismatch means some mutation
// happened since; the entry is recomputed, not served.
type resultEntry struct {
	ids        []storage.NodeID
	generation uint64
}

// Engine compiles selectors and executes them against node sets, with a
// two-level cache:
//
//   - compiled-selector cache: bounded LRU keyed by selector text; survives
//     graph mutations (a matcher cannot go stale)
//   - result cache: keyed by selector text, valid only while the graph
//     generation matches; any mutation bumps the generation and thereby
//     invalidates every prior entry
//
// Both Query (uncompiled) and Execute (compiled) consult the same result
// cache, so either entry point benefits from the other's prior work.
//
// An Engine is owned by one opened store session. It is never process-global
// state, so independent store instances in the same process cannot pollute
// each other's caches.
type Engine struct {
	compiled *cache.LRU

	// compileMu serializes the compile miss path: without it, two
	// concurrent compiles of one selector could both miss and hand out
	// distinct handles.
	compileMu sync.Mutex

	mu             sync.Mutex
	results        map[string]*resultEntry
	resultsEnabled bool

	uniqueCompiled uint64
	resultHits     uint64
}

// NewEngine creates a query engine whose compiled-selector cache holds at
// most capacity entries.
func NewEngine(capacity int) *Engine {
	return &Engine{
		compiled:       cache.NewLRU(capacity),
		results:        make(map[string]*resultEntry),
		resultsEnabled: true,
	}
}

// SetResultCacheEnabled toggles the result cache. The compiled-selector
// cache is always on.
func (e *Engine) SetResultCacheEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resultsEnabled = enabled
	if !enabled {
		e.results = make(map[string]*resultEntry)
	}
}

// Compile parses a selector into a reusable matcher.
//
// An equivalent selector already in the cache is returned as the same
// *CompiledQuery handle (and counts as a compile-cache hit). A malformed
// selector fails with ErrBadSelector before any cache mutation.
func (e *Engine) Compile(selector string) (*CompiledQuery, error) {
	e.compileMu.Lock()
	defer e.compileMu.Unlock()

	if v, ok := e.compiled.Get(selector); ok {
		return v.(*CompiledQuery), nil
	}

	clauses, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}

	cq := &CompiledQuery{
		selector:   selector,
		clauses:    clauses,
		compiledAt: time.Now(),
	}
	e.compiled.Put(selector, cq)
	atomic.AddUint64(&e.uniqueCompiled, 1)
	return cq, nil
}

// Execute applies a compiled query to the node set and returns the matching
// IDs in the node set's order. Callers pass nodes in canonical order
// (FileEngine.AllNodes is already sorted), so the same node set always
// yields the same output order.
//
// generation is the graph's current mutation counter. When a cached result
// carries the same generation, it is returned without a scan.
func (e *Engine) Execute(cq *CompiledQuery, nodes []*storage.Node, generation uint64) []storage.NodeID {
	cq.uses.Add(1)
	e.compiled.Touch(cq.selector)

	e.mu.Lock()
	if e.resultsEnabled {
		if entry, ok := e.results[cq.selector]; ok && entry.generation == generation {
			e.resultHits++
			ids := append([]storage.NodeID(nil), entry.ids...)
			e.mu.Unlock()
			return ids
		}
	}
	e.mu.Unlock()

	ids := make([]storage.NodeID, 0)
	for _, n := range nodes {
		if cq.Matches(n) {
			ids = append(ids, n.ID)
		}
	}

	e.mu.Lock()
	if e.resultsEnabled {
		e.results[cq.selector] = &resultEntry{
			ids:        append([]storage.NodeID(nil), ids...),
			generation: generation,
		}
	}
	e.mu.Unlock()

	return ids
}

// Query compiles and executes a selector in one call. Equivalent to
// Execute(Compile(selector), nodes, generation), including sharing the same
// result cache.
func (e *Engine) Query(selector string, nodes []*storage.Node, generation uint64) ([]storage.NodeID, error) {
	cq, err := e.Compile(selector)
	if err != nil {
		return nil, err
	}
	return e.Execute(cq, nodes, generation), nil
}

// Stats holds read-only query-layer metrics.
type Stats struct {
	UniqueCompiled uint64  // distinct selectors ever compiled
	CompileHits    uint64  // compiled-cache hits
	CompileHitRate float64 // percentage, 0-100
	CachedCompiled int     // compiled selectors currently cached
	ResultHits     uint64  // result-cache hits
}

// Stats returns a snapshot of the engine's metrics.
func (e *Engine) Stats() Stats {
	lru := e.compiled.Stats()

	e.mu.Lock()
	resultHits := e.resultHits
	e.mu.Unlock()

	return Stats{
		UniqueCompiled: atomic.LoadUint64(&e.uniqueCompiled),
		CompileHits:    lru.Hits,
		CompileHitRate: lru.HitRate,
		CachedCompiled: lru.Size,
		ResultHits:     resultHits,
	}
}
