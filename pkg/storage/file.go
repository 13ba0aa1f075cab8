package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// FileEngine is the file-backed graph index.
//
// On disk, each node lives in <root>/<collection>/<id>.json and is written
// only through the atomic writer. In memory, the engine keeps every loaded
// node plus per-collection sets for fast listing. A monotonic generation
// counter bumps on every successful mutation; the query layer uses it to
// invalidate cached results.
//
// Thread safety: all public methods are safe for concurrent use within one
// process. Cross-process safety for single records comes from the atomic
// writer; multi-record operations must additionally hold a DirLock.
//
// Example:
//
//	engine, _ := storage.NewFileEngine(dir, nil)
//	engine.Load()
//
//	node := storage.NewNode(storage.CollectionTrack, "Q3 infra track")
//	engine.CreateNode(node)
//
//	engine.UpdateNode(node.ID, func(n *storage.Node) error {
//		n.Attrs.Status = "in-progress"
//		return nil
//	})
type FileEngine struct {
	mu     sync.RWMutex
	root   string
	logger logrus.FieldLogger

	nodes        map[NodeID]*Node
	byCollection map[Collection]map[NodeID]struct{}

	readMaxRetries int
	readBaseDelay  time.Duration

	generation uint64
	closed     bool
}

// NewFileEngine creates an engine rooted at dir, creating the collection
// directories if needed. A nil logger falls back to the standard logrus
// logger.
func NewFileEngine(dir string, logger logrus.FieldLogger) (*FileEngine, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	for _, c := range Collections() {
		if err := os.MkdirAll(filepath.Join(dir, string(c)), 0o755); err != nil {
			return nil, fmt.Errorf("create collection dir: %w", err)
		}
	}
	e := &FileEngine{
		root:           dir,
		logger:         logger,
		nodes:          make(map[NodeID]*Node),
		byCollection:   make(map[Collection]map[NodeID]struct{}),
		readMaxRetries: defaultReadMaxRetries,
		readBaseDelay:  defaultReadBaseDelay,
	}
	for _, c := range Collections() {
		e.byCollection[c] = make(map[NodeID]struct{})
	}
	return e, nil
}

// Default transient-read backoff, overridable via SetReadRetry.
const (
	defaultReadMaxRetries = 3
	defaultReadBaseDelay  = 10 * time.Millisecond
)

// Root returns the store's root directory.
func (e *FileEngine) Root() string { return e.root }

// SetReadRetry tunes the backoff used when a record read races an in-flight
// rename.
func (e *FileEngine) SetReadRetry(maxRetries int, baseDelay time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if maxRetries >= 0 {
		e.readMaxRetries = maxRetries
	}
	if baseDelay > 0 {
		e.readBaseDelay = baseDelay
	}
}

// nodePath returns the canonical record path for a node.
func (e *FileEngine) nodePath(c Collection, id NodeID) string {
	return filepath.Join(e.root, string(c), string(id)+".json")
}

// Load populates the in-memory index from every record file on disk.
//
// A record that fails to parse is skipped with a warning, never fatal: one
// corrupt file must not take the whole store down. Temp-convention files are
// ignored entirely. Returns the number of nodes loaded.
func (e *FileEngine) Load() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, ErrStorageClosed
	}

	loaded := 0
	for _, c := range Collections() {
		dir := filepath.Join(e.root, string(c))
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return loaded, fmt.Errorf("read collection dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			name := entry.Name()
			if entry.IsDir() || IsTempFile(name) || name == LockFileName {
				continue
			}
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			path := filepath.Join(dir, name)
			node, err := readNodeRetry(path, e.readMaxRetries, e.readBaseDelay)
			if err != nil {
				e.logger.WithField("path", path).WithError(err).
					Warn("skipping unparseable record")
				continue
			}
			if node.Collection == "" {
				node.Collection = c
			}
			e.indexLocked(node)
			loaded++
		}
	}
	return loaded, nil
}

// readNode reads and decodes one record file with the default retry policy.
func readNode(path string) (*Node, error) {
	return readNodeRetry(path, defaultReadMaxRetries, defaultReadBaseDelay)
}

// readNodeRetry reads and decodes one record file, retrying transient read
// races with an in-flight rename.
func readNodeRetry(path string, maxRetries int, baseDelay time.Duration) (*Node, error) {
	data, err := ReadFileRetry(path, maxRetries, baseDelay)
	if err != nil {
		return nil, err
	}
	var node Node
	if err := json.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	if node.ID == "" {
		return nil, fmt.Errorf("%w: record has no id", ErrInvalidNode)
	}
	return &node, nil
}

// indexLocked inserts a node into the in-memory maps. Caller holds e.mu.
func (e *FileEngine) indexLocked(node *Node) {
	e.nodes[node.ID] = node
	set, ok := e.byCollection[node.Collection]
	if !ok {
		set = make(map[NodeID]struct{})
		e.byCollection[node.Collection] = set
	}
	set[node.ID] = struct{}{}
}

// unindexLocked removes a node from the in-memory maps. Caller holds e.mu.
func (e *FileEngine) unindexLocked(node *Node) {
	delete(e.nodes, node.ID)
	if set, ok := e.byCollection[node.Collection]; ok {
		delete(set, node.ID)
	}
}

// GetNode returns a copy of the node with the given ID.
func (e *FileEngine) GetNode(id NodeID) (*Node, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.closed {
		return nil, ErrStorageClosed
	}
	node, ok := e.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}
	return node.Clone(), nil
}

// AllNodes returns copies of every loaded node in canonical order (sorted by
// ID). The order is stable: the same node set always yields the same slice
// order, which the query layer relies on for deterministic results.
func (e *FileEngine) AllNodes() []*Node {
	nodes, _ := e.Snapshot()
	return nodes
}

// Snapshot returns the node set in canonical order together with the
// generation that describes exactly that set, taken under one read lock.
// Callers that cache results by generation must use this pair rather than
// separate AllNodes/Generation calls: a mutation landing between the two
// would pin a pre-mutation node list to a post-mutation generation.
func (e *FileEngine) Snapshot() ([]*Node, uint64) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]*Node, 0, len(e.nodes))
	for _, node := range e.nodes {
		out = append(out, node.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, e.generation
}

// NodesByCollection returns copies of every node in one collection, in
// canonical order.
func (e *FileEngine) NodesByCollection(c Collection) []*Node {
	e.mu.RLock()
	defer e.mu.RUnlock()

	set := e.byCollection[c]
	out := make([]*Node, 0, len(set))
	for id := range set {
		out = append(out, e.nodes[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of loaded nodes.
func (e *FileEngine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.nodes)
}

// Generation returns the monotonic mutation counter. Every successful
// CreateNode, UpdateNode, or DeleteNode increments it, which invalidates all
// previously cached query results.
func (e *FileEngine) Generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.generation
}

// CreateNode validates the node, persists it atomically, and indexes it.
// Returns ErrAlreadyExists if a node with the same ID is already indexed.
func (e *FileEngine) CreateNode(node *Node) error {
	if node == nil || node.ID == "" {
		return ErrInvalidID
	}
	if err := ValidateNode(node); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStorageClosed
	}
	if _, ok := e.nodes[node.ID]; ok {
		return fmt.Errorf("node %s: %w", node.ID, ErrAlreadyExists)
	}

	stored := node.Clone()
	if err := AtomicWriteJSON(e.nodePath(stored.Collection, stored.ID), stored); err != nil {
		return err
	}
	e.indexLocked(stored)
	e.generation++
	return nil
}

// UpdateNode applies mutator to a copy of the node, persists the result
// atomically, then swaps it into the index. The ID and collection are
// immutable; a mutator that changes either gets ErrInvalidNode and nothing
// is written.
func (e *FileEngine) UpdateNode(id NodeID, mutator func(*Node) error) (*Node, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrStorageClosed
	}
	current, ok := e.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	next := current.Clone()
	if err := mutator(next); err != nil {
		return nil, err
	}
	if next.ID != current.ID || next.Collection != current.Collection {
		return nil, fmt.Errorf("%w: id and collection are immutable", ErrInvalidNode)
	}
	if err := ValidateNode(next); err != nil {
		return nil, err
	}
	next.UpdatedAt = time.Now().UTC()

	if err := AtomicWriteJSON(e.nodePath(next.Collection, next.ID), next); err != nil {
		return nil, err
	}
	e.nodes[id] = next
	e.generation++
	return next.Clone(), nil
}

// DeleteNode removes the node from the index and deletes its record file.
// Removal is explicit; nodes are never silently dropped.
func (e *FileEngine) DeleteNode(id NodeID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrStorageClosed
	}
	node, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("node %s: %w", id, ErrNotFound)
	}

	path := e.nodePath(node.Collection, node.ID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove record: %w", err)
	}
	e.unindexLocked(node)
	e.generation++
	return nil
}

// Sweep reclaims orphaned temp files under the store root older than minAge.
func (e *FileEngine) Sweep(minAge time.Duration) (int, error) {
	removed, err := SweepTemp(e.root, minAge)
	if removed > 0 {
		e.logger.WithField("removed", removed).Info("swept orphaned temp files")
	}
	return removed, err
}

// Close marks the engine closed. Further mutations fail with
// ErrStorageClosed.
func (e *FileEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
