// Package loomdb is the embeddable session API for the LoomDB work-tracking
// graph store.
//
// A DB ties together the file-backed graph engine, the query compiler with
// its two caches, the cross-process directory lock, and the optional badger
// analytics index. Every cache is owned by the session, never by the
// process: two DBs opened side by side (common in tests) share nothing but
// the filesystem.
//
// Example Usage:
//
//	db, err := loomdb.Open("./loom", nil)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer db.Close()
//
//	feat, _ := db.Create(storage.CollectionFeature, "Dark mode toggle",
//		storage.Attrs{Status: "todo", Priority: "high"}, "")
//
//	ids, _ := db.Query("[status=todo]")
//	fmt.Printf("%d open items\n", len(ids))
package loomdb

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/weftlabs/loomdb/pkg/config"
	"github.com/weftlabs/loomdb/pkg/index"
	"github.com/weftlabs/loomdb/pkg/query"
	"github.com/weftlabs/loomdb/pkg/storage"
)

// DB is one opened store session.
//
// Single-record mutations are safe across processes via the atomic writer.
// Multi-record operations (Reindex, batch edits through WithExclusiveLock)
// take the directory lock. Within a process, DB methods are safe for
// concurrent use.
type DB struct {
	config    *config.Config
	logger    *logrus.Logger
	engine    *storage.FileEngine
	queries   *query.Engine
	analytics *index.Analytics
	lock      *storage.DirLock
}

// Open opens or creates a store at dir.
//
// A nil config uses defaults. Opening sweeps orphaned temp files left by
// crashed writers (when SweepOnOpen is set), loads every record into the
// in-memory index, and opens the analytics index.
func Open(dir string, cfg *config.Config) (*DB, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.DataDir = dir
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	engine, err := storage.NewFileEngine(dir, logger)
	if err != nil {
		return nil, err
	}
	engine.SetReadRetry(cfg.ReadMaxRetries, cfg.ReadBaseDelay)

	if cfg.SweepOnOpen {
		if _, err := engine.Sweep(cfg.SweepMinAge); err != nil {
			logger.WithError(err).Warn("orphan sweep failed")
		}
	}

	loaded, err := engine.Load()
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{"dir": dir, "nodes": loaded}).Debug("store loaded")

	db := &DB{
		config:  cfg,
		logger:  logger,
		engine:  engine,
		queries: query.NewEngine(cfg.CompiledCacheSize),
		lock:    storage.NewDirLock(dir),
	}
	db.queries.SetResultCacheEnabled(cfg.ResultCacheEnabled)

	if cfg.AnalyticsEnabled {
		if err := os.MkdirAll(cfg.ResolvedAnalyticsDir(), 0o755); err != nil {
			return nil, fmt.Errorf("create analytics dir: %w", err)
		}
		analytics, err := index.Open(cfg.ResolvedAnalyticsDir())
		if err != nil {
			return nil, err
		}
		db.analytics = analytics
	}

	return db, nil
}

// Close releases the session: any held directory lock and the analytics
// index. The record files need no shutdown; they are always in a consistent
// state.
func (db *DB) Close() error {
	db.lock.Release()
	if db.analytics != nil {
		if err := db.analytics.Close(); err != nil {
			return err
		}
	}
	return db.engine.Close()
}

// Create mints a new node in the given collection, persists it atomically,
// and returns it.
func (db *DB) Create(c storage.Collection, title string, attrs storage.Attrs, content string) (*storage.Node, error) {
	node := storage.NewNode(c, title)
	node.Attrs = attrs
	node.Content = content

	if err := db.engine.CreateNode(node); err != nil {
		return nil, err
	}
	db.feedAnalytics(index.MutationCreate, node.ID, node)
	return node, nil
}

// Update applies mutator to the node and persists the result atomically.
func (db *DB) Update(id storage.NodeID, mutator func(*storage.Node) error) (*storage.Node, error) {
	node, err := db.engine.UpdateNode(id, mutator)
	if err != nil {
		return nil, err
	}
	db.feedAnalytics(index.MutationUpdate, id, node)
	return node, nil
}

// Delete removes a node and its record file. Removal is explicit, never
// implicit.
func (db *DB) Delete(id storage.NodeID) error {
	if err := db.engine.DeleteNode(id); err != nil {
		return err
	}
	db.feedAnalytics(index.MutationDelete, id, nil)
	return nil
}

// feedAnalytics replays a committed mutation into the reporting index. The
// index is a rebuildable cache: a failed replay is logged, not surfaced,
// because Reindex can always restore it from the record files.
func (db *DB) feedAnalytics(kind index.MutationKind, id storage.NodeID, node *storage.Node) {
	if db.analytics == nil {
		return
	}
	err := db.analytics.Apply(index.Mutation{Kind: kind, ID: id, Node: node})
	if err != nil {
		db.logger.WithError(err).WithField("id", id).Warn("analytics index update failed")
	}
}

// Get returns a copy of one node.
func (db *DB) Get(id storage.NodeID) (*storage.Node, error) {
	return db.engine.GetNode(id)
}

// List returns every node in a collection, in canonical order.
func (db *DB) List(c storage.Collection) []*storage.Node {
	return db.engine.NodesByCollection(c)
}

// Edges returns a node's outgoing edges, derived from its content
// references. Unresolved targets come back flagged Dangling.
func (db *DB) Edges(id storage.NodeID) ([]*storage.Edge, error) {
	node, err := db.engine.GetNode(id)
	if err != nil {
		return nil, err
	}
	return db.engine.ExtractEdges(node), nil
}

// Query matches a selector against the whole store and returns the matching
// node IDs in canonical order. The node set and its generation are taken as
// one consistent snapshot, so a concurrent mutation can never pin a stale
// result list to the current generation.
func (db *DB) Query(selector string) ([]storage.NodeID, error) {
	nodes, generation := db.engine.Snapshot()
	return db.queries.Query(selector, nodes, generation)
}

// Compile parses a selector into a reusable handle. Repeated calls with the
// same selector return the same handle from the compiled cache.
func (db *DB) Compile(selector string) (*query.CompiledQuery, error) {
	return db.queries.Compile(selector)
}

// Execute runs a compiled selector against the whole store. Query and
// Execute share one result cache, so either entry point benefits from the
// other's prior work.
func (db *DB) Execute(cq *query.CompiledQuery) []storage.NodeID {
	nodes, generation := db.engine.Snapshot()
	return db.queries.Execute(cq, nodes, generation)
}

// Sweep reclaims orphaned temp files older than minAge. Idempotent; intended
// to be run periodically by the surrounding application.
func (db *DB) Sweep(minAge time.Duration) (int, error) {
	return db.engine.Sweep(minAge)
}

// Reindex rebuilds the analytics index from a full record scan.
//
// The scan must see a consistent multi-record view, so the whole rebuild
// runs under the exclusive directory lock. A lock timeout is an expected
// outcome: another process is touching the store, try again later.
func (db *DB) Reindex() error {
	if db.analytics == nil {
		return nil
	}
	if err := db.lock.AcquireExclusive(db.config.LockTimeout); err != nil {
		return err
	}
	defer db.lock.Release()

	return db.analytics.Rebuild(db.engine.AllNodes())
}

// WithExclusiveLock runs fn while holding the exclusive directory lock.
//
// The store offers no cross-record transactions: a crash in the middle of fn
// can still leave related records inconsistent (a documented limitation).
// The lock only guarantees no other locking process interleaves with fn.
func (db *DB) WithExclusiveLock(fn func() error) error {
	if err := db.lock.AcquireExclusive(db.config.LockTimeout); err != nil {
		return err
	}
	defer db.lock.Release()
	return fn()
}

// Report returns the analytics snapshot, or nil if analytics are disabled.
func (db *DB) Report() (*index.Report, error) {
	if db.analytics == nil {
		return nil, nil
	}
	return db.analytics.Snapshot()
}

// Stats is a read-only snapshot of session health.
type Stats struct {
	Nodes      int
	Generation uint64
	Queries    query.Stats
}

// Stats returns current session metrics.
func (db *DB) Stats() Stats {
	return Stats{
		Nodes:      db.engine.Count(),
		Generation: db.engine.Generation(),
		Queries:    db.queries.Stats(),
	}
}
