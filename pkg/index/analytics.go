// Package index provides the rebuildable analytics index for LoomDB.
//
// The index is a BadgerDB cache fed by store mutations and used only for
// reporting: per-collection and per-status counts, and the time of the last
// mutation. It holds no authoritative data. The record files are the source
// of truth, so losing or corrupting the index is harmless; Rebuild restores
// it from a full node scan (callers hold an exclusive directory lock for
// that, since the scan must see a consistent multi-record view).
package index

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/weftlabs/loomdb/pkg/storage"
)

// Key prefixes for index organization.
const (
	prefixNode       = "n:" // n:<id> -> nodeMeta JSON
	prefixCollection = "c:" // c:<collection> -> uint64 count
	prefixStatus     = "s:" // s:<status> -> uint64 count
	keyLastMutation  = "meta:last-mutation"
)

// MutationKind classifies one store mutation.
type MutationKind string

const (
	MutationCreate MutationKind = "create"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Mutation is one replayed store mutation. Node is nil for deletes; ID is
// always set.
type Mutation struct {
	Kind MutationKind
	ID   storage.NodeID
	Node *storage.Node
	At   time.Time
}

// nodeMeta is what the index remembers per node, enough to reverse its
// contribution to the counters on update or delete.
type nodeMeta struct {
	Collection storage.Collection `json:"collection"`
	Status     string             `json:"status"`
}

// Report is a reporting snapshot of the index.
type Report struct {
	TotalNodes   int                           `json:"total_nodes"`
	ByCollection map[storage.Collection]uint64 `json:"by_collection"`
	ByStatus     map[string]uint64             `json:"by_status"`
	LastMutation time.Time                     `json:"last_mutation,omitzero"`
}

// Analytics is the badger-backed reporting index.
type Analytics struct {
	db *badger.DB
}

// Open opens (or creates) the index database at path. Badger's own logger is
// silenced; index chatter has no place in store output.
func Open(path string) (*Analytics, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open analytics index: %w", err)
	}
	return &Analytics{db: db}, nil
}

// Close closes the underlying database.
func (a *Analytics) Close() error {
	return a.db.Close()
}

// Apply replays one store mutation into the index.
func (a *Analytics) Apply(m Mutation) error {
	if m.ID == "" {
		return storage.ErrInvalidID
	}
	at := m.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	err := a.db.Update(func(txn *badger.Txn) error {
		nodeKey := []byte(prefixNode + string(m.ID))

		// Reverse the node's previous contribution, if any.
		prev, err := getNodeMeta(txn, nodeKey)
		if err != nil {
			return err
		}
		if prev != nil {
			if err := addCount(txn, collectionKey(prev.Collection), -1); err != nil {
				return err
			}
			if err := addCount(txn, statusKey(prev.Status), -1); err != nil {
				return err
			}
		}

		switch m.Kind {
		case MutationCreate, MutationUpdate:
			if m.Node == nil {
				return fmt.Errorf("%s mutation for %s has no node", m.Kind, m.ID)
			}
			meta := nodeMeta{Collection: m.Node.Collection, Status: m.Node.Attrs.Status}
			data, err := json.Marshal(meta)
			if err != nil {
				return err
			}
			if err := txn.Set(nodeKey, data); err != nil {
				return err
			}
			if err := addCount(txn, collectionKey(meta.Collection), 1); err != nil {
				return err
			}
			if err := addCount(txn, statusKey(meta.Status), 1); err != nil {
				return err
			}
		case MutationDelete:
			if err := txn.Delete(nodeKey); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown mutation kind %q", m.Kind)
		}

		stamp := make([]byte, 8)
		binary.BigEndian.PutUint64(stamp, uint64(at.UnixNano()))
		return txn.Set([]byte(keyLastMutation), stamp)
	})
	if err != nil {
		return fmt.Errorf("apply %s %s: %w", m.Kind, m.ID, err)
	}
	return nil
}

// Rebuild drops the index and repopulates it from a full node scan.
func (a *Analytics) Rebuild(nodes []*storage.Node) error {
	if err := a.db.DropAll(); err != nil {
		return fmt.Errorf("drop analytics index: %w", err)
	}
	for _, n := range nodes {
		if err := a.Apply(Mutation{Kind: MutationCreate, ID: n.ID, Node: n}); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns the current reporting view.
func (a *Analytics) Snapshot() (*Report, error) {
	report := &Report{
		ByCollection: make(map[storage.Collection]uint64),
		ByStatus:     make(map[string]uint64),
	}

	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := string(item.Key())
			switch {
			case strings.HasPrefix(key, prefixNode):
				report.TotalNodes++
			case strings.HasPrefix(key, prefixCollection):
				c := storage.Collection(strings.TrimPrefix(key, prefixCollection))
				v, err := readCount(item)
				if err != nil {
					return err
				}
				report.ByCollection[c] = v
			case strings.HasPrefix(key, prefixStatus):
				s := strings.TrimPrefix(key, prefixStatus)
				v, err := readCount(item)
				if err != nil {
					return err
				}
				report.ByStatus[s] = v
			case key == keyLastMutation:
				err := item.Value(func(val []byte) error {
					if len(val) == 8 {
						report.LastMutation = time.Unix(0, int64(binary.BigEndian.Uint64(val))).UTC()
					}
					return nil
				})
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot analytics index: %w", err)
	}
	return report, nil
}

func collectionKey(c storage.Collection) []byte {
	return []byte(prefixCollection + string(c))
}

// statusKey buckets unset statuses under "none" so the report always adds up
// to the node total.
func statusKey(status string) []byte {
	if status == "" {
		status = "none"
	}
	return []byte(prefixStatus + status)
}

func getNodeMeta(txn *badger.Txn, key []byte) (*nodeMeta, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta nodeMeta
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &meta)
	})
	if err != nil {
		return nil, err
	}
	return &meta, nil
}

func addCount(txn *badger.Txn, key []byte, delta int64) error {
	var current uint64
	item, err := txn.Get(key)
	if err == nil {
		if err := item.Value(func(val []byte) error {
			if len(val) == 8 {
				current = binary.BigEndian.Uint64(val)
			}
			return nil
		}); err != nil {
			return err
		}
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	next := int64(current) + delta
	if next < 0 {
		next = 0
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(next))
	return txn.Set(key, buf)
}

func readCount(item *badger.Item) (uint64, error) {
	var v uint64
	err := item.Value(func(val []byte) error {
		if len(val) == 8 {
			v = binary.BigEndian.Uint64(val)
		}
		return nil
	})
	return v, err
}
