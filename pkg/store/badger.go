package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/soundprediction/graphmem/pkg/types"
)

var (
	nodePrefix = []byte("node/")
	edgePrefix = []byte("edge/")
)

// BadgerStore is a durable GraphStore backed by Badger. Units are stored as
// JSON values under "node/<id>" and "edge/<id>" keys. Queries scan the
// relevant prefix; the store is meant for single-process durability, not for
// serving large graphs.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a Badger database at path. An empty
// path opens an in-memory Badger instance, useful in tests.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

var _ GraphStore = (*BadgerStore)(nil)

func nodeKey(id string) []byte { return append(append([]byte{}, nodePrefix...), id...) }
func edgeKey(id string) []byte { return append(append([]byte{}, edgePrefix...), id...) }

// AddNode stores a new node.
func (s *BadgerStore) AddNode(ctx context.Context, node *types.Node) error {
	if err := node.Validate(); err != nil {
		return err
	}
	if node.CreatedAt.IsZero() {
		node.CreatedAt = time.Now().UTC()
	}
	if err := validateNodeTemporal(node); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(node.ID)); err == nil {
			return ErrNodeExists
		}
		return setJSON(txn, nodeKey(node.ID), node)
	})
}

// GetNode returns the node, or ErrNodeNotFound.
func (s *BadgerStore) GetNode(ctx context.Context, id string) (*types.Node, error) {
	var node types.Node
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, nodeKey(id), &node, ErrNodeNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// UpdateNode merges the partial update into the stored node.
func (s *BadgerStore) UpdateNode(ctx context.Context, id string, update *NodeUpdate) (*types.Node, error) {
	var node types.Node
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, nodeKey(id), &node, ErrNodeNotFound); err != nil {
			return err
		}
		applyNodeUpdate(&node, update)
		if err := validateNodeTemporal(&node); err != nil {
			return err
		}
		return setJSON(txn, nodeKey(id), &node)
	})
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// DeleteNode removes the node, refusing while edges reference it.
func (s *BadgerStore) DeleteNode(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(id)); err != nil {
			return ErrNodeNotFound
		}
		inUse := false
		err := scanEdges(txn, func(e *types.Edge) error {
			if e.SourceID == id || e.TargetID == id {
				inUse = true
			}
			return nil
		})
		if err != nil {
			return err
		}
		if inUse {
			return ErrNodeInUse
		}
		return txn.Delete(nodeKey(id))
	})
}

// AddEdge stores a new edge after verifying both endpoints exist.
func (s *BadgerStore) AddEdge(ctx context.Context, edge *types.Edge) error {
	if err := edge.Validate(); err != nil {
		return err
	}
	if edge.CreatedAt.IsZero() {
		edge.CreatedAt = time.Now().UTC()
	}
	if err := validateEdgeTemporal(edge); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(nodeKey(edge.SourceID)); err != nil {
			return ErrMissingEndpoint
		}
		if _, err := txn.Get(nodeKey(edge.TargetID)); err != nil {
			return ErrMissingEndpoint
		}
		if _, err := txn.Get(edgeKey(edge.ID)); err == nil {
			return ErrEdgeExists
		}
		return setJSON(txn, edgeKey(edge.ID), edge)
	})
}

// GetEdge returns the edge, or ErrEdgeNotFound.
func (s *BadgerStore) GetEdge(ctx context.Context, id string) (*types.Edge, error) {
	var edge types.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, edgeKey(id), &edge, ErrEdgeNotFound)
	})
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

// UpdateEdge merges the partial update into the stored edge.
func (s *BadgerStore) UpdateEdge(ctx context.Context, id string, update *EdgeUpdate) (*types.Edge, error) {
	var edge types.Edge
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, edgeKey(id), &edge, ErrEdgeNotFound); err != nil {
			return err
		}
		applyEdgeUpdate(&edge, update)
		if err := validateEdgeTemporal(&edge); err != nil {
			return err
		}
		return setJSON(txn, edgeKey(id), &edge)
	})
	if err != nil {
		return nil, err
	}
	return &edge, nil
}

// DeleteEdge removes the edge.
func (s *BadgerStore) DeleteEdge(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(edgeKey(id)); err != nil {
			return ErrEdgeNotFound
		}
		return txn.Delete(edgeKey(id))
	})
}

// Query scans all units and applies the filter clauses in order.
func (s *BadgerStore) Query(ctx context.Context, filter *Filter) (*types.Snapshot, error) {
	if filter == nil {
		filter = &Filter{IncludeEpisodes: true}
	}
	snapshot := &types.Snapshot{Nodes: []*types.Node{}, Edges: []*types.Edge{}}
	matched := make(map[string]bool)

	err := s.db.View(func(txn *badger.Txn) error {
		if err := scanNodes(txn, func(n *types.Node) error {
			if matchesFilter(n, filter) {
				matched[n.ID] = true
				snapshot.Nodes = append(snapshot.Nodes, n)
			}
			return nil
		}); err != nil {
			return err
		}
		return scanEdges(txn, func(e *types.Edge) error {
			if !matched[e.SourceID] || !matched[e.TargetID] {
				return nil
			}
			if filter.AsOf != nil && !e.VisibleAt(*filter.AsOf) {
				return nil
			}
			snapshot.Edges = append(snapshot.Edges, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snapshot, nil
}

// EdgesForNode returns all edges touching the node.
func (s *BadgerStore) EdgesForNode(ctx context.Context, nodeID string) ([]*types.Edge, error) {
	var out []*types.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		return scanEdges(txn, func(e *types.Edge) error {
			if e.SourceID == nodeID || e.TargetID == nodeID {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// EdgesBetween returns edges connecting the two nodes in either direction.
func (s *BadgerStore) EdgesBetween(ctx context.Context, aID, bID string) ([]*types.Edge, error) {
	var out []*types.Edge
	err := s.db.View(func(txn *badger.Txn) error {
		return scanEdges(txn, func(e *types.Edge) error {
			if (e.SourceID == aID && e.TargetID == bID) || (e.SourceID == bID && e.TargetID == aID) {
				out = append(out, e)
			}
			return nil
		})
	})
	return out, err
}

// NodesByType returns all nodes of the given type.
func (s *BadgerStore) NodesByType(ctx context.Context, nodeType types.NodeType) ([]*types.Node, error) {
	var out []*types.Node
	err := s.db.View(func(txn *badger.Txn) error {
		return scanNodes(txn, func(n *types.Node) error {
			if n.Type == nodeType || (nodeType == types.EntityNodeType && n.Type.IsEntity()) {
				out = append(out, n)
			}
			return nil
		})
	})
	return out, err
}

// Clear drops all data.
func (s *BadgerStore) Clear(ctx context.Context) error {
	return s.db.DropAll()
}

// Close closes the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set(key, data)
}

func getJSON(txn *badger.Txn, key []byte, v any, notFound error) error {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return notFound
		}
		return err
	}
	return item.Value(func(data []byte) error {
		return json.Unmarshal(data, v)
	})
}

func scanNodes(txn *badger.Txn, fn func(*types.Node) error) error {
	return scanPrefix(txn, nodePrefix, func(data []byte) error {
		var n types.Node
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		return fn(&n)
	})
}

func scanEdges(txn *badger.Txn, fn func(*types.Edge) error) error {
	return scanPrefix(txn, edgePrefix, func(data []byte) error {
		var e types.Edge
		if err := json.Unmarshal(data, &e); err != nil {
			return err
		}
		return fn(&e)
	})
}

func scanPrefix(txn *badger.Txn, prefix []byte, fn func([]byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		err := it.Item().Value(func(data []byte) error {
			return fn(append([]byte(nil), data...))
		})
		if err != nil {
			return err
		}
	}
	return nil
}
