package hnsw

import "fmt"

// Node is a single entry in the encrypted index. The level is drawn once at
// insertion time and never recomputed; neighbor lists are mutated only while
// the owning graph holds its write lock.
type Node struct {
	// ID is the node's stable identifier, assigned sequentially from 0 in
	// insertion order.
	ID uint32

	// Level is the highest layer this node participates in. The node is a
	// member of every layer 0..Level.
	Level int

	ciphertext Ciphertext
	neighbors  [][]uint32 // neighbors[l] is the ordered neighbor list at layer l
	deleted    bool
}

// Ciphertext returns the node's encrypted vector handle.
func (n *Node) Ciphertext() Ciphertext { return n.ciphertext }

// Neighbors returns the node's neighbor ids at the given layer. The returned
// slice is owned by the node and must not be mutated by callers.
func (n *Node) Neighbors(layer int) []uint32 {
	if layer < 0 || layer >= len(n.neighbors) {
		return nil
	}
	return n.neighbors[layer]
}

// Deleted reports whether the node has been tombstoned. Tombstoned nodes keep
// their edges so the graph stays connected, but are excluded from search
// results and from future neighbor selection.
func (n *Node) Deleted() bool { return n.deleted }

// Store is the append-only mapping from node id to Node. It owns every node
// for the lifetime of the index and tracks the global entry point: the node
// with the highest level, ties kept on the lowest id. The store does no
// locking of its own; the owning Graph serializes access.
type Store struct {
	nodes      []*Node
	entryPoint int // index into nodes, -1 while empty
	maxLevel   int
}

// NewStore creates an empty node store.
func NewStore() *Store {
	return &Store{entryPoint: -1, maxLevel: -1}
}

// Add registers a new encrypted vector at the given level and returns its id.
// Ids are assigned sequentially starting at 0. If the level exceeds the
// current maximum, the new node becomes the entry point; on ties the existing
// entry point (the lower id) is kept.
func (s *Store) Add(ct Ciphertext, level int) (uint32, error) {
	if level < 0 {
		return 0, fmt.Errorf("add node: level %d: %w", level, ErrInvalidArgument)
	}

	id := uint32(len(s.nodes))
	node := &Node{
		ID:         id,
		Level:      level,
		ciphertext: ct,
		neighbors:  make([][]uint32, level+1),
	}
	s.nodes = append(s.nodes, node)

	if level > s.maxLevel {
		s.maxLevel = level
		s.entryPoint = int(id)
	}
	return id, nil
}

// Get returns the node with the given id.
func (s *Store) Get(id uint32) (*Node, error) {
	if int(id) >= len(s.nodes) {
		return nil, fmt.Errorf("get node %d: %w", id, ErrNotFound)
	}
	return s.nodes[id], nil
}

// Len returns the number of nodes in the store, including tombstoned ones.
func (s *Store) Len() int { return len(s.nodes) }

// EntryPoint returns the id of the current entry point. The second return is
// false while the store is empty.
func (s *Store) EntryPoint() (uint32, bool) {
	if s.entryPoint < 0 {
		return 0, false
	}
	return uint32(s.entryPoint), true
}

// MaxLevel returns the highest level among all nodes, or -1 while empty.
func (s *Store) MaxLevel() int { return s.maxLevel }
