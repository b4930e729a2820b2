// Package hnsw implements a hierarchical navigable small world index over
// homomorphically encrypted vectors.
//
// The index stores one opaque ciphertext per node and computes every
// "closeness" decision homomorphically through a narrow engine capability
// (see [Engine]). Two navigation protocols are supported:
//
//   - Server-blind: each comparison between encrypted distances is resolved
//     by a [Comparer] without producing any plaintext on the index host.
//   - Hybrid: each encrypted distance is serialized, transmitted to a
//     client-side [Oracle] for decryption, and the plaintext comparison
//     result drives navigation. The bytes of every transmitted ciphertext
//     are tracked by the graph's [Accountant].
//
// The graph follows classical HNSW: nodes draw a random level from a
// geometric distribution, layer l contains exactly the nodes with level >= l,
// and search descends greedily from the entry point before running a bounded
// beam search at the base layer.
//
// Build and query are designed for a single-writer discipline: Insert takes
// the write lock, Search the read lock. Searches may run concurrently against
// a stable graph; insertion must not run concurrently with anything else.
package hnsw

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Config controls the index parameters. The zero value of every field maps
// to the classical HNSW defaults.
type Config struct {
	// M is the maximum number of neighbors per node per layer above 0.
	// Layer 0 allows 2M neighbors. Default: 16.
	M int

	// EfConstruction is the beam width of the candidate search during
	// insertion. Default: 200.
	EfConstruction int

	// EfSearch is the beam width of the base-layer search during queries.
	// Default: 100.
	EfSearch int

	// MaxLevel caps the level assigned to any node, bounding the number of
	// layers regardless of index size. Default: 16.
	MaxLevel int

	// Rand is the random source for level assignment. Seed it for
	// reproducible builds. Default: a time-seeded source.
	Rand *rand.Rand

	// DecryptTimeout bounds each decrypt round trip under the hybrid
	// protocol. Zero means no per-call bound. Ignored by the server-blind
	// protocol, which never crosses the trust boundary.
	DecryptTimeout time.Duration
}

func (cfg *Config) applyDefaults() {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 100
	}
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = 16
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
}

// Graph is a secure HNSW index over encrypted vectors.
//
// A Graph must be created with [NewServerBlind] or [NewHybrid]. Insert
// requires exclusive access; Search is safe for concurrent use between
// insertions.
type Graph struct {
	cfg    Config
	engine Engine
	rnk    ranker
	acct   Accountant

	mu     sync.RWMutex
	store  *Store
	levels *levelGenerator
}

// NewServerBlind creates an index using the server-blind protocol: every
// traversal decision is resolved inside the encrypted domain through cmp.
func NewServerBlind(cfg Config, engine Engine, cmp Comparer) (*Graph, error) {
	if cmp == nil {
		return nil, errors.New("hnsw: server-blind protocol requires a Comparer")
	}
	return newGraph(cfg, engine, &blindRanker{cmp: cmp})
}

// NewHybrid creates an index using the hybrid protocol: encrypted distances
// are transmitted to oracle for decryption, and the transmitted bytes are
// charged to the graph's communication accountant.
func NewHybrid(cfg Config, engine Engine, oracle Oracle) (*Graph, error) {
	if oracle == nil {
		return nil, errors.New("hnsw: hybrid protocol requires an Oracle")
	}
	g, err := newGraph(cfg, engine, nil)
	if err != nil {
		return nil, err
	}
	g.rnk = &hybridRanker{
		engine:  g.engine,
		oracle:  oracle,
		acct:    &g.acct,
		timeout: g.cfg.DecryptTimeout,
	}
	return g, nil
}

func newGraph(cfg Config, engine Engine, rnk ranker) (*Graph, error) {
	if engine == nil {
		return nil, errors.New("hnsw: engine is required")
	}
	cfg.applyDefaults()

	return &Graph{
		cfg:    cfg,
		engine: engine,
		rnk:    rnk,
		store:  NewStore(),
		levels: newLevelGenerator(cfg.M, cfg.MaxLevel, cfg.Rand),
	}, nil
}

// Insert adds an encrypted vector to the index and returns its id.
//
// The ciphertext is validated against the engine's parameters before any
// state is touched, so a rejected ciphertext leaves the graph unmodified.
func (g *Graph) Insert(ctx context.Context, ct Ciphertext) (uint32, error) {
	if err := g.engine.Validate(ct); err != nil {
		return 0, fmt.Errorf("insert: %w: %v", ErrEncryption, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	level := g.levels.next()

	ep, ok := g.store.EntryPoint()
	if !ok {
		// First node: entry point at its own level, no edges yet.
		return g.store.Add(ct, level)
	}
	maxLevel := g.store.MaxLevel()

	// Greedy descent through the layers above the new node's level.
	cur := ep
	for l := maxLevel; l > level; l-- {
		best, err := g.searchLayer(ctx, ct, cur, 1, l)
		if err != nil {
			return 0, fmt.Errorf("insert: descend layer %d from node %d: %w", l, cur, err)
		}
		cur = best[0].id
	}

	// Collect the neighbors to wire per layer before mutating anything, so
	// a failed candidate search leaves the store untouched.
	type layerWiring struct {
		layer    int
		selected []candidate
	}
	wiring := make([]layerWiring, 0, min(level, maxLevel)+1)

	for l := min(level, maxLevel); l >= 0; l-- {
		cands, err := g.searchLayer(ctx, ct, cur, g.cfg.EfConstruction, l)
		if err != nil {
			return 0, fmt.Errorf("insert: candidates at layer %d from node %d: %w", l, cur, err)
		}

		maxConns := g.maxConns(l)
		selected := make([]candidate, 0, maxConns)
		for _, c := range cands {
			node, err := g.store.Get(c.id)
			if err != nil {
				return 0, fmt.Errorf("insert: layer %d: %w", l, err)
			}
			if node.deleted {
				continue
			}
			selected = append(selected, c)
			if len(selected) == maxConns {
				break
			}
		}
		wiring = append(wiring, layerWiring{layer: l, selected: selected})

		cur = cands[0].id
	}

	id, err := g.store.Add(ct, level)
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	node, _ := g.store.Get(id)

	for _, w := range wiring {
		ids := make([]uint32, len(w.selected))
		for i, c := range w.selected {
			ids[i] = c.id
		}
		node.neighbors[w.layer] = ids

		for _, c := range w.selected {
			if err := g.connectReverse(ctx, c.id, node, w.layer); err != nil {
				return id, fmt.Errorf("insert node %d: reverse edge to %d at layer %d: %w",
					id, c.id, w.layer, err)
			}
		}
	}

	return id, nil
}

// connectReverse adds newNode to neighbor's list at the given layer,
// pruning the list back to the closest entries if it would exceed its cap.
func (g *Graph) connectReverse(ctx context.Context, neighborID uint32, newNode *Node, layer int) error {
	neighbor, err := g.store.Get(neighborID)
	if err != nil {
		return err
	}
	if layer > neighbor.Level {
		// The neighbor does not participate in this layer; no back edge.
		return nil
	}

	maxConns := g.maxConns(layer)
	current := neighbor.neighbors[layer]
	if len(current) < maxConns {
		neighbor.neighbors[layer] = append(current, newNode.ID)
		return nil
	}

	// Over cap: keep the maxConns entries closest to the neighbor, chosen
	// among its current list plus the new node.
	kept := &candidateList{limit: maxConns, less: g.rnk.less}
	for _, id := range append(append([]uint32{}, current...), newNode.ID) {
		other, err := g.store.Get(id)
		if err != nil {
			return err
		}
		d, err := g.distBetween(ctx, neighbor.ciphertext, other.ciphertext)
		if err != nil {
			return err
		}
		if _, err := kept.insert(candidate{id: id, dist: d}); err != nil {
			return err
		}
	}

	pruned := make([]uint32, kept.len())
	for i, c := range kept.items {
		pruned[i] = c.id
	}
	neighbor.neighbors[layer] = pruned
	return nil
}

// Delete tombstones a node. The node keeps its edges so the graph stays
// navigable, but it is excluded from search results and from neighbor
// selection for future insertions.
func (g *Graph) Delete(id uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, err := g.store.Get(id)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	node.deleted = true
	return nil
}

// Len returns the number of nodes ever inserted, including tombstoned ones.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Len()
}

// EntryPoint returns the id of the current entry point; ok is false while
// the graph is empty.
func (g *Graph) EntryPoint() (id uint32, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.EntryPoint()
}

// Node returns the node with the given id.
func (g *Graph) Node(id uint32) (*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.store.Get(id)
}

// CommunicationBytes returns the bytes of ciphertext sent across the trust
// boundary since the last reset. Always 0 under the server-blind protocol.
func (g *Graph) CommunicationBytes() int64 {
	return g.acct.Bytes()
}

// ResetCommunicationCounter zeroes the communication counter. Must not be
// called concurrently with an in-flight search if the window is to be
// meaningful.
func (g *Graph) ResetCommunicationCounter() {
	g.acct.Reset()
}

func (g *Graph) maxConns(layer int) int {
	if layer == 0 {
		return 2 * g.cfg.M
	}
	return g.cfg.M
}

// distBetween homomorphically computes the distance between two ciphertexts
// and ranks it under the active protocol.
func (g *Graph) distBetween(ctx context.Context, a, b Ciphertext) (rankedDist, error) {
	enc, err := g.engine.DistanceSq(a, b)
	if err != nil {
		return rankedDist{}, fmt.Errorf("%w: %v", ErrEncryption, err)
	}
	return g.rnk.rank(ctx, enc)
}
