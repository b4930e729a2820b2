package hnsw

import (
	"context"
	"fmt"
	"sort"
)

// Search returns the ids of up to k nodes nearest to the encrypted query,
// nearest first. An empty graph yields an empty result, not an error; if
// fewer than k live nodes exist, all of them are returned.
//
// Search never mutates the graph. Under the hybrid protocol it does charge
// the communication accountant for every decrypt round trip.
func (g *Graph) Search(ctx context.Context, query Ciphertext, k int) ([]uint32, error) {
	if k < 1 {
		return nil, fmt.Errorf("search: k must be >= 1, got %d: %w", k, ErrInvalidArgument)
	}
	if err := g.engine.Validate(query); err != nil {
		return nil, fmt.Errorf("search: %w: %v", ErrEncryption, err)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	ep, ok := g.store.EntryPoint()
	if !ok {
		return []uint32{}, nil
	}

	// Greedy descent: single best candidate per layer down to layer 1.
	cur := ep
	for l := g.store.MaxLevel(); l >= 1; l-- {
		best, err := g.searchLayer(ctx, query, cur, 1, l)
		if err != nil {
			return nil, fmt.Errorf("search: layer %d from node %d: %w", l, cur, err)
		}
		cur = best[0].id
	}

	// Base-layer beam search, widened to k when callers ask for more
	// results than the configured beam.
	ef := max(g.cfg.EfSearch, k)
	cands, err := g.searchLayer(ctx, query, cur, ef, 0)
	if err != nil {
		return nil, fmt.Errorf("search: layer 0 from node %d: %w", cur, err)
	}

	// With plaintext distances available, break ties on ascending id to make
	// result order deterministic. The blind protocol cannot observe ties, so
	// it keeps the comparer's order.
	if g.rnk.ordered() {
		sort.SliceStable(cands, func(i, j int) bool {
			if cands[i].dist.plain != cands[j].dist.plain {
				return cands[i].dist.plain < cands[j].dist.plain
			}
			return cands[i].id < cands[j].id
		})
	}

	ids := make([]uint32, 0, k)
	for _, c := range cands {
		node, err := g.store.Get(c.id)
		if err != nil {
			return nil, fmt.Errorf("search: %w", err)
		}
		if node.deleted {
			continue
		}
		ids = append(ids, c.id)
		if len(ids) == k {
			break
		}
	}
	return ids, nil
}

// searchLayer runs the bounded beam search at a single layer: starting from
// entry, it repeatedly expands the nearest unexplored candidate, keeping the
// ef nearest nodes found so far. Results come back nearest first.
//
// Tombstoned nodes are traversed (their edges keep the graph connected) and
// may appear in the returned candidates; callers filter them as needed.
func (g *Graph) searchLayer(ctx context.Context, query Ciphertext, entry uint32, ef, layer int) ([]candidate, error) {
	entryNode, err := g.store.Get(entry)
	if err != nil {
		return nil, err
	}
	d, err := g.distBetween(ctx, query, entryNode.ciphertext)
	if err != nil {
		return nil, fmt.Errorf("distance to node %d: %w", entry, err)
	}

	visited := map[uint32]bool{entry: true}
	frontier := &candidateList{less: g.rnk.less}
	results := &candidateList{limit: ef, less: g.rnk.less}

	if _, err := frontier.insert(candidate{id: entry, dist: d}); err != nil {
		return nil, err
	}
	if _, err := results.insert(candidate{id: entry, dist: d}); err != nil {
		return nil, err
	}

	for frontier.len() > 0 {
		cur := frontier.popNearest()

		// Once the beam is full and the nearest unexplored candidate is
		// farther than the worst kept result, no better node is reachable.
		if results.full() {
			worse, err := g.rnk.less(results.farthest().dist, cur.dist)
			if err != nil {
				return nil, err
			}
			if worse {
				break
			}
		}

		curNode, err := g.store.Get(cur.id)
		if err != nil {
			return nil, err
		}
		for _, neighborID := range curNode.Neighbors(layer) {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true

			neighbor, err := g.store.Get(neighborID)
			if err != nil {
				return nil, err
			}
			nd, err := g.distBetween(ctx, query, neighbor.ciphertext)
			if err != nil {
				return nil, fmt.Errorf("distance to node %d: %w", neighborID, err)
			}

			added, err := results.insert(candidate{id: neighborID, dist: nd})
			if err != nil {
				return nil, err
			}
			if added {
				if _, err := frontier.insert(candidate{id: neighborID, dist: nd}); err != nil {
					return nil, err
				}
			}
		}
	}

	return results.items, nil
}
