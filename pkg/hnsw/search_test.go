package hnsw

import (
	"context"
	"errors"
	"sort"
	"testing"
)

func bruteForceNearest(vecs []*mockVec, query *mockVec, k int) []uint32 {
	type pair struct {
		id   uint32
		dist float64
	}
	pairs := make([]pair, len(vecs))
	for i, v := range vecs {
		sum := 0.0
		for j := range v.v {
			d := v.v[j] - query.v[j]
			sum += d * d
		}
		pairs[i] = pair{id: uint32(i), dist: sum}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		return pairs[i].id < pairs[j].id
	})
	ids := make([]uint32, 0, k)
	for i := 0; i < k && i < len(pairs); i++ {
		ids = append(ids, pairs[i].id)
	}
	return ids
}

func TestSearchRejectsBadArguments(t *testing.T) {
	g := newHybridGraph(t, testConfig(10), &mockEngine{size: 100}, &mockOracle{})
	ctx := context.Background()

	if _, err := g.Search(ctx, &mockVec{v: []float64{0}}, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Search(k=0) error = %v, want ErrInvalidArgument", err)
	}
	if _, err := g.Search(ctx, 42, 1); !errors.Is(err, ErrEncryption) {
		t.Errorf("Search(bad query) error = %v, want ErrEncryption", err)
	}
}

func TestSearchEmptyGraph(t *testing.T) {
	g := newHybridGraph(t, testConfig(11), &mockEngine{size: 100}, &mockOracle{})

	ids, err := g.Search(context.Background(), &mockVec{v: []float64{1, 2}}, 5)
	if err != nil {
		t.Fatalf("Search on empty graph: %v", err)
	}
	if ids == nil || len(ids) != 0 {
		t.Errorf("Search on empty graph = %v, want empty non-nil slice", ids)
	}
}

func TestSearchSingleNode(t *testing.T) {
	g := newHybridGraph(t, testConfig(12), &mockEngine{size: 100}, &mockOracle{})
	ctx := context.Background()

	if _, err := g.Insert(ctx, &mockVec{v: []float64{1, 1}}); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	ids, err := g.Search(ctx, &mockVec{v: []float64{0, 0}}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 1 || ids[0] != 0 {
		t.Errorf("Search = %v, want [0]", ids)
	}
}

func TestSearchFindsExactNeighborsHybrid(t *testing.T) {
	const (
		n   = 60
		dim = 4
		k   = 10
	)
	g := newHybridGraph(t, testConfig(13), &mockEngine{size: 100}, &mockOracle{})
	ctx := context.Background()

	vecs := randomVectors(n, dim, 13)
	for i, vec := range vecs {
		if _, err := g.Insert(ctx, vec); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	for qi, query := range randomVectors(5, dim, 130) {
		got, err := g.Search(ctx, query, k)
		if err != nil {
			t.Fatalf("Search %d: %v", qi, err)
		}
		want := bruteForceNearest(vecs, query, k)

		// The beam covers the whole graph at this size, so the result must
		// match brute force exactly, order included.
		if len(got) != len(want) {
			t.Fatalf("query %d: got %d results, want %d", qi, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("query %d: results %v, want %v", qi, got, want)
				break
			}
		}
	}
}

func TestSearchFindsNeighborsServerBlind(t *testing.T) {
	const (
		n   = 40
		dim = 3
		k   = 5
	)
	g := newBlindGraph(t, testConfig(14), &mockEngine{size: 100})
	ctx := context.Background()

	vecs := randomVectors(n, dim, 14)
	for i, vec := range vecs {
		if _, err := g.Insert(ctx, vec); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	query := randomVectors(1, dim, 140)[0]
	got, err := g.Search(ctx, query, k)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := bruteForceNearest(vecs, query, k)

	// The blind protocol has no tie-break pass, so compare as sets.
	wantSet := map[uint32]bool{}
	for _, id := range want {
		wantSet[id] = true
	}
	if len(got) != k {
		t.Fatalf("got %d results, want %d", len(got), k)
	}
	for _, id := range got {
		if !wantSet[id] {
			t.Errorf("result %d not among the true %d nearest %v", id, k, want)
		}
	}
}

func TestSearchReturnsAllWhenKExceedsSize(t *testing.T) {
	g := newHybridGraph(t, testConfig(15), &mockEngine{size: 100}, &mockOracle{})
	ctx := context.Background()

	for i, vec := range randomVectors(7, 3, 15) {
		if _, err := g.Insert(ctx, vec); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	ids, err := g.Search(ctx, randomVectors(1, 3, 150)[0], 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(ids) != 7 {
		t.Fatalf("Search(k=50) returned %d ids, want all 7", len(ids))
	}
	seen := map[uint32]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %d in results", id)
		}
		seen[id] = true
	}
}

func TestSearchExcludesDeleted(t *testing.T) {
	g := newHybridGraph(t, testConfig(16), &mockEngine{size: 100}, &mockOracle{})
	ctx := context.Background()

	vecs := randomVectors(20, 3, 16)
	for i, vec := range vecs {
		if _, err := g.Insert(ctx, vec); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	query := randomVectors(1, 3, 160)[0]
	nearest := bruteForceNearest(vecs, query, 1)[0]
	if err := g.Delete(nearest); err != nil {
		t.Fatalf("Delete(%d): %v", nearest, err)
	}

	ids, err := g.Search(ctx, query, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, id := range ids {
		if id == nearest {
			t.Fatalf("deleted node %d appeared in results %v", nearest, ids)
		}
	}
	if len(ids) != 5 {
		t.Errorf("got %d results after one deletion of 20 nodes, want 5", len(ids))
	}
}

func TestSearchBreaksTiesByID(t *testing.T) {
	g := newHybridGraph(t, testConfig(17), &mockEngine{size: 100}, &mockOracle{})
	ctx := context.Background()

	// Three identical vectors plus two distractors: the identical ones tie
	// exactly, and must come back in ascending id order.
	same := []float64{0.5, 0.5}
	for _, v := range [][]float64{same, same, same, {3, 3}, {-2, 1}} {
		vec := make([]float64, len(v))
		copy(vec, v)
		if _, err := g.Insert(ctx, &mockVec{v: vec}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	ids, err := g.Search(ctx, &mockVec{v: []float64{0.5, 0.5}}, 3)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for i, want := range []uint32{0, 1, 2} {
		if ids[i] != want {
			t.Fatalf("tied results = %v, want [0 1 2]", ids)
		}
	}
}

func TestSearchDoesNotMutateGraph(t *testing.T) {
	g := newHybridGraph(t, testConfig(18), &mockEngine{size: 100}, &mockOracle{})
	ctx := context.Background()

	for i, vec := range randomVectors(15, 3, 18) {
		if _, err := g.Insert(ctx, vec); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	type edgeKey struct {
		id    uint32
		layer int
	}
	before := map[edgeKey][]uint32{}
	for id := uint32(0); id < 15; id++ {
		node, _ := g.Node(id)
		for l := 0; l <= node.Level; l++ {
			before[edgeKey{id, l}] = append([]uint32{}, node.Neighbors(l)...)
		}
	}

	if _, err := g.Search(ctx, randomVectors(1, 3, 180)[0], 5); err != nil {
		t.Fatalf("Search: %v", err)
	}

	for key, want := range before {
		node, _ := g.Node(key.id)
		got := node.Neighbors(key.layer)
		if len(got) != len(want) {
			t.Fatalf("node %d layer %d changed during search", key.id, key.layer)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("node %d layer %d changed during search", key.id, key.layer)
			}
		}
	}
	if g.Len() != 15 {
		t.Errorf("Len() = %d after search, want 15", g.Len())
	}
}

func TestSearchDistancesAreSquaredL2(t *testing.T) {
	// Anchor the metric: with points on a line, nearest-by-squared-L2 is
	// unambiguous and independent of the traversal.
	g := newHybridGraph(t, testConfig(19), &mockEngine{size: 100}, &mockOracle{})
	ctx := context.Background()

	for _, x := range []float64{0, 1, 4, 9} {
		if _, err := g.Insert(ctx, &mockVec{v: []float64{x}}); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	ids, err := g.Search(ctx, &mockVec{v: []float64{3}}, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []uint32{2, 1, 0, 3} // distances 1, 4, 9, 36
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order = %v, want %v", ids, want)
		}
	}
}
