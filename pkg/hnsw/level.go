package hnsw

import (
	"math"
	"math/rand"
)

// levelGenerator draws the layer for each new node from a geometric-like
// distribution: repeated uniform draws below exp(-1/ln M) each raise the
// level by one, capped at maxLevel. The expected fraction of nodes at level
// >= l is exp(-l/ln M), giving exponentially sparser upper layers.
//
// The random source is injected so tests can seed it deterministically; level
// assignment is independent of vector content by construction.
type levelGenerator struct {
	prob     float64
	maxLevel int
	rng      *rand.Rand
}

func newLevelGenerator(m, maxLevel int, rng *rand.Rand) *levelGenerator {
	return &levelGenerator{
		prob:     math.Exp(-1.0 / math.Log(float64(m))),
		maxLevel: maxLevel,
		rng:      rng,
	}
}

func (g *levelGenerator) next() int {
	level := 0
	for g.rng.Float64() < g.prob && level < g.maxLevel {
		level++
	}
	return level
}
