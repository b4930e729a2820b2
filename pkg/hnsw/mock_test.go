package hnsw

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"
)

// mockVec is a plaintext vector behind an opaque handle, standing in for an
// encrypted vector so graph behavior can be tested without an HE scheme.
type mockVec struct {
	v []float64
}

// mockDist is the "encrypted" squared distance produced by the mock engine.
type mockDist struct {
	v float64
}

// mockEngine computes distances in the clear but only ever hands out opaque
// handles, matching the shape of the real CKKS engine.
type mockEngine struct {
	size int // reported wire size per distance ciphertext
}

func (e *mockEngine) DistanceSq(a, b Ciphertext) (Ciphertext, error) {
	va, ok := a.(*mockVec)
	if !ok {
		return nil, errors.New("mock: not a vector ciphertext")
	}
	vb, ok := b.(*mockVec)
	if !ok {
		return nil, errors.New("mock: not a vector ciphertext")
	}
	sum := 0.0
	for i := range va.v {
		d := va.v[i] - vb.v[i]
		sum += d * d
	}
	return &mockDist{v: sum}, nil
}

func (e *mockEngine) SerializedSize(ct Ciphertext) (int, error) {
	if _, ok := ct.(*mockDist); !ok {
		return 0, errors.New("mock: not a distance ciphertext")
	}
	return e.size, nil
}

func (e *mockEngine) Validate(ct Ciphertext) error {
	if _, ok := ct.(*mockVec); !ok {
		return errors.New("mock: incompatible ciphertext")
	}
	return nil
}

// mockOracle decrypts mock distances, counting calls. A non-zero delay
// simulates a slow round trip while honoring the context deadline.
type mockOracle struct {
	calls atomic.Int64
	delay time.Duration
}

func (o *mockOracle) DecryptScalar(ctx context.Context, ct Ciphertext) (float64, error) {
	o.calls.Add(1)
	if o.delay > 0 {
		select {
		case <-time.After(o.delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	d, ok := ct.(*mockDist)
	if !ok {
		return 0, errors.New("mock: not a distance ciphertext")
	}
	return d.v, nil
}

// mockComparer compares mock distances without exposing their values to the
// graph, standing in for the server-blind comparison capability.
type mockComparer struct{}

func (mockComparer) Less(a, b Ciphertext) (bool, error) {
	da, ok := a.(*mockDist)
	if !ok {
		return false, errors.New("mock: not a distance ciphertext")
	}
	db, ok := b.(*mockDist)
	if !ok {
		return false, errors.New("mock: not a distance ciphertext")
	}
	return da.v < db.v, nil
}

func randomVectors(n, dim int, seed int64) []*mockVec {
	rng := rand.New(rand.NewSource(seed))
	out := make([]*mockVec, n)
	for i := range out {
		v := make([]float64, dim)
		for j := range v {
			v[j] = rng.Float64()
		}
		out[i] = &mockVec{v: v}
	}
	return out
}

func newHybridGraph(t interface{ Fatalf(string, ...any) }, cfg Config, eng *mockEngine, oracle *mockOracle) *Graph {
	g, err := NewHybrid(cfg, eng, oracle)
	if err != nil {
		t.Fatalf("NewHybrid: %v", err)
	}
	return g
}

func newBlindGraph(t interface{ Fatalf(string, ...any) }, cfg Config, eng *mockEngine) *Graph {
	g, err := NewServerBlind(cfg, eng, mockComparer{})
	if err != nil {
		t.Fatalf("NewServerBlind: %v", err)
	}
	return g
}
