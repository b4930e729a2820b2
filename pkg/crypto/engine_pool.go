package crypto

import (
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// EnginePool manages a pool of HE engines for parallel operations.
// Each engine has its own encryptor and evaluator (not thread-safe), but all
// of them share the same keys. This allows parallel encryption and distance
// computation without the serialization bottleneck of a single engine.
type EnginePool struct {
	engines []*Engine
	free    chan *Engine
}

// NewEnginePool creates a pool of n engines with a freshly generated key set.
// Recommended: n = runtime.NumCPU() for optimal parallelism.
func NewEnginePool(n int) (*EnginePool, error) {
	primary, err := NewClientEngine()
	if err != nil {
		return nil, fmt.Errorf("failed to create primary engine: %w", err)
	}
	return NewEnginePoolFrom(primary, n)
}

// NewEnginePoolFrom creates a pool of n engines sharing primary's keys.
// The primary engine itself becomes the first pool member.
func NewEnginePoolFrom(primary *Engine, n int) (*EnginePool, error) {
	if n < 1 {
		n = 1
	}

	pool := &EnginePool{
		engines: make([]*Engine, n),
		free:    make(chan *Engine, n),
	}

	pool.engines[0] = primary
	pool.free <- primary

	for i := 1; i < n; i++ {
		engine := newSiblingEngine(primary)
		pool.engines[i] = engine
		pool.free <- engine
	}

	return pool, nil
}

// newSiblingEngine creates an engine sharing an existing engine's keys but
// with its own encoder, encryptor, decryptor, and evaluator. The evaluation
// key set is read-only and safely shared; the per-engine objects are the ones
// carrying scratch buffers, which is why each sibling gets fresh copies.
func newSiblingEngine(primary *Engine) *Engine {
	e := &Engine{
		params:    primary.params,
		encoder:   hefloat.NewEncoder(primary.params),
		evaluator: hefloat.NewEvaluator(primary.params, primary.evk),
		secretKey: primary.secretKey,
		publicKey: primary.publicKey,
		evk:       primary.evk,
	}
	if primary.publicKey != nil {
		e.encryptor = rlwe.NewEncryptor(primary.params, primary.publicKey)
	}
	if primary.secretKey != nil {
		e.decryptor = rlwe.NewDecryptor(primary.params, primary.secretKey)
	}
	return e
}

// Acquire gets an engine from the pool. Blocks if none available.
// The caller MUST call Release when done.
func (p *EnginePool) Acquire() *Engine {
	return <-p.free
}

// Release returns an engine to the pool.
func (p *EnginePool) Release(e *Engine) {
	p.free <- e
}

// Size returns the number of engines in the pool.
func (p *EnginePool) Size() int {
	return len(p.engines)
}

// GetParams returns the CKKS parameters (same for all engines).
func (p *EnginePool) GetParams() hefloat.Parameters {
	return p.engines[0].params
}

// GetPrimaryEngine returns the first engine (useful when a stable engine
// identity is needed, e.g. for wiring a decryption service).
func (p *EnginePool) GetPrimaryEngine() *Engine {
	return p.engines[0]
}

// EncryptVector encrypts a vector using any free engine.
func (p *EnginePool) EncryptVector(vector []float64) (*rlwe.Ciphertext, error) {
	engine := p.Acquire()
	defer p.Release(engine)
	return engine.EncryptVector(vector)
}

// DecryptScalar decrypts a scalar result using any free engine.
func (p *EnginePool) DecryptScalar(ct *rlwe.Ciphertext) (float64, error) {
	engine := p.Acquire()
	defer p.Release(engine)
	return engine.DecryptScalar(ct)
}

// HomomorphicDistanceSq computes an encrypted squared distance using any free
// engine.
func (p *EnginePool) HomomorphicDistanceSq(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	engine := p.Acquire()
	defer p.Release(engine)
	return engine.HomomorphicDistanceSq(a, b)
}
