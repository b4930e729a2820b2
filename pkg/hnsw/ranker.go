package hnsw

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ranker turns an encrypted distance into something the traversal can order.
// The two implementations are the two protocol variants: blindRanker never
// leaves the encrypted domain, hybridRanker ships each distance to the
// decryption oracle and works with the returned plaintext.
type ranker interface {
	rank(ctx context.Context, encDist Ciphertext) (rankedDist, error)
	less(a, b rankedDist) (bool, error)

	// ordered reports whether ranked distances carry a usable plaintext
	// value, allowing deterministic tie-breaking of final results.
	ordered() bool
}

// blindRanker resolves comparisons through the engine's encrypted comparison
// capability. No plaintext distance is ever produced on the index host.
type blindRanker struct {
	cmp Comparer
}

func (r *blindRanker) rank(_ context.Context, encDist Ciphertext) (rankedDist, error) {
	return rankedDist{ct: encDist}, nil
}

func (r *blindRanker) less(a, b rankedDist) (bool, error) {
	return r.cmp.Less(a.ct, b.ct)
}

func (r *blindRanker) ordered() bool { return false }

// hybridRanker sends every encrypted distance to the client-side oracle for
// decryption, charging its serialized size to the accountant first. The round
// trip is synchronous: traversal cannot proceed until the plaintext value is
// back. A non-zero timeout bounds each round trip.
type hybridRanker struct {
	engine  Engine
	oracle  Oracle
	acct    *Accountant
	timeout time.Duration
}

func (r *hybridRanker) rank(ctx context.Context, encDist Ciphertext) (rankedDist, error) {
	size, err := r.engine.SerializedSize(encDist)
	if err != nil {
		return rankedDist{}, fmt.Errorf("serialized size: %w", err)
	}
	r.acct.add(size)

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	v, err := r.oracle.DecryptScalar(ctx, encDist)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return rankedDist{}, fmt.Errorf("decrypt distance: %w", ErrCommTimeout)
		}
		return rankedDist{}, fmt.Errorf("decrypt distance: %w", err)
	}
	return rankedDist{ct: encDist, plain: v}, nil
}

func (r *hybridRanker) less(a, b rankedDist) (bool, error) {
	return a.plain < b.plain, nil
}

func (r *hybridRanker) ordered() bool { return true }
