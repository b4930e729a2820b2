package hnsw

import "context"

// Ciphertext is an opaque handle to an encrypted value produced by the HE
// engine. The index never inspects its contents; it only stores handles,
// passes them back to the engine, or hands them to a decryption oracle.
type Ciphertext any

// Engine is the capability surface the index requires from the homomorphic
// encryption implementation. Implementations must tolerate concurrent calls
// for independent ciphertexts (see pkg/crypto for the CKKS engine).
type Engine interface {
	// DistanceSq homomorphically computes the encrypted squared L2 distance
	// between two encrypted vectors. The result is an encrypted scalar
	// replicated across slots.
	DistanceSq(a, b Ciphertext) (Ciphertext, error)

	// SerializedSize reports the wire size of a ciphertext in bytes.
	// Used for communication accounting in the hybrid protocol.
	SerializedSize(ct Ciphertext) (int, error)

	// Validate checks that a ciphertext is compatible with the engine's
	// scheme parameters. Called once per insertion and once per search,
	// never per comparison.
	Validate(ct Ciphertext) error
}

// Comparer orders two encrypted distances without revealing their values to
// the index host. This is the server-blind comparison capability: whether it
// can be realized without any decryption depends entirely on the scheme.
// Engines that can only compare by decrypting must be explicitly flagged as
// such in the caller's configuration (see veil.Config.TrustedComparison).
type Comparer interface {
	// Less reports whether the distance encrypted in a is smaller than the
	// distance encrypted in b.
	Less(a, b Ciphertext) (bool, error)
}

// Oracle decrypts an encrypted scalar at the trusted client. Implementations
// cross the trust boundary: every call corresponds to one ciphertext
// transmitted to the key holder and one plaintext value returned. The context
// carries the per-call deadline for the round trip.
type Oracle interface {
	DecryptScalar(ctx context.Context, ct Ciphertext) (float64, error)
}
