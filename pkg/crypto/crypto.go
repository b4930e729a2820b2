// Package crypto provides homomorphic encryption operations using the Lattigo
// CKKS scheme. CKKS supports approximate arithmetic on encrypted real-valued
// vectors, which is what the secure index needs: encrypted squared distances
// between ciphertext vectors, plus decryption of encrypted scalars on the
// key-holding side.
package crypto

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/he/hefloat"
)

// Engine provides homomorphic encryption operations using the CKKS scheme.
//
// A client engine (see [NewClientEngine]) holds the secret key and can
// encrypt, decrypt, and compare. A server engine (see [Engine.ServerEngine])
// holds only public material and evaluation keys: it can compute encrypted
// distances but can never produce a plaintext.
type Engine struct {
	params    hefloat.Parameters
	encoder   *hefloat.Encoder
	evaluator *hefloat.Evaluator

	// Only set on client side
	secretKey *rlwe.SecretKey
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor

	publicKey *rlwe.PublicKey
	evk       *rlwe.MemEvaluationKeySet

	mu sync.RWMutex
}

// NewParameters creates CKKS parameters for encrypted distance computation.
// Uses 128-bit security with LogN=14 supporting vectors up to 8192 dimensions.
func NewParameters() (hefloat.Parameters, error) {
	// LogN=14 gives 2^14 = 16384 coefficients (8192 complex slots).
	// LogDefaultScale=45 provides good precision for normalized vectors.
	// The modulus chain leaves enough levels for one ciphertext-ciphertext
	// multiplication (the squaring inside the distance) plus rotations.
	params, err := hefloat.NewParametersFromLiteral(hefloat.ParametersLiteral{
		LogN:            14,                                    // Ring degree 2^14 = 16384
		LogQ:            []int{60, 45, 45, 45, 45, 45, 45, 45}, // Ciphertext modulus chain
		LogP:            []int{61, 61},                         // Special primes for key-switching
		LogDefaultScale: 45,                                    // Scale for encoding (2^45)
	})
	if err != nil {
		return hefloat.Parameters{}, fmt.Errorf("failed to create CKKS parameters: %w", err)
	}
	return params, nil
}

// NewClientEngine creates an encryption engine for client-side operations.
// Generates a fresh key pair plus the evaluation keys (relinearization and
// rotation keys) needed for encrypted distance computation.
func NewClientEngine() (*Engine, error) {
	params, err := NewParameters()
	if err != nil {
		return nil, fmt.Errorf("failed to create parameters: %w", err)
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()

	// Relinearization key for ciphertext-ciphertext multiplication, Galois
	// keys for the power-of-two rotations of the tree-based slot summation.
	evk := rlwe.NewMemEvaluationKeySet(
		kgen.GenRelinearizationKeyNew(sk),
		kgen.GenGaloisKeysNew(galoisElements(params), sk)...,
	)

	return &Engine{
		params:    params,
		encoder:   hefloat.NewEncoder(params),
		evaluator: hefloat.NewEvaluator(params, evk),
		secretKey: sk,
		publicKey: pk,
		evk:       evk,
		encryptor: rlwe.NewEncryptor(params, pk),
		decryptor: rlwe.NewDecryptor(params, sk),
	}, nil
}

// ServerEngine derives an engine holding only the client's public material
// and evaluation keys. It can run every homomorphic operation but has no
// decryption capability.
//
// This models the index-hosting party for in-process deployments. A remote
// deployment would additionally transfer the Galois and relinearization keys
// over the wire alongside the public key.
func (e *Engine) ServerEngine() *Engine {
	return &Engine{
		params:    e.params,
		encoder:   hefloat.NewEncoder(e.params),
		evaluator: hefloat.NewEvaluator(e.params, e.evk),
		publicKey: e.publicKey,
		evk:       e.evk,
	}
}

// NewServerEngine creates an encryption engine from a serialized public key.
// The result can encrypt but holds no evaluation keys, so it cannot compute
// encrypted distances; use [Engine.ServerEngine] for the index-hosting side.
func NewServerEngine(publicKeyBytes []byte) (*Engine, error) {
	params, err := NewParameters()
	if err != nil {
		return nil, fmt.Errorf("failed to create parameters: %w", err)
	}

	pk := rlwe.NewPublicKey(params)
	if _, err := pk.ReadFrom(bytes.NewReader(publicKeyBytes)); err != nil {
		return nil, fmt.Errorf("failed to deserialize public key: %w", err)
	}

	return &Engine{
		params:    params,
		encoder:   hefloat.NewEncoder(params),
		evaluator: hefloat.NewEvaluator(params, nil),
		publicKey: pk,
	}, nil
}

// galoisElements returns the Galois elements needed for the power-of-two
// rotations of the tree-based slot summation.
func galoisElements(params hefloat.Parameters) []uint64 {
	logN := params.LogN()
	elements := make([]uint64, logN)
	for i := 0; i < logN; i++ {
		elements[i] = params.GaloisElement(1 << i)
	}
	return elements
}

// GetPublicKeyBytes returns the serialized public key for distribution.
func (e *Engine) GetPublicKeyBytes() ([]byte, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.publicKey == nil {
		return nil, errors.New("no public key available")
	}

	buf := new(bytes.Buffer)
	if _, err := e.publicKey.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to serialize public key: %w", err)
	}
	return buf.Bytes(), nil
}

// EncryptVector encrypts a float64 vector using CKKS.
// Values should be normalized to [-1, 1] range for best precision.
// Safe to call concurrently: encryption is stateless with respect to the
// shared public key and parameters.
func (e *Engine) EncryptVector(vector []float64) (*rlwe.Ciphertext, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.encryptor == nil {
		return nil, errors.New("encryptor not available (server-side engine?)")
	}

	maxSlots := e.params.MaxSlots()
	if len(vector) > maxSlots {
		return nil, fmt.Errorf("vector dimension %d exceeds slot capacity %d", len(vector), maxSlots)
	}

	// Pad to max slots with 0; zero slots contribute nothing to the
	// distance sum.
	paddedVector := make([]float64, maxSlots)
	copy(paddedVector, vector)

	pt := hefloat.NewPlaintext(e.params, e.params.MaxLevel())
	if err := e.encoder.Encode(paddedVector, pt); err != nil {
		return nil, fmt.Errorf("failed to encode vector: %w", err)
	}

	ct, err := e.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	return ct, nil
}

// DecryptVector decrypts a ciphertext back to a float64 vector.
func (e *Engine) DecryptVector(ct *rlwe.Ciphertext, length int) ([]float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.decryptor == nil {
		return nil, errors.New("decryptor not available (server-side engine?)")
	}

	pt := e.decryptor.DecryptNew(ct)

	decoded := make([]float64, length)
	if err := e.encoder.Decode(pt, decoded); err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}

	return decoded, nil
}

// DecryptScalar decrypts a ciphertext containing a single scalar value
// (a distance result replicated across slots).
func (e *Engine) DecryptScalar(ct *rlwe.Ciphertext) (float64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.decryptor == nil {
		return 0, errors.New("decryptor not available (server-side engine?)")
	}

	pt := e.decryptor.DecryptNew(ct)

	decoded := make([]float64, 1)
	if err := e.encoder.Decode(pt, decoded); err != nil {
		return 0, fmt.Errorf("failed to decode: %w", err)
	}

	return decoded[0], nil
}

// HomomorphicDistanceSq computes E(||a - b||^2) from E(a) and E(b) without
// decrypting anything: subtract, square (with relinearization and rescale),
// then tree-sum all slots by rotate-and-add. The result carries the squared
// distance in every slot.
//
// Note: uses the full lock because the Lattigo evaluator is not thread-safe.
func (e *Engine) HomomorphicDistanceSq(a, b *rlwe.Ciphertext) (*rlwe.Ciphertext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if a == nil || b == nil {
		return nil, errors.New("nil ciphertext")
	}

	diff, err := e.evaluator.SubNew(a, b)
	if err != nil {
		return nil, fmt.Errorf("failed to subtract: %w", err)
	}

	sq, err := e.evaluator.MulRelinNew(diff, diff)
	if err != nil {
		return nil, fmt.Errorf("failed to square: %w", err)
	}
	if err := e.evaluator.Rescale(sq, sq); err != nil {
		return nil, fmt.Errorf("failed to rescale: %w", err)
	}

	// Tree-based slot summation: after log2(maxSlots) rotate-and-add steps
	// every slot holds the total.
	maxSlots := e.params.MaxSlots()
	for i := 1; i < maxSlots; i *= 2 {
		rotated, err := e.evaluator.RotateNew(sq, i)
		if err != nil {
			return nil, fmt.Errorf("failed to rotate by %d: %w", i, err)
		}
		if err := e.evaluator.Add(sq, rotated, sq); err != nil {
			return nil, fmt.Errorf("failed to add: %w", err)
		}
	}

	return sq, nil
}

// CompareDistances reports whether the scalar encrypted in a is smaller than
// the one in b, using a single decryption of the homomorphic difference.
//
// This is the degenerate realization of a "blind" comparison: CKKS cannot
// order ciphertexts without decrypting, so the comparison must run on the
// key-holding side. Callers opting into it must flag that explicitly in
// their configuration.
func (e *Engine) CompareDistances(a, b *rlwe.Ciphertext) (bool, error) {
	e.mu.Lock()
	diff, err := e.evaluator.SubNew(a, b)
	e.mu.Unlock()
	if err != nil {
		return false, fmt.Errorf("failed to subtract: %w", err)
	}

	sign, err := e.DecryptScalar(diff)
	if err != nil {
		return false, fmt.Errorf("failed to decrypt comparison: %w", err)
	}
	return sign < 0, nil
}

// ValidateCiphertext checks that a ciphertext is structurally compatible
// with the engine's parameters. Called once per insertion or query, not per
// comparison.
func (e *Engine) ValidateCiphertext(ct *rlwe.Ciphertext) error {
	if ct == nil {
		return errors.New("nil ciphertext")
	}
	if ct.Degree() < 1 {
		return fmt.Errorf("ciphertext degree %d, expected >= 1", ct.Degree())
	}
	if ct.Level() > e.params.MaxLevel() {
		return fmt.Errorf("ciphertext level %d exceeds maximum %d", ct.Level(), e.params.MaxLevel())
	}
	return nil
}

// CiphertextSize returns the serialized size of a ciphertext in bytes, as it
// would travel across the trust boundary.
func (e *Engine) CiphertextSize(ct *rlwe.Ciphertext) int {
	return ct.BinarySize()
}

// SerializeCiphertext serializes a ciphertext to bytes for transmission.
func (e *Engine) SerializeCiphertext(ct *rlwe.Ciphertext) ([]byte, error) {
	buf := new(bytes.Buffer)
	if _, err := ct.WriteTo(buf); err != nil {
		return nil, fmt.Errorf("failed to serialize ciphertext: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeCiphertext deserializes bytes to a ciphertext.
func (e *Engine) DeserializeCiphertext(data []byte) (*rlwe.Ciphertext, error) {
	ct := rlwe.NewCiphertext(e.params, 1, e.params.MaxLevel())
	if _, err := ct.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to deserialize ciphertext: %w", err)
	}
	return ct, nil
}

// GetParams returns the CKKS parameters.
func (e *Engine) GetParams() hefloat.Parameters {
	return e.params
}

// CanDecrypt reports whether this engine holds the secret key.
func (e *Engine) CanDecrypt() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.decryptor != nil
}

// NormalizeVector normalizes a vector to unit length.
func NormalizeVector(vector []float64) []float64 {
	var norm float64
	for _, v := range vector {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	if norm == 0 {
		return vector
	}

	normalized := make([]float64, len(vector))
	for i, v := range vector {
		normalized[i] = v / norm
	}
	return normalized
}
