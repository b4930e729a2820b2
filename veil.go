// Package veil provides approximate nearest-neighbor search over vectors
// that stay encrypted through storage, insertion, and query.
//
// Veil keeps a hierarchical navigable small world (HNSW) index in which every
// stored vector is a CKKS ciphertext. Distances between the encrypted query
// and encrypted nodes are computed homomorphically; the index-hosting side
// never sees a plaintext vector.
//
// # Quick Start
//
//	db, err := veil.NewDB(veil.Config{
//	    Dimension: 128,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	// Insert vectors (encrypted internally)
//	id, _ := db.Add(ctx, vector)
//
//	// Search
//	ids, err := db.Search(ctx, queryVector, 10)
//
// # Protocols
//
// Two navigation protocols are supported:
//
//   - [Hybrid] (default): the server computes encrypted partial distances and
//     transmits them to a client-side decryption oracle, which returns the
//     plaintext comparison results that drive navigation. Every transmitted
//     ciphertext is counted by the communication accountant, readable via
//     [DB.CommunicationBytes].
//   - [ServerBlind]: traversal decisions are resolved without transmitting
//     distances to the client. CKKS cannot order ciphertexts without a
//     decryption somewhere, so this mode delegates each comparison to the
//     key holder and requires [Config.TrustedComparison] to be set as an
//     explicit acknowledgement.
//
// The index is built incrementally: inserts and searches interleave freely
// under a single-writer discipline. Searches are safe to run concurrently
// with each other between insertions.
package veil

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"

	"github.com/veildb/veil/go/pkg/crypto"
	"github.com/veildb/veil/go/pkg/hnsw"
)

// Protocol selects how encrypted distance comparisons are resolved during
// graph traversal.
type Protocol int

const (
	// Hybrid transmits each encrypted partial distance to the client-side
	// decryption oracle and navigates on the returned plaintext. The bytes
	// of every transmitted ciphertext are tracked.
	Hybrid Protocol = iota

	// ServerBlind resolves comparisons without sending distances to the
	// client. With CKKS this degenerates to one decryption per comparison
	// on the key-holding side, which callers must acknowledge by setting
	// [Config.TrustedComparison].
	ServerBlind
)

// Config controls the behavior of a [DB] instance.
//
// Only [Config.Dimension] is required. All other fields have sensible defaults.
type Config struct {
	// Dimension is the length of each vector. Required.
	// All vectors added to the DB must have exactly this many elements.
	Dimension int

	// M is the maximum number of graph neighbors per node per layer above 0;
	// layer 0 allows 2M. Default: 16.
	M int

	// EfConstruction is the candidate beam width during insertion.
	// Higher values build a better graph at higher cost. Default: 200.
	EfConstruction int

	// EfSearch is the candidate beam width during queries.
	// Higher values improve recall at higher cost. Default: 100.
	EfSearch int

	// MaxLevel caps the random layer assigned to any node, bounding memory.
	// Default: 16.
	MaxLevel int

	// Protocol selects the navigation protocol. Default: Hybrid.
	Protocol Protocol

	// TrustedComparison acknowledges that the ServerBlind protocol performs
	// one decryption per comparison at the key holder. Required when
	// Protocol is ServerBlind; ignored otherwise.
	TrustedComparison bool

	// DecryptTimeout bounds each decrypt round trip under the Hybrid
	// protocol. A timed-out round trip surfaces as an error wrapping
	// [hnsw.ErrCommTimeout]. Zero means no per-call bound.
	DecryptTimeout time.Duration

	// Oracle overrides the decryption oracle used by the Hybrid protocol,
	// e.g. a remote.Client talking to a decryption service in another
	// process. Default: in-process decryption by the DB's own key holder.
	Oracle hnsw.Oracle

	// EncryptWorkers is the number of parallel encryption workers used by
	// [DB.AddBatch]. Encryption is stateless with respect to the graph, so
	// it parallelizes; insertion itself stays serialized.
	// Default: min(NumCPU, 8).
	EncryptWorkers int

	// Seed seeds the random level assignment for reproducible builds.
	// Zero means a time-based seed.
	Seed int64
}

// DB is a privacy-preserving approximate nearest-neighbor index.
//
// The DB owns both parties of the protocol for in-process use: the client
// engine holding the secret key, and the server engine that runs the
// homomorphic index. Splitting them across processes is a matter of wiring
// a remote oracle via [Config.Oracle].
type DB struct {
	cfg Config

	client *crypto.Engine
	server *crypto.Engine
	pool   *crypto.EnginePool
	graph  *hnsw.Graph

	mu     sync.Mutex
	closed bool
}

// NewDB creates a new encrypted vector index with the given configuration.
//
// This generates a fresh CKKS key pair including evaluation keys, which takes
// a few seconds; create one DB and reuse it.
func NewDB(cfg Config) (*DB, error) {
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("veil: Dimension is required and must be positive, got %d", cfg.Dimension)
	}
	if cfg.Protocol != Hybrid && cfg.Protocol != ServerBlind {
		return nil, fmt.Errorf("veil: unknown protocol: %d", cfg.Protocol)
	}
	if cfg.Protocol == ServerBlind && !cfg.TrustedComparison {
		return nil, fmt.Errorf("veil: ServerBlind requires Config.TrustedComparison: CKKS comparisons decrypt at the key holder")
	}

	applyDefaults(&cfg)

	client, err := crypto.NewClientEngine()
	if err != nil {
		return nil, fmt.Errorf("veil: failed to create HE engine: %w", err)
	}
	server := client.ServerEngine()

	// Sibling engines share the client's keys but carry their own scratch
	// buffers, so batch encryption can run on EncryptWorkers goroutines.
	pool, err := crypto.NewEnginePoolFrom(client, cfg.EncryptWorkers)
	if err != nil {
		return nil, fmt.Errorf("veil: failed to create engine pool: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	hcfg := hnsw.Config{
		M:              cfg.M,
		EfConstruction: cfg.EfConstruction,
		EfSearch:       cfg.EfSearch,
		MaxLevel:       cfg.MaxLevel,
		Rand:           rand.New(rand.NewSource(seed)),
		DecryptTimeout: cfg.DecryptTimeout,
	}

	var graph *hnsw.Graph
	if cfg.Protocol == ServerBlind {
		graph, err = hnsw.NewServerBlind(hcfg, ckksEngine{server}, trustedComparer{client})
	} else {
		oracle := cfg.Oracle
		if oracle == nil {
			oracle = localOracle{client}
		}
		graph, err = hnsw.NewHybrid(hcfg, ckksEngine{server}, oracle)
	}
	if err != nil {
		return nil, fmt.Errorf("veil: failed to create index: %w", err)
	}

	return &DB{
		cfg:    cfg,
		client: client,
		server: server,
		pool:   pool,
		graph:  graph,
	}, nil
}

// Add encrypts a vector and inserts it into the index, returning its id.
// Ids are assigned sequentially from 0 in insertion order.
//
// Vector values should be normalized for best CKKS precision; see
// [crypto.NormalizeVector].
func (db *DB) Add(ctx context.Context, vector []float64) (uint32, error) {
	if len(vector) != db.cfg.Dimension {
		return 0, fmt.Errorf("veil: vector dimension %d does not match DB dimension %d", len(vector), db.cfg.Dimension)
	}

	ct, err := db.pool.EncryptVector(vector)
	if err != nil {
		return 0, fmt.Errorf("veil: failed to encrypt vector: %w", err)
	}

	id, err := db.graph.Insert(ctx, ct)
	if err != nil {
		return 0, fmt.Errorf("veil: insert failed: %w", err)
	}
	return id, nil
}

// AddBatch encrypts multiple vectors in parallel and inserts them in order,
// returning the assigned ids. Each vector must have exactly
// [Config.Dimension] elements.
//
// Encryption runs on [Config.EncryptWorkers] goroutines; insertion itself is
// serialized, since graph mutation is single-writer.
func (db *DB) AddBatch(ctx context.Context, vectors [][]float64) ([]uint32, error) {
	for i, v := range vectors {
		if len(v) != db.cfg.Dimension {
			return nil, fmt.Errorf("veil: vector %d has dimension %d, expected %d", i, len(v), db.cfg.Dimension)
		}
	}

	cts := make([]*rlwe.Ciphertext, len(vectors))
	errs := make([]error, len(vectors))

	var wg sync.WaitGroup
	work := make(chan int)
	for w := 0; w < db.cfg.EncryptWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range work {
				cts[i], errs[i] = db.pool.EncryptVector(vectors[i])
			}
		}()
	}
	for i := range vectors {
		work <- i
	}
	close(work)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, fmt.Errorf("veil: failed to encrypt vector %d: %w", i, err)
		}
	}

	ids := make([]uint32, len(cts))
	for i, ct := range cts {
		id, err := db.graph.Insert(ctx, ct)
		if err != nil {
			return ids[:i], fmt.Errorf("veil: insert of vector %d failed: %w", i, err)
		}
		ids[i] = id
	}
	return ids, nil
}

// Search encrypts the query and returns the ids of up to topK nearest
// vectors, nearest first. An empty index yields an empty result.
func (db *DB) Search(ctx context.Context, query []float64, topK int) ([]uint32, error) {
	if len(query) != db.cfg.Dimension {
		return nil, fmt.Errorf("veil: query dimension %d does not match DB dimension %d", len(query), db.cfg.Dimension)
	}

	ct, err := db.pool.EncryptVector(query)
	if err != nil {
		return nil, fmt.Errorf("veil: failed to encrypt query: %w", err)
	}

	ids, err := db.graph.Search(ctx, ct, topK)
	if err != nil {
		return nil, fmt.Errorf("veil: search failed: %w", err)
	}
	return ids, nil
}

// Delete tombstones a vector: it stays in the graph for connectivity but is
// excluded from future results and neighbor selection.
func (db *DB) Delete(id uint32) error {
	if err := db.graph.Delete(id); err != nil {
		return fmt.Errorf("veil: %w", err)
	}
	return nil
}

// Size returns the number of vectors ever inserted, including deleted ones.
func (db *DB) Size() int {
	return db.graph.Len()
}

// CommunicationBytes returns the bytes of ciphertext transmitted across the
// trust boundary since the last reset. Always 0 under ServerBlind.
func (db *DB) CommunicationBytes() int64 {
	return db.graph.CommunicationBytes()
}

// ResetCommunicationCounter zeroes the communication counter. Call it at the
// start of a measurement window, never concurrently with an in-flight search.
func (db *DB) ResetCommunicationCounter() {
	db.graph.ResetCommunicationCounter()
}

// ClientEngine returns the key-holding engine, for wiring a remote
// decryption service (see pkg/remote) or decrypting values out of band.
func (db *DB) ClientEngine() *crypto.Engine {
	return db.client
}

// Close releases the DB. The DB must not be used after Close.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.closed = true
	db.graph = nil
	db.client = nil
	db.server = nil
	db.pool = nil
	return nil
}

// applyDefaults fills zero-value fields with production defaults.
func applyDefaults(cfg *Config) {
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
	if cfg.EncryptWorkers <= 0 {
		cfg.EncryptWorkers = runtime.NumCPU()
		if cfg.EncryptWorkers > 8 {
			cfg.EncryptWorkers = 8
		}
	}
}

// --- Capability adapters between pkg/crypto and pkg/hnsw ---

func asCiphertext(ct hnsw.Ciphertext) (*rlwe.Ciphertext, error) {
	rct, ok := ct.(*rlwe.Ciphertext)
	if !ok {
		return nil, fmt.Errorf("veil: unexpected ciphertext type %T", ct)
	}
	return rct, nil
}

// ckksEngine adapts the server-side crypto engine to [hnsw.Engine].
type ckksEngine struct {
	eng *crypto.Engine
}

func (e ckksEngine) DistanceSq(a, b hnsw.Ciphertext) (hnsw.Ciphertext, error) {
	ca, err := asCiphertext(a)
	if err != nil {
		return nil, err
	}
	cb, err := asCiphertext(b)
	if err != nil {
		return nil, err
	}
	return e.eng.HomomorphicDistanceSq(ca, cb)
}

func (e ckksEngine) SerializedSize(ct hnsw.Ciphertext) (int, error) {
	rct, err := asCiphertext(ct)
	if err != nil {
		return 0, err
	}
	return e.eng.CiphertextSize(rct), nil
}

func (e ckksEngine) Validate(ct hnsw.Ciphertext) error {
	rct, err := asCiphertext(ct)
	if err != nil {
		return err
	}
	return e.eng.ValidateCiphertext(rct)
}

// trustedComparer adapts the key holder's comparison to [hnsw.Comparer] for
// the ServerBlind protocol.
type trustedComparer struct {
	eng *crypto.Engine
}

func (t trustedComparer) Less(a, b hnsw.Ciphertext) (bool, error) {
	ca, err := asCiphertext(a)
	if err != nil {
		return false, err
	}
	cb, err := asCiphertext(b)
	if err != nil {
		return false, err
	}
	return t.eng.CompareDistances(ca, cb)
}

// localOracle implements [hnsw.Oracle] by decrypting in-process with the
// DB's own key holder. The context deadline is still honored so timeout
// semantics match a remote oracle.
type localOracle struct {
	eng *crypto.Engine
}

func (o localOracle) DecryptScalar(ctx context.Context, ct hnsw.Ciphertext) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	rct, err := asCiphertext(ct)
	if err != nil {
		return 0, err
	}
	return o.eng.DecryptScalar(rct)
}
