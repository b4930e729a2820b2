package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/veildb/veil/go/pkg/crypto"
	"github.com/veildb/veil/go/pkg/hnsw"
)

// Client implements [hnsw.Oracle] over a gRPC connection to a remote
// decryption server. Each call serializes one encrypted scalar, ships it
// across the trust boundary, and blocks until the plaintext comes back or
// the context deadline expires.
type Client struct {
	conn   *grpc.ClientConn
	engine *crypto.Engine
}

// NewClient creates a decryption-oracle client. The engine is only used to
// serialize ciphertexts; it does not need the secret key.
func NewClient(conn *grpc.ClientConn, engine *crypto.Engine) *Client {
	return &Client{conn: conn, engine: engine}
}

// DecryptScalar implements [hnsw.Oracle]. A deadline exceeded on the round
// trip is reported as context.DeadlineExceeded so the index can surface its
// communication-timeout error.
func (c *Client) DecryptScalar(ctx context.Context, ct hnsw.Ciphertext) (float64, error) {
	rct, ok := ct.(*rlwe.Ciphertext)
	if !ok {
		return 0, fmt.Errorf("remote: unexpected ciphertext type %T", ct)
	}

	data, err := c.engine.SerializeCiphertext(rct)
	if err != nil {
		return 0, fmt.Errorf("remote: serialize ciphertext: %w", err)
	}

	out := new(wrapperspb.DoubleValue)
	if err := c.conn.Invoke(ctx, decryptScalarMethod, wrapperspb.Bytes(data), out); err != nil {
		if status.Code(err) == codes.DeadlineExceeded || errors.Is(err, context.DeadlineExceeded) {
			return 0, context.DeadlineExceeded
		}
		return 0, fmt.Errorf("remote: decrypt rpc: %w", err)
	}
	return out.GetValue(), nil
}
