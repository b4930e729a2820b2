package remote

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/veildb/veil/go/pkg/crypto"
)

// Server is the key-holding side of the trust boundary: it receives
// serialized encrypted scalars and returns their plaintext values. It must
// be backed by a client engine (one that holds the secret key).
type Server struct {
	engine *crypto.Engine
}

// NewServer creates a decryption server backed by the given engine.
func NewServer(engine *crypto.Engine) (*Server, error) {
	if engine == nil {
		return nil, errors.New("remote: engine is required")
	}
	if !engine.CanDecrypt() {
		return nil, errors.New("remote: engine holds no secret key; use a client engine")
	}
	return &Server{engine: engine}, nil
}

// Register attaches the decryption service to a gRPC server.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&decryptServiceDesc, s)
}

func (s *Server) decryptScalar(_ context.Context, req *wrapperspb.BytesValue) (*wrapperspb.DoubleValue, error) {
	ct, err := s.engine.DeserializeCiphertext(req.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed ciphertext: %v", err)
	}

	v, err := s.engine.DecryptScalar(ct)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "decrypt failed: %v", err)
	}
	return wrapperspb.Double(v), nil
}
