// Command decrypt-service runs the key-holding decryption oracle for the
// hybrid search protocol.
//
// It generates a fresh CKKS key set on startup and serves the veil.Decrypt
// gRPC service. The index-hosting side connects with a remote.Client and
// needs the matching public material, which the service writes to -pubkey-out
// if given.
package main

import (
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/veildb/veil/go/pkg/crypto"
	"github.com/veildb/veil/go/pkg/remote"
)

var (
	grpcPort  = flag.Int("grpc-port", 50051, "gRPC server port")
	pubkeyOut = flag.String("pubkey-out", "", "File to write the serialized public key to (optional)")
	tlsCert   = flag.String("tls-cert", "", "TLS certificate file (optional)")
	tlsKey    = flag.String("tls-key", "", "TLS key file (optional)")
)

func main() {
	flag.Parse()

	log.Println("Starting decrypt service...")

	log.Println("Generating CKKS key set (this takes a few seconds)...")
	engine, err := crypto.NewClientEngine()
	if err != nil {
		log.Fatalf("Failed to create HE engine: %v", err)
	}

	if *pubkeyOut != "" {
		pk, err := engine.GetPublicKeyBytes()
		if err != nil {
			log.Fatalf("Failed to serialize public key: %v", err)
		}
		if err := os.WriteFile(*pubkeyOut, pk, 0o600); err != nil {
			log.Fatalf("Failed to write public key: %v", err)
		}
		log.Printf("Public key written to %s (%d bytes)", *pubkeyOut, len(pk))
	}

	srv, err := remote.NewServer(engine)
	if err != nil {
		log.Fatalf("Failed to create decrypt server: %v", err)
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(50 * 1024 * 1024), // large ciphertext payloads
		grpc.MaxSendMsgSize(50 * 1024 * 1024),
		grpc.ChainUnaryInterceptor(
			remote.RecoveryUnaryInterceptor(),
			remote.LoggingUnaryInterceptor(),
		),
	}
	if *tlsCert != "" && *tlsKey != "" {
		creds, err := remote.LoadTLSCredentials(*tlsCert, *tlsKey)
		if err != nil {
			log.Fatalf("Failed to load TLS credentials: %v", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
		log.Println("TLS enabled")
	}
	grpcServer := grpc.NewServer(serverOpts...)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	reflection.Register(grpcServer)

	srv.Register(grpcServer)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", *grpcPort))
	if err != nil {
		log.Fatalf("Failed to listen on port %d: %v", *grpcPort, err)
	}

	go func() {
		log.Printf("Decrypt service listening on %s", lis.Addr())
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("gRPC server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Println("Shutting down...")
	grpcServer.GracefulStop()
	log.Println("Stopped")
}
