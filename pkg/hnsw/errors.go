package hnsw

import "errors"

var (
	// ErrEncryption indicates a ciphertext the engine rejected as
	// incompatible with the current scheme parameters. Fatal to the
	// calling operation; never retried internally.
	ErrEncryption = errors.New("ciphertext rejected by encryption engine")

	// ErrInvalidArgument indicates a caller error such as k < 1 or a
	// negative level, rejected before any graph mutation.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound indicates an unknown node id.
	ErrNotFound = errors.New("node not found")

	// ErrCommTimeout indicates a decrypt round trip that exceeded the
	// configured bound. The caller may retry the search; the index never
	// auto-retries.
	ErrCommTimeout = errors.New("decrypt round trip timed out")
)
