package memory

import "errors"

var (
	// ErrProviderFailure wraps embedding provider errors.
	ErrProviderFailure = errors.New("embedding provider failure")
	// ErrIndexInconsistency marks an index key with no stored chunk.
	ErrIndexInconsistency = errors.New("index key has no stored chunk")
	// ErrInvalidChunk is returned for chunks that fail validation.
	ErrInvalidChunk = errors.New("invalid chunk")
	// ErrUnknownKind is returned for unrecognised collection kinds.
	ErrUnknownKind = errors.New("unknown collection kind")
)
