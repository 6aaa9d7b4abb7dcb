package scriptruntime

import "context"

// Store exposes the key-value primitives script code reaches through the
// engine bridge. Each engine registration owns a dedicated Store connection
// so engine-internal access never aliases a client connection's state.
type Store interface {
	// Get returns the value for key, reporting whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key.
	Set(ctx context.Context, key, value string) error
}

// Dirty receives the mark-write signal for operations that must propagate
// to replicas and persistence. Implementations are provided by the server
// embedding this subsystem.
type Dirty interface {
	MarkDirty()
}
