// adapter.go defines the persistence collaborator interface and its
// factory. The store calls adapters asynchronously and never blocks a
// session mutation on adapter latency.
package store

import (
	"context"
	"fmt"
)

// Adapter is the pluggable persistence backend. Load returns (nil, nil)
// when the id is unknown; Delete reports whether anything was removed.
type Adapter interface {
	Save(id string, state []byte) error
	Load(id string) ([]byte, error)
	List() ([]string, error)
	Delete(id string) (bool, error)
	Close() error
}

// OpenAdapter builds an Adapter for the configured backend.
// Backend "none" (or empty) returns nil: in-memory-only operation.
func OpenAdapter(ctx context.Context, backend, dsn string) (Adapter, error) {
	switch backend {
	case "", "none":
		return nil, nil
	case "sqlite":
		return NewSQLiteAdapter(dsn)
	case "redis":
		return NewRedisAdapter(ctx, dsn)
	default:
		return nil, fmt.Errorf("unknown persistence backend %q", backend)
	}
}
