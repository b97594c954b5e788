// Package blob provides the object-store abstraction job packages are pulled
// from. The platform assumes an external blob-like store; the core only needs
// keyed reads, so the interface stays minimal and the filesystem
// implementation stands in for the managed service.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Store is a keyed object store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}
