// Package kvstore provides the small key-value persistence capability the
// engine uses for credentials and device settings. Backends: file (default
// on-device), redis (containerized deployments), memory (tests).
package kvstore

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("kvstore: key not found")

// Store is atomic per key. DeleteMany removes all given keys in one
// atomic step; the credential store relies on that for clearing tokens.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}
