package state

import "context"

// Store is a small key/value persistence surface. The hedge engine
// uses it to cache its last pushed snapshot per position so the map
// can be rebuilt even when the orchestrator is unreachable at boot.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
