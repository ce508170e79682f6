package port

import "context"

type BlobStore interface {
	// Get returns the value stored under key, or nil when the key is absent
	Get(ctx context.Context, key string) ([]byte, error)

	// SetMany overwrites all entries in one atomic write
	SetMany(ctx context.Context, entries map[string][]byte) error
}
