package port

import "context"

// WriterLock serializes ledger operations. Acquire blocks until the caller
// holds the lock or ctx is done; the returned func releases it.
type WriterLock interface {
	Acquire(ctx context.Context) (release func(), err error)
}
