// Package lock provides exclusive per-key locking for aggregate
// read-modify-write sequences. Every pre-invoice mutation acquires the lock
// for the whole sequence, never just the final write, so concurrent actions
// (a validation racing a block re-evaluation, for example) cannot lose
// updates.
package lock

import (
	"context"
	"time"
)

// Manager acquires exclusive locks by key. Acquire blocks until the lock is
// held or the context is done; the returned release function must be called
// once the read-modify-write sequence completes.
type Manager interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

const (
	// leaseTTL bounds how long a crashed holder can keep a distributed lock
	leaseTTL = 30 * time.Second

	// retryInterval is the polling interval while waiting for a held lock
	retryInterval = 50 * time.Millisecond
)
