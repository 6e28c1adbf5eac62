package idempotency

import (
	"context"
	"time"
)

// Repository stores idempotency records. Acquire must be atomic: of two
// concurrent calls for the same record, exactly one sees created == true.
type Repository interface {
	// Acquire inserts and locks record if it does not exist yet. Otherwise it
	// returns the stored record unchanged.
	Acquire(ctx context.Context, record *Record) (stored *Record, created bool, err error)

	// TakeOver re-locks a record whose lock is older than staleBefore
	TakeOver(ctx context.Context, id string, staleBefore time.Time) (bool, error)

	// Complete stores the response and clears the lock
	Complete(ctx context.Context, id string, code int, body []byte, headers map[string]string) error

	// Release drops an unfinished record so the key can be retried
	Release(ctx context.Context, id string) error

	// DeleteExpired removes records that expired before cutoff
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}
