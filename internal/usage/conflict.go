package usage

import (
	"time"

	"github.com/mbd888/consultcredit/internal/retry"
)

const (
	updateAttempts  = 4
	updateBaseDelay = 10 * time.Millisecond
	updateMaxDelay  = 100 * time.Millisecond
)

// conflictPolicy retries an account write that lost a race, counting each
// retry against store.
func conflictPolicy(store string, retryable func(error) bool) retry.Policy {
	return retry.Policy{
		Attempts:  updateAttempts,
		BaseDelay: updateBaseDelay,
		MaxDelay:  updateMaxDelay,
		Retryable: retryable,
		OnRetry: func(int, error) {
			StoreConflictRetries.WithLabelValues(store).Inc()
		},
	}
}
