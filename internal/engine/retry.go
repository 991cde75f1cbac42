package engine

import (
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// retryableCodes are the Postgres SQLSTATE codes the Engine treats as
// transient: serialization_failure and deadlock_detected. Re-running the
// whole Submit step is safe because no in-memory book mutation happens
// before commit.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// isRetryable classifies err as a transient infrastructure error worth
// another attempt.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableCodes[pgErr.Code]
	}
	return false
}

// backoffPolicy computes exponential backoff with full jitter, capped at
// maxDelay, for the given zero-based attempt number.
type backoffPolicy struct {
	base     time.Duration
	max      time.Duration
	attempts int
}

func newBackoffPolicy(base, max time.Duration, attempts int) backoffPolicy {
	return backoffPolicy{base: base, max: max, attempts: attempts}
}

func (p backoffPolicy) delay(attempt int) time.Duration {
	d := p.base << attempt
	if d <= 0 || d > p.max {
		d = p.max
	}
	return time.Duration(rand.Int63n(int64(d) + 1))
}

// withRetry runs fn up to p.attempts times, sleeping between attempts per
// the backoff policy whenever fn's error is transient. It returns the last
// error once attempts are exhausted or fn returns a non-retryable error.
func withRetry(p backoffPolicy, fn func() error) error {
	var err error
	for attempt := 0; attempt < p.attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt == p.attempts-1 {
			break
		}
		time.Sleep(p.delay(attempt))
	}
	return err
}
