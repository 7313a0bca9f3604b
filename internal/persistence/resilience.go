package persistence

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// SQLite primary result codes that clear up on their own.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// RetryConfig configures exponential backoff for busy-database errors.
type RetryConfig struct {
	InitialInterval     time.Duration // Initial retry interval (default 50ms)
	MaxInterval         time.Duration // Maximum retry interval (default 1s)
	MaxElapsedTime      time.Duration // Maximum total retry time (default 10s)
	Multiplier          float64       // Backoff multiplier (default 2.0)
	RandomizationFactor float64       // Jitter factor (default 0.5)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     50 * time.Millisecond,
		MaxInterval:         time.Second,
		MaxElapsedTime:      10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// ResilientStore wraps a Store for a history database shared by several
// processes. Busy and locked errors are retried with exponential backoff. After
// three consecutive hard failures the circuit opens and calls fail fast with
// gobreaker.ErrOpenState for 30s.
type ResilientStore struct {
	store Store
	cb    *gobreaker.CircuitBreaker
	retry RetryConfig
}

// NewResilientStore wraps store.
func NewResilientStore(store Store, retry RetryConfig) *ResilientStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "history",
		MaxRequests: 1,                // One probe in half-open state
		Timeout:     30 * time.Second, // Stay open for 30s before probing
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("WARNING: %s store circuit %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Unknown IDs, busy retries and cancellation are not store failures
			return err == nil ||
				isTransient(err) ||
				errors.Is(err, ErrBatchNotFound) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	})
	return &ResilientStore{store: store, cb: cb, retry: retry}
}

// State returns the circuit breaker state.
func (r *ResilientStore) State() gobreaker.State {
	return r.cb.State()
}

func (r *ResilientStore) SaveBatch(ctx context.Context, b *Batch) error {
	_, err := call(ctx, r, func() (struct{}, error) {
		return struct{}{}, r.store.SaveBatch(ctx, b)
	})
	return err
}

func (r *ResilientStore) FinishBatch(ctx context.Context, b *Batch, results []TaskResult) error {
	_, err := call(ctx, r, func() (struct{}, error) {
		return struct{}{}, r.store.FinishBatch(ctx, b, results)
	})
	return err
}

func (r *ResilientStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	return call(ctx, r, func() (*Batch, error) {
		return r.store.GetBatch(ctx, id)
	})
}

func (r *ResilientStore) ListBatches(ctx context.Context, limit int) ([]*Batch, error) {
	return call(ctx, r, func() ([]*Batch, error) {
		return r.store.ListBatches(ctx, limit)
	})
}

func (r *ResilientStore) ListFailures(ctx context.Context, batchID string) ([]TaskResult, error) {
	return call(ctx, r, func() ([]TaskResult, error) {
		return r.store.ListFailures(ctx, batchID)
	})
}

// Close closes the wrapped store without retrying.
func (r *ResilientStore) Close() error {
	return r.store.Close()
}

// call runs op through the circuit breaker, retrying transient errors.
func call[T any](ctx context.Context, r *ResilientStore, op func() (T, error)) (T, error) {
	var out T

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := r.cb.Execute(func() (interface{}, error) {
			return op()
		})
		if err != nil {
			// Open circuit and permanent errors end the retry loop
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil || !isTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}

		out = result.(T)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retry.InitialInterval
	policy.MaxInterval = r.retry.MaxInterval
	policy.MaxElapsedTime = r.retry.MaxElapsedTime
	policy.Multiplier = r.retry.Multiplier
	policy.RandomizationFactor = r.retry.RandomizationFactor

	err := backoff.Retry(operation, backoff.WithContext(policy, ctx))
	return out, err
}

// isTransient reports whether err carries an SQLite busy or locked code,
// including extended codes such as SQLITE_BUSY_SNAPSHOT.
func isTransient(err error) bool {
	var coded interface{ Code() int }
	if !errors.As(err, &coded) {
		return false
	}
	switch coded.Code() & 0xff {
	case sqliteBusy, sqliteLocked:
		return true
	}
	return false
}
