package storage

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/scrypster/casetrace/pkg/types"
)

// BreakerConfig tunes the circuit breaker protecting a remote backend.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures required to trip
	// the circuit. Default: 3.
	MaxFailures uint32

	// Timeout is how long the circuit stays open before allowing test
	// requests. Default: 30 seconds.
	Timeout time.Duration

	// HalfOpenMaxSuccesses is the number of consecutive successes required
	// in half-open state to close the circuit. Default: 2.
	HalfOpenMaxSuccesses uint32
}

// BreakerStore wraps an EntityStore behind a circuit breaker so that a
// failing remote backend (e.g. PostgreSQL) sheds load quickly instead of
// stalling every caller. Domain errors (ErrNotFound, ErrInvalidArgument,
// ErrInvalidInput) count as successes: they prove the backend answered.
type BreakerStore struct {
	inner   EntityStore
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps inner with a circuit breaker using default settings.
func NewBreakerStore(inner EntityStore, name string) *BreakerStore {
	return NewBreakerStoreWithConfig(inner, name, BreakerConfig{
		MaxFailures:          3,
		Timeout:              30 * time.Second,
		HalfOpenMaxSuccesses: 2,
	})
}

// NewBreakerStoreWithConfig wraps inner with a custom breaker configuration.
func NewBreakerStoreWithConfig(inner EntityStore, name string, cfg BreakerConfig) *BreakerStore {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxSuccesses == 0 {
		cfg.HalfOpenMaxSuccesses = 2
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			return errors.Is(err, ErrNotFound) ||
				errors.Is(err, ErrInvalidArgument) ||
				errors.Is(err, ErrInvalidInput)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("storage: breaker %s: %s -> %s", name, from, to)
		},
	}

	return &BreakerStore{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// State returns the breaker state: "closed", "open", or "half-open".
func (b *BreakerStore) State() string {
	switch b.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func (b *BreakerStore) execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	result, err := b.breaker.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrBackendUnavailable
	}
	return result, err
}

func (b *BreakerStore) StoreEntities(ctx context.Context, ref types.ReportRef, records []types.Record) error {
	_, err := b.execute(ctx, func() (interface{}, error) {
		return nil, b.inner.StoreEntities(ctx, ref, records)
	})
	return err
}

func (b *BreakerStore) ReportEntities(ctx context.Context, reportID string, category types.Category) (map[types.Category][]types.Record, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.ReportEntities(ctx, reportID, category)
	})
	if err != nil {
		return nil, err
	}
	return result.(map[types.Category][]types.Record), nil
}

func (b *BreakerStore) Entity(ctx context.Context, entityID string) (*types.Entity, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Entity(ctx, entityID)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Entity), nil
}

func (b *BreakerStore) EntityReports(ctx context.Context, entityID string) ([]EntityReport, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.EntityReports(ctx, entityID)
	})
	if err != nil {
		return nil, err
	}
	return result.([]EntityReport), nil
}

func (b *BreakerStore) ReportRef(ctx context.Context, reportID string) (types.ReportRef, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.ReportRef(ctx, reportID)
	})
	if err != nil {
		return types.ReportRef{}, err
	}
	return result.(types.ReportRef), nil
}

func (b *BreakerStore) Search(ctx context.Context, category types.Category, term string, limit int) ([]SearchHit, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Search(ctx, category, term, limit)
	})
	if err != nil {
		return nil, err
	}
	return result.([]SearchHit), nil
}

func (b *BreakerStore) DeleteReport(ctx context.Context, reportID string) error {
	_, err := b.execute(ctx, func() (interface{}, error) {
		return nil, b.inner.DeleteReport(ctx, reportID)
	})
	return err
}

func (b *BreakerStore) Statistics(ctx context.Context) (*types.Statistics, error) {
	result, err := b.execute(ctx, func() (interface{}, error) {
		return b.inner.Statistics(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*types.Statistics), nil
}

// Close bypasses the breaker: shutdown must always reach the backend.
func (b *BreakerStore) Close() error {
	return b.inner.Close()
}
