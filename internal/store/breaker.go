package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerConfig controls when the circuit opens and how long it stays open.
type BreakerConfig struct {
	Name             string
	FailureThreshold uint32
	OpenTimeout      time.Duration
	HalfOpenRequests uint32
}

// Breaker wraps a Store with circuit breakers. Reads (FindOne, Distinct, EnsureIndex) and writes
// (InsertMany) trip independently, so a backend rejecting writes opens the write circuit even while
// lookups keep succeeding. While a circuit is open its calls fail fast with ErrUnavailable without
// reaching the backend.
type Breaker struct {
	next   Store
	read   *gobreaker.CircuitBreaker[any]
	write  *gobreaker.CircuitBreaker[any]
	logger *zap.Logger
}

var _ Store = (*Breaker)(nil)

// NewBreaker wraps next.
func NewBreaker(next Store, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = "store"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	return &Breaker{
		next:   next,
		read:   newCircuit(cfg.Name+"-read", cfg, logger),
		write:  newCircuit(cfg.Name+"-write", cfg, logger),
		logger: logger,
	}
}

func newCircuit(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// State reports the worse of the read and write circuit states for status endpoints.
func (b *Breaker) State() string {
	read, write := b.read.State(), b.write.State()
	switch {
	case read == gobreaker.StateOpen || write == gobreaker.StateOpen:
		return gobreaker.StateOpen.String()
	case read == gobreaker.StateHalfOpen || write == gobreaker.StateHalfOpen:
		return gobreaker.StateHalfOpen.String()
	default:
		return gobreaker.StateClosed.String()
	}
}

// ReadState reports the state of the lookup circuit.
func (b *Breaker) ReadState() string { return b.read.State().String() }

// WriteState reports the state of the insert circuit.
func (b *Breaker) WriteState() string { return b.write.State().String() }

// Direct returns the backend behind w when w is a Breaker, otherwise w itself. Writes made through
// the result never fail fast on an open circuit.
func Direct(w Writer) Writer {
	for {
		b, ok := w.(*Breaker)
		if !ok {
			return w
		}
		w = b.next
	}
}

func execute(cb *gobreaker.CircuitBreaker[any], fn func() error) error {
	_, err := cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// FindOne implements Finder.
func (b *Breaker) FindOne(ctx context.Context, collection, field, value string) (Document, bool, error) {
	var (
		doc   Document
		found bool
	)
	err := execute(b.read, func() error {
		var err error
		doc, found, err = b.next.FindOne(ctx, collection, field, value)
		return err
	})
	return doc, found, err
}

// InsertMany implements Writer.
func (b *Breaker) InsertMany(ctx context.Context, collection string, docs []Document) (int, error) {
	var inserted int
	err := execute(b.write, func() error {
		var err error
		inserted, err = b.next.InsertMany(ctx, collection, docs)
		return err
	})
	return inserted, err
}

// EnsureIndex implements Store.
func (b *Breaker) EnsureIndex(ctx context.Context, collection, field string) error {
	return execute(b.read, func() error {
		return b.next.EnsureIndex(ctx, collection, field)
	})
}

// Distinct implements Store.
func (b *Breaker) Distinct(ctx context.Context, collection, field string) ([]string, error) {
	var values []string
	err := execute(b.read, func() error {
		var err error
		values, err = b.next.Distinct(ctx, collection, field)
		return err
	})
	return values, err
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

// Close closes the wrapped store.
func (b *Breaker) Close() error {
	return b.next.Close()
}
