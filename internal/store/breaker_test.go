package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fightgraph-crawler/internal/store"
	"github.com/JakeFAU/fightgraph-crawler/internal/store/memory"
)

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	backend := memory.New()
	b := store.NewBreaker(backend, store.BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      time.Hour,
	}, zap.NewNop())
	ctx := context.Background()
	docs := []store.Document{{"hash": "a"}}

	boom := errors.New("connection reset")
	backend.FailInserts(boom)

	for i := 0; i < 2; i++ {
		_, err := b.InsertMany(ctx, "events", docs)
		require.ErrorIs(t, err, boom)
		assert.False(t, errors.Is(err, store.ErrUnavailable))
	}

	backend.FailInserts(nil)
	_, err := b.InsertMany(ctx, "events", docs)
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, "open", b.State())
	assert.Empty(t, backend.Documents("events"))
}

func TestBreakerPassesThroughWhenClosed(t *testing.T) {
	t.Parallel()

	backend := memory.New()
	b := store.NewBreaker(backend, store.BreakerConfig{}, nil)
	ctx := context.Background()

	n, err := b.InsertMany(ctx, "organizations", []store.Document{{"hash": "a", "link": "https://example.com/o"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	doc, found, err := b.FindOne(ctx, "organizations", "link", "https://example.com/o")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "a", doc.Hash())

	links, err := b.Distinct(ctx, "organizations", "link")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/o"}, links)
	require.NoError(t, b.EnsureIndex(ctx, "organizations", "link"))
	require.NoError(t, b.Ping(ctx))
	assert.Equal(t, "closed", b.State())
	require.NoError(t, b.Close())
}

func TestBreakerIgnoresCancellation(t *testing.T) {
	t.Parallel()

	backend := memory.New()
	backend.FailLookups(context.Canceled)
	b := store.NewBreaker(backend, store.BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, _, err := b.FindOne(context.Background(), "events", "hash", "x")
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, "closed", b.State())
}

func TestBreakerTripsOnWriteFailuresBetweenReads(t *testing.T) {
	t.Parallel()

	backend := memory.New()
	b := store.NewBreaker(backend, store.BreakerConfig{
		FailureThreshold: 3,
		OpenTimeout:      time.Hour,
	}, zap.NewNop())
	ctx := context.Background()
	docs := []store.Document{{"hash": "a", "link": "https://example.com/p/1"}}

	boom := errors.New("permission denied for table participants")
	backend.FailInserts(boom)
	for i := 0; i < 3; i++ {
		_, found, err := b.FindOne(ctx, "participants", "hash", "a")
		require.NoError(t, err)
		assert.False(t, found)

		_, err = b.InsertMany(ctx, "participants", docs)
		require.ErrorIs(t, err, boom)
	}

	_, err := b.InsertMany(ctx, "participants", docs)
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Equal(t, "open", b.WriteState())
	assert.Equal(t, "closed", b.ReadState())
	assert.Equal(t, "open", b.State())

	_, _, err = b.FindOne(ctx, "participants", "hash", "a")
	require.NoError(t, err)
}

func TestDirectUnwrapsBreaker(t *testing.T) {
	t.Parallel()

	backend := memory.New()
	b := store.NewBreaker(backend, store.BreakerConfig{FailureThreshold: 1, OpenTimeout: time.Hour}, zap.NewNop())
	ctx := context.Background()
	docs := []store.Document{{"hash": "a"}}

	backend.FailInserts(errors.New("connection reset"))
	_, err := b.InsertMany(ctx, "events", docs)
	require.Error(t, err)
	backend.FailInserts(nil)

	_, err = b.InsertMany(ctx, "events", docs)
	require.ErrorIs(t, err, store.ErrUnavailable)

	n, err := store.Direct(b).InsertMany(ctx, "events", docs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Same(t, backend, store.Direct(backend))
}

func TestValidateName(t *testing.T) {
	t.Parallel()

	require.NoError(t, store.ValidateName("participant_profiles"))
	require.Error(t, store.ValidateName("events; DROP TABLE x"))
	require.Error(t, store.ValidateName("1events"))
}
