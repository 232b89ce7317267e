package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
	"github.com/JakeFAU/fightgraph-crawler/internal/store/memory"
)

type fakePublisher struct {
	mu     sync.Mutex
	topics []string
	events []FlushEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.topics = append(f.topics, topic)
	f.events = append(f.events, payload.(FlushEvent))
	return fmt.Sprintf("msg-%d", len(f.events)), nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func stub(i int) record.ParticipantStub {
	return record.ParticipantStub{
		Link:        fmt.Sprintf("https://example.com/fighters/%d", i),
		WeightClass: record.Optional("Lightweight"),
	}
}

func newTestPipeline(st *memory.Store, batch int) *Pipeline {
	return New(Config{
		BatchSize:     batch,
		Workers:       2,
		QueueDepth:    8,
		DrainAttempts: 2,
		DrainDelay:    time.Millisecond,
	}, st, nil, nil, zap.NewNop())
}

func TestBatchThresholdAndCloseFlush(t *testing.T) {
	t.Parallel()

	st := memory.New()
	p := newTestPipeline(st, 3)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Process(ctx, stub(i)))
	}
	assert.Equal(t, []int{3}, st.InsertCalls())
	assert.Equal(t, 2, p.Buffers()[CollectionParticipants])
	assert.Len(t, st.Documents(string(CollectionParticipants)), 3)

	require.NoError(t, p.Close(ctx))
	assert.Equal(t, []int{3, 2}, st.InsertCalls())
	assert.Len(t, st.Documents(string(CollectionParticipants)), 5)
	assert.Equal(t, 0, p.Buffers()[CollectionParticipants])
}

func TestIdenticalRecordAcrossRunsStoredOnce(t *testing.T) {
	t.Parallel()

	st := memory.New()
	ctx := context.Background()
	rec := record.Organization{Name: record.Optional("UFC"), Link: "https://example.com/o/ufc"}

	first := newTestPipeline(st, 10)
	require.NoError(t, first.Process(ctx, rec))
	require.NoError(t, first.Close(ctx))

	second := newTestPipeline(st, 10)
	err := second.Process(ctx, rec)
	require.ErrorIs(t, err, ErrDuplicateRecord)
	require.NoError(t, second.Close(ctx))

	docs := st.Documents(string(CollectionOrganizations))
	require.Len(t, docs, 1)
	assert.Equal(t, Missing, docs[0]["headquarters"])
	assert.Equal(t, int64(1), second.Stats().Duplicates)
}

func TestIntraBufferDuplicatesAbsorbedByStore(t *testing.T) {
	t.Parallel()

	st := memory.New()
	p := newTestPipeline(st, 10)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, stub(1)))
	require.NoError(t, p.Process(ctx, stub(1)))
	require.NoError(t, p.Close(ctx))

	assert.Len(t, st.Documents(string(CollectionParticipants)), 1)
}

func TestFailedFlushRetainsBuffer(t *testing.T) {
	t.Parallel()

	st := memory.New()
	p := newTestPipeline(st, 2)
	ctx := context.Background()

	st.FailInserts(errors.New("connection refused"))
	require.NoError(t, p.Process(ctx, stub(1)))
	require.NoError(t, p.Process(ctx, stub(2)))
	assert.Equal(t, 2, p.Buffers()[CollectionParticipants])
	assert.Equal(t, int64(1), p.Stats().FlushFailures)
	assert.Empty(t, st.Documents(string(CollectionParticipants)))

	st.FailInserts(nil)
	require.NoError(t, p.Process(ctx, stub(3)))
	assert.Equal(t, []int{3}, st.InsertCalls())
	assert.Len(t, st.Documents(string(CollectionParticipants)), 3)
	assert.Equal(t, 0, p.Buffers()[CollectionParticipants])
}

func TestCloseReportsUndrainedCollections(t *testing.T) {
	t.Parallel()

	st := memory.New()
	p := newTestPipeline(st, 10)
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, stub(1)))
	require.NoError(t, p.Process(ctx, record.Event{EventLink: "https://example.com/e/1"}))
	st.FailInserts(errors.New("disk full"))

	err := p.Close(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drain events")
	assert.Contains(t, err.Error(), "drain participants")
	assert.Equal(t, 1, p.Buffers()[CollectionParticipants])
	assert.Empty(t, st.InsertCalls())

	require.ErrorIs(t, p.Process(ctx, stub(2)), ErrClosed)
}

func TestCloseDrainsPastOpenBreaker(t *testing.T) {
	t.Parallel()

	backend := memory.New()
	guarded := store.NewBreaker(backend, store.BreakerConfig{
		FailureThreshold: 1,
		OpenTimeout:      time.Hour,
	}, zap.NewNop())
	p := New(Config{
		BatchSize:     2,
		Workers:       1,
		QueueDepth:    4,
		DrainAttempts: 2,
		DrainDelay:    time.Millisecond,
	}, guarded, nil, nil, zap.NewNop())
	ctx := context.Background()

	backend.FailInserts(errors.New("connection refused"))
	require.NoError(t, p.Process(ctx, stub(1)))
	require.NoError(t, p.Process(ctx, stub(2)))
	assert.Equal(t, "open", guarded.WriteState())

	backend.FailInserts(nil)
	require.NoError(t, p.Process(ctx, stub(3)))
	assert.Equal(t, int64(2), p.Stats().FlushFailures)
	assert.Empty(t, backend.Documents(string(CollectionParticipants)))
	assert.Equal(t, "open", guarded.WriteState())

	require.NoError(t, p.Close(ctx))
	assert.Equal(t, []int{3}, backend.InsertCalls())
	assert.Len(t, backend.Documents(string(CollectionParticipants)), 3)
	assert.Equal(t, 0, p.Buffers()[CollectionParticipants])
}

func TestConcurrentProcessFlushesEveryRecord(t *testing.T) {
	t.Parallel()

	const records = 300
	st := memory.New()
	p := newTestPipeline(st, 3)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, records)
	for i := 0; i < records; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- p.Process(ctx, stub(i))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	calls := st.InsertCalls()
	require.Len(t, calls, records/3)
	for _, n := range calls {
		assert.Equal(t, 3, n)
	}
	assert.Len(t, st.Documents(string(CollectionParticipants)), records)
	assert.Equal(t, 0, p.Buffers()[CollectionParticipants])

	require.NoError(t, p.Close(ctx))
	assert.Len(t, st.InsertCalls(), records/3)
	stats := p.Stats()
	assert.Equal(t, int64(records), stats.Received)
	assert.Equal(t, int64(records), stats.Buffered)
	assert.Zero(t, stats.FlushFailures)
}

func TestDropsUnknownAndMalformedRecords(t *testing.T) {
	t.Parallel()

	st := memory.New()
	p := newTestPipeline(st, 1)
	ctx := context.Background()

	require.ErrorIs(t, p.Process(ctx, oddRecord{}), ErrUnknownVariant)
	require.ErrorIs(t, p.Process(ctx, record.Event{OrgLink: "https://example.com/o/1"}), ErrMalformedExtraction)
	require.NoError(t, p.Close(ctx))

	stats := p.Stats()
	assert.Equal(t, int64(2), stats.Received)
	assert.Equal(t, int64(1), stats.Unknown)
	assert.Equal(t, int64(1), stats.Malformed)
	assert.Empty(t, st.InsertCalls())
}

func TestLookupFailureStillBuffers(t *testing.T) {
	t.Parallel()

	st := memory.New()
	p := newTestPipeline(st, 10)
	ctx := context.Background()

	st.FailLookups(errors.New("timeout"))
	require.NoError(t, p.Process(ctx, stub(1)))
	st.FailLookups(nil)
	require.NoError(t, p.Close(ctx))

	assert.Len(t, st.Documents(string(CollectionParticipants)), 1)
	assert.Equal(t, int64(1), p.Stats().LookupFailures)
}

func TestSubmitThroughWorkers(t *testing.T) {
	t.Parallel()

	st := memory.New()
	p := newTestPipeline(st, 4)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(ctx, stub(i)))
	}
	cancel()
	require.NoError(t, p.Close(context.Background()))

	assert.Len(t, st.Documents(string(CollectionParticipants)), 10)
	assert.Equal(t, int64(10), p.Stats().Buffered)
	require.ErrorIs(t, p.Submit(context.Background(), stub(11)), ErrClosed)
}

func TestPrepareEnsuresIndexes(t *testing.T) {
	t.Parallel()

	st := memory.New()
	p := newTestPipeline(st, 10)
	require.NoError(t, p.Prepare(context.Background()))

	assert.ElementsMatch(t, []string{"hash", "event_link"}, st.Indexes(string(CollectionEvents)))
	assert.ElementsMatch(t, []string{"hash", "link"}, st.Indexes(string(CollectionParticipantProfiles)))
}

func TestFlushPublishesNotification(t *testing.T) {
	t.Parallel()

	st := memory.New()
	pub := &fakePublisher{}
	now := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	p := New(Config{BatchSize: 2, Topic: "flushes", RunID: "run-1"}, st, pub, fixedClock{now: now}, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, p.Process(ctx, stub(1)))
	require.NoError(t, p.Process(ctx, stub(2)))

	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"flushes"}, pub.topics)
	assert.Equal(t, FlushEvent{
		RunID:      "run-1",
		Collection: CollectionParticipants,
		Submitted:  2,
		Inserted:   2,
		FlushedAt:  now,
	}, pub.events[0])

	pub.err = errors.New("topic not found")
	require.NoError(t, p.Process(ctx, stub(3)))
	require.NoError(t, p.Close(ctx))
	assert.Len(t, st.Documents(string(CollectionParticipants)), 3)
}
