package ingest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/JakeFAU/fightgraph-crawler/internal/metrics"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

// BufferConfig controls batching for the BufferManager.
//   - BatchSize: flush a collection once this many documents wait (default 250).
//   - DrainAttempts: attempts per collection when flushing at Close (default 3).
//   - DrainDelay: initial backoff between drain attempts (default 500ms).
//   - Topic: flush notification topic; empty disables notifications.
//   - RunID: identifies this process in notifications.
type BufferConfig struct {
	BatchSize     int
	DrainAttempts uint
	DrainDelay    time.Duration
	Topic         string
	RunID         string
}

const (
	defaultBatchSize     = 250
	defaultDrainAttempts = 3
	defaultDrainDelay    = 500 * time.Millisecond
)

// Publisher delivers flush notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock supplies timestamps for notifications.
type Clock interface {
	Now() time.Time
}

// FlushEvent describes a successful flush.
type FlushEvent struct {
	RunID      string     `json:"run_id,omitempty"`
	Collection Collection `json:"collection"`
	Submitted  int        `json:"submitted"`
	Inserted   int        `json:"inserted"`
	FlushedAt  time.Time  `json:"flushed_at"`
}

type buffer struct {
	mu   sync.Mutex
	docs []store.Document
}

// BufferManager holds one FIFO buffer per collection. Append and flush of a collection run under that
// collection's mutex, so a buffer never changes while its batch is being written. Drain at Close
// writes past any circuit breaker in front of the backend.
type BufferManager struct {
	cfg         BufferConfig
	writer      store.Writer
	drainWriter store.Writer
	publisher Publisher
	clock     Clock
	logger    *zap.Logger

	mu      sync.Mutex
	buffers map[Collection]*buffer
	closed  bool
}

// NewBufferManager constructs a manager writing to w. publisher and clock may be nil.
func NewBufferManager(cfg BufferConfig, w store.Writer, publisher Publisher, clock Clock, logger *zap.Logger) *BufferManager {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.DrainAttempts == 0 {
		cfg.DrainAttempts = defaultDrainAttempts
	}
	if cfg.DrainDelay <= 0 {
		cfg.DrainDelay = defaultDrainDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BufferManager{
		cfg:         cfg,
		writer:      w,
		drainWriter: store.Direct(w),
		publisher:   publisher,
		clock:       clock,
		logger:      logger,
		buffers:     make(map[Collection]*buffer),
	}
}

func (m *BufferManager) buffer(c Collection) (*buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	b, ok := m.buffers[c]
	if !ok {
		b = &buffer{docs: make([]store.Document, 0, m.cfg.BatchSize)}
		m.buffers[c] = b
	}
	return b, nil
}

// Append adds doc to the collection's buffer and flushes if the batch size is reached. The document
// stays buffered when the flush fails; the flush error is returned for accounting.
func (m *BufferManager) Append(ctx context.Context, c Collection, doc store.Document) error {
	b, err := m.buffer(c)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = append(b.docs, doc)
	metrics.SetBuffered(string(c), len(b.docs))
	return m.maybeFlushLocked(ctx, c, b)
}

// MaybeFlush writes the collection's buffer if it has reached the batch size.
func (m *BufferManager) MaybeFlush(ctx context.Context, c Collection) error {
	b, err := m.buffer(c)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return m.maybeFlushLocked(ctx, c, b)
}

func (m *BufferManager) maybeFlushLocked(ctx context.Context, c Collection, b *buffer) error {
	if len(b.docs) < m.cfg.BatchSize {
		return nil
	}
	return m.flushLocked(ctx, m.writer, c, b)
}

// flushLocked writes the whole buffer. The buffer is replaced only when the write succeeds.
func (m *BufferManager) flushLocked(ctx context.Context, w store.Writer, c Collection, b *buffer) error {
	submitted := len(b.docs)
	if submitted == 0 {
		return nil
	}
	inserted, err := w.InsertMany(ctx, string(c), b.docs)
	metrics.ObserveFlush(string(c), inserted, err)
	if err != nil {
		m.logger.Error("batch flush failed; keeping buffer",
			zap.String("collection", string(c)),
			zap.Int("buffered", submitted),
			zap.Error(err),
		)
		return fmt.Errorf("flush %s: %w", c, err)
	}
	b.docs = make([]store.Document, 0, m.cfg.BatchSize)
	metrics.SetBuffered(string(c), 0)
	m.logger.Info("batch flushed",
		zap.String("collection", string(c)),
		zap.Int("submitted", submitted),
		zap.Int("inserted", inserted),
	)
	m.notify(ctx, c, submitted, inserted)
	return nil
}

func (m *BufferManager) notify(ctx context.Context, c Collection, submitted, inserted int) {
	if m.publisher == nil || m.cfg.Topic == "" {
		return
	}
	evt := FlushEvent{
		RunID:      m.cfg.RunID,
		Collection: c,
		Submitted:  submitted,
		Inserted:   inserted,
	}
	if m.clock != nil {
		evt.FlushedAt = m.clock.Now()
	}
	if _, err := m.publisher.Publish(ctx, m.cfg.Topic, evt); err != nil {
		m.logger.Warn("flush notification failed", zap.String("collection", string(c)), zap.Error(err))
	}
}

// Len reports the number of documents waiting for a collection.
func (m *BufferManager) Len(c Collection) int {
	m.mu.Lock()
	b, ok := m.buffers[c]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.docs)
}

// Snapshot reports buffer lengths for every collection seen so far.
func (m *BufferManager) Snapshot() map[Collection]int {
	m.mu.Lock()
	collections := make([]Collection, 0, len(m.buffers))
	for c := range m.buffers {
		collections = append(collections, c)
	}
	m.mu.Unlock()

	out := make(map[Collection]int, len(collections))
	for _, c := range collections {
		out[c] = m.Len(c)
	}
	return out
}

// Close stops accepting documents and flushes every non-empty buffer, retrying each with exponential
// backoff. Collections that still fail are reported together; their documents remain buffered.
func (m *BufferManager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	collections := make([]Collection, 0, len(m.buffers))
	for c := range m.buffers {
		collections = append(collections, c)
	}
	m.mu.Unlock()
	sort.Slice(collections, func(i, j int) bool { return collections[i] < collections[j] })

	var result *multierror.Error
	for _, c := range collections {
		if err := m.drain(ctx, c); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (m *BufferManager) drain(ctx context.Context, c Collection) error {
	m.mu.Lock()
	b := m.buffers[c]
	m.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.docs) == 0 {
		return nil
	}
	err := retry.Do(
		func() error {
			if err := ctx.Err(); err != nil {
				return retry.Unrecoverable(err)
			}
			return m.flushLocked(ctx, m.drainWriter, c, b)
		},
		retry.Attempts(m.cfg.DrainAttempts),
		retry.Delay(m.cfg.DrainDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			m.logger.Warn("retrying drain flush",
				zap.String("collection", string(c)),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		m.logger.Error("records left unflushed at shutdown",
			zap.String("collection", string(c)),
			zap.Int("retained", len(b.docs)),
			zap.Error(err),
		)
		return fmt.Errorf("drain %s: %w", c, err)
	}
	return nil
}
