package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/fightgraph-crawler/internal/metrics"
	"github.com/JakeFAU/fightgraph-crawler/internal/queue/memory"
	"github.com/JakeFAU/fightgraph-crawler/internal/record"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

// Config controls the pipeline.
type Config struct {
	BatchSize     int
	Workers       int
	QueueDepth    int
	DrainAttempts uint
	DrainDelay    time.Duration
	Policies      Policies
	Topic         string
	RunID         string
}

// Stats counts records by outcome.
type Stats struct {
	Received       int64 `json:"received"`
	Unknown        int64 `json:"unknown"`
	Malformed      int64 `json:"malformed"`
	Duplicates     int64 `json:"duplicates"`
	Buffered       int64 `json:"buffered"`
	FlushFailures  int64 `json:"flush_failures"`
	LookupFailures int64 `json:"lookup_failures"`
}

type counters struct {
	received       atomic.Int64
	unknown        atomic.Int64
	malformed      atomic.Int64
	duplicates     atomic.Int64
	buffered       atomic.Int64
	flushFailures  atomic.Int64
	lookupFailures atomic.Int64
}

// Pipeline owns the routing, dedup and buffering state of one process. Records reach it either
// synchronously through Process or through a bounded queue drained by worker goroutines.
type Pipeline struct {
	cfg     Config
	store   store.Store
	deduper *Deduper
	buffers *BufferManager
	queue   *memory.Queue[record.Record]
	logger  *zap.Logger
	stats   counters

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
	closeErr  error
}

// New constructs a Pipeline over st. publisher and clock may be nil.
func New(cfg Config, st store.Store, publisher Publisher, clock Clock, logger *zap.Logger) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 1024
	}
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		cfg:     cfg,
		store:   st,
		deduper: NewDeduper(st, cfg.Policies),
		buffers: NewBufferManager(BufferConfig{
			BatchSize:     cfg.BatchSize,
			DrainAttempts: cfg.DrainAttempts,
			DrainDelay:    cfg.DrainDelay,
			Topic:         cfg.Topic,
			RunID:         cfg.RunID,
		}, st, publisher, clock, logger.Named("buffer")),
		queue:  memory.NewQueue[record.Record](cfg.QueueDepth),
		logger: logger,
	}
}

// Prepare ensures the hash and identifying-link indexes exist for every collection.
func (p *Pipeline) Prepare(ctx context.Context) error {
	for _, c := range Collections() {
		if err := p.store.EnsureIndex(ctx, string(c), store.HashField); err != nil {
			return fmt.Errorf("ensure hash index on %s: %w", c, err)
		}
		if err := p.store.EnsureIndex(ctx, string(c), IdentityField(c)); err != nil {
			return fmt.Errorf("ensure %s index on %s: %w", IdentityField(c), c, err)
		}
	}
	return nil
}

// Start launches the workers. Workers keep running after ctx is canceled so queued records are not
// lost; they stop once Close has closed the queue and it is empty.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		workCtx := context.WithoutCancel(ctx)
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.work(workCtx, i)
		}
		p.logger.Info("pipeline started", zap.Int("workers", p.cfg.Workers), zap.Int("queue_depth", p.cfg.QueueDepth))
	})
}

func (p *Pipeline) work(ctx context.Context, id int) {
	defer p.wg.Done()
	logger := p.logger.With(zap.Int("worker_id", id))
	for {
		rec, err := p.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, memory.ErrClosed) {
				logger.Warn("worker stopped", zap.Error(err))
			}
			return
		}
		_ = p.Process(ctx, rec)
	}
}

// Submit queues rec for the workers, blocking while the queue is full.
func (p *Pipeline) Submit(ctx context.Context, rec record.Record) error {
	if err := p.queue.Enqueue(ctx, rec); err != nil {
		if errors.Is(err, memory.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("submit record: %w", err)
	}
	return nil
}

// Process routes, validates, deduplicates and buffers rec. A nil error means the record is buffered.
// Dropped records return ErrUnknownVariant, ErrMalformedExtraction or ErrDuplicateRecord; they are
// logged here and never abort the crawl.
func (p *Pipeline) Process(ctx context.Context, rec record.Record) error {
	p.stats.received.Add(1)

	c, err := Route(rec)
	if err != nil {
		p.stats.unknown.Add(1)
		metrics.ObserveRecord("unknown", "unknown_variant")
		p.logger.Warn("dropping record with unknown variant", zap.Error(err))
		return err
	}
	collection := string(c)

	if err := rec.Validate(); err != nil {
		p.stats.malformed.Add(1)
		metrics.ObserveRecord(collection, "malformed")
		p.logger.Warn("dropping malformed record", zap.String("collection", collection), zap.Error(err))
		return err
	}

	doc, digest := p.deduper.Digest(rec)
	dup, err := p.deduper.IsDuplicate(ctx, c, digest)
	switch {
	case err != nil:
		// The store's unique hash index still rejects the record if it turns out to exist.
		p.stats.lookupFailures.Add(1)
		p.logger.Warn("duplicate check failed; buffering record",
			zap.String("collection", collection),
			zap.String("hash", digest),
			zap.Error(err),
		)
	case dup:
		p.stats.duplicates.Add(1)
		metrics.ObserveRecord(collection, "duplicate")
		p.logger.Info("duplicate item found",
			zap.String("collection", collection),
			zap.String("hash", digest),
		)
		return fmt.Errorf("%w: %s in %s", ErrDuplicateRecord, digest, collection)
	}

	if err := p.buffers.Append(ctx, c, doc); err != nil {
		if errors.Is(err, ErrClosed) {
			return err
		}
		p.stats.flushFailures.Add(1)
	}
	p.stats.buffered.Add(1)
	metrics.ObserveRecord(collection, "buffered")
	return nil
}

// Close stops accepting records, waits for the workers to empty the queue, and drains every buffer.
// The caller closes the store afterwards.
func (p *Pipeline) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		p.queue.Close()
		p.wg.Wait()
		p.closeErr = p.buffers.Close(ctx)
		s := p.Stats()
		p.logger.Info("pipeline closed",
			zap.Int64("received", s.Received),
			zap.Int64("buffered", s.Buffered),
			zap.Int64("duplicates", s.Duplicates),
			zap.Int64("malformed", s.Malformed),
			zap.Int64("unknown", s.Unknown),
			zap.Int64("flush_failures", s.FlushFailures),
		)
	})
	return p.closeErr
}

// Stats returns a snapshot of the record counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:       p.stats.received.Load(),
		Unknown:        p.stats.unknown.Load(),
		Malformed:      p.stats.malformed.Load(),
		Duplicates:     p.stats.duplicates.Load(),
		Buffered:       p.stats.buffered.Load(),
		FlushFailures:  p.stats.flushFailures.Load(),
		LookupFailures: p.stats.lookupFailures.Load(),
	}
}

// Buffers reports the current buffer lengths.
func (p *Pipeline) Buffers() map[Collection]int {
	return p.buffers.Snapshot()
}

// Pending reports records queued but not yet processed.
func (p *Pipeline) Pending() int {
	return p.queue.Len()
}
