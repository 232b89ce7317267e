package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/fightgraph-crawler/internal/fetch"
	"github.com/JakeFAU/fightgraph-crawler/internal/ingest"
	"github.com/JakeFAU/fightgraph-crawler/internal/metrics"
	"github.com/JakeFAU/fightgraph-crawler/internal/record"
	"github.com/JakeFAU/fightgraph-crawler/internal/resume"
	"github.com/JakeFAU/fightgraph-crawler/internal/retry"
)

// Submitter accepts finished records; *ingest.Pipeline implements it.
type Submitter interface {
	Submit(ctx context.Context, rec record.Record) error
}

// Skipper reports entities that are already stored; *resume.Controller implements it.
type Skipper interface {
	ShouldSkip(ctx context.Context, link string, collection ingest.Collection) (bool, error)
}

// Archiver keeps raw page bodies; *archive.Archiver implements it.
type Archiver interface {
	Save(ctx context.Context, family, pageURL string, body []byte) (string, error)
}

// Deps are the collaborators of a Runner. Archive is optional.
type Deps struct {
	Engine   fetch.Engine
	Pipeline Submitter
	Resume   Skipper
	Retry    *retry.Controller
	Archive  Archiver
	Logger   *zap.Logger
}

// Stats counts runner activity.
type Stats struct {
	Listings    int64 `json:"listings"`
	Details     int64 `json:"details"`
	Skipped     int64 `json:"skipped"`
	Submitted   int64 `json:"submitted"`
	Malformed   int64 `json:"malformed"`
	ParseErrors int64 `json:"parse_errors"`
	Reissued    int64 `json:"reissued"`
	Failed      int64 `json:"failed"`
}

type runnerCounters struct {
	listings    atomic.Int64
	details     atomic.Int64
	skipped     atomic.Int64
	submitted   atomic.Int64
	malformed   atomic.Int64
	parseErrors atomic.Int64
	reissued    atomic.Int64
	failed      atomic.Int64
}

// Runner crawls one family. It implements fetch.Handler and must be registered with the engine
// before Run.
type Runner struct {
	family   Family
	engine   fetch.Engine
	pipeline Submitter
	resume   Skipper
	retry    *retry.Controller
	archive  Archiver
	logger   *zap.Logger
	stats    runnerCounters
}

var _ fetch.Handler = (*Runner)(nil)

// NewRunner wires a Runner for family.
func NewRunner(family Family, deps Deps) (*Runner, error) {
	switch {
	case family == nil:
		return nil, fmt.Errorf("runner requires a family")
	case deps.Engine == nil:
		return nil, fmt.Errorf("runner requires a fetch engine")
	case deps.Pipeline == nil:
		return nil, fmt.Errorf("runner requires a pipeline")
	case deps.Resume == nil:
		return nil, fmt.Errorf("runner requires a resume controller")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	retrier := deps.Retry
	if retrier == nil {
		retrier = retry.New(logger.Named("retry"))
	}
	return &Runner{
		family:   family,
		engine:   deps.Engine,
		pipeline: deps.Pipeline,
		resume:   deps.Resume,
		retry:    retrier,
		archive:  deps.Archive,
		logger:   logger.With(zap.String("family", family.Name())),
	}, nil
}

// Run seeds the family's listing pages and blocks until the engine has no work left.
func (r *Runner) Run(ctx context.Context) error {
	seeds, err := r.family.Seeds(ctx)
	if err != nil {
		return fmt.Errorf("seed %s: %w", r.family.Name(), err)
	}
	if len(seeds) == 0 {
		r.logger.Warn("no seeds; nothing to crawl")
		return nil
	}
	r.logger.Info("crawl starting", zap.Int("seeds", len(seeds)))

	pages := r.family.Pagination().Initial()
	for _, seed := range seeds {
		for _, page := range pages {
			r.enqueueListing(ctx, seed, page)
		}
	}
	r.engine.Wait()

	s := r.Stats()
	r.logger.Info("crawl finished",
		zap.Int64("listings", s.Listings),
		zap.Int64("details", s.Details),
		zap.Int64("skipped", s.Skipped),
		zap.Int64("submitted", s.Submitted),
		zap.Int64("malformed", s.Malformed),
		zap.Int64("reissued", s.Reissued),
		zap.Int64("failed", s.Failed),
	)
	return nil
}

// Stats returns a snapshot of the runner counters.
func (r *Runner) Stats() Stats {
	return Stats{
		Listings:    r.stats.listings.Load(),
		Details:     r.stats.details.Load(),
		Skipped:     r.stats.skipped.Load(),
		Submitted:   r.stats.submitted.Load(),
		Malformed:   r.stats.malformed.Load(),
		ParseErrors: r.stats.parseErrors.Load(),
		Reissued:    r.stats.reissued.Load(),
		Failed:      r.stats.failed.Load(),
	}
}

// OnResponse extracts records from a fetched page.
func (r *Runner) OnResponse(ctx context.Context, resp fetch.Response) {
	req := resp.Request
	r.transition(req, StateFetchPending, StateFetched)

	pageURL := resp.URL
	if pageURL == "" {
		pageURL = req.URL
	}
	if r.archive != nil {
		if _, err := r.archive.Save(ctx, r.family.Name(), pageURL, resp.Body); err != nil {
			r.logger.Warn("failed to archive page", zap.String("url", pageURL), zap.Error(err))
		}
	}

	if req.Kind == fetch.KindDetail {
		r.onDetail(ctx, req, pageURL, resp.Body)
		return
	}
	r.onListing(ctx, req, pageURL, resp.Body)
}

func (r *Runner) onListing(ctx context.Context, req fetch.Request, pageURL string, body []byte) {
	r.stats.listings.Add(1)
	records, err := r.family.ParseListing(body, pageURL, req.Source)
	if err != nil {
		r.stats.parseErrors.Add(1)
		r.logger.Error("failed to parse listing", zap.String("url", pageURL), zap.Error(err))
		r.transition(req, StateFetched, StateFetchFailedTerminal)
		return
	}
	r.transition(req, StateFetched, StateExtracted)

	// The next page does not depend on how the entities of this one are handled.
	if next, ok := r.family.Pagination().Next(req.Page, len(records)); ok {
		r.enqueueListing(ctx, req.Source, next)
	} else if len(records) == 0 {
		r.logger.Info("empty listing page; source exhausted",
			zap.String("source", req.Source),
			zap.Int("page", req.Page),
		)
	}

	for _, rec := range records {
		if !r.family.NeedsDetail() {
			r.submit(ctx, rec)
			continue
		}
		r.followDetail(ctx, req, rec)
	}
}

func (r *Runner) followDetail(ctx context.Context, listing fetch.Request, rec record.Record) {
	if err := rec.Validate(); err != nil {
		r.stats.malformed.Add(1)
		r.logger.Warn("dropping malformed listing entry", zap.String("source", listing.Source), zap.Error(err))
		return
	}
	link := rec.IdentityLink()
	collection := r.family.Collection()

	skip, err := r.resume.ShouldSkip(ctx, link, collection)
	if err != nil {
		r.logger.Warn("resume check failed; fetching anyway", zap.String("url", link), zap.Error(err))
	}
	if skip {
		r.stats.skipped.Add(1)
		metrics.ObserveResumeSkip(string(collection))
		r.logger.Debug("entity already stored; skipping detail fetch", zap.String("url", link))
		return
	}

	detail := fetch.Request{
		URL:     link,
		Family:  r.family.Name(),
		Kind:    fetch.KindDetail,
		Source:  listing.Source,
		Partial: rec,
		Attempt: 1,
	}
	r.transition(detail, StateDiscovered, StateFetchPending)
	if err := r.enqueue(ctx, detail); err == nil {
		r.stats.details.Add(1)
	}
}

func (r *Runner) onDetail(ctx context.Context, req fetch.Request, pageURL string, body []byte) {
	full, err := r.family.ParseDetail(body, pageURL, req.Partial)
	if err != nil {
		r.stats.parseErrors.Add(1)
		r.logger.Error("failed to parse detail page", zap.String("url", pageURL), zap.Error(err))
		r.transition(req, StateFetched, StateFetchFailedTerminal)
		return
	}
	r.transition(req, StateFetched, StateExtracted)
	r.submit(ctx, full)
}

func (r *Runner) submit(ctx context.Context, rec record.Record) {
	// Records extracted before shutdown still reach the pipeline.
	if err := r.pipeline.Submit(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Warn("record not submitted", zap.String("url", rec.IdentityLink()), zap.Error(err))
		return
	}
	r.stats.submitted.Add(1)
}

// OnFailure applies the retry decision for a failed fetch.
func (r *Runner) OnFailure(ctx context.Context, failure fetch.Failure) {
	req := failure.Request
	r.transition(req, StateFetchPending, StateFetchFailed)

	decision := r.retry.OnFetchFailure(failure)
	metrics.ObserveFetchFailure(r.family.Name(), string(decision.Class))
	if !decision.Reissue {
		r.stats.failed.Add(1)
		r.transition(req, StateFetchFailed, StateFetchFailedTerminal)
		return
	}

	r.transition(req, StateFetchFailed, StateRetryPending)
	if err := r.enqueue(ctx, decision.Request); err != nil {
		r.stats.failed.Add(1)
		r.transition(req, StateRetryPending, StateFetchFailedTerminal)
		return
	}
	r.stats.reissued.Add(1)
	metrics.ObserveReissue(r.family.Name())
	r.transition(decision.Request, StateRetryPending, StateFetchPending)
}

func (r *Runner) enqueueListing(ctx context.Context, source string, page int) {
	pageURL, err := resume.PageURL(source, page)
	if err != nil {
		r.logger.Warn("invalid listing source", zap.String("source", source), zap.Error(err))
		return
	}
	req := fetch.Request{
		URL:     pageURL,
		Family:  r.family.Name(),
		Kind:    fetch.KindListing,
		Page:    page,
		Source:  source,
		Attempt: 1,
	}
	r.transition(req, StateDiscovered, StateFetchPending)
	_ = r.enqueue(ctx, req)
}

func (r *Runner) enqueue(ctx context.Context, req fetch.Request) error {
	err := r.engine.Enqueue(ctx, req)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fetch.ErrDuplicateRequest):
		r.logger.Debug("request already issued", zap.String("url", req.URL))
	case errors.Is(err, fetch.ErrCanceled):
		r.logger.Info("request not issued", zap.String("url", req.URL), zap.Error(err))
	case errors.Is(err, fetch.ErrAttemptsExhausted):
		r.logger.Error("giving up on request",
			zap.String("url", req.URL),
			zap.Int("attempt", req.Attempt),
			zap.Error(err),
		)
	default:
		r.logger.Warn("failed to enqueue request", zap.String("url", req.URL), zap.Error(err))
	}
	return err
}

func (r *Runner) transition(req fetch.Request, from, to State) {
	if ce := r.logger.Check(zapcore.DebugLevel, "state transition"); ce != nil {
		ce.Write(
			zap.String("url", req.URL),
			zap.String("kind", string(req.Kind)),
			zap.Int("page", req.Page),
			zap.Int("attempt", req.Attempt),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
}
