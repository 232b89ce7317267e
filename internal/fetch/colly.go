package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/proxy"
	"go.uber.org/zap"

	"github.com/JakeFAU/fightgraph-crawler/internal/metrics"
	"github.com/JakeFAU/fightgraph-crawler/internal/policy/ratelimit"
)

const (
	requestKey = "fetch.request"
	startKey   = "fetch.start"
)

// Config controls the colly engine.
type Config struct {
	UserAgent      string
	Concurrency    int
	RequestTimeout time.Duration
	RatePerDomain  float64
	Burst          int
	Proxies        []string
	MaxAttempts    int
	RetryHTTPCodes []int
	Backoff        Backoff
	RespectRobots  bool
}

// CollyEngine implements Engine on an async colly collector.
type CollyEngine struct {
	cfg       Config
	ctx       context.Context
	collector *colly.Collector
	handler   Handler
	filter    *dupFilter
	limiter   *ratelimit.Limiter
	retryable map[int]struct{}
	logger    *zap.Logger
	issued    atomic.Int64
}

var _ Engine = (*CollyEngine)(nil)

// NewCollyEngine builds an engine whose requests are bound to ctx. Canceling ctx aborts in-flight
// requests; their failures are reported as ErrCanceled.
func NewCollyEngine(ctx context.Context, cfg Config, logger *zap.Logger) (*CollyEngine, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []colly.CollectorOption{
		colly.Async(true),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	}
	if cfg.UserAgent != "" {
		opts = append(opts, colly.UserAgent(cfg.UserAgent))
	}
	c := colly.NewCollector(opts...)
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.RequestTimeout)
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: cfg.Concurrency}); err != nil {
		return nil, fmt.Errorf("set collector limits: %w", err)
	}
	if len(cfg.Proxies) > 0 {
		switcher, err := proxy.RoundRobinProxySwitcher(cfg.Proxies...)
		if err != nil {
			return nil, fmt.Errorf("configure proxies: %w", err)
		}
		c.SetProxyFunc(switcher)
	}

	retryable := make(map[int]struct{}, len(cfg.RetryHTTPCodes))
	for _, code := range cfg.RetryHTTPCodes {
		retryable[code] = struct{}{}
	}

	e := &CollyEngine{
		cfg:       cfg,
		ctx:       ctx,
		collector: c,
		filter:    newDupFilter(),
		limiter:   ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RatePerDomain, DefaultBurst: cfg.Burst}),
		retryable: retryable,
		logger:    logger,
	}
	c.OnRequest(e.onRequest)
	c.OnResponse(e.onResponse)
	c.OnError(e.onError)
	return e, nil
}

// Handle sets the receiver of fetch results. It must be called before the first Enqueue.
func (e *CollyEngine) Handle(h Handler) {
	e.handler = h
}

// Issued reports how many requests have been handed to the collector.
func (e *CollyEngine) Issued() int64 {
	return e.issued.Load()
}

// Enqueue schedules req. Attempts after the first wait for a jittered backoff before they are issued.
func (e *CollyEngine) Enqueue(ctx context.Context, req Request) error {
	if req.Attempt <= 0 {
		req.Attempt = 1
	}
	if req.Attempt > e.cfg.MaxAttempts {
		return fmt.Errorf("%w: %s after %d attempts", ErrAttemptsExhausted, req.URL, req.Attempt-1)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	if req.BypassDupFilter {
		e.filter.mark(req.URL)
	} else if !e.filter.admit(req.URL) {
		return fmt.Errorf("%w: %s", ErrDuplicateRequest, req.URL)
	}
	if req.Attempt > 1 {
		if err := sleep(ctx, e.cfg.Backoff.Delay(req.Attempt-2)); err != nil {
			return fmt.Errorf("%w: %w", ErrCanceled, err)
		}
	}

	cctx := colly.NewContext()
	cctx.Put(requestKey, req)
	if err := e.collector.Request(http.MethodGet, req.URL, nil, cctx, nil); err != nil {
		return classifyCollyError(err)
	}
	e.issued.Add(1)
	return nil
}

// Wait blocks until the collector is idle.
func (e *CollyEngine) Wait() {
	e.collector.Wait()
}

func (e *CollyEngine) onRequest(r *colly.Request) {
	if err := e.limiter.Wait(e.ctx, r.URL.String()); err != nil {
		e.logger.Warn("request aborted while throttled", zap.String("url", r.URL.String()), zap.Error(err))
		r.Abort()
		return
	}
	r.Ctx.Put(startKey, time.Now())
}

func (e *CollyEngine) onResponse(r *colly.Response) {
	req := requestFrom(r.Ctx)
	var elapsed time.Duration
	if start, ok := r.Ctx.GetAny(startKey).(time.Time); ok {
		elapsed = time.Since(start)
	}
	metrics.ObserveFetch(req.URL, req.Family, string(req.Kind), r.StatusCode, len(r.Body))
	if e.handler == nil {
		return
	}
	e.handler.OnResponse(e.ctx, Response{
		Request:    req,
		URL:        r.Request.URL.String(),
		StatusCode: r.StatusCode,
		Headers:    r.Headers.Clone(),
		Body:       append([]byte(nil), r.Body...),
		Proxy:      r.Request.ProxyURL,
		Duration:   elapsed,
	})
}

func (e *CollyEngine) onError(r *colly.Response, err error) {
	req := requestFrom(r.Ctx)
	proxyURL := ""
	if r.Request != nil {
		proxyURL = r.Request.ProxyURL
	}
	if errors.Is(err, context.Canceled) || errors.Is(e.ctx.Err(), context.Canceled) {
		err = fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	if _, ok := e.retryable[r.StatusCode]; ok && req.Attempt < e.cfg.MaxAttempts && !errors.Is(err, ErrCanceled) {
		next := req
		next.Attempt++
		next.BypassDupFilter = true
		e.logger.Info("retrying http status",
			zap.String("url", req.URL),
			zap.Int("status_code", r.StatusCode),
			zap.Int("attempt", next.Attempt),
			zap.String("proxy", proxyURL),
		)
		retryErr := e.Enqueue(e.ctx, next)
		if retryErr == nil {
			return
		}
		err = fmt.Errorf("%w (retry not issued: %w)", err, retryErr)
	}

	if e.handler == nil {
		return
	}
	e.handler.OnFailure(e.ctx, Failure{
		Request:    req,
		Err:        err,
		StatusCode: r.StatusCode,
		Proxy:      proxyURL,
	})
}

func requestFrom(ctx *colly.Context) Request {
	if ctx == nil {
		return Request{}
	}
	req, _ := ctx.GetAny(requestKey).(Request)
	return req
}

func classifyCollyError(err error) error {
	switch {
	case errors.Is(err, colly.ErrRobotsTxtBlocked),
		errors.Is(err, colly.ErrForbiddenDomain),
		errors.Is(err, colly.ErrForbiddenURL),
		errors.Is(err, colly.ErrNoURLFiltersMatch),
		errors.Is(err, colly.ErrMaxDepth):
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	default:
		return fmt.Errorf("issue request: %w", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
