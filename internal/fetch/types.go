// Package fetch issues HTTP requests for the crawl families and delivers results to a Handler.
//
// Requests carry their crawl metadata (family, kind, page, source and any partially extracted
// record), so continuations are plain requests rather than callbacks. The colly Engine adds proxy
// rotation, per-domain throttling, a duplicate-request filter, HTTP-status retries with jittered
// backoff, and a per-request attempt ceiling.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
)

// Kind distinguishes listing pages from entity detail pages.
type Kind string

// Request kinds.
const (
	KindListing Kind = "listing"
	KindDetail  Kind = "detail"
)

var (
	// ErrCanceled marks a request that was deliberately dropped: shutdown, robots.txt, or a
	// domain/URL filter. Canceled requests are never retried.
	ErrCanceled = errors.New("request canceled")
	// ErrDuplicateRequest is returned by Enqueue for a URL already requested in this run.
	ErrDuplicateRequest = errors.New("duplicate request")
	// ErrAttemptsExhausted is returned by Enqueue when a request has used its attempt budget.
	ErrAttemptsExhausted = errors.New("attempt budget exhausted")
)

// Request is a single fetch with its crawl metadata.
type Request struct {
	URL    string
	Family string
	Kind   Kind
	// Page is the listing page number; zero for detail requests.
	Page int
	// Source is the listing URL that pagination advances over.
	Source string
	// Partial is the listing record a detail response completes.
	Partial record.Record
	// Attempt counts deliveries of this request, starting at 1.
	Attempt         int
	BypassDupFilter bool
}

// Response is a successful fetch.
type Response struct {
	Request    Request
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Proxy      string
	Duration   time.Duration
}

// Failure is a fetch that produced no usable response.
type Failure struct {
	Request    Request
	Err        error
	StatusCode int
	Proxy      string
}

// Handler receives fetch results. Calls may arrive concurrently.
type Handler interface {
	OnResponse(ctx context.Context, resp Response)
	OnFailure(ctx context.Context, failure Failure)
}

// Engine issues requests asynchronously.
type Engine interface {
	Enqueue(ctx context.Context, req Request) error
	// Wait blocks until every issued request, including those enqueued from handlers, has finished.
	Wait()
}
