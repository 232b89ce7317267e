// Package retry decides what happens to a failed fetch. Deliberate cancellations are terminal; every
// other failure is treated as a transport problem and the same request is reissued past the
// duplicate filter. The fetch engine enforces the attempt ceiling.
package retry

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/fightgraph-crawler/internal/fetch"
)

// Class is the classification of a fetch failure.
type Class string

// Failure classes.
const (
	// ClassTransport covers network, proxy and HTTP errors.
	ClassTransport Class = "transport"
	// ClassCanceled covers shutdown and deliberate request drops.
	ClassCanceled Class = "canceled"
)

// Decision is the outcome of OnFetchFailure.
type Decision struct {
	Class   Class
	Reissue bool
	// Request is the request to enqueue when Reissue is set.
	Request fetch.Request
}

// Controller classifies failures and builds reissued requests.
type Controller struct {
	logger *zap.Logger
}

// New constructs a Controller.
func New(logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{logger: logger}
}

// Classify maps a fetch error to its class.
func Classify(err error) Class {
	if errors.Is(err, fetch.ErrCanceled) || errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	return ClassTransport
}

// OnFetchFailure decides whether f's request is reissued.
func (c *Controller) OnFetchFailure(f fetch.Failure) Decision {
	class := Classify(f.Err)
	if class == ClassCanceled {
		c.logger.Info("request canceled; not retrying",
			zap.String("url", f.Request.URL),
			zap.String("family", f.Request.Family),
			zap.Error(f.Err),
		)
		return Decision{Class: class}
	}

	next := f.Request
	next.Attempt++
	next.BypassDupFilter = true
	c.logger.Warn("retrying request",
		zap.String("proxy", f.Proxy),
		zap.String("url", f.Request.URL),
		zap.String("family", f.Request.Family),
		zap.Int("status_code", f.StatusCode),
		zap.Int("attempt", next.Attempt),
		zap.Error(f.Err),
	)
	return Decision{Class: class, Reissue: true, Request: next}
}
