// Package archive keeps the raw bodies of fetched pages in a blob store, keyed by family, day and a
// digest of the page URL.
package archive

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"time"

	"go.uber.org/zap"
)

const htmlContentType = "text/html; charset=utf-8"

// BlobStore persists one object and returns its URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Clock supplies the archive date.
type Clock interface {
	Now() time.Time
}

// Archiver writes page bodies to a BlobStore.
type Archiver struct {
	store  BlobStore
	clock  Clock
	logger *zap.Logger
}

// New constructs an Archiver.
func New(store BlobStore, clock Clock, logger *zap.Logger) (*Archiver, error) {
	if store == nil {
		return nil, fmt.Errorf("archive requires a blob store")
	}
	if clock == nil {
		return nil, fmt.Errorf("archive requires a clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{store: store, clock: clock, logger: logger}, nil
}

// Save stores body under ObjectPath and returns the object URI.
func (a *Archiver) Save(ctx context.Context, family, pageURL string, body []byte) (string, error) {
	key := ObjectPath(family, pageURL, a.clock.Now())
	uri, err := a.store.PutObject(ctx, key, htmlContentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", pageURL, err)
	}
	a.logger.Debug("page archived",
		zap.String("family", family),
		zap.String("url", pageURL),
		zap.String("uri", uri),
	)
	return uri, nil
}

// ObjectPath returns family/YYYY-MM-DD/<sha256(url)>.html using the UTC date of at.
func ObjectPath(family, pageURL string, at time.Time) string {
	sum := sha256.Sum256([]byte(pageURL))
	return path.Join(family, at.UTC().Format("2006-01-02"), hex.EncodeToString(sum[:])+".html")
}
