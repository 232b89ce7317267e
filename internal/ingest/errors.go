package ingest

import (
	"errors"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

var (
	// ErrUnknownVariant marks a record whose variant has no collection.
	ErrUnknownVariant = errors.New("unknown record variant")
	// ErrDuplicateRecord marks a record whose hash is already stored.
	ErrDuplicateRecord = errors.New("duplicate record")
	// ErrStoreUnavailable marks a store that could not serve a lookup or write.
	ErrStoreUnavailable = store.ErrUnavailable
	// ErrMalformedExtraction marks a record without its identifying link.
	ErrMalformedExtraction = record.ErrMalformed
	// ErrClosed is returned when records arrive after the pipeline has closed.
	ErrClosed = errors.New("pipeline closed")
)
