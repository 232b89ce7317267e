package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

// HashField is the document field holding the content hash. Every backend keeps a unique index on it.
const HashField = "hash"

// ErrUnavailable signals that the store could not be reached or refused work.
var ErrUnavailable = errors.New("store unavailable")

var validName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Document is a stored record: field name to value, with the hash field injected.
type Document map[string]any

// Hash returns the document's hash field or an empty string.
func (d Document) Hash() string {
	h, _ := d[HashField].(string)
	return h
}

// Finder looks up a single document by field equality.
type Finder interface {
	FindOne(ctx context.Context, collection, field, value string) (Document, bool, error)
}

// Writer inserts batches of documents.
type Writer interface {
	// InsertMany writes docs atomically. Documents whose hash already exists are skipped; the
	// returned count is the number of documents actually inserted.
	InsertMany(ctx context.Context, collection string, docs []Document) (int, error)
}

// Store is the full persistence contract.
type Store interface {
	Finder
	Writer
	EnsureIndex(ctx context.Context, collection, field string) error
	Distinct(ctx context.Context, collection, field string) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// ValidateName rejects collection and field names that cannot be safely interpolated into queries.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid identifier %q", name)
	}
	return nil
}

// ValidateDocuments checks that every document carries a hash.
func ValidateDocuments(docs []Document) error {
	for i, doc := range docs {
		if doc.Hash() == "" {
			return fmt.Errorf("document %d has no %s field", i, HashField)
		}
	}
	return nil
}
