package ingest

import (
	"context"
	"fmt"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

// Deduper hashes records and checks the store for an existing document with the same hash.
type Deduper struct {
	finder   store.Finder
	policies Policies
}

// NewDeduper constructs a Deduper. Variants without a policy hash every field.
func NewDeduper(finder store.Finder, policies Policies) *Deduper {
	if policies == nil {
		policies = DefaultPolicies()
	}
	return &Deduper{finder: finder, policies: policies}
}

// Digest renders rec as a document and returns it with its content hash.
func (d *Deduper) Digest(rec record.Record) (store.Document, string) {
	fields := rec.Fields()
	hash := HashFields(fields, d.policies.For(rec.Variant()))
	return NewDocument(fields, hash), hash
}

// IsDuplicate reports whether collection already holds a document with digest.
func (d *Deduper) IsDuplicate(ctx context.Context, collection Collection, digest string) (bool, error) {
	_, found, err := d.finder.FindOne(ctx, string(collection), store.HashField, digest)
	if err != nil {
		return false, fmt.Errorf("lookup hash in %s: %w", collection, err)
	}
	return found, nil
}
