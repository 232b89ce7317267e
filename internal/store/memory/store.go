// Package memory provides an in-memory document store for development and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

var errClosed = errors.New("memory store is closed")

type collection struct {
	docs    []store.Document
	hashes  map[string]struct{}
	indexes map[string]struct{}
}

// Store keeps documents per collection and enforces hash uniqueness with skip-on-conflict semantics.
type Store struct {
	mu          sync.RWMutex
	collections map[string]*collection
	insertErr   error
	lookupErr   error
	inserts     []int
	closed      bool
}

var _ store.Store = (*Store)(nil)

// New constructs an empty Store.
func New() *Store {
	return &Store{collections: make(map[string]*collection)}
}

// FailInserts makes InsertMany return err until it is called again with nil.
func (s *Store) FailInserts(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertErr = err
}

// FailLookups makes FindOne and Distinct return err until it is called again with nil.
func (s *Store) FailLookups(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookupErr = err
}

// InsertCalls returns the batch sizes of every successful InsertMany call.
func (s *Store) InsertCalls() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]int(nil), s.inserts...)
}

// Documents returns a copy of the stored documents of a collection in insertion order.
func (s *Store) Documents(name string) []store.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	out := make([]store.Document, 0, len(c.docs))
	for _, doc := range c.docs {
		out = append(out, cloneDocument(doc))
	}
	return out
}

// Indexes reports the fields indexed on a collection.
func (s *Store) Indexes(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.indexes))
	for field := range c.indexes {
		out = append(out, field)
	}
	return out
}

// FindOne returns the first document whose field equals value.
func (s *Store) FindOne(_ context.Context, name, field, value string) (store.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, errClosed
	}
	if s.lookupErr != nil {
		return nil, false, s.lookupErr
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, false, nil
	}
	if field == store.HashField {
		if _, ok := c.hashes[value]; !ok {
			return nil, false, nil
		}
	}
	for _, doc := range c.docs {
		if v, ok := doc[field].(string); ok && v == value {
			return cloneDocument(doc), true, nil
		}
	}
	return nil, false, nil
}

// InsertMany stores docs, skipping any whose hash is already present.
func (s *Store) InsertMany(_ context.Context, name string, docs []store.Document) (int, error) {
	if err := store.ValidateDocuments(docs); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, errClosed
	}
	if s.insertErr != nil {
		return 0, fmt.Errorf("insert into %s: %w", name, s.insertErr)
	}
	c := s.collectionLocked(name)
	inserted := 0
	for _, doc := range docs {
		h := doc.Hash()
		if _, exists := c.hashes[h]; exists {
			continue
		}
		c.hashes[h] = struct{}{}
		c.docs = append(c.docs, cloneDocument(doc))
		inserted++
	}
	s.inserts = append(s.inserts, len(docs))
	return inserted, nil
}

// EnsureIndex records the index; lookups scan regardless.
func (s *Store) EnsureIndex(_ context.Context, name, field string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	if err := store.ValidateName(field); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectionLocked(name).indexes[field] = struct{}{}
	return nil
}

// Distinct returns the unique string values of field in first-seen order.
func (s *Store) Distinct(_ context.Context, name, field string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	c, ok := s.collections[name]
	if !ok {
		return nil, nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, doc := range c.docs {
		v, ok := doc[field].(string)
		if !ok {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, nil
}

// Ping reports whether the store is open.
func (s *Store) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errClosed
	}
	return nil
}

// Close marks the store closed. Stored documents remain readable through Documents.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *Store) collectionLocked(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{
			hashes:  make(map[string]struct{}),
			indexes: make(map[string]struct{}),
		}
		s.collections[name] = c
	}
	return c
}

func cloneDocument(doc store.Document) store.Document {
	out := make(store.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
