// Package record defines the entity variants produced by the extractors and consumed by the ingestion
// pipeline. Each variant is a typed struct; Fields renders it as the field-name to value mapping that is
// hashed and stored.
package record

import (
	"errors"
	"fmt"
	"strings"
)

// Variant tags the kind of entity a record describes.
type Variant string

// Known record variants.
const (
	VariantOrganization       Variant = "organization"
	VariantEvent              Variant = "event"
	VariantParticipantStub    Variant = "participant_stub"
	VariantParticipantProfile Variant = "participant_profile"
)

// ErrMalformed reports a record whose identifying link is missing or invalid.
var ErrMalformed = errors.New("malformed extraction")

// Fields maps document field names to values. Missing optional values are nil.
type Fields map[string]any

// Record is a single extracted entity.
type Record interface {
	Variant() Variant
	// IdentityLink is the URL that identifies the entity and gates re-crawls.
	IdentityLink() string
	Fields() Fields
	Validate() error
}

// Variants lists every known variant.
func Variants() []Variant {
	return []Variant{
		VariantOrganization,
		VariantEvent,
		VariantParticipantStub,
		VariantParticipantProfile,
	}
}

// Optional returns nil for blank strings and a pointer to the trimmed value otherwise.
func Optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func requireLink(v Variant, link string) error {
	if strings.TrimSpace(link) == "" {
		return fmt.Errorf("%w: %s has no identifying link", ErrMalformed, v)
	}
	return nil
}

func optionalValue(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func listValue(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
