package ingest

import (
	"fmt"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
)

// Collection names a store collection.
type Collection string

// Collections, one per record variant.
const (
	CollectionOrganizations       Collection = "organizations"
	CollectionEvents              Collection = "events"
	CollectionParticipants        Collection = "participants"
	CollectionParticipantProfiles Collection = "participant_profiles"
)

// Collections lists every collection in routing order.
func Collections() []Collection {
	return []Collection{
		CollectionOrganizations,
		CollectionEvents,
		CollectionParticipants,
		CollectionParticipantProfiles,
	}
}

// RouteVariant maps a variant to its collection.
func RouteVariant(v record.Variant) (Collection, error) {
	switch v {
	case record.VariantOrganization:
		return CollectionOrganizations, nil
	case record.VariantEvent:
		return CollectionEvents, nil
	case record.VariantParticipantStub:
		return CollectionParticipants, nil
	case record.VariantParticipantProfile:
		return CollectionParticipantProfiles, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVariant, v)
	}
}

// Route maps a record to its collection.
func Route(rec record.Record) (Collection, error) {
	if rec == nil {
		return "", fmt.Errorf("%w: nil record", ErrUnknownVariant)
	}
	return RouteVariant(rec.Variant())
}

// IdentityField returns the document field holding a collection's identifying link.
func IdentityField(c Collection) string {
	if c == CollectionEvents {
		return "event_link"
	}
	return "link"
}
