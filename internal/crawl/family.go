// Package crawl drives one crawl family: it seeds listing requests, follows pagination, gates detail
// fetches through the resume controller, reissues failed requests, and hands finished records to the
// ingest pipeline.
package crawl

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/fightgraph-crawler/internal/extract"
	"github.com/JakeFAU/fightgraph-crawler/internal/ingest"
	"github.com/JakeFAU/fightgraph-crawler/internal/record"
	"github.com/JakeFAU/fightgraph-crawler/internal/resume"
)

// Family names.
const (
	FamilyOrganizations = "organizations"
	FamilyEvents        = "events"
	FamilyParticipants  = "participants"
	FamilyProfiles      = "profiles"
)

// DefaultOrganizationPages is the number of promotion index pages.
const DefaultOrganizationPages = 59

// Family describes how one kind of entity is discovered and extracted.
type Family interface {
	Name() string
	Collection() ingest.Collection
	Pagination() resume.Pagination
	Seeds(ctx context.Context) ([]string, error)
	ParseListing(body []byte, pageURL, source string) ([]record.Record, error)
	// NeedsDetail reports whether listing records are partial and must be completed by ParseDetail.
	NeedsDetail() bool
	ParseDetail(body []byte, pageURL string, partial record.Record) (record.Record, error)
}

// DistinctSource lists stored values; the events family seeds from stored organization links.
type DistinctSource interface {
	Distinct(ctx context.Context, collection, field string) ([]string, error)
}

// FamilyOptions configures NewFamily.
type FamilyOptions struct {
	Seeds     []string
	PageCount int
	Store     DistinctSource
}

// Names lists the known families.
func Names() []string {
	return []string{FamilyOrganizations, FamilyEvents, FamilyParticipants, FamilyProfiles}
}

// NewFamily returns the family called name.
func NewFamily(name string, opts FamilyOptions) (Family, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FamilyOrganizations:
		pages := opts.PageCount
		if pages <= 0 {
			pages = DefaultOrganizationPages
		}
		return organizations{seeds: opts.Seeds, pages: pages}, nil
	case FamilyEvents:
		if opts.Store == nil && len(opts.Seeds) == 0 {
			return nil, fmt.Errorf("events family needs seeds or a store of organizations")
		}
		return events{seeds: opts.Seeds, store: opts.Store}, nil
	case FamilyParticipants:
		return participants{seeds: opts.Seeds}, nil
	case FamilyProfiles:
		return profiles{seeds: opts.Seeds}, nil
	default:
		return nil, fmt.Errorf("unknown crawl family %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
}

type staticSeeds []string

func (s staticSeeds) Seeds(context.Context) ([]string, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("no seeds configured")
	}
	return append([]string(nil), s...), nil
}

type listingOnly struct{}

func (listingOnly) NeedsDetail() bool { return false }

func (listingOnly) ParseDetail([]byte, string, record.Record) (record.Record, error) {
	return nil, fmt.Errorf("family has no detail pages")
}

type organizations struct {
	listingOnly
	seeds staticSeeds
	pages int
}

func (organizations) Name() string                  { return FamilyOrganizations }
func (organizations) Collection() ingest.Collection { return ingest.CollectionOrganizations }
func (o organizations) Pagination() resume.Pagination { return resume.Fixed(o.pages) }

func (o organizations) Seeds(ctx context.Context) ([]string, error) { return o.seeds.Seeds(ctx) }

func (organizations) ParseListing(body []byte, pageURL, _ string) ([]record.Record, error) {
	return extract.Organizations(body, pageURL)
}

type events struct {
	seeds []string
	store DistinctSource
}

func (events) Name() string                  { return FamilyEvents }
func (events) Collection() ingest.Collection { return ingest.CollectionEvents }
func (events) Pagination() resume.Pagination { return resume.UntilEmpty() }
func (events) NeedsDetail() bool             { return true }

// Seeds returns the configured seeds, or every stored organization link when none are configured.
func (e events) Seeds(ctx context.Context) ([]string, error) {
	if len(e.seeds) > 0 {
		return append([]string(nil), e.seeds...), nil
	}
	links, err := e.store.Distinct(ctx, string(ingest.CollectionOrganizations), ingest.IdentityField(ingest.CollectionOrganizations))
	if err != nil {
		return nil, fmt.Errorf("load organization links: %w", err)
	}
	return links, nil
}

func (events) ParseListing(body []byte, pageURL, source string) ([]record.Record, error) {
	return extract.EventListing(body, pageURL, source)
}

func (events) ParseDetail(body []byte, pageURL string, partial record.Record) (record.Record, error) {
	ev, ok := partial.(record.Event)
	if !ok {
		return nil, fmt.Errorf("event detail for %T", partial)
	}
	full, err := extract.EventDetail(body, pageURL, ev)
	if err != nil {
		return nil, err
	}
	return full, nil
}

type participants struct {
	listingOnly
	seeds staticSeeds
}

func (participants) Name() string                  { return FamilyParticipants }
func (participants) Collection() ingest.Collection { return ingest.CollectionParticipants }
func (participants) Pagination() resume.Pagination { return resume.UntilEmpty() }

func (p participants) Seeds(ctx context.Context) ([]string, error) { return p.seeds.Seeds(ctx) }

func (participants) ParseListing(body []byte, pageURL, _ string) ([]record.Record, error) {
	return extract.ParticipantStubs(body, pageURL)
}

type profiles struct {
	seeds staticSeeds
}

func (profiles) Name() string                  { return FamilyProfiles }
func (profiles) Collection() ingest.Collection { return ingest.CollectionParticipantProfiles }
func (profiles) Pagination() resume.Pagination { return resume.Fixed(1) }
func (profiles) NeedsDetail() bool             { return true }

func (p profiles) Seeds(ctx context.Context) ([]string, error) { return p.seeds.Seeds(ctx) }

func (profiles) ParseListing(body []byte, pageURL, _ string) ([]record.Record, error) {
	return extract.ProfileListing(body, pageURL)
}

func (profiles) ParseDetail(body []byte, pageURL string, partial record.Record) (record.Record, error) {
	profile, ok := partial.(record.ParticipantProfile)
	if !ok {
		return nil, fmt.Errorf("profile detail for %T", partial)
	}
	full, err := extract.ProfileDetail(body, pageURL, profile)
	if err != nil {
		return nil, err
	}
	return full, nil
}
