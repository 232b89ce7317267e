package record

// Organization is a promotion listed on the organizations index.
type Organization struct {
	Name         *string
	Link         string
	Headquarters *string
	SocialLinks  []string
}

func (Organization) Variant() Variant { return VariantOrganization }

func (o Organization) IdentityLink() string { return o.Link }

func (o Organization) Validate() error { return requireLink(VariantOrganization, o.Link) }

func (o Organization) Fields() Fields {
	return Fields{
		"name":         optionalValue(o.Name),
		"link":         o.Link,
		"headquarters": optionalValue(o.Headquarters),
		"social_links": listValue(o.SocialLinks),
	}
}

// Event is a card promoted by an organization. Date, Location and Details come from the detail page.
type Event struct {
	OrgLink          string
	EventLink        string
	Name             *string
	FightLinks       []string
	ParticipantLinks []string
	Date             *string
	Location         *string
	Details          map[string]string
}

func (Event) Variant() Variant { return VariantEvent }

func (e Event) IdentityLink() string { return e.EventLink }

func (e Event) Validate() error { return requireLink(VariantEvent, e.EventLink) }

func (e Event) Fields() Fields {
	details := e.Details
	if details == nil {
		details = map[string]string{}
	}
	return Fields{
		"org_link":          e.OrgLink,
		"event_link":        e.EventLink,
		"name":              optionalValue(e.Name),
		"fight_links":       listValue(e.FightLinks),
		"participant_links": listValue(e.ParticipantLinks),
		"date":              optionalValue(e.Date),
		"location":          optionalValue(e.Location),
		"details":           details,
	}
}

// ParticipantStub is a row from a weight-class listing.
type ParticipantStub struct {
	Link        string
	Height      *string
	WeightClass *string
	Record      *string
	Nationality *string
}

func (ParticipantStub) Variant() Variant { return VariantParticipantStub }

func (p ParticipantStub) IdentityLink() string { return p.Link }

func (p ParticipantStub) Validate() error { return requireLink(VariantParticipantStub, p.Link) }

func (p ParticipantStub) Fields() Fields {
	return Fields{
		"link":        p.Link,
		"height":      optionalValue(p.Height),
		"weightclass": optionalValue(p.WeightClass),
		"record":      optionalValue(p.Record),
		"nationality": optionalValue(p.Nationality),
	}
}

// ParticipantProfile is a fighter profile with the bout history from its detail page.
type ParticipantProfile struct {
	Link      string
	FirstName *string
	LastName  *string
	Nickname  *string
	Height    *string
	Weight    *string
	Reach     *string
	Stance    *string
	Wins      *string
	Losses    *string
	Draws     *string
	Champion  bool
	Bouts     []BoutSummary
}

func (ParticipantProfile) Variant() Variant { return VariantParticipantProfile }

func (p ParticipantProfile) IdentityLink() string { return p.Link }

func (p ParticipantProfile) Validate() error {
	return requireLink(VariantParticipantProfile, p.Link)
}

func (p ParticipantProfile) Fields() Fields {
	bouts := make([]any, 0, len(p.Bouts))
	for _, b := range p.Bouts {
		bouts = append(bouts, b.fields())
	}
	return Fields{
		"link":       p.Link,
		"first_name": optionalValue(p.FirstName),
		"last_name":  optionalValue(p.LastName),
		"nickname":   optionalValue(p.Nickname),
		"height":     optionalValue(p.Height),
		"weight":     optionalValue(p.Weight),
		"reach":      optionalValue(p.Reach),
		"stance":     optionalValue(p.Stance),
		"wins":       optionalValue(p.Wins),
		"losses":     optionalValue(p.Losses),
		"draws":      optionalValue(p.Draws),
		"champion":   p.Champion,
		"bouts":      bouts,
	}
}

// BoutSummary is one row of a profile's fight history.
type BoutSummary struct {
	Link          *string
	Outcome       *string
	Participants  []string
	EventLink     *string
	EventDate     *string
	TitleBout     bool
	FinishMethod  *string
	FinishDetails *string
	Bonuses       []string
	Round         *string
	Time          *string
}

func (b BoutSummary) fields() map[string]any {
	return map[string]any{
		"link":           optionalValue(b.Link),
		"outcome":        optionalValue(b.Outcome),
		"participants":   listValue(b.Participants),
		"event_link":     optionalValue(b.EventLink),
		"event_date":     optionalValue(b.EventDate),
		"title_bout":     b.TitleBout,
		"finish_method":  optionalValue(b.FinishMethod),
		"finish_details": optionalValue(b.FinishDetails),
		"bonuses":        listValue(b.Bonuses),
		"round":          optionalValue(b.Round),
		"time":           optionalValue(b.Time),
	}
}
