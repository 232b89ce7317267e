package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
)

// ParticipantStubs parses one page of a weight-class search listing.
func ParticipantStubs(body []byte, pageURL string) ([]record.Record, error) {
	p, err := parse(body, pageURL)
	if err != nil {
		return nil, err
	}
	var out []record.Record
	p.doc.Find(`table[class="siteSearchResults"] tr`).Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("td").Length() == 0 {
			return
		}
		out = append(out, record.ParticipantStub{
			Link:        p.href(tr.Find(`td:nth-of-type(1) > a`)),
			Height:      record.Optional(ownText(tr.Find(`td:nth-of-type(3)`))),
			WeightClass: record.Optional(ownText(tr.Find(`td:nth-of-type(5)`))),
			Record:      record.Optional(ownText(tr.Find(`td:nth-of-type(7)`))),
			Nationality: record.Optional(attr(tr.Find(`td:nth-of-type(9) > img`), "src")),
		})
	})
	return out, nil
}

// ProfileListing parses the fighter statistics table. The returned profiles are partial;
// ProfileDetail adds the bout history.
func ProfileListing(body []byte, pageURL string) ([]record.Record, error) {
	p, err := parse(body, pageURL)
	if err != nil {
		return nil, err
	}
	var out []record.Record
	p.doc.Find(`table[class="b-statistics__table"] > tbody > tr`).Each(func(_ int, tr *goquery.Selection) {
		col := func(n string) *goquery.Selection { return tr.Find(`td:nth-of-type(` + n + `)`) }
		out = append(out, record.ParticipantProfile{
			Link:      p.href(col("1").Find("a")),
			FirstName: record.Optional(ownText(col("1").Find("a"))),
			LastName:  record.Optional(ownText(col("2").Find("a"))),
			Nickname:  record.Optional(ownText(col("3").Find("a"))),
			Height:    record.Optional(ownText(col("4"))),
			Weight:    record.Optional(ownText(col("5"))),
			Reach:     record.Optional(ownText(col("6"))),
			Stance:    record.Optional(ownText(col("7"))),
			Wins:      record.Optional(ownText(col("8"))),
			Losses:    record.Optional(ownText(col("9"))),
			Draws:     record.Optional(ownText(col("10"))),
			Champion:  attr(col("11").Find("img"), "src") != "",
		})
	})
	return out, nil
}

// ProfileDetail adds the bout history from a fighter page. The first table row is a header.
func ProfileDetail(body []byte, pageURL string, partial record.ParticipantProfile) (record.ParticipantProfile, error) {
	p, err := parse(body, pageURL)
	if err != nil {
		return record.ParticipantProfile{}, err
	}
	profile := partial
	bouts := []record.BoutSummary{}
	rows := p.doc.Find(`table.b-fight-details__table.js-fight-table > tbody > tr`)
	rows.Each(func(i int, tr *goquery.Selection) {
		if i == 0 {
			return
		}
		col := func(n string) *goquery.Selection { return tr.Find(`td:nth-of-type(` + n + `)`) }
		eventCell := col("7")
		finishCell := col("8")
		bouts = append(bouts, record.BoutSummary{
			Link:          record.Optional(p.href(col("1").Find("p > a"))),
			Outcome:       record.Optional(ownText(col("1").Find("p > a > i > i"))),
			Participants:  p.hrefs(col("2").Find("a")),
			EventLink:     record.Optional(p.href(eventCell.Find("p:nth-of-type(1) > a"))),
			EventDate:     record.Optional(ownText(eventCell.Find("p:nth-of-type(2)"))),
			TitleBout:     attr(eventCell.Find("p:nth-of-type(2) > img"), "src") != "",
			FinishMethod:  record.Optional(ownText(finishCell.Find("p:nth-of-type(1)"))),
			FinishDetails: record.Optional(ownText(finishCell.Find("p:nth-of-type(2)"))),
			Bonuses:       attrs(finishCell.Find("p:nth-of-type(1) > img"), "src"),
			Round:         record.Optional(ownText(col("9").Find("p"))),
			Time:          record.Optional(ownText(col("10").Find("p"))),
		})
	})
	profile.Bouts = bouts
	return profile, nil
}
