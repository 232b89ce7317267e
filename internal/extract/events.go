package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
)

const (
	eventPathMarker   = "/fightcenter/events/"
	fighterPathMarker = "/fightcenter/fighters/"
	boutPathMarker    = "/fightcenter/bouts/"
)

// EventListing parses one page of an organization's event list. The returned events are partial;
// EventDetail completes them.
func EventListing(body []byte, pageURL, orgLink string) ([]record.Record, error) {
	p, err := parse(body, pageURL)
	if err != nil {
		return nil, err
	}
	var out []record.Record
	p.doc.Find(`div[data-controller="bout-toggler"]`).Each(func(_ int, ev *goquery.Selection) {
		eventAnchor := ev.Find(`a[href*="` + eventPathMarker + `"]`)
		var fights, fighters []string
		for _, link := range p.hrefs(ev.Find(`div[data-bout-toggler-target="content"] a`)) {
			switch {
			case strings.Contains(link, fighterPathMarker):
				fighters = append(fighters, link)
			case strings.Contains(link, boutPathMarker):
				fights = append(fights, link)
			}
		}
		out = append(out, record.Event{
			OrgLink:          orgLink,
			EventLink:        p.href(eventAnchor),
			Name:             record.Optional(ownText(eventAnchor)),
			FightLinks:       unique(fights),
			ParticipantLinks: unique(fighters),
		})
	})
	return out, nil
}

// EventDetail fills date, location and details from an event page.
func EventDetail(body []byte, pageURL string, partial record.Event) (record.Event, error) {
	p, err := parse(body, pageURL)
	if err != nil {
		return record.Event{}, err
	}
	ev := partial
	ev.Date = record.Optional(ownText(p.doc.Find(
		`div[class="div flex items-center justify-between text-xs uppercase font-bold text-tap_7f leading-none"] ` +
			`span[class="hidden md:inline"]`)))
	ev.Location = record.Optional(ownText(p.doc.Find(`div[class="div flex items-center justify-end gap-1.5"] a`)))

	details := make(map[string]string)
	p.doc.Find(`div[class~="hidden"][class~="md:flex"] > ul > li`).Each(func(_ int, li *goquery.Selection) {
		key := ownText(li.Find(`span[class*="font-bold"]`))
		value := ownText(li.Find(`span[class*="text-neutral-700"]`))
		if key != "" && value != "" {
			details[key] = value
		}
	})
	ev.Details = details
	return ev, nil
}
