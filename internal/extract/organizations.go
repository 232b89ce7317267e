package extract

import (
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/fightgraph-crawler/internal/record"
)

// Organizations parses a promotions index page.
func Organizations(body []byte, pageURL string) ([]record.Record, error) {
	p, err := parse(body, pageURL)
	if err != nil {
		return nil, err
	}
	var out []record.Record
	p.doc.Find(`ul[class="promotions"] > li`).Each(func(_ int, li *goquery.Selection) {
		nameLink := li.Find(`div[class="name"] a`)
		out = append(out, record.Organization{
			Name:         record.Optional(ownText(nameLink)),
			Link:         p.href(nameLink),
			Headquarters: record.Optional(attr(li.Find(`div[class="headquarters"] img`), "src")),
			SocialLinks:  p.hrefs(li.Find(`div[class="links"] a`)),
		})
	})
	return out, nil
}
