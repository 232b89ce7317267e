// Package extract parses listing and detail pages into records with goquery.
//
// Listing parsers return one record per entity row, including rows whose identifying link is
// missing; callers validate records and drop the malformed ones. The number of returned records is
// the page's entity count for pagination.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

type page struct {
	doc  *goquery.Document
	base *url.URL
}

func parse(body []byte, pageURL string) (*page, error) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", pageURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", pageURL, err)
	}
	return &page{doc: doc, base: base}, nil
}

// resolve turns href into an absolute URL against the page. Blank hrefs stay blank.
func (p *page) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return p.base.ResolveReference(ref).String()
}

func (p *page) href(sel *goquery.Selection) string {
	v, _ := sel.First().Attr("href")
	return p.resolve(v)
}

func (p *page) hrefs(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr("href"); ok {
			if link := p.resolve(v); link != "" {
				out = append(out, link)
			}
		}
	})
	return out
}

// ownText returns the first non-blank text node directly under the first selected element.
func ownText(sel *goquery.Selection) string {
	var out string
	sel.First().Contents().EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if goquery.NodeName(s) != "#text" {
			return true
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			out = t
			return false
		}
		return true
	})
	return out
}

func attr(sel *goquery.Selection, name string) string {
	v, _ := sel.First().Attr(name)
	return strings.TrimSpace(v)
}

func attrs(sel *goquery.Selection, name string) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, s *goquery.Selection) {
		if v, ok := s.Attr(name); ok && strings.TrimSpace(v) != "" {
			out = append(out, strings.TrimSpace(v))
		}
	})
	return out
}

func unique(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}
