package resume

import (
	"fmt"
	"net/url"
	"strconv"
)

// Pagination decides which listing pages of a source are fetched.
//
// With FixedPages > 0 every page from 1 to FixedPages is requested up front. Otherwise pages are
// followed one at a time and a page yielding zero entities ends the source.
type Pagination struct {
	FixedPages int
}

// UntilEmpty follows pages until one yields no entities.
func UntilEmpty() Pagination { return Pagination{} }

// Fixed requests exactly n pages.
func Fixed(n int) Pagination { return Pagination{FixedPages: n} }

// Initial returns the page numbers to request when a source is seeded.
func (p Pagination) Initial() []int {
	if p.FixedPages <= 0 {
		return []int{1}
	}
	pages := make([]int, p.FixedPages)
	for i := range pages {
		pages[i] = i + 1
	}
	return pages
}

// Next returns the page to request after page produced entities entities, and whether there is one.
func (p Pagination) Next(page, entities int) (int, bool) {
	if p.FixedPages > 0 || entities == 0 {
		return 0, false
	}
	return page + 1, true
}

// PageURL returns the URL of page n of source. Page 1 is the source itself; later pages add a
// page query parameter.
func PageURL(source string, n int) (string, error) {
	if n <= 1 {
		return source, nil
	}
	u, err := url.Parse(source)
	if err != nil {
		return "", fmt.Errorf("parse source %q: %w", source, err)
	}
	q := u.Query()
	q.Set("page", strconv.Itoa(n))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
