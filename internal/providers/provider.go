package providers

import (
	"context"
	"fmt"
)

// Page is what a scraper extracts from one article URL.
type Page struct {
	URL      string
	RawTitle string
	// Images are absolute, CDN-rewritten URLs in reading order.
	Images []string
	// SubPages is non-empty when URL was an index of other article pages.
	SubPages []string
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (Page, error)
}

// ScrapeError means the page could not be read or held no images.
// Jobs fail on it immediately without retry.
type ScrapeError struct {
	URL    string
	Status int
	Err    error
}

func (e *ScrapeError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("scrape %s: HTTP %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("scrape %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("scrape %s: failed", e.URL)
	}
}

func (e *ScrapeError) Unwrap() error { return e.Err }
