package telegraph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/brogergvhs/archivist/internal/providers"
	"github.com/brogergvhs/archivist/internal/ui"
	"github.com/brogergvhs/archivist/internal/util"
)

var ErrNoImages = errors.New("no images found")

type Options struct {
	// CDNPrefix is prepended to every page and image URL when set.
	CDNPrefix string
	Timeout   time.Duration
}

type Scraper struct {
	client *http.Client
	log    *ui.Logger
	opts   Options
}

func NewScraper(c *http.Client, log *ui.Logger, opts Options) *Scraper {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if log == nil {
		log = ui.NopLogger()
	}

	return &Scraper{client: c, log: log, opts: opts}
}

var _ providers.Scraper = (*Scraper)(nil)

func (s *Scraper) Scrape(ctx context.Context, pageURL string) (providers.Page, error) {
	base, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil || !base.IsAbs() {
		return providers.Page{}, &providers.ScrapeError{URL: pageURL, Err: fmt.Errorf("invalid url")}
	}

	doc, err := s.fetchDOM(ctx, base.String())
	if err != nil {
		return providers.Page{}, err
	}

	page := providers.Page{
		URL:      base.String(),
		RawTitle: strings.TrimSpace(doc.Find("title").First().Text()),
		SubPages: subPages(doc, base),
	}

	col := newImageCollector()
	if len(page.SubPages) == 0 {
		col.ScanIMGTags(doc, base)
	} else {
		s.log.Debugf("%s is an index of %d pages", page.URL, len(page.SubPages))

		for _, sp := range page.SubPages {
			spURL, _ := url.Parse(sp)
			sub, err := s.fetchDOM(ctx, sp)
			if err != nil {
				return providers.Page{}, err
			}

			added := col.ScanIMGTags(sub, spURL)
			s.log.Debugf("sub-page %s: +%d images", sp, added)
		}
	}

	for _, img := range col.Images() {
		page.Images = append(page.Images, util.RewriteURL(s.opts.CDNPrefix, img))
	}

	if len(page.Images) == 0 {
		return providers.Page{}, &providers.ScrapeError{URL: page.URL, Err: ErrNoImages}
	}

	s.log.Debugf("scraped %q: %d images", page.RawTitle, len(page.Images))
	return page, nil
}

func (s *Scraper) fetchDOM(ctx context.Context, target string) (*goquery.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, util.RewriteURL(s.opts.CDNPrefix, target), nil)
	if err != nil {
		return nil, &providers.ScrapeError{URL: target, Err: err}
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &providers.ScrapeError{URL: target, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &providers.ScrapeError{URL: target, Status: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, &providers.ScrapeError{URL: target, Err: err}
	}

	return doc, nil
}
