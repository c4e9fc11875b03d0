package telegraph

import (
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var imageExt = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".gif":  true,
}

type imageCollector struct {
	items []string
	seen  map[string]bool
}

func newImageCollector() *imageCollector {
	return &imageCollector{
		items: make([]string, 0, 64),
		seen:  make(map[string]bool),
	}
}

func (c *imageCollector) add(u string) {
	lu := strings.ToLower(u)
	if u == "" || strings.HasPrefix(lu, "data:") || strings.HasPrefix(lu, "javascript:") {
		return
	}
	if c.seen[u] {
		return
	}

	c.seen[u] = true
	c.items = append(c.items, u)
}

// ScanIMGTags adds every <img src> in document order.
func (c *imageCollector) ScanIMGTags(doc *goquery.Document, base *url.URL) int {
	before := len(c.items)
	doc.Find("img[src]").Each(func(_ int, img *goquery.Selection) {
		src, _ := img.Attr("src")
		if src = strings.TrimSpace(src); src != "" {
			c.add(resolve(base, src))
		}
	})

	return len(c.items) - before
}

func (c *imageCollector) Images() []string {
	return c.items
}

// subPages returns the same-host article links of an index page, in
// document order and without duplicates.
func subPages(doc *goquery.Document, base *url.URL) []string {
	var out []string
	seen := map[string]bool{}

	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}

		u, err := base.Parse(href)
		if err != nil || !isArticleLink(base, u) {
			return
		}

		u.Fragment = ""
		u.RawQuery = ""
		s := u.String()
		if seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	})

	return out
}

func isArticleLink(base, u *url.URL) bool {
	if !strings.EqualFold(u.Host, base.Host) {
		return false
	}

	p := strings.TrimSuffix(u.Path, "/")
	if p == "" || p == strings.TrimSuffix(base.Path, "/") {
		return false
	}
	if strings.HasPrefix(p, "/file/") || imageExt[strings.ToLower(path.Ext(p))] {
		return false
	}

	return true
}

func resolve(base *url.URL, raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u == nil {
		return raw
	}

	if u.IsAbs() {
		return u.String()
	}

	return base.ResolveReference(u).String()
}
