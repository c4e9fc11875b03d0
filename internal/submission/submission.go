// Package submission turns free-form submission text into source URLs and,
// for single-link submissions, the work's metadata record.
package submission

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/brogergvhs/archivist/internal/store"

	"github.com/PuerkitoBio/goquery"
)

var urlPattern = regexp.MustCompile("https?://[^\\s<>\"'`]+")

type Submission struct {
	URLs []string
	// Record is set only when exactly one URL was submitted.
	Record  *store.Record
	Warning string
}

type field int

const (
	fieldNone field = iota
	fieldLanguage
	fieldOriginal
	fieldCharacters
	fieldArtist
	fieldTeam
	fieldMale
	fieldFemale
	fieldOthers
	fieldPreview
	fieldSource
)

var labels = map[string]field{
	"language":     fieldLanguage,
	"语言":           fieldLanguage,
	"original":     fieldOriginal,
	"parody":       fieldOriginal,
	"原作":           fieldOriginal,
	"characters":   fieldCharacters,
	"character":    fieldCharacters,
	"角色":           fieldCharacters,
	"artist":       fieldArtist,
	"artists":      fieldArtist,
	"艺术家":          fieldArtist,
	"team":         fieldTeam,
	"group":        fieldTeam,
	"团队":           fieldTeam,
	"male":         fieldMale,
	"男性":           fieldMale,
	"female":       fieldFemale,
	"女性":           fieldFemale,
	"others":       fieldOthers,
	"other":        fieldOthers,
	"mixed":        fieldOthers,
	"混合":           fieldOthers,
	"其他":           fieldOthers,
	"preview":      fieldPreview,
	"预览":           fieldPreview,
	"source":       fieldSource,
	"original_url": fieldSource,
	"原始地址":         fieldSource,
}

// Parse extracts every URL whose host contains host. With more than one such
// URL no metadata is read and Warning says so.
func Parse(text, host string) Submission {
	var sub Submission
	sub.URLs = extractURLs(text, host)

	switch len(sub.URLs) {
	case 0:
		sub.Warning = "no " + host + " links found"
		return sub
	case 1:
	default:
		sub.Warning = "multiple links submitted, metadata will not be recorded"
		return sub
	}

	rec := &store.Record{}
	if strings.Contains(text, "<code") {
		parseHTML(text, rec)
	} else {
		parseLines(text, rec)
	}
	sub.Record = rec
	return sub
}

func extractURLs(text, host string) []string {
	seen := map[string]bool{}
	var out []string

	for _, raw := range urlPattern.FindAllString(text, -1) {
		raw = strings.TrimRight(raw, ".,;:!?)]}>")
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		if host != "" && !strings.Contains(strings.ToLower(u.Host), strings.ToLower(host)) {
			continue
		}
		if seen[raw] {
			continue
		}
		seen[raw] = true
		out = append(out, raw)
	}

	return out
}

func parseLines(text string, rec *store.Record) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.ReplaceAll(line, "：", ":")
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.Trim(strings.TrimSpace(key), "`*_")
		apply(rec, key, value, firstURL(line))
	}
}

func parseHTML(text string, rec *store.Record) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		parseLines(text, rec)
		return
	}

	doc.Find("code").Each(func(_ int, code *goquery.Selection) {
		key := strings.TrimSpace(strings.Trim(code.Text(), ":： "))

		link := ""
		if a := code.NextAllFiltered("a").First(); a.Length() > 0 {
			link, _ = a.Attr("href")
		}

		apply(rec, key, nextText(code), link)
	})
}

// nextText returns the text node right after sel.
func nextText(sel *goquery.Selection) string {
	var (
		found bool
		out   string
	)
	sel.Parent().Contents().EachWithBreak(func(_ int, c *goquery.Selection) bool {
		if found {
			out = c.Text()
			return false
		}
		found = c.Nodes[0] == sel.Nodes[0]
		return true
	})
	return out
}

func apply(rec *store.Record, key, value, link string) {
	f, ok := labels[strings.ToLower(key)]
	if !ok {
		return
	}

	switch f {
	case fieldPreview:
		if link != "" {
			rec.PreviewURL = link
		}
		return
	case fieldSource:
		if link != "" {
			rec.OriginalURL = link
		}
		return
	}

	tags := splitTags(value)
	switch f {
	case fieldLanguage:
		rec.Language = append(rec.Language, tags...)
	case fieldOriginal:
		rec.Original = append(rec.Original, tags...)
	case fieldCharacters:
		rec.Characters = append(rec.Characters, tags...)
	case fieldArtist:
		rec.Artist = append(rec.Artist, tags...)
	case fieldTeam:
		rec.Team = append(rec.Team, tags...)
	case fieldMale:
		rec.Male = append(rec.Male, tags...)
	case fieldFemale:
		rec.Female = append(rec.Female, tags...)
	case fieldOthers:
		rec.Others = append(rec.Others, tags...)
	}
}

// splitTags reads "#a #b_c#d" as [a b_c d].
func splitTags(value string) []string {
	value = strings.Trim(strings.TrimSpace(value), ":：")
	var out []string
	for _, part := range strings.Split(value, "#") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func firstURL(line string) string {
	m := urlPattern.FindString(line)
	return strings.TrimRight(m, ".,;:!?)]}>")
}
