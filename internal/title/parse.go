package title

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// maxNameBytes keeps <title>.epub under the usual 255 byte file name limit.
const maxNameBytes = 200

// Untitled names works whose page title and URL both yield nothing usable.
const Untitled = "untitled"

// Tried in order; the first pattern that matches wins.
var titlePatterns = []*regexp.Regexp{
	regexp.MustCompile(`](.*?\(.*?\))`),
	regexp.MustCompile(`](.*?)[(\[]`),
	regexp.MustCompile(`](.*)`),
}

var artistPattern = regexp.MustCompile(`\[(.*?)(?:\((.*?)\))?]`)

type Work struct {
	RawTitle string
	Title    string
	Artist   string
}

func matchTitle(s string) (string, bool) {
	for _, re := range titlePatterns {
		if m := re.FindStringSubmatch(s); m != nil {
			return m[1], true
		}
	}

	return "", false
}

// Parse extracts the work title and artist from a page title such as
// "[Circle (Artist)] Some Work (Series) [Chinese]". Title is left empty when
// nothing usable as a file name remains; see FromURL.
func Parse(raw, unknownArtist string) Work {
	clean := Sanitize(raw)
	w := Work{RawTitle: raw}

	group, ok := matchTitle(clean)
	// a bare "(...)" capture is an event tag, drop it and look again
	if ok && strings.HasPrefix(group, "(") && strings.HasSuffix(group, ")") {
		group, ok = matchTitle(strings.ReplaceAll(clean, group, ""))
	}

	if !ok || group == "" {
		w.Title = clip(clean)
		if !SafeName(w.Title) {
			w.Title = ""
		}
		w.Artist = unknownArtist
		return w
	}

	w.Title = StripBrackets(group)
	if w.Title == "" {
		w.Title = clean
	}
	w.Title = clip(w.Title)
	if !SafeName(w.Title) {
		w.Title = ""
	}

	w.Artist = unknownArtist
	if m := artistPattern.FindStringSubmatch(clean); m != nil {
		artist := m[2]
		if artist == "" {
			artist = m[1]
		}
		if artist = clip(StripBrackets(artist)); SafeName(artist) {
			w.Artist = artist
		}
	}

	return w
}

// HasLocalization reports whether the raw title carries any of the
// translation/region keywords.
func HasLocalization(raw string, keywords []string) bool {
	for _, k := range keywords {
		if k != "" && strings.Contains(raw, k) {
			return true
		}
	}

	return false
}

// FromURL derives a title from the last path segment of a source URL, for
// pages whose <title> gives nothing usable.
func FromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return Untitled
	}

	seg := path.Base(strings.TrimRight(u.Path, "/"))
	if unescaped, err := url.PathUnescape(seg); err == nil {
		seg = unescaped
	}
	name := clip(StripBrackets(Sanitize(seg)))
	if !SafeName(name) {
		return Untitled
	}
	return name
}

func clip(s string) string {
	if len(s) <= maxNameBytes {
		return s
	}
	s = s[:maxNameBytes]
	for !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
