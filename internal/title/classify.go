package title

import (
	"path/filepath"
	"strings"
)

type Kind string

const (
	KindArchive Kind = "archive"
	KindEbook   Kind = "ebook"
)

func (k Kind) Ext() string {
	if k == KindEbook {
		return "epub"
	}
	return "zip"
}

func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "archive", "zip", "cbz":
		return KindArchive, true
	case "ebook", "epub":
		return KindEbook, true
	}
	return "", false
}

// Classifier picks the directory a finished artifact is filed under.
type Classifier interface {
	Dir(kind Kind, w Work) string
}

// ClassifierFunc adapts a plain function to Classifier.
type ClassifierFunc func(kind Kind, w Work) string

func (f ClassifierFunc) Dir(kind Kind, w Work) string { return f(kind, w) }

// PlatformClassifier groups e-books by artist, archives from a known
// platform (Fanbox, Pixiv, ...) by artist, and everything else by title.
type PlatformClassifier struct {
	ArchiveRoot string
	EbookRoot   string
	Platforms   []string
}

func (c PlatformClassifier) Dir(kind Kind, w Work) string {
	if kind == KindEbook {
		return filepath.Join(c.EbookRoot, w.Artist)
	}
	if c.isPlatform(w.Artist) {
		return filepath.Join(c.ArchiveRoot, w.Artist)
	}
	return filepath.Join(c.ArchiveRoot, w.Title)
}

func (c PlatformClassifier) isPlatform(artist string) bool {
	a := strings.ToLower(artist)
	for _, p := range c.Platforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" && strings.Contains(a, p) {
			return true
		}
	}
	return false
}

// OutputPath is <dir>/<title>.<ext>.
func OutputPath(c Classifier, kind Kind, w Work) string {
	return filepath.Join(c.Dir(kind, w), w.Title+"."+kind.Ext())
}
