// Package archive turns a verified download directory into a single
// artifact: a deflated zip or a paginated epub.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brogergvhs/archivist/internal/title"
	"github.com/brogergvhs/archivist/internal/ui"
)

var ErrNoFiles = errors.New("nothing to package")

type Request struct {
	Kind     title.Kind
	Title    string
	Artist   string
	RawTitle string

	// Dir is the download directory; zip members are named relative to it.
	Dir string
	// Files must be in index order.
	Files     []string
	OutputDir string
}

// Path is where Build writes the artifact for r.
func (r Request) Path() string {
	return filepath.Join(r.OutputDir, r.Title+"."+r.Kind.Ext())
}

type Builder struct {
	log      *ui.Logger
	keywords []string
}

// NewBuilder returns a Builder that tags e-books as Chinese when the raw
// title carries any of keywords.
func NewBuilder(log *ui.Logger, keywords []string) *Builder {
	if log == nil {
		log = ui.NopLogger()
	}
	return &Builder{log: log, keywords: keywords}
}

// Build writes the artifact next to its final path and renames it into place,
// so a failed build never leaves a partial file and a repeated build
// overwrites the previous one.
func (b *Builder) Build(ctx context.Context, req Request) (string, error) {
	dest := req.Path()
	fail := func(err error) (string, error) {
		return "", &PackagingError{Kind: req.Kind, Path: dest, Err: err}
	}

	if len(req.Files) == 0 {
		return fail(ErrNoFiles)
	}
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return fail(err)
	}

	tmp, err := os.CreateTemp(req.OutputDir, "."+req.Title+".*.tmp")
	if err != nil {
		return fail(err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	switch req.Kind {
	case title.KindEbook:
		_ = tmp.Close()
		meta := epubMeta{Title: req.Title, Artist: req.Artist}
		if title.HasLocalization(req.RawTitle, b.keywords) {
			meta.Lang = "zh"
		}
		err = writeEpub(ctx, tmpPath, meta, req.Files)
	case title.KindArchive:
		err = writeZip(ctx, tmp, req.Dir, req.Files)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
	default:
		_ = tmp.Close()
		err = fmt.Errorf("unknown kind %q", req.Kind)
	}
	if err != nil {
		return fail(err)
	}

	_ = os.Chmod(tmpPath, 0644)
	if err := os.Rename(tmpPath, dest); err != nil {
		return fail(err)
	}

	b.log.Debugf("packaged %d images into %s", len(req.Files), dest)
	return dest, nil
}
