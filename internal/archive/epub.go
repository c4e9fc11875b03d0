package archive

import (
	"context"
	"fmt"
	"path/filepath"

	epub "github.com/go-shiori/go-epub"
)

const pageTemplate = `<div class="page"><img src="%s" alt="Page %d"/></div>`

type epubMeta struct {
	Title  string
	Artist string
	Lang   string
}

// writeEpub renders one section per image in the given order, with the first
// image doubling as the cover. go-epub derives the navigation document from
// the sections, so nav entries follow page order.
func writeEpub(ctx context.Context, dest string, meta epubMeta, files []string) error {
	book, err := epub.NewEpub(meta.Title)
	if err != nil {
		return err
	}

	book.SetAuthor(meta.Artist)
	if meta.Lang != "" {
		book.SetLang(meta.Lang)
	}

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			return err
		}

		name := fmt.Sprintf("img_%d%s", i, filepath.Ext(file))
		internal, err := book.AddImage(file, name)
		if err != nil {
			return fmt.Errorf("add image %s: %w", file, err)
		}

		if i == 0 {
			if err := book.SetCover(internal, ""); err != nil {
				return fmt.Errorf("set cover: %w", err)
			}
		}

		page := i + 1
		body := fmt.Sprintf(pageTemplate, internal, page)
		if _, err := book.AddSection(body, fmt.Sprintf("Page %d", page), fmt.Sprintf("page_%d.xhtml", page), ""); err != nil {
			return fmt.Errorf("add page %d: %w", page, err)
		}
	}

	return book.Write(dest)
}
