package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brogergvhs/archivist/internal/title"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keywords = []string{"翻訳", "汉化", "中國", "翻译", "中文", "中国"}

func writeImages(t *testing.T, dir string, n int) []string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))

	files := make([]string, n)
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 4, 4))
		img.Set(0, 0, color.RGBA{R: uint8(i * 20), A: 255})

		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, img, nil))

		files[i] = filepath.Join(dir, fmt.Sprintf("%d.jpg", i))
		require.NoError(t, os.WriteFile(files[i], buf.Bytes(), 0644))
	}
	return files
}

func readZip(t *testing.T, path string) map[string]string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	out := make(map[string]string, len(r.File))
	for _, f := range r.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		out[f.Name] = string(data)
	}
	return out
}

func TestBuildZipKeepsIndexOrder(t *testing.T) {
	root := t.TempDir()
	dl := filepath.Join(root, "tmp", "Work")
	files := writeImages(t, dl, 12)

	req := Request{
		Kind:      title.KindArchive,
		Title:     "Work",
		Dir:       dl,
		Files:     files,
		OutputDir: filepath.Join(root, "out", "Work"),
	}

	path, err := NewBuilder(nil, keywords).Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "out", "Work", "Work.zip"), path)

	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	require.Len(t, r.File, 12)
	for i, f := range r.File {
		assert.Equal(t, fmt.Sprintf("%d.jpg", i), f.Name)
		assert.Equal(t, zip.Deflate, f.Method)
	}
}

func TestBuildZipOverwritesInPlace(t *testing.T) {
	root := t.TempDir()
	dl := filepath.Join(root, "dl")
	files := writeImages(t, dl, 3)
	req := Request{Kind: title.KindArchive, Title: "Again", Dir: dl, Files: files, OutputDir: filepath.Join(root, "out")}

	b := NewBuilder(nil, keywords)
	first, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	entries, err := os.ReadDir(filepath.Join(root, "out"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Again.zip", entries[0].Name())
	assert.Len(t, readZip(t, second), 3)
}

func TestBuildFailureLeavesNoArtifact(t *testing.T) {
	root := t.TempDir()
	dl := filepath.Join(root, "dl")
	files := writeImages(t, dl, 2)
	files = append(files, filepath.Join(dl, "missing.jpg"))

	out := filepath.Join(root, "out")
	_, err := NewBuilder(nil, keywords).Build(context.Background(), Request{
		Kind: title.KindArchive, Title: "Broken", Dir: dl, Files: files, OutputDir: out,
	})

	var pe *PackagingError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, title.KindArchive, pe.Kind)
	assert.True(t, errors.Is(err, os.ErrNotExist))

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuildNoFiles(t *testing.T) {
	_, err := NewBuilder(nil, keywords).Build(context.Background(), Request{
		Kind: title.KindEbook, Title: "Empty", OutputDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestBuildCancelled(t *testing.T) {
	root := t.TempDir()
	files := writeImages(t, filepath.Join(root, "dl"), 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewBuilder(nil, keywords).Build(ctx, Request{
		Kind: title.KindArchive, Title: "Stop", Files: files, OutputDir: filepath.Join(root, "out"),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(root, "out", "Stop.zip"))
}

func TestBuildEpubNavigationOrder(t *testing.T) {
	root := t.TempDir()
	dl := filepath.Join(root, "dl")
	files := writeImages(t, dl, 3)

	path, err := NewBuilder(nil, keywords).Build(context.Background(), Request{
		Kind:      title.KindEbook,
		Title:     "Book",
		Artist:    "Artist",
		RawTitle:  "[Artist] Book [中国翻訳]",
		Dir:       dl,
		Files:     files,
		OutputDir: filepath.Join(root, "epub", "Artist"),
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "epub", "Artist", "Book.epub"), path)

	members := readZip(t, path)
	assert.Equal(t, "application/epub+zip", members["mimetype"])

	var nav, opf string
	var pages int
	for name, body := range members {
		switch {
		case strings.HasSuffix(name, "nav.xhtml"):
			nav = body
		case strings.HasSuffix(name, ".opf"):
			opf = body
		case strings.Contains(name, "page_") && strings.HasSuffix(name, ".xhtml"):
			pages++
		}
	}
	assert.Equal(t, 3, pages)

	require.NotEmpty(t, nav)
	p1 := strings.Index(nav, "Page 1")
	p2 := strings.Index(nav, "Page 2")
	p3 := strings.Index(nav, "Page 3")
	require.True(t, p1 >= 0 && p2 >= 0 && p3 >= 0, "nav must list every page")
	assert.True(t, p1 < p2 && p2 < p3, "nav entries must follow page order")

	assert.Contains(t, opf, "Artist")
	assert.Contains(t, opf, ">zh<")
}

func TestBuildEpubWithoutLocalization(t *testing.T) {
	root := t.TempDir()
	files := writeImages(t, filepath.Join(root, "dl"), 1)

	path, err := NewBuilder(nil, keywords).Build(context.Background(), Request{
		Kind: title.KindEbook, Title: "Plain", Artist: "A", RawTitle: "[A] Plain",
		Files: files, OutputDir: filepath.Join(root, "out"),
	})
	require.NoError(t, err)

	for name, body := range readZip(t, path) {
		if strings.HasSuffix(name, ".opf") {
			assert.NotContains(t, body, ">zh<")
		}
	}
}

func TestMemberName(t *testing.T) {
	base := filepath.Join("tmp", "Work")
	assert.Equal(t, "3.jpg", memberName(base, filepath.Join(base, "3.jpg")))
	assert.Equal(t, "sub/3.jpg", memberName(base, filepath.Join(base, "sub", "3.jpg")))
	assert.Equal(t, "x.jpg", memberName(base, filepath.Join("elsewhere", "x.jpg")))
	assert.Equal(t, "x.jpg", memberName("", filepath.Join("a", "x.jpg")))
}
