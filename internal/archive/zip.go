package archive

import (
	"archive/zip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

func writeZip(ctx context.Context, out io.Writer, baseDir string, files []string) error {
	z := zip.NewWriter(out)

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			_ = z.Close()
			return err
		}
		if err := addFileToZip(z, baseDir, file); err != nil {
			_ = z.Close()
			return err
		}
	}

	return z.Close()
}

func addFileToZip(z *zip.Writer, baseDir, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}

	header.Name = memberName(baseDir, file)
	header.Method = zip.Deflate

	w, err := z.CreateHeader(header)
	if err != nil {
		return err
	}

	_, err = io.Copy(w, f)
	return err
}

// memberName keeps the file's path relative to the download directory.
func memberName(baseDir, file string) string {
	if baseDir != "" {
		if rel, err := filepath.Rel(baseDir, file); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(file)
}
