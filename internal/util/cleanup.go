package util

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

// InterruptContext returns a context cancelled on SIGINT/SIGTERM.
func InterruptContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// SweepTempDirs removes every subdirectory of root whose modification time
// is older than retention. It is best effort: unreadable entries are skipped
// and the removed paths are returned.
func SweepTempDirs(root string, retention time.Duration, now time.Time) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= retention {
			continue
		}

		full := filepath.Join(root, e.Name())
		if err := os.RemoveAll(full); err == nil {
			removed = append(removed, full)
		}
	}

	return removed, nil
}

func RemoveIfEmpty(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 0 {
		return false
	}

	return os.Remove(dir) == nil
}

func CleanupFolder(folder string) {
	_ = os.RemoveAll(folder)
}

// FileExists reports whether path is a regular file with at least one byte.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}
