package downloader

import (
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyBody = errors.New("empty response body")

// FetchError records an asset that failed every attempt.
type FetchError struct {
	Index    int
	URL      string
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("image %d (%s) failed after %d attempts: %v", e.Index, e.URL, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IntegrityError means the download directory does not hold exactly one
// non-empty file per expected asset. It blocks packaging.
type IntegrityError struct {
	Dir      string
	Expected int
	Found    int
	Empty    []string
}

func (e *IntegrityError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "integrity check of %s failed: expected %d files, found %d", e.Dir, e.Expected, e.Found)
	if len(e.Empty) > 0 {
		fmt.Fprintf(&b, ", %d empty (%s)", len(e.Empty), strings.Join(e.Empty, ", "))
	}
	return b.String()
}
