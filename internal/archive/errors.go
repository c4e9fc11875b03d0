package archive

import (
	"fmt"

	"github.com/brogergvhs/archivist/internal/title"
)

// PackagingError wraps any failure while writing an artifact. No file is
// left at Path when it is returned.
type PackagingError struct {
	Kind title.Kind
	Path string
	Err  error
}

func (e *PackagingError) Error() string {
	return fmt.Sprintf("package %s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *PackagingError) Unwrap() error { return e.Err }
