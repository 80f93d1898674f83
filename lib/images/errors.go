package images

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("image not found")
	ErrAuth        = errors.New("registry credentials rejected")
	ErrInvalidName = errors.New("invalid image name")
	ErrBuildFailed = errors.New("image build failed")
	ErrExtraction  = errors.New("archive extraction failed")

	// ErrArchiveTooLarge is returned when extracted content exceeds the size limit
	ErrArchiveTooLarge = errors.New("archive content exceeds size limit")
	// ErrInvalidArchivePath is returned when an archive entry has a malicious path
	ErrInvalidArchivePath = errors.New("invalid archive path")
)

// BuildError carries the runtime's failure text and the log lines that led to it.
type BuildError struct {
	Tag   string
	Cause string
	Log   []string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("build %s: %s", e.Tag, e.Cause)
}

// Unwrap lets errors.Is(err, ErrBuildFailed) match.
func (e *BuildError) Unwrap() error {
	return ErrBuildFailed
}
