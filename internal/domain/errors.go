package domain

import (
	"errors"
	"fmt"
)

// ErrToolNotFound indicates the external upload binary is missing from PATH.
// Distinct from UploadError so callers can tell "not installed" apart from
// "installed but the copy failed".
var ErrToolNotFound = errors.New("upload tool not found in PATH")

// FetchError covers network, HTTP status and filesystem failures while
// retrieving a remote resource.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// CorruptArchiveError indicates a file that claims to be a zip archive but
// cannot be opened or read as one.
type CorruptArchiveError struct {
	Path string
	Err  error
}

func (e *CorruptArchiveError) Error() string {
	return fmt.Sprintf("corrupt archive %s: %v", e.Path, e.Err)
}

func (e *CorruptArchiveError) Unwrap() error { return e.Err }

// UploadError carries the exit status and both output streams of a failed
// external copy command.
type UploadError struct {
	Dest     string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("upload to %s failed (exit %d)", e.Dest, e.ExitCode)
}

func (e *UploadError) Unwrap() error { return e.Err }
