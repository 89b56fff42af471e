package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrIntegrity marks a uniqueness violation on insert. Callers treat it as a harmless duplicate.
	ErrIntegrity = errors.New("integrity violation")
	// ErrUnknownDocument marks a file row that references a document that does not exist.
	ErrUnknownDocument = errors.New("unknown document")
	// ErrNotFound is returned by lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrBodyTooLarge marks a response cut short by the configured body size cap.
	ErrBodyTooLarge = errors.New("response body exceeds size limit")
)

// NetworkError is returned once the retry budget is exhausted without a successful response.
type NetworkError struct {
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s failed after %d attempt(s) with status %d: %v", e.URL, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s failed after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports a structurally required element missing from a page.
type ParseError struct {
	Element string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse: %s: %v", e.Element, e.Err)
	}
	return fmt.Sprintf("parse: missing %s", e.Element)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FilesystemError reports a failed write or rename while materializing a download.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// IsNetwork reports whether err carries a NetworkError.
func IsNetwork(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}

// IsParse reports whether err carries a ParseError.
func IsParse(err error) bool {
	var parseErr *ParseError
	return errors.As(err, &parseErr)
}
