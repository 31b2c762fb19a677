package images

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no image record has the requested ID.
var ErrNotFound = errors.New("image not found")

// errCacheMiss is returned by a RecordCache that does not hold the record.
var errCacheMiss = errors.New("record not in cache")

// UpstreamError reports a failed call to a backing store.
type UpstreamError struct {
	Store string // "blob" or "record"
	Op    string
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s store %s failed: %v", e.Store, e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err came from a backing store failure.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

func blobFailure(op string, err error) error {
	return &UpstreamError{Store: "blob", Op: op, Err: err}
}

func recordFailure(op string, err error) error {
	return &UpstreamError{Store: "record", Op: op, Err: err}
}
