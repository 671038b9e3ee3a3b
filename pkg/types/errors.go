package types

import (
	"errors"
	"fmt"
)

// Error taxonomy for the reference-data layer
var (
	// ErrStoreInit is returned when the local replica store cannot be opened
	ErrStoreInit = errors.New("replica store unavailable")
	// ErrSync marks a failed full-replace sync
	ErrSync = errors.New("sync failed")
	// ErrSearch marks a local query attempted without a usable store
	ErrSearch = errors.New("search unavailable")
	// ErrQuotaExceeded is returned when a persisted cache entry does not fit
	ErrQuotaExceeded = errors.New("storage quota exceeded")

	// Validation errors
	ErrMissingID   = errors.New("record id is required")
	ErrMissingName = errors.New("record name is required")
)

// SyncError describes which stage of a sync run failed
type SyncError struct {
	Op  string // fetch, replace, marker
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrSync, e.Op, e.Err)
}

// Unwrap exposes the underlying cause
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is reports ErrSync for any SyncError
func (e *SyncError) Is(target error) bool {
	return target == ErrSync
}
