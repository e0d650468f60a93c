package store

import (
	"errors"
	"strings"
)

// Sentinel errors surfaced by every store operation. Callers match with
// errors.Is; the messages wrapped around them carry the detail.
var (
	// ErrNotFound means the entity or partition does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict means the caller's expected version did not match the
	// stored version_number (or a caller-supplied id already exists). The
	// caller must re-read and retry; the store never merges silently.
	ErrConflict = errors.New("version conflict")

	// ErrValidation means the payload is malformed.
	ErrValidation = errors.New("validation failed")

	// ErrStorageUnavailable means a transient storage failure survived the
	// store's bounded internal retries. The whole operation is safe to
	// retry: nothing partially committed.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// isBusy reports whether err looks like a transient SQLite lock/busy
// condition worth retrying.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
