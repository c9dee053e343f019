package ir

import "errors"

// Store failure classes shared by the backend drivers and the engine.
var (
	// ErrTransient marks a failure worth retrying unchanged, such as a lost
	// connection or a busy database.
	ErrTransient = errors.New("transient store failure")

	// ErrPermissionDenied marks a write rejected by the store's access rules.
	ErrPermissionDenied = errors.New("permission denied")
)

// IsTransient reports whether err is classified as a transient store failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
