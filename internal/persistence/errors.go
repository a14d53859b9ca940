package persistence

import "errors"

var (
	// ErrCorrupt is returned when a persisted document cannot be decoded.
	ErrCorrupt = errors.New("persistence: corrupt state")
	// ErrIncompleteSnapshot is returned when Save receives a snapshot without both tokens.
	ErrIncompleteSnapshot = errors.New("persistence: snapshot requires both tokens")
)
