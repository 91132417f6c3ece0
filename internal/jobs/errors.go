package jobs

import "errors"

var (
	// ErrDuplicate is returned when a record with the same stage identity
	// already exists, including when a uniqueness constraint resolved a race.
	ErrDuplicate = errors.New("duplicate record")
	// ErrRejected is returned when extraction yields neither a title nor a company
	ErrRejected = errors.New("record rejected: no title and no company")
	// ErrNotFound is returned when a correlation key no longer resolves to a record
	ErrNotFound = errors.New("record not found")
	// ErrAnalyzer is returned when the external analyzer fails or answers malformed data
	ErrAnalyzer = errors.New("external analyzer failure")
	// ErrStageBusy is returned when another run holds the lock for a stage
	ErrStageBusy = errors.New("stage is already running")
)
