package mpegts

import "errors"

// Sentinel errors for framing and descrambling.
var (
	ErrInvalidSync  = errors.New("mpegts: invalid sync byte")
	ErrSyncNotFound = errors.New("mpegts: transport stream sync not found")
)
