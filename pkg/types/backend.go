package types

import (
	"errors"
	"time"
)

// Backend lifecycle errors.
var (
	ErrStoreDetached   = errors.New("store is detached")
	ErrAlreadyAttached = errors.New("store is already attached")
)

// MigrationRecord is one entry of a transactional backend's migration log,
// written when a load upgraded the stored states.
type MigrationRecord struct {
	ID          string    `json:"id"`
	FromVersion string    `json:"from_version"`
	ToVersion   string    `json:"to_version"`
	Records     int       `json:"records"`
	AppliedAt   time.Time `json:"applied_at"`
}
