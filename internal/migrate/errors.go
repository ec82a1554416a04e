package migrate

import (
	"errors"
	"fmt"
)

// Engine and registry errors.
var (
	ErrUnknownVersion = errors.New("unknown document version")
	ErrEmptyRegistry  = errors.New("migration registry has no steps")
	ErrLatestMismatch = errors.New("latest registered version does not match")
	ErrNotObject      = errors.New("document root is not an object")
)

// UnknownVersionError reports a version tag the registry cannot upgrade from.
// It matches ErrUnknownVersion under errors.Is.
type UnknownVersionError struct {
	Version       string
	LatestVersion string
}

func (e *UnknownVersionError) Error() string {
	return fmt.Sprintf("unknown document version %q, latest version is %q", e.Version, e.LatestVersion)
}

// Is reports whether target is ErrUnknownVersion.
func (e *UnknownVersionError) Is(target error) bool {
	return target == ErrUnknownVersion
}

// StepError reports a transform that failed. The document passed to Upgrade
// is left as it was before the call.
type StepError struct {
	Version string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("migration to %s: %v", e.Version, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
