package migrate

import (
	"fmt"
	"maps"
)

// Result is the outcome of a successful Upgrade.
type Result int

const (
	// NoUpdateNeeded means the document was already at the latest version
	// and was not touched.
	NoUpdateNeeded Result = iota
	// Updated means at least one step was applied.
	Updated
)

func (r Result) String() string {
	switch r {
	case NoUpdateNeeded:
		return "no_update_needed"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Upgrade brings doc to the registry's latest version in place.
//
// A document without a version tag predates every step and receives all of
// them. A document tagged with a registered version receives the steps after
// it, in order, each exactly once; the tag is set to a step's version after
// that step's transform succeeds. A document tagged with the latest version
// is returned untouched with NoUpdateNeeded.
//
// An unregistered or non-string tag yields *UnknownVersionError and a nil doc
// yields ErrNotObject. Steps run on a copy, so on any error doc is unchanged
// and must not be persisted.
func Upgrade(doc Document, reg *Registry) (Result, error) {
	if doc == nil {
		return NoUpdateNeeded, ErrNotObject
	}
	if len(reg.steps) == 0 {
		return NoUpdateNeeded, ErrEmptyRegistry
	}
	latest := reg.Latest()

	start := 0
	if raw, ok := doc[reg.field]; ok {
		version, isString := raw.(string)
		if !isString {
			return NoUpdateNeeded, &UnknownVersionError{Version: fmt.Sprint(raw), LatestVersion: latest}
		}
		if version == latest {
			return NoUpdateNeeded, nil
		}
		idx := reg.indexOf(version)
		if idx < 0 {
			return NoUpdateNeeded, &UnknownVersionError{Version: version, LatestVersion: latest}
		}
		start = idx + 1
	}

	work := doc.Clone()
	for _, step := range reg.steps[start:] {
		if step.Transform != nil {
			if err := step.Transform(work); err != nil {
				return NoUpdateNeeded, &StepError{Version: step.Version, Err: err}
			}
		}
		work[reg.field] = step.Version
	}

	clear(doc)
	maps.Copy(doc, work)
	return Updated, nil
}
