package migrate

import (
	"fmt"

	"golang.org/x/mod/semver"
)

// Transform rewrites a document in place from the previous schema to the
// step's schema. It must not read or write the version tag. A nil Transform
// only advances the tag.
type Transform func(doc Document) error

// Step is one registered migration, labeled with the version it produces.
type Step struct {
	Version   string
	Transform Transform
}

// Registry is the ordered list of steps from the oldest known schema to the
// current one. Build it once at startup and do not modify it afterwards.
type Registry struct {
	field string
	steps []Step
}

// NewRegistry returns an empty registry whose documents carry their version
// tag in field.
func NewRegistry(field string) *Registry {
	if field == "" {
		panic("migrate: empty version field name")
	}
	return &Registry{field: field}
}

// Add appends a step producing version and returns r. Versions are semantic
// versions without the "v" prefix ("0.2.0") and must be strictly increasing.
// Add panics on an invalid, duplicate, or out-of-order version: the registry
// is compiled in, so a bad one is a programming error caught at startup.
func (r *Registry) Add(version string, transform Transform) *Registry {
	canon := "v" + version
	if !semver.IsValid(canon) || semver.Canonical(canon) != canon {
		panic(fmt.Sprintf("migrate: step version %q is not a canonical semantic version", version))
	}
	if n := len(r.steps); n > 0 {
		prev := r.steps[n-1].Version
		if semver.Compare(canon, "v"+prev) <= 0 {
			panic(fmt.Sprintf("migrate: step version %q must follow %q", version, prev))
		}
	}
	r.steps = append(r.steps, Step{Version: version, Transform: transform})
	return r
}

// Field returns the name of the version tag field.
func (r *Registry) Field() string {
	return r.field
}

// Latest returns the version produced by the last step, or "" when the
// registry is empty.
func (r *Registry) Latest() string {
	if len(r.steps) == 0 {
		return ""
	}
	return r.steps[len(r.steps)-1].Version
}

// Versions lists the registered target versions in order.
func (r *Registry) Versions() []string {
	out := make([]string, len(r.steps))
	for i, s := range r.steps {
		out[i] = s.Version
	}
	return out
}

// Check verifies that the registry ends at latest, the version the running
// program writes. Call it at startup so the two cannot drift apart.
func (r *Registry) Check(latest string) error {
	if len(r.steps) == 0 {
		return ErrEmptyRegistry
	}
	if got := r.Latest(); got != latest {
		return fmt.Errorf("%w: registry ends at %q, program expects %q", ErrLatestMismatch, got, latest)
	}
	return nil
}

// indexOf returns the position of the step producing version, or -1.
func (r *Registry) indexOf(version string) int {
	for i, s := range r.steps {
		if s.Version == version {
			return i
		}
	}
	return -1
}
