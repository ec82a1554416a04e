// Package migrate upgrades versioned documents through an ordered registry of
// migration steps.
//
// A Document is the schema-agnostic tree parsed from disk. A Registry lists
// the only legal upgrade path, one Step per schema version, and names the
// field that carries the version tag. Upgrade applies the suffix of steps a
// document has not seen yet and keeps the tag in step with them; transforms
// never touch the tag themselves.
package migrate
