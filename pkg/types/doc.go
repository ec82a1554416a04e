// Package types defines the configuration, record, and snapshot types shared
// by the hanfu user-state store, its persistence backends, and the CLI.
//
// A UserState is the per-chat record: persisted UserSettings plus transient
// session state that is never written to disk. A Snapshot is the whole store
// at one schema version.
package types
