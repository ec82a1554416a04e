// Package jsonfile implements the whole-file JSON backend of the user-state
// store. The file holds one document,
//
//	{"version": "0.2.0", "states": {"<chat id>": {...settings...}}}
//
// which is read completely and rewritten completely on every operation. The
// file is never held open between operations.
package jsonfile

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/natefinch/atomic"

	"github.com/mesh-intelligence/hanfu/internal/migrate"
	"github.com/mesh-intelligence/hanfu/internal/userstates"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

// Load and save errors.
var (
	ErrRead      = errors.New("cannot read user states file")
	ErrMalformed = errors.New("user states file is malformed")
	ErrWrite     = errors.New("cannot write user states file")
)

// File is a user-state store backed by a single JSON file.
type File struct {
	path   string
	logger *slog.Logger
}

// New returns a File for path. A nil logger uses slog.Default.
func New(path string, logger *slog.Logger) *File {
	if logger == nil {
		logger = slog.Default()
	}
	return &File{path: path, logger: logger.With("backend", types.BackendJSON, "path", path)}
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Load reads the file, upgrades it to userstates.LatestVersion, and decodes
// it. A missing file is created with an empty snapshot. When the document was
// upgraded, the new version is written back immediately so the next load
// finds the current schema; a failure of that write is logged, not returned.
//
// Every returned error means the file cannot be trusted: an unreadable file,
// malformed JSON, an unknown version, or a shape that does not decode.
func (f *File) Load() (*types.Snapshot, migrate.Result, error) {
	snap, res, err := Read(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		snap = userstates.NewSnapshot()
		if err := f.SaveAll(snap); err != nil {
			return nil, migrate.NoUpdateNeeded, fmt.Errorf("creating default user states: %w", err)
		}
		f.logger.Info("created user states file", "version", snap.Version)
		return snap, migrate.NoUpdateNeeded, nil
	}
	if err != nil {
		return nil, res, err
	}

	if res == migrate.Updated {
		f.logger.Info("user states upgraded", "version", snap.Version, "records", len(snap.States))
		if err := f.SaveAll(snap); err != nil {
			f.logger.Error("persisting upgraded user states", "error", err)
		}
	}
	return snap, res, nil
}

// Read loads the states file at path without writing anything: a missing
// file is an error matching fs.ErrNotExist, and an upgraded document is
// returned but not persisted.
func Read(path string) (*types.Snapshot, migrate.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, migrate.NoUpdateNeeded, fmt.Errorf("%w %s: %w", ErrRead, path, err)
	}

	doc, err := migrate.Parse(data)
	if err != nil {
		return nil, migrate.NoUpdateNeeded, fmt.Errorf("%w %s: %w", ErrMalformed, path, err)
	}

	snap, res, err := userstates.Load(doc)
	if err != nil {
		return nil, res, fmt.Errorf("loading %s: %w", path, err)
	}
	return snap, res, nil
}

// SaveAll serializes snap and replaces the file atomically.
func (f *File) SaveAll(snap *types.Snapshot) error {
	data, err := userstates.Encode(snap)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	if err := atomic.WriteFile(f.path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("%w %s: %w", ErrWrite, f.path, err)
	}
	return nil
}

// SaveOne re-reads the whole file, replaces the record for id, and writes the
// whole file back.
//
// Concurrent calls for different ids race: both read the same file and the
// second write drops the first one's record. Callers that need per-key
// atomicity use the sqlite or badger backend.
func (f *File) SaveOne(id types.ChatID, state *types.UserState) error {
	snap, _, err := f.Load()
	if err != nil {
		return fmt.Errorf("reloading before save: %w", err)
	}
	snap.Put(id, *state)
	return f.SaveAll(snap)
}

// Close is a no-op; the file is not held open.
func (f *File) Close() error {
	return nil
}
