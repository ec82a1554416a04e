// Package store is the user-state store used by the bot: the configured
// persistence backend plus the in-memory map of chat states.
//
// Handlers look a chat up with GetOrCreate, mutate it through the returned
// entry, call MarkDirty when they changed settings, and SaveIfDirty when they
// are done. Transient fields (the hand in progress) never make an entry dirty.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mesh-intelligence/hanfu/internal/badger"
	"github.com/mesh-intelligence/hanfu/internal/jsonfile"
	"github.com/mesh-intelligence/hanfu/internal/metrics"
	"github.com/mesh-intelligence/hanfu/internal/migrate"
	"github.com/mesh-intelligence/hanfu/internal/sqlite"
	"github.com/mesh-intelligence/hanfu/internal/statemap"
	"github.com/mesh-intelligence/hanfu/internal/userstates"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

// BadgerDir is the directory of the badger backend inside the data directory.
const BadgerDir = "user_states.badger"

// ErrNoMigrationLog is returned by MigrationLog for backends that do not
// keep one.
var ErrNoMigrationLog = errors.New("backend does not keep a migration log")

// Backend persists snapshots of user states.
type Backend interface {
	// Load reads, upgrades, and decodes the stored states. Any error means
	// the stored data cannot be trusted.
	Load() (*types.Snapshot, migrate.Result, error)
	// SaveAll replaces every stored record.
	SaveAll(snap *types.Snapshot) error
	// SaveOne stores the record for id.
	SaveOne(id types.ChatID, state *types.UserState) error
	Close() error
}

type migrationLogger interface {
	MigrationLog() ([]types.MigrationRecord, error)
}

// Store couples a Backend with the in-memory states.
type Store struct {
	backend Backend
	name    string
	logger  *slog.Logger

	mu      sync.RWMutex
	states  *statemap.Map
	version string
	result  migrate.Result
}

// Open validates cfg, opens the selected backend, and loads every stored
// state. Any returned error is fatal to the caller: the stored data is either
// unreachable or cannot be trusted.
func Open(cfg types.Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := userstates.Registry().Check(userstates.LatestVersion); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	backend, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	return New(backend, cfg.Backend, logger)
}

// New loads every state from an already opened backend. name labels logs and
// metrics. On error the backend is closed.
func New(backend Backend, name string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		backend: backend,
		name:    name,
		logger:  logger.With("backend", name),
	}

	snap, res, err := backend.Load()
	metrics.ObserveLoad(name, res, err)
	if err != nil {
		backend.Close()
		return nil, err
	}

	s.states = statemap.FromSnapshot(snap)
	s.version = snap.Version
	s.result = res
	metrics.SetRecords(len(snap.States))
	s.logger.Info("user states loaded", "records", len(snap.States), "result", res.String())
	return s, nil
}

func openBackend(cfg types.Config, logger *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case types.BackendJSON:
		return jsonfile.New(cfg.StatesPath(), logger), nil
	case types.BackendSQLite:
		b := sqlite.NewBackend(logger)
		if err := b.Attach(cfg); err != nil {
			return nil, err
		}
		return b, nil
	case types.BackendBadger:
		bcfg := badger.DefaultConfig(filepath.Join(cfg.Dir(), BadgerDir))
		bcfg.Logger = logger
		return badger.Open(bcfg)
	default:
		return nil, types.ErrBackendUnknown
	}
}

// LoadResult reports whether opening the store upgraded the stored states.
func (s *Store) LoadResult() migrate.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Version returns the schema version of the in-memory states.
func (s *Store) Version() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Len returns the number of chats held in memory.
func (s *Store) Len() int {
	return s.current().Len()
}

func (s *Store) current() *statemap.Map {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states
}

// Get returns the entry for id if the chat is known.
func (s *Store) Get(id types.ChatID) (*statemap.Entry, bool) {
	return s.current().Get(id)
}

// GetOrCreate returns the entry for id, inserting a default state for a chat
// seen for the first time. Concurrent first calls for the same id all get the
// same entry.
func (s *Store) GetOrCreate(id types.ChatID) *statemap.Entry {
	e, inserted := s.current().GetOrInsertDefault(id)
	if inserted {
		metrics.IncRecords()
	}
	return e
}

// MarkDirty flags the state of id as changed since it was last saved.
func (s *Store) MarkDirty(id types.ChatID) {
	s.GetOrCreate(id).Update(func(st *types.UserState) {
		st.Unsaved = true
	})
}

// SaveIfDirty persists the state of id if it is flagged dirty and reports
// whether a save happened. The entry lock is held only to copy the state and
// clear the flag; the write runs without it. On failure the entry is flagged
// dirty again so a later call retries.
func (s *Store) SaveIfDirty(id types.ChatID) (bool, error) {
	e, ok := s.Get(id)
	if !ok {
		return false, nil
	}

	var (
		persisted types.UserState
		dirty     bool
	)
	e.Update(func(st *types.UserState) {
		if !st.Unsaved {
			return
		}
		dirty = true
		st.Unsaved = false
		persisted = st.Persisted()
	})
	if !dirty {
		return false, nil
	}

	start := time.Now()
	err := s.backend.SaveOne(id, &persisted)
	metrics.ObserveSave(s.name, metrics.OpSaveOne, start, err)
	if err != nil {
		e.Update(func(st *types.UserState) {
			st.Unsaved = true
		})
		s.logger.Error("saving user state", "chat_id", int64(id), "error", err)
		return false, fmt.Errorf("saving chat %d: %w", id, err)
	}
	return true, nil
}

// SaveAll persists every in-memory state and clears their dirty flags. On
// failure the flags of the states that were dirty are restored.
func (s *Store) SaveAll() error {
	states := s.current()
	snap := types.NewSnapshot(s.Version())
	var dirty []*statemap.Entry
	states.Range(func(id types.ChatID, e *statemap.Entry) bool {
		e.Update(func(st *types.UserState) {
			if st.Unsaved {
				dirty = append(dirty, e)
				st.Unsaved = false
			}
			snap.Put(id, *st)
		})
		return true
	})

	start := time.Now()
	err := s.backend.SaveAll(snap)
	metrics.ObserveSave(s.name, metrics.OpSaveAll, start, err)
	if err != nil {
		for _, e := range dirty {
			e.Update(func(st *types.UserState) {
				st.Unsaved = true
			})
		}
		s.logger.Error("saving all user states", "records", len(snap.States), "error", err)
		return fmt.Errorf("saving all: %w", err)
	}
	return nil
}

// Snapshot returns a copy of every in-memory state.
func (s *Store) Snapshot() *types.Snapshot {
	return s.current().ToSnapshot(s.Version())
}

// Replace persists snap as the complete set of states and makes it the
// in-memory set. The previous in-memory states are discarded.
func (s *Store) Replace(snap *types.Snapshot) error {
	start := time.Now()
	err := s.backend.SaveAll(snap)
	metrics.ObserveSave(s.name, metrics.OpSaveAll, start, err)
	if err != nil {
		return fmt.Errorf("replacing user states: %w", err)
	}

	s.mu.Lock()
	s.states = statemap.FromSnapshot(snap)
	s.version = snap.Version
	s.mu.Unlock()
	metrics.SetRecords(len(snap.States))
	s.logger.Info("user states replaced", "records", len(snap.States))
	return nil
}

// MigrationLog returns the backend's record of applied upgrades, or
// ErrNoMigrationLog for backends without one.
func (s *Store) MigrationLog() ([]types.MigrationRecord, error) {
	ml, ok := s.backend.(migrationLogger)
	if !ok {
		return nil, ErrNoMigrationLog
	}
	return ml.MigrationLog()
}

// Close saves the dirty states, if any, and closes the backend.
func (s *Store) Close() error {
	var saveErr error
	dirty := false
	s.current().Range(func(_ types.ChatID, e *statemap.Entry) bool {
		e.Update(func(st *types.UserState) { dirty = st.Unsaved })
		return !dirty
	})
	if dirty {
		saveErr = s.SaveAll()
	}
	return errors.Join(saveErr, s.backend.Close())
}
