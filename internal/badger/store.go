package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/mesh-intelligence/hanfu/internal/migrate"
	"github.com/mesh-intelligence/hanfu/internal/userstates"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

// Key layout.
const (
	keyVersion      = "meta/version"
	statePrefix     = "state/"
	migrationPrefix = "migration/"
)

// ErrCorruptRecord reports a stored key or value that cannot be read back.
var ErrCorruptRecord = errors.New("stored user state is corrupt")

// conflictRetries bounds retries of a transaction that lost a write conflict.
const conflictRetries = 5

// Store is a user-state store backed by BadgerDB.
type Store struct {
	mu     sync.RWMutex
	db     *badger.DB
	gc     *gcRunner
	logger *slog.Logger
	now    func() time.Time
}

// Open opens the database described by cfg.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		db:     db,
		logger: logger.With("backend", types.BackendBadger),
		now:    time.Now,
	}
	if !cfg.InMemory {
		s.logger = s.logger.With("path", cfg.Path)
	}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, s.logger)
	}
	return s, nil
}

// Close stops garbage collection and closes the database. Close is
// idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if s.gc != nil {
		s.gc.stop()
		s.gc = nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Load reads every stored record, upgrades them to userstates.LatestVersion,
// and decodes them, all in one read-write transaction. An upgrade is written
// back and logged before the transaction commits. A new database is stamped
// with LatestVersion.
//
// An upgrade whose writes exceed one transaction (15% of Config.MemTableSize)
// fails with badger.ErrTxnTooBig and leaves the store untouched; reopen with
// a larger MemTableSize to run it.
func (s *Store) Load() (*types.Snapshot, migrate.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, migrate.NoUpdateNeeded, types.ErrStoreDetached
	}

	var (
		snap *types.Snapshot
		res  migrate.Result
		from string
	)
	err := s.update(func(txn *badger.Txn) error {
		snap, res, from = nil, migrate.NoUpdateNeeded, ""

		version, tagged, err := readVersion(txn)
		if err != nil {
			return err
		}
		states, err := readStates(txn)
		if err != nil {
			return err
		}

		if !tagged && len(states) == 0 {
			snap = userstates.NewSnapshot()
			from = "new"
			return txn.Set([]byte(keyVersion), []byte(snap.Version))
		}

		doc := migrate.Document{"states": states}
		if tagged {
			doc[userstates.VersionField] = version
		}
		snap, res, err = userstates.Load(doc)
		if err != nil {
			return fmt.Errorf("loading badger store: %w", err)
		}
		if res == migrate.NoUpdateNeeded {
			return nil
		}

		from = version
		if !tagged {
			from = "untagged"
		}
		if err := replaceAll(txn, snap); err != nil {
			return err
		}
		return s.appendLog(txn, types.MigrationRecord{
			FromVersion: from,
			ToVersion:   snap.Version,
			Records:     len(snap.States),
		})
	})
	if err != nil {
		return nil, res, err
	}

	switch {
	case from == "new":
		s.logger.Info("initialized user states database", "version", snap.Version)
	case res == migrate.Updated:
		s.logger.Info("user states upgraded", "from", from, "version", snap.Version, "records", len(snap.States))
	}
	return snap, res, nil
}

// SaveAll replaces every stored record and the version tag with snap in one
// transaction. A snapshot too large for one transaction is written through a
// write batch instead; each record is then atomic on its own and the version
// tag is written last.
func (s *Store) SaveAll(snap *types.Snapshot) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return types.ErrStoreDetached
	}
	err := s.update(func(txn *badger.Txn) error {
		return replaceAll(txn, snap)
	})
	if !errors.Is(err, badger.ErrTxnTooBig) {
		return err
	}
	s.logger.Warn("snapshot exceeds one transaction, saving in batches", "records", len(snap.States))
	return s.replaceAllBatched(snap)
}

func (s *Store) replaceAllBatched(snap *types.Snapshot) error {
	var stale [][]byte
	if err := s.db.View(func(txn *badger.Txn) error {
		stale = staleKeys(txn, snap)
		return nil
	}); err != nil {
		return err
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for id, st := range snap.States {
		if st == nil {
			continue
		}
		data, err := userstates.EncodeSettings(st.Settings)
		if err != nil {
			return fmt.Errorf("encoding chat %d: %w", id, err)
		}
		if err := wb.Set(stateKey(id), data); err != nil {
			return fmt.Errorf("writing chat %d: %w", id, err)
		}
	}
	for _, key := range stale {
		if err := wb.Delete(key); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing user states: %w", err)
	}
	return s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(keyVersion), []byte(snap.Version))
	})
}

// SaveOne writes the record for id. Other records are not read or written.
func (s *Store) SaveOne(id types.ChatID, state *types.UserState) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return types.ErrStoreDetached
	}

	data, err := userstates.EncodeSettings(state.Settings)
	if err != nil {
		return fmt.Errorf("encoding chat %d: %w", id, err)
	}
	if err := s.update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(id), data)
	}); err != nil {
		return fmt.Errorf("saving chat %d: %w", id, err)
	}
	return nil
}

// MigrationLog returns the recorded upgrades, oldest first.
func (s *Store) MigrationLog() ([]types.MigrationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, types.ErrStoreDetached
	}

	var out []types.MigrationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(migrationPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec types.MigrationRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrCorruptRecord, it.Item().Key(), err)
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// update runs fn in a read-write transaction, retrying when another
// transaction committed a conflicting write first.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range conflictRetries {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *Store) appendLog(txn *badger.Txn, rec types.MigrationRecord) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("migration log id: %w", err)
	}
	rec.ID = id.String()
	rec.AppliedAt = s.now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding migration log: %w", err)
	}
	return txn.Set([]byte(migrationPrefix+rec.ID), data)
}

func stateKey(id types.ChatID) []byte {
	return []byte(statePrefix + userstates.KeyString(id))
}

func readVersion(txn *badger.Txn) (string, bool, error) {
	item, err := txn.Get([]byte(keyVersion))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading version: %w", err)
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, fmt.Errorf("reading version: %w", err)
	}
	return string(val), true, nil
}

// readStates returns the stored records keyed by decimal chat id, each parsed
// into a generic object for the upgrade engine.
func readStates(txn *badger.Txn) (map[string]any, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	states := make(map[string]any)
	prefix := []byte(statePrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		key := string(item.Key())
		id, err := strconv.ParseInt(strings.TrimPrefix(key, statePrefix), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q", ErrCorruptRecord, key)
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", key, err)
		}
		rec, err := migrate.Parse(val)
		if err != nil {
			return nil, fmt.Errorf("%w: chat %d: %w", ErrCorruptRecord, id, err)
		}
		states[userstates.KeyString(types.ChatID(id))] = map[string]any(rec)
	}
	return states, nil
}

// staleKeys returns the state keys whose chat is not in snap. Keys that do
// not parse as a chat id are stale too.
func staleKeys(txn *badger.Txn, snap *types.Snapshot) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var stale [][]byte
	prefix := []byte(statePrefix)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		id, err := strconv.ParseInt(strings.TrimPrefix(string(key), statePrefix), 10, 64)
		if err == nil && snap.States[types.ChatID(id)] != nil {
			continue
		}
		stale = append(stale, key)
	}
	return stale
}

// replaceAll deletes the state keys not in snap and writes snap's records and
// version.
func replaceAll(txn *badger.Txn, snap *types.Snapshot) error {
	for _, key := range staleKeys(txn, snap) {
		if err := txn.Delete(key); err != nil {
			return fmt.Errorf("deleting %s: %w", key, err)
		}
	}
	for id, st := range snap.States {
		if st == nil {
			continue
		}
		data, err := userstates.EncodeSettings(st.Settings)
		if err != nil {
			return fmt.Errorf("encoding chat %d: %w", id, err)
		}
		if err := txn.Set(stateKey(id), data); err != nil {
			return fmt.Errorf("writing chat %d: %w", id, err)
		}
	}
	return txn.Set([]byte(keyVersion), []byte(snap.Version))
}
