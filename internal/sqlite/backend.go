// Package sqlite implements the SQLite backend of the user-state store. Each
// chat's settings live in their own row, so saving one chat is a single-row
// upsert and concurrent saves for different chats never lose each other's
// writes.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/hanfu/internal/migrate"
	"github.com/mesh-intelligence/hanfu/internal/userstates"
	"github.com/mesh-intelligence/hanfu/pkg/types"
)

// ErrCorruptRecord reports a states row whose settings column is not a JSON
// object.
var ErrCorruptRecord = errors.New("stored user state is not a JSON object")

// Backend is a user-state store backed by a SQLite database in the data
// directory.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB
	logger   *slog.Logger
	now      func() time.Time
}

// NewBackend creates a new SQLite backend instance. The backend is not
// attached; call Attach with a Config to open the database. A nil logger uses
// slog.Default.
func NewBackend(logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		logger: logger.With("backend", types.BackendSQLite),
		now:    time.Now,
	}
}

// Attach opens the database, creating DataDir and the schema if needed.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.Dir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DatabaseFile)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", dbPath, err)
	}
	// One connection keeps the pragmas in force and serializes writers
	// without SQLITE_BUSY retries.
	db.SetMaxOpenConns(1)

	for _, stmt := range append(append([]string{}, pragmas...), schemaDDL...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return fmt.Errorf("initializing %s: %w", dbPath, err)
		}
	}

	b.db = db
	b.config = config
	b.attached = true
	b.logger = b.logger.With("path", dbPath)
	return nil
}

// Detach closes the database. After Detach, all operations return
// ErrStoreDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// Close detaches the backend.
func (b *Backend) Close() error {
	return b.Detach()
}

// Load reads every stored record, upgrades them to userstates.LatestVersion,
// and decodes them. An upgrade is written back and logged in the same
// transaction as the read, so the database never holds a half-upgraded set.
// A new database is stamped with LatestVersion.
func (b *Backend) Load() (*types.Snapshot, migrate.Result, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, migrate.NoUpdateNeeded, types.ErrStoreDetached
	}

	tx, err := b.db.Begin()
	if err != nil {
		return nil, migrate.NoUpdateNeeded, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	version, tagged, err := readVersion(tx)
	if err != nil {
		return nil, migrate.NoUpdateNeeded, err
	}
	states, err := readStates(tx)
	if err != nil {
		return nil, migrate.NoUpdateNeeded, err
	}

	if !tagged && len(states) == 0 {
		if err := writeVersion(tx, userstates.LatestVersion); err != nil {
			return nil, migrate.NoUpdateNeeded, err
		}
		if err := tx.Commit(); err != nil {
			return nil, migrate.NoUpdateNeeded, fmt.Errorf("commit: %w", err)
		}
		b.logger.Info("initialized user states database", "version", userstates.LatestVersion)
		return userstates.NewSnapshot(), migrate.NoUpdateNeeded, nil
	}

	doc := migrate.Document{"states": states}
	if tagged {
		doc[userstates.VersionField] = version
	}

	snap, res, err := userstates.Load(doc)
	if err != nil {
		return nil, res, fmt.Errorf("loading %s: %w", DatabaseFile, err)
	}
	if res == migrate.NoUpdateNeeded {
		return snap, res, nil
	}

	from := version
	if !tagged {
		from = "untagged"
	}
	if err := b.replaceAll(tx, snap); err != nil {
		return nil, res, err
	}
	if err := b.appendLog(tx, from, snap.Version, len(snap.States)); err != nil {
		return nil, res, err
	}
	if err := tx.Commit(); err != nil {
		return nil, res, fmt.Errorf("commit upgrade: %w", err)
	}
	b.logger.Info("user states upgraded", "from", from, "version", snap.Version, "records", len(snap.States))
	return snap, res, nil
}

// SaveAll replaces every stored record and the version tag with snap in one
// transaction.
func (b *Backend) SaveAll(snap *types.Snapshot) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrStoreDetached
	}

	tx, err := b.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := b.replaceAll(tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveOne upserts the record for id. Other records are not read or written.
func (b *Backend) SaveOne(id types.ChatID, state *types.UserState) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return types.ErrStoreDetached
	}

	data, err := userstates.EncodeSettings(state.Settings)
	if err != nil {
		return fmt.Errorf("encoding chat %d: %w", id, err)
	}
	_, err = b.db.Exec(
		`INSERT INTO states (chat_id, settings, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET settings = excluded.settings, updated_at = excluded.updated_at`,
		int64(id), string(data), b.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("saving chat %d: %w", id, err)
	}
	return nil
}

// MigrationLog returns the recorded upgrades, oldest first.
func (b *Backend) MigrationLog() ([]types.MigrationRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.attached {
		return nil, types.ErrStoreDetached
	}

	rows, err := b.db.Query(`SELECT log_id, from_version, to_version, records, applied_at FROM migration_log ORDER BY log_id`)
	if err != nil {
		return nil, fmt.Errorf("querying migration log: %w", err)
	}
	defer rows.Close()

	var out []types.MigrationRecord
	for rows.Next() {
		var rec types.MigrationRecord
		var appliedAt string
		if err := rows.Scan(&rec.ID, &rec.FromVersion, &rec.ToVersion, &rec.Records, &appliedAt); err != nil {
			return nil, fmt.Errorf("scanning migration log: %w", err)
		}
		rec.AppliedAt, err = time.Parse(time.RFC3339, appliedAt)
		if err != nil {
			return nil, fmt.Errorf("migration log %s: %w", rec.ID, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *Backend) replaceAll(tx *sql.Tx, snap *types.Snapshot) error {
	if _, err := tx.Exec(`DELETE FROM states`); err != nil {
		return fmt.Errorf("clearing states: %w", err)
	}
	stmt, err := tx.Prepare(`INSERT INTO states (chat_id, settings, updated_at) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	ts := b.timestamp()
	for id, st := range snap.States {
		if st == nil {
			continue
		}
		data, err := userstates.EncodeSettings(st.Settings)
		if err != nil {
			return fmt.Errorf("encoding chat %d: %w", id, err)
		}
		if _, err := stmt.Exec(int64(id), string(data), ts); err != nil {
			return fmt.Errorf("inserting chat %d: %w", id, err)
		}
	}
	return writeVersion(tx, snap.Version)
}

func (b *Backend) appendLog(tx *sql.Tx, from, to string, records int) error {
	_, err := tx.Exec(
		`INSERT INTO migration_log (log_id, from_version, to_version, records, applied_at) VALUES (?, ?, ?, ?, ?)`,
		generateUUID(), from, to, records, b.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("appending migration log: %w", err)
	}
	return nil
}

func (b *Backend) timestamp() string {
	return b.now().UTC().Format(time.RFC3339)
}

func readVersion(tx *sql.Tx) (string, bool, error) {
	var version string
	err := tx.QueryRow(`SELECT value FROM meta WHERE name = ?`, metaVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading version: %w", err)
	}
	return version, true, nil
}

func writeVersion(tx *sql.Tx, version string) error {
	_, err := tx.Exec(
		`INSERT INTO meta (name, value) VALUES (?, ?) ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		metaVersion, version,
	)
	if err != nil {
		return fmt.Errorf("writing version: %w", err)
	}
	return nil
}

// readStates returns the stored records keyed by decimal chat id, each parsed
// into a generic object for the upgrade engine.
func readStates(tx *sql.Tx) (map[string]any, error) {
	rows, err := tx.Query(`SELECT chat_id, settings FROM states`)
	if err != nil {
		return nil, fmt.Errorf("querying states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]any)
	for rows.Next() {
		var id int64
		var settings string
		if err := rows.Scan(&id, &settings); err != nil {
			return nil, fmt.Errorf("scanning states: %w", err)
		}
		rec, err := migrate.Parse([]byte(settings))
		if err != nil {
			return nil, fmt.Errorf("%w: chat %d: %w", ErrCorruptRecord, id, err)
		}
		states[userstates.KeyString(types.ChatID(id))] = map[string]any(rec)
	}
	return states, rows.Err()
}

// generateUUID generates a UUID v7 for migration log ids.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
