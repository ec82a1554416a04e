package sqlite

// Schema DDL. Statements are idempotent; the database file is the source of
// truth and survives restarts.
const (
	createMeta = `CREATE TABLE IF NOT EXISTS meta (
    name TEXT PRIMARY KEY,
    value TEXT NOT NULL
);`

	createStates = `CREATE TABLE IF NOT EXISTS states (
    chat_id INTEGER PRIMARY KEY,
    settings TEXT NOT NULL,
    updated_at TEXT NOT NULL
);`

	createMigrationLog = `CREATE TABLE IF NOT EXISTS migration_log (
    log_id TEXT PRIMARY KEY,
    from_version TEXT NOT NULL,
    to_version TEXT NOT NULL,
    records INTEGER NOT NULL,
    applied_at TEXT NOT NULL
);`
)

// schemaDDL lists all CREATE TABLE statements.
var schemaDDL = []string{
	createMeta,
	createStates,
	createMigrationLog,
}

// Connection pragmas applied on attach.
var pragmas = []string{
	`PRAGMA journal_mode = WAL;`,
	`PRAGMA busy_timeout = 5000;`,
	`PRAGMA synchronous = FULL;`,
}

// metaVersion is the meta row holding the stored version tag.
const metaVersion = "version"

// DatabaseFile is the file name of the database inside the data directory.
const DatabaseFile = "user_states.db"
