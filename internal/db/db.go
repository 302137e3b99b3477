package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite scan journal
type DB struct {
	conn *sql.DB
	path string
}

// New opens or creates the journal at the given path
func New(path string) (*DB, error) {
	if path == "" {
		return nil, fmt.Errorf("no journal path")
	}

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA foreign_keys = ON; PRAGMA journal_mode = WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	db := &DB{conn: conn, path: path}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.conn.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// SchemaVersion returns the newest applied migration
func (d *DB) SchemaVersion() (int, error) {
	var version int
	err := d.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	return version, err
}

// migrate runs the database schema migrations
func (d *DB) migrate() error {
	// Create schema version table
	_, err := d.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	version, err := d.SchemaVersion()
	if err != nil {
		return err
	}

	// Run migrations
	migrations := []string{
		migrationV1,
		migrationV2,
	}

	for i, migration := range migrations {
		v := i + 1
		if v <= version {
			continue
		}

		tx, err := d.conn.Begin()
		if err != nil {
			return err
		}

		if _, err := tx.Exec(migration); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration v%d failed: %w", v, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", v); err != nil {
			tx.Rollback()
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

// migrationV1 creates the initial schema
const migrationV1 = `
-- Every array a detector has assembled
CREATE TABLE IF NOT EXISTS arrays (
    id INTEGER PRIMARY KEY,
    uuid TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL,
    detector TEXT,
    member_count INTEGER,
    first_seen TIMESTAMP,
    last_seen TIMESTAMP
);

-- Logical volumes and their last known readability
CREATE TABLE IF NOT EXISTS volumes (
    id INTEGER PRIMARY KEY,
    array_id INTEGER NOT NULL REFERENCES arrays(id),
    name TEXT UNIQUE NOT NULL,
    id_name TEXT,
    size_sectors INTEGER,
    visible INTEGER DEFAULT 1,
    current_state TEXT DEFAULT 'unknown',
    first_seen TIMESTAMP,
    last_seen TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_volumes_array ON volumes(array_id);
CREATE INDEX IF NOT EXISTS idx_volumes_state ON volumes(current_state);

-- Member slots and the device last seen filling them
CREATE TABLE IF NOT EXISTS members (
    id INTEGER PRIMARY KEY,
    array_id INTEGER NOT NULL REFERENCES arrays(id),
    slot TEXT NOT NULL,
    member_id TEXT NOT NULL,
    device_path TEXT,
    start_sector INTEGER,
    present INTEGER DEFAULT 0,
    last_seen TIMESTAMP,
    UNIQUE(array_id, member_id)
);

-- One row per recorded scan
CREATE TABLE IF NOT EXISTS scans (
    id INTEGER PRIMARY KEY,
    started_at TIMESTAMP,
    finished_at TIMESTAMP,
    arrays INTEGER DEFAULT 0,
    volumes INTEGER DEFAULT 0,
    readable INTEGER DEFAULT 0,
    error TEXT
);

-- Readiness and membership transitions
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY,
    scan_id INTEGER REFERENCES scans(id),
    array_id INTEGER REFERENCES arrays(id),
    subject TEXT NOT NULL,
    event_type TEXT NOT NULL,
    old_state TEXT,
    new_state TEXT,
    details TEXT,
    timestamp TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_events_time ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);
`

// migrationV2 records the partition a member was found on
const migrationV2 = `
ALTER TABLE members ADD COLUMN part_trail TEXT;
`

// ArrayRecord represents an array in the database
type ArrayRecord struct {
	ID          int64
	UUID        string
	Name        string
	Detector    string
	MemberCount int
	FirstSeen   time.Time
	LastSeen    time.Time
}

// VolumeRecord represents a logical volume in the database
type VolumeRecord struct {
	ID           int64
	ArrayID      int64
	Name         string
	IDName       string
	SizeSectors  int64
	Visible      bool
	CurrentState string
	FirstSeen    time.Time
	LastSeen     time.Time
}

// MemberRecord represents a member slot in the database
type MemberRecord struct {
	ID          int64
	ArrayID     int64
	Slot        string
	MemberID    string
	DevicePath  string
	PartTrail   string
	StartSector int64
	Present     bool
	LastSeen    time.Time
}

// ScanRecord summarises one recorded scan
type ScanRecord struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Arrays     int
	Volumes    int
	Readable   int
	Error      string
}

// Event represents a state transition
type Event struct {
	ID        int64
	ScanID    int64
	ArrayID   int64
	Subject   string
	EventType string
	OldState  string
	NewState  string
	Details   string
	Timestamp time.Time
}

// Event types
const (
	EventDiscovered     = "discovered"
	EventReadable       = "readable"
	EventDegraded       = "degraded"
	EventUnreadable     = "unreadable"
	EventMemberMissing  = "member_missing"
	EventMemberReturned = "member_returned"
)

// Volume states
const (
	StateUnknown    = "unknown"
	StateReadable   = "readable"
	StateDegraded   = "degraded"
	StateUnreadable = "unreadable"
)

// Member states, as recorded in events
const (
	MemberPresent = "present"
	MemberMissing = "missing"
)
