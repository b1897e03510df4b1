package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver
)

// dbFileName is the file created inside the database directory.
const dbFileName = "torswitch.db"

// timestampFormat is how times are written to the database. The fixed width
// keeps lexical order equal to time order.
const timestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// HistoryDB is the SQLite-backed rotation history.
type HistoryDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures HistoryDB behavior.
type Options struct {
	// CreateIfNotExists creates the directory and database file if missing.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Rotation is one recorded exit node rotation.
type Rotation struct {
	ID int64

	// SessionID groups the rotations of one CLI invocation.
	SessionID string

	// Instance is the index of the TorProxy within a parallel session.
	Instance int

	StartedAt  time.Time
	FinishedAt time.Time

	// Before and After are the probed exit addresses. After is empty when
	// the rotation did not succeed.
	Before string
	After  string

	// Outcome is the terminal state name, e.g. "succeeded" or "timed out".
	Outcome string

	// Error is the failure message, empty on success.
	Error string

	// ProxiesUsed is the proxy's identity count after the rotation.
	ProxiesUsed int64
}

// Duration returns how long the rotation took.
func (r Rotation) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OutcomeCount is the number of rotations that ended with Outcome.
type OutcomeCount struct {
	Outcome string
	Count   int
}

// NewSessionID returns an identifier for a new CLI session.
func NewSessionID() string {
	return uuid.NewString()
}

// Open opens or creates the history database in dbDir.
func Open(dbDir string, opts Options) (*HistoryDB, error) {
	dbPath := filepath.Join(dbDir, dbFileName)

	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("database not found at %s (use CreateIfNotExists option to create)", dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(dbDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	h := &HistoryDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := h.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return h, nil
}

// Close closes the database connection.
func (h *HistoryDB) Close() error {
	return h.db.Close()
}

// Path returns the database file path.
func (h *HistoryDB) Path() string {
	return h.dbPath
}

func (h *HistoryDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rotations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		instance INTEGER NOT NULL DEFAULT 0,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		before_address TEXT,
		after_address TEXT,
		outcome TEXT NOT NULL,
		error TEXT,
		proxies_used INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_rotations_session ON rotations(session_id);
	CREATE INDEX IF NOT EXISTS idx_rotations_started ON rotations(started_at);
	`
	_, err := h.db.ExecContext(context.Background(), schema)
	return err
}

// InsertRotation stores r and returns its row ID.
func (h *HistoryDB) InsertRotation(ctx context.Context, r *Rotation) (int64, error) {
	if r.SessionID == "" {
		return 0, errors.New("rotation has no session ID")
	}

	query := `
	INSERT INTO rotations (session_id, instance, started_at, finished_at,
		before_address, after_address, outcome, error, proxies_used)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := h.db.ExecContext(ctx, query,
		r.SessionID,
		r.Instance,
		r.StartedAt.UTC().Format(timestampFormat),
		r.FinishedAt.UTC().Format(timestampFormat),
		r.Before,
		r.After,
		r.Outcome,
		r.Error,
		r.ProxiesUsed,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert rotation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get rotation ID: %w", err)
	}
	r.ID = id
	return id, nil
}

// ListRotations returns up to limit rotations, newest first. A limit of
// zero or less returns everything.
func (h *HistoryDB) ListRotations(ctx context.Context, limit int) ([]Rotation, error) {
	query := selectRotations + ` ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return h.queryRotations(ctx, query, args...)
}

// SessionRotations returns the rotations of one session in insertion order.
func (h *HistoryDB) SessionRotations(ctx context.Context, sessionID string) ([]Rotation, error) {
	query := selectRotations + ` WHERE session_id = ? ORDER BY id ASC`
	return h.queryRotations(ctx, query, sessionID)
}

// CountByOutcome returns how many rotations ended with each outcome,
// ordered by outcome name.
func (h *HistoryDB) CountByOutcome(ctx context.Context) ([]OutcomeCount, error) {
	rows, err := h.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM rotations GROUP BY outcome ORDER BY outcome`)
	if err != nil {
		return nil, fmt.Errorf("failed to count rotations: %w", err)
	}
	defer rows.Close()

	var counts []OutcomeCount
	for rows.Next() {
		var c OutcomeCount
		if err := rows.Scan(&c.Outcome, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan outcome count: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

const selectRotations = `
	SELECT id, session_id, instance, started_at, finished_at,
		COALESCE(before_address, ''), COALESCE(after_address, ''),
		outcome, COALESCE(error, ''), proxies_used
	FROM rotations`

func (h *HistoryDB) queryRotations(ctx context.Context, query string, args ...any) ([]Rotation, error) {
	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query rotations: %w", err)
	}
	defer rows.Close()

	var rotations []Rotation
	for rows.Next() {
		var (
			r                 Rotation
			started, finished string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Instance, &started, &finished,
			&r.Before, &r.After, &r.Outcome, &r.Error, &r.ProxiesUsed); err != nil {
			return nil, fmt.Errorf("failed to scan rotation: %w", err)
		}
		r.StartedAt = parseTimestamp(started)
		r.FinishedAt = parseTimestamp(finished)
		rotations = append(rotations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rotations: %w", err)
	}
	return rotations, nil
}

// timestampFormats lists the layouts parseTimestamp accepts. SQLite's own
// CURRENT_TIMESTAMP layout is kept for rows written by hand.
var timestampFormats = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
