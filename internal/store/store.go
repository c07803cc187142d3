// Package store is the SQLite persistence layer for sessions, agents,
// context entries, tasks and observations.
package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// TimeLayout is the fixed-width UTC layout used for every timestamp column.
// Fixed width keeps lexicographic order equal to chronological order.
const TimeLayout = "2006-01-02 15:04:05.000000"

// DefaultDriver is the pure-Go SQLite driver.
const DefaultDriver = "sqlite"

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at dbPath with the default driver.
func Open(dbPath string) (*Store, error) {
	return OpenWithDriver(DefaultDriver, DSN(DefaultDriver, dbPath))
}

// DSN builds a connection string with WAL, foreign keys and a busy timeout
// for the given driver. Both the modernc ("sqlite") and mattn ("sqlite3")
// drivers are supported.
func DSN(driverName, dbPath string) string {
	if driverName == "sqlite3" {
		return "file:" + dbPath + "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"
	}
	return "file:" + dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// OpenWithDriver opens a store on an already-registered database/sql driver
// and applies the schema.
func OpenWithDriver(driverName, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the time source. Intended for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = func() time.Time { return now().UTC() }
}

// Now returns the store's current time in UTC.
func (s *Store) Now() time.Time { return s.now() }

// Checkpoint flushes the write-ahead log into the main database file.
// A busy checkpoint (readers holding old frames) is not an error; the
// committed transaction is already durable in the WAL.
func (s *Store) Checkpoint(ctx context.Context) error {
	var busy, logFrames, checkpointed int
	err := s.db.QueryRowContext(ctx, `PRAGMA wal_checkpoint(PASSIVE)`).Scan(&busy, &logFrames, &checkpointed)
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// FormatTime renders t in the column layout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a column value written by FormatTime or by SQLite's
// CURRENT_TIMESTAMP.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range []string{TimeLayout, "2006-01-02 15:04:05", time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02T15:04:05Z"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}

// NullTime scans timestamp columns regardless of whether the driver hands
// back a string, bytes or an already-parsed time.Time.
type NullTime struct {
	Time  time.Time
	Valid bool
}

func (n *NullTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case string:
		t, err := ParseTime(v)
		if err != nil {
			return err
		}
		n.Time, n.Valid = t, true
		return nil
	case []byte:
		t, err := ParseTime(string(v))
		if err != nil {
			return err
		}
		n.Time, n.Valid = t, true
		return nil
	}
	return fmt.Errorf("cannot scan %T into NullTime", value)
}

func (n NullTime) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return FormatTime(n.Time), nil
}

// Ptr returns nil for an invalid time.
func (n NullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

// NullString converts "" to SQL NULL.
func NullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// EncodeList stores a string list as a JSON array; empty lists become NULL.
func EncodeList(items []string) any {
	if len(items) == 0 {
		return nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return string(b)
}

// DecodeList reverses EncodeList. Malformed values decode to nil.
func DecodeList(v sql.NullString) []string {
	if !v.Valid || v.String == "" {
		return nil
	}
	var items []string
	if err := json.Unmarshal([]byte(v.String), &items); err != nil {
		return nil
	}
	return items
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// Placeholders is the exported form used by sibling packages that share
// the database handle.
func Placeholders(n int) string { return placeholders(n) }
