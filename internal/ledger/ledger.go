// Package ledger records successful installs in a local SQLite database so
// that `mmu history <group>` can show what was replaced and when.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	appErrors "mmu/internal/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS installs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	group_name   TEXT    NOT NULL,
	mod_name     TEXT    NOT NULL,
	file_name    TEXT    NOT NULL,
	removed_file TEXT    NOT NULL DEFAULT '',
	release_tag  TEXT    NOT NULL DEFAULT '',
	asset_url    TEXT    NOT NULL DEFAULT '',
	bytes        INTEGER NOT NULL DEFAULT 0,
	installed_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_installs_group ON installs(group_name, installed_at);
`

// timeLayout is fixed-width so installed_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one recorded install.
type Entry struct {
	Group       string
	Mod         string
	File        string
	Removed     string
	Tag         string
	AssetURL    string
	Bytes       int64
	InstalledAt time.Time
}

// Ledger is an open install history database.
type Ledger struct {
	path string
	db   *sql.DB
	now  func() time.Time
}

// Open opens (creating if needed) the ledger database at path.
func Open(ctx context.Context, path string) (*Ledger, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ledgerError("ledger path is empty", nil)
	}
	//nolint:gosec // G301: user data directory needs standard permissions
	if err := os.MkdirAll(filepath.Dir(trimmed), 0755); err != nil {
		return nil, ledgerError("create ledger directory", err)
	}

	db, err := sql.Open("sqlite", buildDSN(trimmed))
	if err != nil {
		return nil, ledgerError("open sqlite db", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, ledgerError("ping sqlite db", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, ledgerError("apply schema", err)
	}
	return &Ledger{path: trimmed, db: db, now: time.Now}, nil
}

// buildDSN creates a read-write WAL DSN for the given path.
func buildDSN(dbPath string) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(3000)")
	q.Add("_pragma", "journal_mode(WAL)")
	u.RawQuery = q.Encode()
	return u.String()
}

// Path returns the database file path.
func (l *Ledger) Path() string {
	return l.path
}

// Close closes the database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record appends an install. A zero InstalledAt is stamped with the current time.
func (l *Ledger) Record(ctx context.Context, e Entry) error {
	if e.InstalledAt.IsZero() {
		e.InstalledAt = l.now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO installs (group_name, mod_name, file_name, removed_file, release_tag, asset_url, bytes, installed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.Group, e.Mod, e.File, e.Removed, e.Tag, e.AssetURL, e.Bytes, e.InstalledAt.UTC().Format(timeLayout))
	if err != nil {
		return ledgerError("record install", err)
	}
	return nil
}

// History returns installs for group, newest first. limit <= 0 means no limit.
func (l *Ledger) History(ctx context.Context, group string, limit int) ([]Entry, error) {
	query := `
		SELECT group_name, mod_name, file_name, removed_file, release_tag, asset_url, bytes, installed_at
		FROM installs
		WHERE group_name = ?
		ORDER BY installed_at DESC, id DESC
	`
	args := []any{group}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, ledgerError("query installs", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			ts string
		)
		if err := rows.Scan(&e.Group, &e.Mod, &e.File, &e.Removed, &e.Tag, &e.AssetURL, &e.Bytes, &ts); err != nil {
			return nil, ledgerError("scan install", err)
		}
		parsed, err := time.Parse(timeLayout, ts)
		if err != nil {
			return nil, ledgerError(fmt.Sprintf("parse installed_at %q", ts), err)
		}
		e.InstalledAt = parsed
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, ledgerError("iterate installs", err)
	}
	return entries, nil
}

func ledgerError(msg string, err error) error {
	if err != nil {
		msg = fmt.Sprintf("ledger: %s: %v", msg, err)
	} else {
		msg = "ledger: " + msg
	}
	return appErrors.New(appErrors.CodeLedger, msg, err)
}
