package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

// Store is the share access audit log. Recording is best-effort: a
// failed insert is logged and never fails the request it came from.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// Entry is one recorded guest access.
type Entry struct {
	ID        int64     `json:"id"`
	ShareID   string    `json:"share_id"`
	RemoteIP  string    `json:"remote_ip"`
	UserAgent string    `json:"user_agent"`
	Path      string    `json:"path"`
	Verb      string    `json:"verb"`
	At        time.Time `json:"at"`
}

// NewStore opens (or creates) the audit database. WAL keeps readers
// unblocked while guest accesses are being recorded.
func NewStore(path string, log *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("connect history db: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS share_access (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		share_id   TEXT NOT NULL,
		remote_ip  TEXT NOT NULL,
		user_agent TEXT NOT NULL,
		path       TEXT NOT NULL,
		verb       TEXT NOT NULL,
		at         DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_share_access_share ON share_access(share_id);
	CREATE INDEX IF NOT EXISTS idx_share_access_at ON share_access(at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// Record logs one guest access.
func (s *Store) Record(shareID, remoteIP, userAgent, path, verb string) {
	_, err := s.db.Exec(
		`INSERT INTO share_access (share_id, remote_ip, user_agent, path, verb, at) VALUES (?, ?, ?, ?, ?, ?)`,
		shareID, remoteIP, userAgent, path, verb, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		s.log.WithError(err).Warn("record share access")
	}
}

// Recent returns the latest entries across all shares, newest first.
// shareID narrows the query when non-empty.
func (s *Store) Recent(shareID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, share_id, remote_ip, user_agent, path, verb, at FROM share_access`
	args := []interface{}{}
	if shareID != "" {
		query += ` WHERE share_id = ?`
		args = append(args, shareID)
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query share access: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &e.ShareID, &e.RemoteIP, &e.UserAgent, &e.Path, &e.Verb, &ts); err != nil {
			return nil, fmt.Errorf("scan share access row: %w", err)
		}
		if e.At, err = time.Parse(time.RFC3339, ts); err != nil {
			return nil, fmt.Errorf("parse share access timestamp: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Close shuts the database down.
func (s *Store) Close() error {
	return s.db.Close()
}
