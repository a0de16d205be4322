package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/warden/internal/history"
)

// DB implements history.Sink on SQLite (modernc.org/sqlite driver,
// CGO-free). Path is a filesystem path; use ":memory:" for in-memory.
type DB struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite history database at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// busy timeout helps with short concurrent locks
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &DB{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS restart_events(
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			service TEXT NOT NULL,
			issued_at TIMESTAMP NOT NULL,
			outcome TEXT NOT NULL,
			error TEXT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_restart_events_service ON restart_events(service);`,
		`CREATE INDEX IF NOT EXISTS idx_restart_events_issued_at ON restart_events(issued_at);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Record(ctx context.Context, e history.Event) error {
	var errText sql.NullString
	if e.Error != "" {
		errText = sql.NullString{String: e.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO restart_events(service, issued_at, outcome, error) VALUES(?, ?, ?, ?);`,
		e.Service, e.IssuedAt.UTC(), string(e.Outcome), errText)
	return err
}

func (s *DB) Recent(ctx context.Context, service string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT service, issued_at, outcome, error FROM restart_events`
	args := make([]any, 0, 2)
	if service != "" {
		q += ` WHERE service = ?`
		args = append(args, service)
	}
	q += ` ORDER BY issued_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e       history.Event
			issued  time.Time
			errText sql.NullString
		)
		if err := rows.Scan(&e.Service, &issued, &e.Outcome, &errText); err != nil {
			return nil, err
		}
		e.IssuedAt = issued
		if errText.Valid {
			e.Error = errText.String
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
