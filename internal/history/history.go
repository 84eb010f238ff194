// Package history is the audit-log sink: one row per answered query.
// Write failures are the caller's to log and swallow; they must never
// fail a user-facing response.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vkarpenko/salesbot/pkg/models"
)

// storedAnswerCap keeps audit rows small; the full answer already went
// to the user.
const storedAnswerCap = 2000

const schema = `
CREATE TABLE IF NOT EXISTS session_logs (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  user_id    INTEGER NOT NULL,
  query      TEXT NOT NULL,
  response   TEXT NOT NULL,
  created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS session_logs_user_idx ON session_logs (user_id);
`

// Store writes session logs to a local SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite file and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Record appends one answered query to the log.
func (s *Store) Record(ctx context.Context, q models.Query, a models.Answer) error {
	resp := a.Text
	if len(resp) > storedAnswerCap {
		resp = resp[:storedAnswerCap]
	}
	at := q.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_logs (user_id, query, response, created_at) VALUES (?, ?, ?, ?)`,
		q.UserID, q.Text, resp, at.UTC())
	if err != nil {
		return fmt.Errorf("inserting session log: %w", err)
	}
	return nil
}

// CountForUser returns how many answered queries are recorded for a
// user. Used by maintenance tooling and tests.
func (s *Store) CountForUser(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM session_logs WHERE user_id = ?`, userID).Scan(&n)
	return n, err
}
