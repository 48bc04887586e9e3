// Package auditstore persists moderation outcomes: an audit row per flagged
// or near-miss evaluation, the deferred-action status per user, and the
// per-channel gift counts backing the raffle.
package auditstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/gnasty-mod/internal/core"
)

const schema = `CREATE TABLE IF NOT EXISTS filter_events (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  ts TEXT NOT NULL,
  user_id TEXT NOT NULL,
  username TEXT NOT NULL,
  channel TEXT NOT NULL,
  message TEXT NOT NULL,
  score REAL NOT NULL,
  follow_days INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  is_near_miss INTEGER NOT NULL DEFAULT 0,
  ignore_reason TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS raffle_users (
  user_id TEXT NOT NULL,
  username TEXT NOT NULL,
  channel TEXT NOT NULL,
  subs INTEGER NOT NULL DEFAULT 0,
  bits INTEGER NOT NULL DEFAULT 0,
  redeems INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (user_id, channel)
);`

const (
	subsPerTicket = 1
	bitsPerTicket = 500
)

// ErrNotFound is returned when a user has no row in the raffle table.
var ErrNotFound = errors.New("auditstore: user not found")

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Ping() error { return s.db.Ping() }

func (s *Store) String() string { return fmt.Sprintf("auditstore.Store{%p}", s.db) }

// RecordDecision inserts one audit row for an evaluation, tagged with the
// initial deferred-action status.
func (s *Store) RecordDecision(d core.Decision, status string) error {
	const q = `INSERT INTO filter_events (ts, user_id, username, channel, message, score, follow_days, status, is_near_miss, ignore_reason)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	ts := d.Event.Ts.UTC().Format(time.RFC3339Nano)
	nearMiss := 0
	if d.NearMiss {
		nearMiss = 1
	}
	_, err := s.db.Exec(q, ts, d.Event.Subject.ID, d.Event.Subject.Name, d.Event.Channel,
		d.Event.Text, d.Score, d.Event.FollowDays, status, nearMiss, d.Reason.String())
	return errors.Wrap(err, "insert filter event")
}

// UpdateStatus sets the deferred-action status on the user's most recent
// audit row. Missing users are ignored.
func (s *Store) UpdateStatus(userID, status string) error {
	const q = `UPDATE filter_events SET status = ?
WHERE user_id = ? AND id = (SELECT MAX(id) FROM filter_events WHERE user_id = ?);`
	_, err := s.db.Exec(q, status, userID, userID)
	return errors.Wrap(err, "update status")
}

// FilterEvent is one persisted audit row.
type FilterEvent struct {
	ID           int64     `json:"id"`
	Ts           time.Time `json:"ts"`
	UserID       string    `json:"user_id"`
	Username     string    `json:"username"`
	Channel      string    `json:"channel"`
	Message      string    `json:"message"`
	Score        float64   `json:"score"`
	FollowDays   int       `json:"follow_days"`
	Status       string    `json:"status"`
	NearMiss     bool      `json:"near_miss"`
	IgnoreReason string    `json:"ignore_reason,omitempty"`
}

// ListEvents returns the most recent audit rows, newest first.
func (s *Store) ListEvents(ctx context.Context, limit int) ([]FilterEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `SELECT id, ts, user_id, username, channel, message, score, follow_days, status, is_near_miss, ignore_reason
FROM filter_events ORDER BY id DESC LIMIT ?;`
	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list filter events")
	}
	defer rows.Close()

	var out []FilterEvent
	for rows.Next() {
		var (
			ev       FilterEvent
			ts       string
			nearMiss int
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.UserID, &ev.Username, &ev.Channel, &ev.Message,
			&ev.Score, &ev.FollowDays, &ev.Status, &nearMiss, &ev.IgnoreReason); err != nil {
			return nil, errors.Wrap(err, "scan filter event")
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Ts = t
		}
		ev.NearMiss = nearMiss != 0
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "iterate filter events")
}

// Count returns the total number of audit rows.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM filter_events;`).Scan(&n)
	return n, errors.Wrap(err, "count filter events")
}
