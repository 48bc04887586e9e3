package auditstore

import (
	"database/sql"
	"math/rand"
	"strings"

	"github.com/pkg/errors"
)

// Counts holds the accumulated gift totals for one user in one channel.
type Counts struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Subs     int64  `json:"subs"`
	Bits     int64  `json:"bits"`
	Redeems  int64  `json:"redeems"`
}

// Tickets converts gift totals into raffle tickets. Redeems carry no weight.
func (c Counts) Tickets() int64 {
	return c.Subs/subsPerTicket + c.Bits/bitsPerTicket
}

func (s *Store) upsertDelta(userID, username, channel, column string, n int64) error {
	q := `INSERT INTO raffle_users (user_id, username, channel, ` + column + `)
VALUES (?, ?, ?, ?)
ON CONFLICT (user_id, channel) DO UPDATE SET ` + column + ` = ` + column + ` + excluded.` + column + `, username = excluded.username;`
	_, err := s.db.Exec(q, userID, username, channel, n)
	return errors.Wrapf(err, "upsert %s", column)
}

func (s *Store) AddSubs(userID, username, channel string, n int64) error {
	return s.upsertDelta(userID, username, channel, "subs", n)
}

func (s *Store) AddBits(userID, username, channel string, n int64) error {
	return s.upsertDelta(userID, username, channel, "bits", n)
}

func (s *Store) AddRedeems(userID, username, channel string, n int64) error {
	return s.upsertDelta(userID, username, channel, "redeems", n)
}

// CountsByName looks up gift totals by display name, case-insensitively.
func (s *Store) CountsByName(username, channel string) (Counts, error) {
	const q = `SELECT user_id, username, subs, bits, redeems FROM raffle_users
WHERE channel = ? AND LOWER(username) = ?;`
	var c Counts
	err := s.db.QueryRow(q, channel, strings.ToLower(username)).
		Scan(&c.UserID, &c.Username, &c.Subs, &c.Bits, &c.Redeems)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Counts{}, ErrNotFound
		}
		return Counts{}, errors.Wrap(err, "query counts")
	}
	return c, nil
}

// AllCounts returns every user with at least one ticket in the channel.
func (s *Store) AllCounts(channel string) ([]Counts, error) {
	const q = `SELECT user_id, username, subs, bits, redeems FROM raffle_users
WHERE channel = ? ORDER BY username;`
	rows, err := s.db.Query(q, channel)
	if err != nil {
		return nil, errors.Wrap(err, "query all counts")
	}
	defer rows.Close()

	var out []Counts
	for rows.Next() {
		var c Counts
		if err := rows.Scan(&c.UserID, &c.Username, &c.Subs, &c.Bits, &c.Redeems); err != nil {
			return nil, errors.Wrap(err, "scan counts")
		}
		if c.Tickets() > 0 {
			out = append(out, c)
		}
	}
	return out, errors.Wrap(rows.Err(), "iterate counts")
}

// DrawRaffle picks one user at random, weighted by ticket count. It returns
// ErrNotFound when nobody holds a ticket.
func (s *Store) DrawRaffle(channel string) (Counts, error) {
	entrants, err := s.AllCounts(channel)
	if err != nil {
		return Counts{}, err
	}
	var total int64
	for _, c := range entrants {
		total += c.Tickets()
	}
	if total == 0 {
		return Counts{}, ErrNotFound
	}
	pick := rand.Int63n(total)
	for _, c := range entrants {
		pick -= c.Tickets()
		if pick < 0 {
			return c, nil
		}
	}
	return entrants[len(entrants)-1], nil
}
