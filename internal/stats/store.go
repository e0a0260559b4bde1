// internal/stats/store.go
//
// Local match statistics. Each client keeps its own results in a small
// sqlite file next to its config; there is no server to keep them for us.
package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS match_results (
	match_id    TEXT PRIMARY KEY,
	winner_id   TEXT NOT NULL,
	winner_name TEXT NOT NULL,
	players     INTEGER NOT NULL,
	turns       INTEGER NOT NULL,
	finished_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS ratings (
	name  TEXT PRIMARY KEY,
	elo   REAL NOT NULL,
	phi   REAL NOT NULL,
	sigma REAL NOT NULL
);
`

// Store wraps the sqlite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the stats database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open stats db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init stats schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Result is one finished match from this client's point of view.
type Result struct {
	MatchID    uuid.UUID
	Winner     uuid.UUID
	WinnerName string
	Players    int
	Turns      uint64
	FinishedAt time.Time
}

// RecordResult stores a finished match. Recording the same match twice is a
// no-op, so a rematch loop can call this unconditionally.
func (s *Store) RecordResult(ctx context.Context, r Result) error {
	q := `
		INSERT OR IGNORE INTO match_results
			(match_id, winner_id, winner_name, players, turns, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, q,
		r.MatchID.String(), r.Winner.String(), r.WinnerName, r.Players, r.Turns, r.FinishedAt)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// Standing is a row of the local win table.
type Standing struct {
	Name string
	Wins int
}

// Standings returns win counts by player name, most wins first.
func (s *Store) Standings(ctx context.Context) ([]Standing, error) {
	q := `
		SELECT winner_name, COUNT(*) AS wins
		FROM match_results
		GROUP BY winner_name
		ORDER BY wins DESC, winner_name ASC
	`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query standings: %w", err)
	}
	defer rows.Close()

	var out []Standing
	for rows.Next() {
		var st Standing
		if err := rows.Scan(&st.Name, &st.Wins); err != nil {
			return nil, fmt.Errorf("scan standing: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// MatchCount returns the number of recorded matches.
func (s *Store) MatchCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM match_results`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return n, nil
}
