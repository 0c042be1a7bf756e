package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type MatchRow struct {
	ID        string     `json:"id"`
	Mode      string     `json:"mode"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndReason string     `json:"end_reason,omitempty"`
	Actions   int64      `json:"actions"`
}

type PlayerRow struct {
	PlayerID int    `json:"player_id"`
	Team     int    `json:"team"`
	ConnID   string `json:"conn_id"`
}

type ActionRow struct {
	PlayerID int    `json:"player_id"`
	Action   string `json:"action"`
	Count    int64  `json:"count"`
}

// Reader runs the read-side queries. The server's index and offline tools
// share it.
type Reader struct{ db *sql.DB }

// OpenReader opens an existing index for querying only.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open index %s: %w", path, err)
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func (s *SQLiteIndex) Reader() *Reader { return &Reader{db: s.db} }

// RecentMatches returns up to limit matches, newest first.
func (r *Reader) RecentMatches(ctx context.Context, limit int) ([]MatchRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, `SELECT id, mode, started_at, ended_at, end_reason, actions
		FROM matches ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchRow
	for rows.Next() {
		var (
			m             MatchRow
			started       string
			ended, reason sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Mode, &started, &ended, &reason, &m.Actions); err != nil {
			return nil, err
		}
		if m.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("match %s started_at: %w", m.ID, err)
		}
		if ended.Valid {
			t, err := time.Parse(time.RFC3339Nano, ended.String)
			if err != nil {
				return nil, fmt.Errorf("match %s ended_at: %w", m.ID, err)
			}
			m.EndedAt = &t
		}
		m.EndReason = reason.String
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *Reader) MatchPlayers(ctx context.Context, matchID string) ([]PlayerRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT player_id, team, conn_id FROM match_players
		WHERE match_id = ? ORDER BY player_id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlayerRow
	for rows.Next() {
		var p PlayerRow
		if err := rows.Scan(&p.PlayerID, &p.Team, &p.ConnID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Reader) MatchActions(ctx context.Context, matchID string) ([]ActionRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT player_id, action, count FROM match_actions
		WHERE match_id = ? ORDER BY player_id, action`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ActionRow
	for rows.Next() {
		var a ActionRow
		if err := rows.Scan(&a.PlayerID, &a.Action, &a.Count); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
