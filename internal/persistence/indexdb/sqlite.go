package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"farmersfright.gg/internal/session"
)

// Stats reports the writer queue. Drops happen when the writer falls behind;
// the event log remains the source of truth.
type Stats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropMatch     uint64 `json:"drop_match_total"`
	DropSeat      uint64 `json:"drop_seat_total"`
	DropAction    uint64 `json:"drop_action_total"`
	DropEnd       uint64 `json:"drop_end_total"`
}

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropMatch  atomic.Uint64
	dropSeat   atomic.Uint64
	dropAction atomic.Uint64
	dropEnd    atomic.Uint64
}

type reqKind int

const (
	reqMatch reqKind = iota + 1
	reqSeat
	reqAction
	reqEnd
)

type req struct {
	kind reqKind

	matchID  string
	at       time.Time
	mode     string
	seat     session.Seat
	playerID int
	action   string
	reason   string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS matches (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			end_reason TEXT,
			actions INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_matches_started ON matches(started_at);`,
		`CREATE TABLE IF NOT EXISTS match_players (
			match_id TEXT NOT NULL,
			player_id INTEGER NOT NULL,
			team INTEGER NOT NULL,
			conn_id TEXT NOT NULL,
			PRIMARY KEY (match_id, player_id)
		);`,
		`CREATE TABLE IF NOT EXISTS match_actions (
			match_id TEXT NOT NULL,
			player_id INTEGER NOT NULL,
			action TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (match_id, player_id, action)
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropMatch:     s.dropMatch.Load(),
		DropSeat:      s.dropSeat.Load(),
		DropAction:    s.dropAction.Load(),
		DropEnd:       s.dropEnd.Load(),
	}
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) RecordMatchStart(m session.MatchRecord) {
	s.enqueue(req{kind: reqMatch, matchID: m.ID, at: m.StartedAt, mode: m.Mode}, &s.dropMatch)
	for _, seat := range m.Seats {
		s.RecordSeat(m.ID, seat)
	}
}

func (s *SQLiteIndex) RecordSeat(matchID string, seat session.Seat) {
	s.enqueue(req{kind: reqSeat, matchID: matchID, seat: seat}, &s.dropSeat)
}

func (s *SQLiteIndex) RecordAction(matchID string, playerID int, action string) {
	s.enqueue(req{kind: reqAction, matchID: matchID, playerID: playerID, action: action}, &s.dropAction)
}

func (s *SQLiteIndex) RecordMatchEnd(matchID string, endedAt time.Time, reason string) {
	s.enqueue(req{kind: reqEnd, matchID: matchID, at: endedAt, reason: reason}, &s.dropEnd)
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertMatch, _ := s.db.Prepare(`INSERT OR IGNORE INTO matches(id,mode,started_at) VALUES(?,?,?)`)
	insertSeat, _ := s.db.Prepare(`INSERT OR REPLACE INTO match_players(match_id,player_id,team,conn_id) VALUES(?,?,?,?)`)
	bumpAction, _ := s.db.Prepare(`INSERT INTO match_actions(match_id,player_id,action,count) VALUES(?,?,?,1)
		ON CONFLICT(match_id,player_id,action) DO UPDATE SET count = count + 1`)
	bumpMatch, _ := s.db.Prepare(`UPDATE matches SET actions = actions + 1 WHERE id = ?`)
	endMatch, _ := s.db.Prepare(`UPDATE matches SET ended_at = ?, end_reason = ? WHERE id = ? AND ended_at IS NULL`)
	defer func() {
		for _, st := range []*sql.Stmt{insertMatch, insertSeat, bumpAction, bumpMatch, endMatch} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 500 * time.Millisecond
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// An idle writer must not hold a transaction open.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				continue
			}
			switch r.kind {
			case reqMatch:
				exec(insertMatch, r.matchID, r.mode, r.at.UTC().Format(time.RFC3339Nano))
			case reqSeat:
				exec(insertSeat, r.matchID, r.seat.PlayerID, r.seat.Team, r.seat.ConnID)
			case reqAction:
				exec(bumpAction, r.matchID, r.playerID, r.action)
				exec(bumpMatch, r.matchID)
			case reqEnd:
				exec(endMatch, r.at.UTC().Format(time.RFC3339Nano), r.reason, r.matchID)
			}
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-ticker.C:
			commit()
		}
	}
}
