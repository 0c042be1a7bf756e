package indexdb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"farmersfright.gg/internal/session"
)

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAction}

	s.RecordMatchStart(session.MatchRecord{ID: "m", Seats: []session.Seat{{PlayerID: 1}}})
	s.RecordAction("m", 1, "moveUnits")
	s.RecordMatchEnd("m", time.Now(), "empty")

	st := s.Stats()
	if st.DropMatch != 1 || st.DropSeat != 1 || st.DropAction != 1 || st.DropEnd != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_RecordAndQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "matches.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	idx.RecordMatchStart(session.MatchRecord{ID: "old", Mode: session.ModeDirect, StartedAt: t1})
	idx.RecordMatchEnd("old", t1.Add(time.Minute), "replaced")
	idx.RecordMatchStart(session.MatchRecord{
		ID: "new", Mode: session.ModeQueue, StartedAt: t1.Add(2 * time.Minute),
		Seats: []session.Seat{{PlayerID: 2, Team: 4, ConnID: "b"}, {PlayerID: 1, Team: 3, ConnID: "a"}},
	})
	idx.RecordAction("new", 1, "moveUnits")
	idx.RecordAction("new", 1, "moveUnits")
	idx.RecordAction("new", 2, "upgrade")
	idx.RecordMatchEnd("old", t1.Add(time.Hour), "ignored")

	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	ms, err := r.RecentMatches(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(ms) != 2 || ms[0].ID != "new" || ms[1].ID != "old" {
		t.Fatalf("matches=%+v", ms)
	}
	if ms[0].Actions != 3 || ms[0].EndedAt != nil || ms[0].Mode != session.ModeQueue {
		t.Fatalf("new=%+v", ms[0])
	}
	if ms[1].EndedAt == nil || !ms[1].EndedAt.Equal(t1.Add(time.Minute)) || ms[1].EndReason != "replaced" {
		t.Fatalf("old=%+v", ms[1])
	}

	ps, err := r.MatchPlayers(ctx, "new")
	if err != nil {
		t.Fatalf("players: %v", err)
	}
	if len(ps) != 2 || ps[0].PlayerID != 1 || ps[0].Team != 3 || ps[1].ConnID != "b" {
		t.Fatalf("players=%+v", ps)
	}

	as, err := r.MatchActions(ctx, "new")
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	want := []ActionRow{{PlayerID: 1, Action: "moveUnits", Count: 2}, {PlayerID: 2, Action: "upgrade", Count: 1}}
	if len(as) != 2 || as[0] != want[0] || as[1] != want[1] {
		t.Fatalf("actions=%+v", as)
	}
}

func TestIngestIndex_RetainsBatchOnFlushFailure(t *testing.T) {
	var mu sync.Mutex
	reqCount := 0
	var kinds []string
	var token string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		reqCount++
		thisReq := reqCount
		token = r.Header.Get("x-ff-index-token")
		mu.Unlock()

		if thisReq <= 3 {
			http.Error(w, "temporary failure", http.StatusInternalServerError)
			return
		}

		var body struct {
			Events []ingestEvent `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		mu.Lock()
		for _, e := range body.Events {
			kinds = append(kinds, e.Kind)
		}
		mu.Unlock()

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	idx, err := OpenIngest(IngestConfig{
		Endpoint:      srv.URL,
		Token:         "secret",
		BatchSize:     1,
		FlushInterval: 20 * time.Millisecond,
		HTTPTimeout:   2 * time.Second,
		Logger:        zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("OpenIngest: %v", err)
	}
	defer func() { _ = idx.Close() }()

	idx.RecordMatchStart(session.MatchRecord{ID: "m1", Mode: session.ModeQueue, StartedAt: time.Now()})

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := len(kinds) >= 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) < 1 || kinds[0] != "match_start" {
		t.Fatalf("expected retained batch to be delivered; kinds=%v reqCount=%d", kinds, reqCount)
	}
	if token != "secret" {
		t.Fatalf("token=%q", token)
	}

	st := idx.Stats()
	if st.FlushFailTotal == 0 {
		t.Fatalf("expected flush failures to be recorded, got 0")
	}
	if st.QueueDroppedTotal != 0 {
		t.Fatalf("unexpected queue drops: %d", st.QueueDroppedTotal)
	}
}

func TestOpenIngest_RequiresEndpoint(t *testing.T) {
	if _, err := OpenIngest(IngestConfig{Endpoint: "  "}); err == nil {
		t.Fatalf("expected error")
	}
}
