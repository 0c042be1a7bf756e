package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"farmersfright.gg/internal/config"
	"farmersfright.gg/internal/gate"
	"farmersfright.gg/internal/match"
	"farmersfright.gg/internal/persistence/snapshot"
	"farmersfright.gg/internal/session"
	"farmersfright.gg/internal/transport/ws"
)

// app holds the long-lived pieces the HTTP surface reads from.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	started time.Time

	sess    *session.Session
	queue   *match.Queue
	ws      *ws.Server
	limiter *gate.Limiter
	index   runtimeIndex
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   a.cfg.AllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
	}))

	r.Get("/health", a.handleHealth)
	r.Get("/metrics", a.handleMetrics)

	// Behind a trusted proxy the client-facing routes see the forwarded
	// address so the per-IP limiter counts real clients. Otherwise those
	// headers are client-controlled and ignored. Admin routes always keep the
	// socket address for the loopback check.
	r.Group(func(r chi.Router) {
		if a.cfg.TrustProxy {
			r.Use(middleware.RealIP)
		}
		r.Get("/v1/ws", a.ws.Handler())
		r.Get("/socket", a.ws.Handler())
	})

	if a.cfg.EnableAdmin && !a.cfg.Production() {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(loopbackOnly)
			r.Get("/state", a.handleAdminState)
			r.Post("/snapshot", a.handleAdminSnapshot)
		})
	} else {
		a.log.Info().Msg("admin endpoints disabled")
	}
	return r
}

func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !ws.IsLoopback(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(rw, r)
	})
}

type healthResponse struct {
	Status           string    `json:"status"`
	Timestamp        time.Time `json:"timestamp"`
	Uptime           float64   `json:"uptime"`
	ConnectedPlayers int64     `json:"connectedPlayers"`
	QueueSize        int       `json:"queueSize"`
	GameRunning      bool      `json:"gameRunning"`
}

func (a *app) handleHealth(rw http.ResponseWriter, r *http.Request) {
	st := a.sess.Stats()
	respondJSON(rw, http.StatusOK, healthResponse{
		Status:           "healthy",
		Timestamp:        time.Now().UTC(),
		Uptime:           time.Since(a.started).Seconds(),
		ConnectedPlayers: st.Connections,
		QueueSize:        a.queue.Len(),
		GameRunning:      st.GameRunning,
	})
}

func (a *app) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	st := a.sess.Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP ff_session_tick Current session tick.\n")
	fmt.Fprintf(rw, "# TYPE ff_session_tick counter\n")
	fmt.Fprintf(rw, "ff_session_tick %d\n", st.Tick)

	fmt.Fprintf(rw, "# HELP ff_connections Open websocket connections.\n")
	fmt.Fprintf(rw, "# TYPE ff_connections gauge\n")
	fmt.Fprintf(rw, "ff_connections %d\n", st.Connections)

	fmt.Fprintf(rw, "# HELP ff_joined_players Connections holding a player slot.\n")
	fmt.Fprintf(rw, "# TYPE ff_joined_players gauge\n")
	fmt.Fprintf(rw, "ff_joined_players %d\n", st.Joined)

	fmt.Fprintf(rw, "# HELP ff_objects Game objects in the running session.\n")
	fmt.Fprintf(rw, "# TYPE ff_objects gauge\n")
	fmt.Fprintf(rw, "ff_objects %d\n", st.Objects)

	fmt.Fprintf(rw, "# HELP ff_game_running Whether a session is running.\n")
	fmt.Fprintf(rw, "# TYPE ff_game_running gauge\n")
	fmt.Fprintf(rw, "ff_game_running %d\n", boolGauge(st.GameRunning))

	fmt.Fprintf(rw, "# HELP ff_matches_total Matches started.\n")
	fmt.Fprintf(rw, "# TYPE ff_matches_total counter\n")
	fmt.Fprintf(rw, "ff_matches_total %d\n", st.Matches)

	fmt.Fprintf(rw, "# HELP ff_queue_size Connections waiting in the match queue.\n")
	fmt.Fprintf(rw, "# TYPE ff_queue_size gauge\n")
	fmt.Fprintf(rw, "ff_queue_size %d\n", a.queue.Len())

	fmt.Fprintf(rw, "# HELP ff_dropped_sends_total Outbound messages dropped on full connection buffers.\n")
	fmt.Fprintf(rw, "# TYPE ff_dropped_sends_total counter\n")
	fmt.Fprintf(rw, "ff_dropped_sends_total %d\n", st.Dropped)

	fmt.Fprintf(rw, "# HELP ff_rejected_connections_total Connections refused by the per-IP limiter.\n")
	fmt.Fprintf(rw, "# TYPE ff_rejected_connections_total counter\n")
	fmt.Fprintf(rw, "ff_rejected_connections_total %d\n", a.ws.Rejected())

	if a.limiter != nil {
		fmt.Fprintf(rw, "# HELP ff_limiter_tracked_ips Addresses tracked by the connection limiter.\n")
		fmt.Fprintf(rw, "# TYPE ff_limiter_tracked_ips gauge\n")
		fmt.Fprintf(rw, "ff_limiter_tracked_ips %d\n", a.limiter.Len())
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	if full, err := a.sess.Status(ctx); err == nil && len(full.ActionCounts) > 0 {
		types := make([]string, 0, len(full.ActionCounts))
		for t := range full.ActionCounts {
			types = append(types, t)
		}
		sort.Strings(types)
		fmt.Fprintf(rw, "# HELP ff_actions_total Applied player actions by type.\n")
		fmt.Fprintf(rw, "# TYPE ff_actions_total counter\n")
		for _, t := range types {
			fmt.Fprintf(rw, "ff_actions_total{type=%q} %d\n", t, full.ActionCounts[t])
		}
	}

	writeIndexMetrics(rw, a.index)
}

func (a *app) handleAdminState(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	st, err := a.sess.Status(ctx)
	if err != nil {
		respondJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	respondJSON(rw, http.StatusOK, map[string]any{
		"session": st,
		"queue":   a.queue.Players(),
	})
}

func (a *app) handleAdminSnapshot(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	snap, err := a.sess.ExportSnapshot(ctx)
	if err != nil {
		respondJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	path := snapshot.Path(a.cfg.SnapshotDir(), snap.Header)
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		a.log.Error().Err(err).Str("path", path).Msg("snapshot write")
		respondJSON(rw, http.StatusInternalServerError, map[string]any{"ok": false, "error": err.Error()})
		return
	}
	a.log.Info().Str("path", path).Uint64("tick", snap.Header.Tick).Msg("snapshot written")
	respondJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": snap.Header.Tick, "path": path})
}

func respondJSON(rw http.ResponseWriter, status int, data any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(data)
}

func boolGauge(b bool) int {
	if b {
		return 1
	}
	return 0
}
