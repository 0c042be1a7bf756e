package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"farmersfright.gg/internal/game"
	"farmersfright.gg/internal/gate"
	"farmersfright.gg/internal/match"
	"farmersfright.gg/internal/persistence/snapshot"
	"farmersfright.gg/internal/protocol"
)

var ErrNotRunning = errors.New("session not running")

type Config struct {
	TickRateHz int
	MaxPlayers int
	Rules      Rules
}

// Conn is one client connection as the session sees it.
type Conn struct {
	ID  string
	IP  string
	Out chan []byte
}

type eventKind int

const (
	evConnect eventKind = iota
	evDisconnect
	evJoinGame
	evAction
	evStart
)

// event is one unit of work for the session loop. Every connection event and
// queue start goes through the same channel so per-connection order holds.
type event struct {
	kind     eventKind
	conn     Conn
	connID   string
	playerID int
	data     json.RawMessage
	batch    []match.Assignment
}

// Status is a point-in-time view served to the operational endpoints.
type Status struct {
	Tick         uint64            `json:"tick"`
	MatchID      string            `json:"match_id,omitempty"`
	GameRunning  bool              `json:"game_running"`
	GameTime     int64             `json:"game_time_ms"`
	Connections  int               `json:"connections"`
	Joined       int               `json:"joined"`
	Seats        []int             `json:"seats"`
	Players      []int             `json:"players"`
	Objects      int               `json:"objects"`
	ActionCounts map[string]uint64 `json:"action_counts,omitempty"`
	Dropped      uint64            `json:"dropped_sends"`
}

// Stats are lock-free counters for /health and /metrics.
type Stats struct {
	Tick        uint64
	Connections int64
	Joined      int64
	Objects     int64
	GameRunning bool
	Dropped     uint64
	Matches     uint64
}

// Session is the single authoritative owner of match state. All state is
// touched only from the Run goroutine.
type Session struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time

	inbox   chan event
	status  chan chan Status
	export  chan chan snapshot.SnapshotV1
	stopped chan struct{}

	state      *State
	conns      map[string]*Conn
	slots      *gate.Slots
	matchID    string
	matchEnded bool

	// Optional sinks (may be nil).
	events EventLogger
	index  MatchIndex

	tick        atomic.Uint64
	connections atomic.Int64
	joined      atomic.Int64
	objects     atomic.Int64
	running     atomic.Bool
	dropped     atomic.Uint64
	matches     atomic.Uint64
}

func New(cfg Config, logger zerolog.Logger) *Session {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 60
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = 8
	}
	if cfg.Rules == (Rules{}) {
		cfg.Rules = DefaultRules()
	}
	return &Session{
		cfg:     cfg,
		log:     logger,
		now:     time.Now,
		inbox:   make(chan event, 1024),
		status:  make(chan chan Status),
		export:  make(chan chan snapshot.SnapshotV1),
		stopped: make(chan struct{}),
		conns:   map[string]*Conn{},
		slots:   gate.NewSlots(cfg.MaxPlayers),
	}
}

func (s *Session) SetEventLogger(l EventLogger) { s.events = l }
func (s *Session) SetMatchIndex(idx MatchIndex) { s.index = idx }

func (s *Session) CurrentTick() uint64 { return s.tick.Load() }

func (s *Session) Stats() Stats {
	return Stats{
		Tick:        s.tick.Load(),
		Connections: s.connections.Load(),
		Joined:      s.joined.Load(),
		Objects:     s.objects.Load(),
		GameRunning: s.running.Load(),
		Dropped:     s.dropped.Load(),
		Matches:     s.matches.Load(),
	}
}

func (s *Session) post(ev event) {
	select {
	case s.inbox <- ev:
	case <-s.stopped:
	}
}

func (s *Session) Connect(c Conn)           { s.post(event{kind: evConnect, conn: c}) }
func (s *Session) Disconnect(connID string) { s.post(event{kind: evDisconnect, connID: connID}) }

func (s *Session) JoinGame(connID string, playerID int) {
	s.post(event{kind: evJoinGame, connID: connID, playerID: playerID})
}

func (s *Session) Submit(connID string, data json.RawMessage) {
	s.post(event{kind: evAction, connID: connID, data: data})
}

// StartMatch is the queue's StartFunc.
func (s *Session) StartMatch(batch []match.Assignment) {
	s.post(event{kind: evStart, batch: batch})
}

func (s *Session) Status(ctx context.Context) (Status, error) {
	resp := make(chan Status, 1)
	select {
	case s.status <- resp:
	case <-s.stopped:
		return Status{}, ErrNotRunning
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
	select {
	case st := <-resp:
		return st, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

func (s *Session) ExportSnapshot(ctx context.Context) (snapshot.SnapshotV1, error) {
	resp := make(chan snapshot.SnapshotV1, 1)
	select {
	case s.export <- resp:
	case <-s.stopped:
		return snapshot.SnapshotV1{}, ErrNotRunning
	case <-ctx.Done():
		return snapshot.SnapshotV1{}, ctx.Err()
	}
	select {
	case snap := <-resp:
		return snap, nil
	case <-ctx.Done():
		return snapshot.SnapshotV1{}, ctx.Err()
	}
}

func (s *Session) Run(ctx context.Context) error {
	defer close(s.stopped)

	interval := time.Second / time.Duration(s.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.endMatch("shutdown")
			return ctx.Err()
		case ev := <-s.inbox:
			s.dispatch(ev)
		case resp := <-s.status:
			resp <- s.snapshotStatus()
		case resp := <-s.export:
			resp <- s.exportSnapshot()
		case <-ticker.C:
			s.step()
		}
	}
}

// dispatch handles one event. A panic in a handler is logged and reported to
// the connection instead of taking down the loop.
func (s *Session) dispatch(ev event) {
	connID := ev.connID
	if ev.kind == evConnect {
		connID = ev.conn.ID
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Str("conn", connID).Interface("panic", r).Msg("session handler panic")
			if c := s.conns[connID]; c != nil {
				s.sendError(c, protocol.MsgInternal, protocol.ErrInternal)
			}
		}
	}()

	switch ev.kind {
	case evConnect:
		s.handleConnect(ev.conn)
	case evDisconnect:
		s.handleDisconnect(ev.connID)
	case evJoinGame:
		s.handleJoinGame(ev.connID, ev.playerID)
	case evAction:
		s.handleAction(ev.connID, ev.data)
	case evStart:
		s.handleStart(ev.batch)
	}
}

func (s *Session) handleConnect(c Conn) {
	if c.ID == "" {
		return
	}
	cc := c
	s.conns[c.ID] = &cc
	s.connections.Store(int64(len(s.conns)))
	s.log.Info().Str("conn", c.ID).Str("ip", c.IP).Int("connections", len(s.conns)).Msg("player connected")
}

func (s *Session) handleDisconnect(connID string) {
	if _, ok := s.conns[connID]; !ok {
		return
	}
	delete(s.conns, connID)
	s.connections.Store(int64(len(s.conns)))

	pid, seated := s.slots.Release(connID)
	s.joined.Store(int64(s.slots.Len()))
	if seated && s.state != nil {
		removed, had := s.state.RemovePlayer(pid)
		s.objects.Store(int64(s.state.ObjectCount()))
		if removed > 0 {
			s.log.Info().Int("player", pid).Int("removed", removed).Msg("cleaned up objects for disconnected player")
		}
		if had {
			s.log.Info().Int("player", pid).Msg("removed player from game state")
		}
		s.writeEvent(MatchEvent{Kind: EventLeave, PlayerID: pid, Removed: removed})
		if s.slots.Len() == 0 {
			s.endMatch("empty")
		}
	}
	s.log.Info().Str("conn", connID).Int("connections", len(s.conns)).Msg("player disconnected")
}

func (s *Session) handleJoinGame(connID string, playerID int) {
	c := s.conns[connID]
	if c == nil {
		return
	}
	if err := s.slots.Reserve(connID, playerID); err != nil {
		msg := protocol.MsgInvalidPlayerID
		if errors.Is(err, gate.ErrSlotTaken) {
			msg = protocol.MsgPlayerIDTaken
		}
		s.send(c, protocol.MustEncode(protocol.TypeJoinError, protocol.JoinErrorMsg{Message: msg}))
		s.log.Info().Str("conn", connID).Int("player", playerID).Err(err).Msg("join rejected")
		return
	}
	s.joined.Store(int64(s.slots.Len()))

	if s.state == nil || !s.state.Running() {
		s.begin(LegacyAssignments(), ModeDirect, nil)
	}
	team := s.state.TeamOf(playerID)
	if s.index != nil {
		s.index.RecordSeat(s.matchID, Seat{PlayerID: playerID, Team: team, ConnID: connID})
	}
	s.writeEvent(MatchEvent{Kind: EventJoin, PlayerID: playerID, Team: team})

	now := s.now()
	if b, err := protocol.Encode(protocol.TypeGameStateUpdate, s.state.Snapshot(now)); err == nil {
		s.send(c, b)
	} else {
		s.log.Error().Err(err).Msg("encode game state")
	}
	s.send(c, protocol.MustEncode(protocol.TypeJoinSuccess, protocol.JoinSuccessMsg{PlayerID: playerID}))
	s.log.Info().Str("conn", connID).Int("player", playerID).Msg("player joined game")
}

func (s *Session) handleAction(connID string, data json.RawMessage) {
	c := s.conns[connID]
	if c == nil {
		return
	}
	pid, ok := s.slots.PlayerOf(connID)
	if !ok {
		return
	}
	a, err := protocol.ParseAction(data)
	if err != nil {
		s.sendError(c, protocol.MsgInvalidAction, protocol.ErrProtoBadRequest)
		s.log.Debug().Str("conn", connID).Err(err).Msg("bad action")
		return
	}
	if s.state == nil || !s.state.Running() || !a.Type.Known() {
		return
	}

	out := s.state.Apply(pid, a, s.now())
	s.objects.Store(int64(s.state.ObjectCount()))
	if s.index != nil {
		s.index.RecordAction(s.matchID, pid, string(a.Type))
	}
	s.writeEvent(MatchEvent{Kind: EventAction, PlayerID: pid, Action: string(a.Type), Data: data})

	if out.Chat != nil {
		s.deliverChat(out.Chat)
	}
	if out.Rebroadcast {
		payload, err := protocol.WithPlayerID(data, pid)
		if err != nil {
			s.log.Error().Err(err).Msg("augment action")
			return
		}
		b := protocol.MustEncode(protocol.TypePlayerAction, json.RawMessage(payload))
		for id, other := range s.conns {
			if id == connID {
				continue
			}
			s.send(other, b)
		}
	}
}

func (s *Session) deliverChat(ch *Chat) {
	b := protocol.MustEncode(protocol.TypeChatMessage, ch.Msg)
	if !ch.TeamOnly {
		for _, c := range s.conns {
			s.send(c, b)
		}
		return
	}
	if ch.Team == 0 {
		return
	}
	for id, c := range s.conns {
		pid, ok := s.slots.PlayerOf(id)
		if !ok || s.state.TeamOf(pid) != ch.Team {
			continue
		}
		s.send(c, b)
	}
}

func (s *Session) handleStart(batch []match.Assignment) {
	var live []match.Assignment
	for _, a := range batch {
		if _, ok := s.conns[a.ConnID]; ok {
			live = append(live, a)
		}
	}
	if len(live) == 0 {
		s.log.Warn().Int("drained", len(batch)).Msg("queue start with no live connections")
		return
	}

	assignments := make([]Assignment, len(live))
	for i, a := range live {
		assignments[i] = Assignment{PlayerID: a.PlayerID, Team: a.Team}
	}
	s.slots.Reset()
	seats := make([]Seat, 0, len(live))
	for _, a := range live {
		if err := s.slots.Reserve(a.ConnID, a.PlayerID); err != nil {
			s.log.Error().Err(err).Str("conn", a.ConnID).Int("player", a.PlayerID).Msg("seat drained player")
			continue
		}
		seats = append(seats, Seat{PlayerID: a.PlayerID, Team: a.Team, ConnID: a.ConnID})
	}
	s.joined.Store(int64(s.slots.Len()))
	s.begin(assignments, ModeQueue, seats)

	b, err := protocol.Encode(protocol.TypeGameStateUpdate, s.state.Snapshot(s.now()))
	if err != nil {
		s.log.Error().Err(err).Msg("encode game state")
		return
	}
	for _, a := range live {
		c := s.conns[a.ConnID]
		s.send(c, b)
		s.send(c, protocol.MustEncode(protocol.TypeGameStarting, protocol.GameStartingMsg{PlayerID: a.PlayerID, Team: a.Team}))
	}
}

// begin replaces the running match with a freshly bootstrapped one.
func (s *Session) begin(assignments []Assignment, mode string, seats []Seat) {
	s.endMatch("replaced")

	now := s.now()
	s.state = Bootstrap(assignments, s.cfg.Rules, now)
	s.matchID = uuid.NewString()
	s.matchEnded = false
	s.matches.Add(1)
	s.running.Store(true)
	s.objects.Store(int64(s.state.ObjectCount()))

	if s.index != nil {
		s.index.RecordMatchStart(MatchRecord{ID: s.matchID, Mode: mode, StartedAt: now, Seats: seats})
	}
	s.writeEvent(MatchEvent{Kind: EventStart, Seats: seats, Reason: mode})

	ev := s.log.Info().Str("match", s.matchID).Str("mode", mode)
	arr := zerolog.Arr()
	for _, a := range assignments {
		arr = arr.Dict(zerolog.Dict().Int("player", a.PlayerID).Int("team", a.Team))
	}
	ev.Array("assignments", arr).Msg("game started")
}

// endMatch records the current match as finished. The state keeps running
// until a new match replaces it.
func (s *Session) endMatch(reason string) {
	if s.matchID == "" || s.matchEnded {
		return
	}
	s.matchEnded = true
	now := s.now()
	if s.index != nil {
		s.index.RecordMatchEnd(s.matchID, now, reason)
	}
	s.writeEvent(MatchEvent{Kind: EventEnd, Reason: reason})
	s.log.Info().Str("match", s.matchID).Str("reason", reason).Msg("match finished")
}

func (s *Session) step() {
	tick := s.tick.Add(1)
	if s.state == nil || !s.state.Running() {
		return
	}
	now := s.now()
	s.state.Advance(now)

	b, err := protocol.Encode(protocol.TypeGameStateUpdate, s.state.Snapshot(now))
	if err != nil {
		s.log.Error().Err(err).Uint64("tick", tick).Msg("encode game state")
		return
	}
	for _, c := range s.conns {
		if !sendLatest(c.Out, b) {
			s.dropped.Add(1)
		}
	}
}

func (s *Session) writeEvent(e MatchEvent) {
	if s.events == nil || s.matchID == "" {
		return
	}
	e.Time = s.now().UTC()
	e.MatchID = s.matchID
	e.Tick = s.tick.Load()
	if err := s.events.WriteEvent(e); err != nil {
		s.log.Error().Err(err).Str("kind", e.Kind).Msg("event log write")
	}
}

func (s *Session) send(c *Conn, b []byte) {
	if c == nil {
		return
	}
	if !trySend(c.Out, b) {
		s.dropped.Add(1)
	}
}

func (s *Session) sendError(c *Conn, msg, code string) {
	s.send(c, protocol.MustEncode(protocol.TypeError, protocol.ErrorMsg{Message: msg, Code: code}))
}

func (s *Session) snapshotStatus() Status {
	st := Status{
		Tick:        s.tick.Load(),
		MatchID:     s.matchID,
		Connections: len(s.conns),
		Joined:      s.slots.Len(),
		Seats:       s.slots.Taken(),
		Dropped:     s.dropped.Load(),
	}
	if s.state != nil {
		now := s.now()
		st.GameRunning = s.state.Running()
		st.GameTime = s.state.GameTime(now)
		st.Players = s.state.PlayerIDs()
		st.Objects = s.state.ObjectCount()
		st.ActionCounts = map[string]uint64{}
		for k, v := range s.state.ActionCounts() {
			st.ActionCounts[string(k)] = v
		}
	}
	return st
}

func (s *Session) exportSnapshot() snapshot.SnapshotV1 {
	now := s.now()
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			MatchID:   s.matchID,
			Tick:      s.tick.Load(),
			CreatedAt: now.UnixMilli(),
		},
		TickRate:    s.cfg.TickRateHz,
		Connections: len(s.conns),
		Seats:       map[int]string{},
	}
	for _, pid := range s.slots.Taken() {
		if c, ok := s.slots.Holder(pid); ok {
			snap.Seats[pid] = c
		}
	}
	if s.state == nil {
		return snap
	}
	snap.Running = s.state.Running()
	snap.GameTime = s.state.GameTime(now)
	for _, o := range s.state.Objects() {
		snap.Objects = append(snap.Objects, *o.Clone())
	}
	snap.Players = map[int]game.Player{}
	for _, pid := range s.state.PlayerIDs() {
		p, _ := s.state.Player(pid)
		snap.Players[pid] = *p.Clone()
	}
	snap.ActionCounts = map[string]uint64{}
	counts := s.state.ActionCounts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	for _, k := range keys {
		snap.ActionCounts[k] = counts[protocol.ActionType(k)]
	}
	return snap
}

func trySend(ch chan []byte, b []byte) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}

// sendLatest delivers b, evicting the oldest queued message when the buffer
// is full. It reports false when something was dropped.
func sendLatest(ch chan []byte, b []byte) bool {
	if ch == nil {
		return false
	}
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}

func (st Status) String() string {
	return fmt.Sprintf("tick=%d match=%s running=%v conns=%d joined=%d objects=%d", st.Tick, st.MatchID, st.GameRunning, st.Connections, st.Joined, st.Objects)
}
