package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"farmersfright.gg/internal/match"
	"farmersfright.gg/internal/protocol"
	"farmersfright.gg/internal/session"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Queue is the matchmaking side a connection talks to.
type Queue interface {
	Enqueue(e match.Entry) error
	Leave(connID string) bool
}

// Game is the session side a connection talks to.
type Game interface {
	Connect(c session.Conn)
	Disconnect(connID string)
	JoinGame(connID string, playerID int)
	Submit(connID string, data json.RawMessage)
}

// Admission decides whether a new connection from ip may proceed.
type Admission interface {
	Check(ip string) error
}

type Options struct {
	AllowedOrigins []string
	// OutQueue is the per-connection send buffer.
	OutQueue int
}

type Server struct {
	queue Queue
	game  Game
	admit Admission
	log   zerolog.Logger
	opts  Options

	upgrader websocket.Upgrader
	active   atomic.Int64
	rejected atomic.Uint64
}

func NewServer(q Queue, g Game, admit Admission, opts Options, logger zerolog.Logger) *Server {
	if opts.OutQueue <= 0 {
		opts.OutQueue = 64
	}
	s := &Server{
		queue: q,
		game:  g,
		admit: admit,
		log:   logger,
		opts:  opts,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  16 * 1024,
		WriteBufferSize: 64 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) Active() int64    { return s.active.Load() }
func (s *Server) Rejected() uint64 { return s.rejected.Load() }

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients.
		return true
	}
	for _, o := range s.opts.AllowedOrigins {
		if o == "*" || strings.EqualFold(strings.TrimSuffix(o, "/"), origin) {
			return true
		}
	}
	return false
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			s.log.Debug().Err(err).Str("origin", r.Header.Get("Origin")).Msg("upgrade failed")
			return
		}
		defer conn.Close()

		ip := remoteIP(r.RemoteAddr)
		if s.admit != nil {
			if err := s.admit.Check(ip); err != nil {
				s.rejected.Add(1)
				s.log.Warn().Str("ip", ip).Msg("connection rate limited")
				_ = writeRaw(conn, protocol.MustEncode(protocol.TypeError, protocol.ErrorMsg{Message: protocol.MsgRateLimited, Code: protocol.ErrRateLimit}))
				_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "rate limited"), time.Now().Add(time.Second))
				return
			}
		}

		connID := uuid.NewString()
		out := make(chan []byte, s.opts.OutQueue)
		s.active.Add(1)
		defer s.active.Add(-1)
		s.game.Connect(session.Conn{ID: connID, IP: ip, Out: out})

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			ping := time.NewTicker(pingPeriod)
			defer ping.Stop()
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-out:
					if err := writeRaw(conn, b); err != nil {
						cancel()
						writeErr <- err
						return
					}
				case <-ping.C:
					if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
						cancel()
						writeErr <- err
						return
					}
				}
			}
		}()

		conn.SetReadLimit(64 * 1024)
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.route(connID, out, msg)
		}

		// Cleanup.
		s.queue.Leave(connID)
		s.game.Disconnect(connID)
		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) route(connID string, out chan []byte, msg []byte) {
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil {
		trySend(out, protocol.MustEncode(protocol.TypeError, protocol.ErrorMsg{Message: protocol.MsgBadMessage, Code: protocol.ErrProtoBadRequest}))
		return
	}
	switch env.Type {
	case protocol.TypeJoinQueue:
		if err := s.queue.Enqueue(match.Entry{ConnID: connID, Out: out}); err != nil {
			if errors.Is(err, match.ErrAlreadyQueued) {
				trySend(out, protocol.MustEncode(protocol.TypeQueueError, protocol.QueueErrorMsg{Message: protocol.MsgAlreadyInQueue}))
			}
		}
	case protocol.TypeLeaveQueue:
		s.queue.Leave(connID)
	case protocol.TypeJoinGame:
		var jm protocol.JoinGameMsg
		if err := json.Unmarshal(env.Data, &jm); err != nil {
			trySend(out, protocol.MustEncode(protocol.TypeJoinError, protocol.JoinErrorMsg{Message: protocol.MsgInvalidPlayerID}))
			return
		}
		s.game.JoinGame(connID, jm.PlayerID)
	case protocol.TypePlayerAction:
		s.game.Submit(connID, env.Data)
	default:
		s.log.Debug().Str("conn", connID).Str("type", env.Type).Msg("unknown event")
	}
}

func writeRaw(conn *websocket.Conn, b []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func trySend(ch chan []byte, b []byte) {
	select {
	case ch <- b:
	default:
	}
}

func remoteIP(remoteAddr string) string {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	return strings.TrimSuffix(host, "]")
}

// IsLoopback reports whether remoteAddr is a loopback address.
func IsLoopback(remoteAddr string) bool {
	ip := net.ParseIP(remoteIP(remoteAddr))
	return ip != nil && ip.IsLoopback()
}
