package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"farmersfright.gg/internal/game"
	"farmersfright.gg/internal/protocol"
)

const (
	maxPending = 256
	writeWait  = 5 * time.Second
)

var ErrClosed = errors.New("client closed")

// Handlers receive server events. Nil handlers are skipped. OnState runs
// with the world lock held.
type Handlers struct {
	OnQueueUpdate  func(protocol.QueueUpdateMsg)
	OnQueueError   func(protocol.QueueErrorMsg)
	OnGameStarting func(protocol.GameStartingMsg)
	OnJoinSuccess  func(protocol.JoinSuccessMsg)
	OnJoinError    func(protocol.JoinErrorMsg)
	OnPlayerAction func(json.RawMessage)
	OnChat         func(protocol.ChatMsg)
	OnError        func(protocol.ErrorMsg)
	OnState        func(w *World, res MergeResult)
}

// Client is a headless game client. Outbound messages sent while the socket
// is down are queued and flushed on the next Dial.
type Client struct {
	url    string
	dialer *websocket.Dialer
	h      Handlers
	log    zerolog.Logger

	mu    sync.Mutex
	world *World

	connMu  sync.Mutex
	conn    *websocket.Conn
	pending [][]byte
	closed  bool
}

func New(url string, h Handlers, logger zerolog.Logger) *Client {
	return &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		h:      h,
		log:    logger,
		world:  NewWorld(0),
	}
}

func (c *Client) Dial(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.url, err)
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed {
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	pending := c.pending
	c.pending = nil
	for i, b := range pending {
		if err := c.writeLocked(b); err != nil {
			c.pending = append(c.pending, pending[i:]...)
			return err
		}
	}
	if len(pending) > 0 {
		c.log.Debug().Int("n", len(pending)).Msg("flushed queued messages")
	}
	return nil
}

// Run reads and dispatches server events until the socket fails or ctx is
// done. The socket is dropped on return; Dial may be called again.
func (c *Client) Run(ctx context.Context) error {
	c.connMu.Lock()
	conn := c.conn
	c.connMu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	defer func() {
		c.connMu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.connMu.Unlock()
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.dispatch(msg)
	}
}

func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.closed = true
	c.pending = nil
	if c.conn == nil {
		return nil
	}
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

// View runs fn with the world locked. Render and input code reads the mirror
// only through View so it never observes a half-applied merge.
func (c *Client) View(fn func(w *World)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.world)
}

// Pending reports how many messages are waiting for a connection.
func (c *Client) Pending() int {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return len(c.pending)
}

func (c *Client) dispatch(msg []byte) {
	env, err := protocol.DecodeEnvelope(msg)
	if err != nil {
		c.log.Debug().Err(err).Msg("bad envelope")
		return
	}
	switch env.Type {
	case protocol.TypeGameStateUpdate:
		s, err := DecodeSnapshot(env.Data)
		if err != nil {
			c.log.Warn().Err(err).Msg("bad snapshot")
			return
		}
		c.mu.Lock()
		res := c.world.Merge(s)
		if c.h.OnState != nil {
			c.h.OnState(c.world, res)
		}
		c.mu.Unlock()
		if res.Rejected > 0 {
			c.log.Warn().Int("rejected", res.Rejected).Msg("snapshot objects rejected")
		}
	case protocol.TypeGameStarting:
		var m protocol.GameStartingMsg
		if decode(c, env, &m) {
			c.setSelf(m.PlayerID)
			if c.h.OnGameStarting != nil {
				c.h.OnGameStarting(m)
			}
		}
	case protocol.TypeJoinSuccess:
		var m protocol.JoinSuccessMsg
		if decode(c, env, &m) {
			c.setSelf(m.PlayerID)
			if c.h.OnJoinSuccess != nil {
				c.h.OnJoinSuccess(m)
			}
		}
	case protocol.TypeQueueUpdate:
		var m protocol.QueueUpdateMsg
		if decode(c, env, &m) && c.h.OnQueueUpdate != nil {
			c.h.OnQueueUpdate(m)
		}
	case protocol.TypeQueueError:
		var m protocol.QueueErrorMsg
		if decode(c, env, &m) && c.h.OnQueueError != nil {
			c.h.OnQueueError(m)
		}
	case protocol.TypeJoinError:
		var m protocol.JoinErrorMsg
		if decode(c, env, &m) && c.h.OnJoinError != nil {
			c.h.OnJoinError(m)
		}
	case protocol.TypeChatMessage:
		var m protocol.ChatMsg
		if decode(c, env, &m) && c.h.OnChat != nil {
			c.h.OnChat(m)
		}
	case protocol.TypeError:
		var m protocol.ErrorMsg
		if decode(c, env, &m) && c.h.OnError != nil {
			c.h.OnError(m)
		}
	case protocol.TypePlayerAction:
		if c.h.OnPlayerAction != nil {
			c.h.OnPlayerAction(env.Data)
		}
	default:
		c.log.Debug().Str("type", env.Type).Msg("unhandled event")
	}
}

func decode(c *Client, env protocol.Envelope, v any) bool {
	if err := json.Unmarshal(env.Data, v); err != nil {
		c.log.Debug().Err(err).Str("type", env.Type).Msg("bad payload")
		return false
	}
	return true
}

// setSelf records the local identity. The server sends the first snapshot
// before the seat notice, so a first identity keeps what was merged; a
// different seat means a new match and the old mirror is discarded.
func (c *Client) setSelf(playerID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.world.Self == 0 || c.world.Self == playerID {
		c.world.SetSelf(playerID)
		return
	}
	w := NewWorld(playerID)
	w.OnInit, w.OnPlayers = c.world.OnInit, c.world.OnPlayers
	c.world = w
}

func (c *Client) send(eventType string, payload any) error {
	b, err := protocol.Encode(eventType, payload)
	if err != nil {
		return err
	}
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.conn == nil {
		if len(c.pending) >= maxPending {
			c.pending = c.pending[1:]
		}
		c.pending = append(c.pending, b)
		return nil
	}
	if err := c.writeLocked(b); err != nil {
		c.pending = append(c.pending, b)
		return err
	}
	return nil
}

func (c *Client) writeLocked(b []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// action encodes a with the fields its type requires, even when they hold
// zero values that the struct tags would omit.
func (c *Client) action(a protocol.Action) error {
	b, err := json.Marshal(a)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	switch a.Type {
	case protocol.ActMoveUnits, protocol.ActAttackMove:
		m["unitIds"], m["x"], m["y"] = nonNil(a.UnitIDs), a.X, a.Y
	case protocol.ActAttackUnit:
		m["unitIds"], m["targetId"] = nonNil(a.UnitIDs), a.TargetID
	case protocol.ActSetRallyPoint:
		m["bunkerIds"], m["x"], m["y"] = nonNil(a.BunkerIDs), a.X, a.Y
	case protocol.ActBuildBuilding:
		m["buildingType"] = a.BuildingType
	case protocol.ActChatMessage:
		m["message"] = a.Message
	}
	return c.send(protocol.TypePlayerAction, m)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (c *Client) JoinQueue() error  { return c.send(protocol.TypeJoinQueue, nil) }
func (c *Client) LeaveQueue() error { return c.send(protocol.TypeLeaveQueue, nil) }

func (c *Client) JoinGame(playerID int) error {
	return c.send(protocol.TypeJoinGame, protocol.JoinGameMsg{PlayerID: playerID})
}

// Move, AttackMove and Attack are applied to the local mirror before they
// are sent so own units respond without waiting for the next snapshot.
func (c *Client) Move(unitIDs []string, x, y float64) error {
	return c.predicted(protocol.Action{Type: protocol.ActMoveUnits, UnitIDs: unitIDs, X: x, Y: y})
}

func (c *Client) AttackMove(unitIDs []string, x, y float64) error {
	return c.predicted(protocol.Action{Type: protocol.ActAttackMove, UnitIDs: unitIDs, X: x, Y: y})
}

func (c *Client) Attack(unitIDs []string, targetID string) error {
	return c.predicted(protocol.Action{Type: protocol.ActAttackUnit, UnitIDs: unitIDs, TargetID: targetID})
}

func (c *Client) predicted(a protocol.Action) error {
	c.mu.Lock()
	c.world.Issue(a)
	c.mu.Unlock()
	return c.action(a)
}

func (c *Client) SetRallyPoint(bunkerIDs []string, x, y float64) error {
	return c.action(protocol.Action{Type: protocol.ActSetRallyPoint, BunkerIDs: bunkerIDs, X: x, Y: y})
}

func (c *Client) Build(t game.ObjectType) error {
	return c.action(protocol.Action{Type: protocol.ActBuildBuilding, BuildingType: string(t)})
}

func (c *Client) BuildingCreated(b *game.Object) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	return c.action(protocol.Action{Type: protocol.ActBuildingCreated, Building: raw})
}

func (c *Client) Upgrade(upgradeType string) error {
	return c.action(protocol.Action{Type: protocol.ActUpgrade, UpgradeType: upgradeType})
}

func (c *Client) UnitSpawned(u *game.Object) error {
	raw, err := json.Marshal(u)
	if err != nil {
		return err
	}
	return c.action(protocol.Action{Type: protocol.ActUnitSpawned, Unit: raw})
}

func (c *Client) Chat(message string, team bool) error {
	return c.action(protocol.Action{Type: protocol.ActChatMessage, Message: message, IsTeamChat: team})
}
