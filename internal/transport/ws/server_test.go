package ws

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"farmersfright.gg/internal/gate"
	"farmersfright.gg/internal/match"
	"farmersfright.gg/internal/protocol"
	"farmersfright.gg/internal/session"
)

type harness struct {
	srv   *httptest.Server
	sess  *session.Session
	queue *match.Queue
}

func newHarness(t *testing.T, limiter *gate.Limiter) *harness {
	t.Helper()
	logger := zerolog.Nop()
	sess := session.New(session.Config{TickRateHz: 1}, logger)
	q := match.NewQueue(match.Config{Quorum: 2, SettleDelay: 50 * time.Millisecond}, rand.New(rand.NewSource(1)), sess.StartMatch, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = sess.Run(ctx)
		close(done)
	}()

	var admit Admission
	if limiter != nil {
		admit = limiter
	}
	s := NewServer(q, sess, admit, Options{AllowedOrigins: []string{"http://localhost:3000"}}, logger)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		srv.Close()
		q.Close()
		cancel()
		<-done
	})
	return &harness{srv: srv, sess: sess, queue: q}
}

func (h *harness) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func send(t *testing.T, c *websocket.Conn, typ string, data any) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, protocol.MustEncode(typ, data)))
}

func expect(t *testing.T, c *websocket.Conn, typ string) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, c.SetReadDeadline(deadline))
		_, msg, err := c.ReadMessage()
		require.NoError(t, err, "waiting for %s", typ)
		env, err := protocol.DecodeEnvelope(msg)
		require.NoError(t, err)
		if env.Type == typ {
			return env
		}
	}
}

func TestQueueToMatchOverWebSocket(t *testing.T) {
	h := newHarness(t, nil)
	a := h.dial(t, nil)
	b := h.dial(t, nil)

	send(t, a, protocol.TypeJoinQueue, nil)
	var qu protocol.QueueUpdateMsg
	require.NoError(t, json.Unmarshal(expect(t, a, protocol.TypeQueueUpdate).Data, &qu))
	assert.Len(t, qu.Players, 1)

	send(t, a, protocol.TypeJoinQueue, nil)
	var qe protocol.QueueErrorMsg
	require.NoError(t, json.Unmarshal(expect(t, a, protocol.TypeQueueError).Data, &qe))
	assert.Equal(t, protocol.MsgAlreadyInQueue, qe.Message)

	send(t, b, protocol.TypeJoinQueue, nil)

	var sa, sb protocol.GameStartingMsg
	require.NoError(t, json.Unmarshal(expect(t, a, protocol.TypeGameStarting).Data, &sa))
	require.NoError(t, json.Unmarshal(expect(t, b, protocol.TypeGameStarting).Data, &sb))
	assert.ElementsMatch(t, []int{1, 2}, []int{sa.PlayerID, sb.PlayerID})
	assert.Equal(t, 0, h.queue.Len())

	send(t, a, protocol.TypePlayerAction, map[string]any{"type": "chatMessage", "message": "glhf"})
	var chat protocol.ChatMsg
	require.NoError(t, json.Unmarshal(expect(t, b, protocol.TypeChatMessage).Data, &chat))
	assert.Equal(t, "glhf", chat.Message)
	assert.Equal(t, sa.PlayerID, chat.PlayerID)
}

func TestJoinGameDirect(t *testing.T) {
	h := newHarness(t, nil)
	a := h.dial(t, nil)

	send(t, a, protocol.TypeJoinGame, protocol.JoinGameMsg{PlayerID: 4})
	expect(t, a, protocol.TypeGameStateUpdate)
	var ok protocol.JoinSuccessMsg
	require.NoError(t, json.Unmarshal(expect(t, a, protocol.TypeJoinSuccess).Data, &ok))
	assert.Equal(t, 4, ok.PlayerID)

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	var perr protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(expect(t, a, protocol.TypeError).Data, &perr))
	assert.Equal(t, protocol.ErrProtoBadRequest, perr.Code)
}

func TestDisconnectFreesSeat(t *testing.T) {
	h := newHarness(t, nil)
	a := h.dial(t, nil)
	send(t, a, protocol.TypeJoinGame, protocol.JoinGameMsg{PlayerID: 1})
	expect(t, a, protocol.TypeJoinSuccess)
	require.NoError(t, a.Close())

	assert.Eventually(t, func() bool {
		st, err := h.sess.Status(context.Background())
		return err == nil && st.Joined == 0 && st.Connections == 0
	}, 3*time.Second, 20*time.Millisecond)

	b := h.dial(t, nil)
	send(t, b, protocol.TypeJoinGame, protocol.JoinGameMsg{PlayerID: 1})
	expect(t, b, protocol.TypeJoinSuccess)
}

func TestConnectionRateLimit(t *testing.T) {
	h := newHarness(t, gate.NewLimiter(1, time.Minute))
	h.dial(t, nil)

	c := h.dial(t, nil)
	var perr protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(expect(t, c, protocol.TypeError).Data, &perr))
	assert.Equal(t, protocol.ErrRateLimit, perr.Code)
	assert.Equal(t, protocol.MsgRateLimited, perr.Message)

	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := c.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "err=%v", err)
}

func TestCheckOrigin(t *testing.T) {
	h := newHarness(t, nil)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(url, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	h.dial(t, http.Header{"Origin": {"http://localhost:3000"}})
}

func TestIsLoopback(t *testing.T) {
	assert.True(t, IsLoopback("127.0.0.1:5555"))
	assert.True(t, IsLoopback("[::1]:80"))
	assert.False(t, IsLoopback("10.0.0.2:80"))
	assert.False(t, IsLoopback("garbage"))
}
