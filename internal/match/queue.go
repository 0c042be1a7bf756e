package match

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"farmersfright.gg/internal/protocol"
)

var ErrAlreadyQueued = errors.New("already in queue")

// Entry is one waiting connection. Out is the connection's send buffer.
type Entry struct {
	ConnID string
	Out    chan []byte
}

// Assignment is the seat handed out when the queue drains.
type Assignment struct {
	ConnID   string
	PlayerID int
	Team     int
}

// StartFunc receives each drained batch, in seat order.
type StartFunc func(batch []Assignment)

type Config struct {
	Quorum      int
	SettleDelay time.Duration
	// MaxPlayers caps one batch; extra entries stay queued for the next match.
	MaxPlayers int
	Teams      []int
}

// Queue holds waiting connections and starts a match once quorum is reached
// and has held for the settle delay.
type Queue struct {
	cfg   Config
	start StartFunc
	log   zerolog.Logger

	mu      sync.Mutex
	rng     *rand.Rand
	entries []Entry
	timer   *time.Timer
	closed  bool
	started uint64
}

func NewQueue(cfg Config, rng *rand.Rand, start StartFunc, logger zerolog.Logger) *Queue {
	if cfg.Quorum <= 0 {
		cfg.Quorum = 2
	}
	if cfg.MaxPlayers <= 0 {
		cfg.MaxPlayers = 8
	}
	if len(cfg.Teams) == 0 {
		cfg.Teams = []int{1, 2, 3, 4}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Queue{cfg: cfg, rng: rng, start: start, log: logger}
}

func (q *Queue) Enqueue(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.indexLocked(e.ConnID) >= 0 {
		return ErrAlreadyQueued
	}
	q.entries = append(q.entries, e)
	q.log.Info().Str("conn", e.ConnID).Int("size", len(q.entries)).Msg("joined queue")
	q.broadcastLocked()
	q.armLocked()
	return nil
}

// Leave removes connID from the queue. It reports whether it was queued.
func (q *Queue) Leave(connID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := q.indexLocked(connID)
	if i < 0 {
		return false
	}
	q.entries = append(q.entries[:i], q.entries[i+1:]...)
	q.log.Info().Str("conn", connID).Int("size", len(q.entries)).Msg("left queue")
	q.broadcastLocked()
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Started counts drained batches.
func (q *Queue) Started() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

// Players is the queueUpdate view: unassigned entries report index+1.
func (q *Queue) Players() []protocol.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playersLocked()
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) indexLocked(connID string) int {
	for i, e := range q.entries {
		if e.ConnID == connID {
			return i
		}
	}
	return -1
}

func (q *Queue) playersLocked() []protocol.QueueEntry {
	out := make([]protocol.QueueEntry, len(q.entries))
	for i, e := range q.entries {
		out[i] = protocol.QueueEntry{SocketID: e.ConnID, PlayerID: i + 1}
	}
	return out
}

func (q *Queue) broadcastLocked() {
	if len(q.entries) == 0 {
		return
	}
	b, err := protocol.Encode(protocol.TypeQueueUpdate, protocol.QueueUpdateMsg{Players: q.playersLocked()})
	if err != nil {
		q.log.Error().Err(err).Msg("encode queue update")
		return
	}
	for _, e := range q.entries {
		trySend(e.Out, b)
	}
}

// armLocked schedules a drain after the settle delay. A pending timer is
// never duplicated.
func (q *Queue) armLocked() {
	if q.closed || q.timer != nil || len(q.entries) < q.cfg.Quorum {
		return
	}
	q.timer = time.AfterFunc(q.cfg.SettleDelay, q.fire)
}

func (q *Queue) fire() {
	q.mu.Lock()
	q.timer = nil
	if q.closed {
		q.mu.Unlock()
		return
	}
	batch := q.drainLocked()
	q.mu.Unlock()

	if len(batch) > 0 && q.start != nil {
		q.start(batch)
	}
}

// drainLocked seats up to MaxPlayers shuffled entries and leaves the rest
// queued. It returns nil below quorum.
func (q *Queue) drainLocked() []Assignment {
	if len(q.entries) < q.cfg.Quorum {
		return nil
	}
	shuffled := append([]Entry(nil), q.entries...)
	q.rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	teams := append([]int(nil), q.cfg.Teams...)
	q.rng.Shuffle(len(teams), func(i, j int) { teams[i], teams[j] = teams[j], teams[i] })

	n := len(shuffled)
	if n > q.cfg.MaxPlayers {
		n = q.cfg.MaxPlayers
	}
	batch := make([]Assignment, n)
	seated := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		batch[i] = Assignment{ConnID: shuffled[i].ConnID, PlayerID: i + 1, Team: teams[i%len(teams)]}
		seated[shuffled[i].ConnID] = struct{}{}
	}

	rest := q.entries[:0]
	for _, e := range q.entries {
		if _, ok := seated[e.ConnID]; !ok {
			rest = append(rest, e)
		}
	}
	q.entries = rest
	q.started++

	seats := zerolog.Arr()
	for _, a := range batch {
		seats = seats.Dict(zerolog.Dict().Str("conn", a.ConnID).Int("player", a.PlayerID).Int("team", a.Team))
	}
	q.log.Info().Int("players", n).Int("remaining", len(q.entries)).Array("seats", seats).Msg("queue drained")

	if len(q.entries) > 0 {
		q.broadcastLocked()
		q.armLocked()
	}
	return batch
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
