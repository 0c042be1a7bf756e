package gate

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidSlot = errors.New("invalid player id")
	ErrSlotTaken   = errors.New("player id already taken")
)

// Slots maps player ids 1..max to the connection holding them. It is not safe
// for concurrent use; the session actor owns it.
type Slots struct {
	max      int
	byConn   map[string]int
	byPlayer map[int]string
}

func NewSlots(max int) *Slots {
	return &Slots{max: max, byConn: map[string]int{}, byPlayer: map[int]string{}}
}

// Reserve gives playerID to connID. Re-reserving the same pair is a no-op; a
// connection moving to a new id gives up its old one.
func (s *Slots) Reserve(connID string, playerID int) error {
	if playerID < 1 || playerID > s.max {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, playerID)
	}
	if holder, ok := s.byPlayer[playerID]; ok && holder != connID {
		return fmt.Errorf("%w: %d", ErrSlotTaken, playerID)
	}
	if old, ok := s.byConn[connID]; ok && old != playerID {
		delete(s.byPlayer, old)
	}
	s.byConn[connID] = playerID
	s.byPlayer[playerID] = connID
	return nil
}

// Release frees the slot held by connID, if any.
func (s *Slots) Release(connID string) (int, bool) {
	pid, ok := s.byConn[connID]
	if !ok {
		return 0, false
	}
	delete(s.byConn, connID)
	delete(s.byPlayer, pid)
	return pid, true
}

func (s *Slots) Holder(playerID int) (string, bool) {
	c, ok := s.byPlayer[playerID]
	return c, ok
}

func (s *Slots) PlayerOf(connID string) (int, bool) {
	p, ok := s.byConn[connID]
	return p, ok
}

func (s *Slots) Len() int { return len(s.byConn) }

func (s *Slots) Reset() {
	s.byConn = map[string]int{}
	s.byPlayer = map[int]string{}
}

// Taken lists reserved player ids in ascending order.
func (s *Slots) Taken() []int {
	out := make([]int, 0, len(s.byPlayer))
	for pid := range s.byPlayer {
		out = append(out, pid)
	}
	sort.Ints(out)
	return out
}
