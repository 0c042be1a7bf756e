package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_AllowsMaxPerWindow(t *testing.T) {
	l := NewLimiter(10, time.Minute)
	now := time.Unix(1000, 0)

	for i := 0; i < 10; i++ {
		require.True(t, l.AllowAt("1.2.3.4", now), "connection %d", i+1)
	}
	assert.False(t, l.AllowAt("1.2.3.4", now), "11th connection in the window")
	assert.True(t, l.AllowAt("5.6.7.8", now), "other IPs are independent")

	for _, d := range []time.Duration{time.Second, 7 * time.Second, 30 * time.Second, 59 * time.Second} {
		assert.False(t, l.AllowAt("1.2.3.4", now.Add(d)), "still inside the window at +%s", d)
	}

	// A new window starts with a full count.
	later := now.Add(time.Minute)
	for i := 0; i < 10; i++ {
		require.True(t, l.AllowAt("1.2.3.4", later), "connection %d after reset", i+1)
	}
	assert.False(t, l.AllowAt("1.2.3.4", later))
}

func TestLimiter_NoRefillInsideWindow(t *testing.T) {
	l := NewLimiter(10, time.Minute)
	now := time.Unix(1000, 0)

	admitted := 0
	for s := 0; s < 60; s++ {
		at := now.Add(time.Duration(s) * time.Second)
		for l.AllowAt("1.2.3.4", at) {
			admitted++
		}
	}
	assert.Equal(t, 10, admitted)
}

func TestLimiter_Sweep(t *testing.T) {
	l := NewLimiter(2, time.Minute)
	now := time.Unix(1000, 0)
	l.AllowAt("a", now)
	l.AllowAt("b", now.Add(50*time.Second))

	assert.Equal(t, 1, l.Sweep(now.Add(90*time.Second)))
	assert.Equal(t, 1, l.Len())
	assert.Equal(t, 0, l.Sweep(now.Add(100*time.Second)))
}

func TestSlots(t *testing.T) {
	s := NewSlots(8)

	assert.ErrorIs(t, s.Reserve("c1", 0), ErrInvalidSlot)
	assert.ErrorIs(t, s.Reserve("c1", 9), ErrInvalidSlot)

	require.NoError(t, s.Reserve("c1", 3))
	require.NoError(t, s.Reserve("c1", 3), "same pair is idempotent")
	assert.ErrorIs(t, s.Reserve("c2", 3), ErrSlotTaken)

	holder, ok := s.Holder(3)
	require.True(t, ok)
	assert.Equal(t, "c1", holder)

	require.NoError(t, s.Reserve("c1", 4))
	_, ok = s.Holder(3)
	assert.False(t, ok, "moving to a new id frees the old one")
	require.NoError(t, s.Reserve("c2", 3))
	assert.Equal(t, []int{3, 4}, s.Taken())

	pid, ok := s.Release("c1")
	require.True(t, ok)
	assert.Equal(t, 4, pid)
	_, ok = s.Release("c1")
	assert.False(t, ok, "release is idempotent")
	assert.Equal(t, 1, s.Len())

	p, ok := s.PlayerOf("c2")
	require.True(t, ok)
	assert.Equal(t, 3, p)

	s.Reset()
	assert.Equal(t, 0, s.Len())
}
