package gate

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter admits at most max new connections per fixed window from one IP.
// The window opens on the first connection and the count resets once it has
// elapsed. Within a window each IP holds a bucket of max tokens that never
// refills.
type Limiter struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	lim   *rate.Limiter
	reset time.Time
}

func NewLimiter(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{max: max, window: window, visitors: map[string]*visitor{}}
}

func (l *Limiter) Check(ip string) error {
	if !l.AllowAt(ip, time.Now()) {
		return ErrRateLimited
	}
	return nil
}

func (l *Limiter) AllowAt(ip string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	v := l.visitors[ip]
	if v == nil || !now.Before(v.reset) {
		v = &visitor{lim: rate.NewLimiter(0, l.max), reset: now.Add(l.window)}
		l.visitors[ip] = v
	}
	return v.lim.AllowN(now, 1)
}

// Sweep drops IPs whose window has ended and returns how many.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, v := range l.visitors {
		if !now.Before(v.reset) {
			delete(l.visitors, ip)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Run sweeps once per window until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	t := time.NewTicker(l.window)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			l.Sweep(now)
		}
	}
}
