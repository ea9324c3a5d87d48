// ABOUTME: Per-sender token bucket limiter for the frame listener
// ABOUTME: Limits are created lazily and forgotten once the table grows past its cap

package gateway

import (
	"sync"

	"golang.org/x/time/rate"
)

const maxTrackedSenders = 10_000

type senderLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newSenderLimiter(perSec float64, burst int) *senderLimiter {
	return &senderLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(perSec),
		burst:    burst,
	}
}

// Allow reports whether sender may start a turn now.
func (l *senderLimiter) Allow(sender string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[sender]
	if !ok {
		if len(l.limiters) >= maxTrackedSenders {
			// Dropping every bucket only ever grants extra tokens.
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[sender] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
