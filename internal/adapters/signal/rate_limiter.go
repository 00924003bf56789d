package signal

import (
	"sync"
	"time"

	"github.com/dkeye/Huddle/internal/domain"
)

// pruneThreshold is the history size above which idle users are forgotten.
const pruneThreshold = 1024

// RoomRateLimiter bounds join attempts per user in a sliding window.
type RoomRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	now      func() time.Time
}

func NewRoomRateLimiter(limit int, interval time.Duration) *RoomRateLimiter {
	return &RoomRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		now:      time.Now,
	}
}

func (rl *RoomRateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	windowStart := now.Add(-rl.interval)

	fresh := recent(rl.history[uid], windowStart)
	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}
	rl.history[uid] = append(fresh, now)

	if len(rl.history) > pruneThreshold {
		rl.prune(windowStart)
	}
	return true
}

// prune drops users with no attempt inside the window. Caller holds mu.
func (rl *RoomRateLimiter) prune(windowStart time.Time) {
	for uid, attempts := range rl.history {
		if len(recent(attempts, windowStart)) == 0 {
			delete(rl.history, uid)
		}
	}
}

func recent(attempts []time.Time, windowStart time.Time) []time.Time {
	fresh := make([]time.Time, 0, len(attempts)+1)
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}
	return fresh
}
