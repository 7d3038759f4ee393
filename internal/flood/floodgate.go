// Package flood throttles expensive API calls per user with a sliding one-minute window.
package flood

import (
	"sync"
	"time"
)

const (
	// windowDuration is the fixed time window for flood detection (always 1 minute)
	windowDuration = 60 * time.Second
	// cleanupInterval is how often we clean up expired entries
	cleanupInterval = 10 * time.Minute
	// idleTimeout is how long before we remove idle user entries
	idleTimeout = 10 * time.Minute
)

// Floodgate tracks request timestamps per endpoint and user.
type Floodgate struct {
	limitPerMinute int                   // Maximum requests per user per endpoint per minute
	entries        map[string]*userEntry // Key: "scope:userID"
	mutex          sync.RWMutex
	now            func() time.Time
	stopCleanup    chan struct{}
	stopOnce       sync.Once
}

type userEntry struct {
	timestamps []time.Time // Sliding window of request timestamps
	lastSeen   time.Time   // When this user was last seen (for cleanup)
}

// New creates a Floodgate allowing limitPerMinute requests per user and scope.
// A limit of zero or less disables throttling.
func New(limitPerMinute int) *Floodgate {
	fg := &Floodgate{
		limitPerMinute: limitPerMinute,
		entries:        make(map[string]*userEntry),
		now:            time.Now,
		stopCleanup:    make(chan struct{}),
	}

	go fg.cleanup()

	return fg
}

// Stop stops the background cleanup goroutine. It is safe to call more than once.
func (fg *Floodgate) Stop() {
	fg.stopOnce.Do(func() { close(fg.stopCleanup) })
}

// Allow records a request and reports whether it is within the limit.
// When it is not, the returned duration is how long until the oldest request leaves the window.
func (fg *Floodgate) Allow(scope, userID string) (bool, time.Duration) {
	if fg.limitPerMinute <= 0 {
		return true, 0
	}

	key := scope + ":" + userID
	now := fg.now()

	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	entry, exists := fg.entries[key]
	if !exists {
		entry = &userEntry{
			timestamps: make([]time.Time, 0, fg.limitPerMinute+1),
		}
		fg.entries[key] = entry
	}
	entry.lastSeen = now

	windowStart := now.Add(-windowDuration)
	valid := entry.timestamps[:0] // Reuse slice capacity
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			valid = append(valid, ts)
		}
	}
	entry.timestamps = valid

	if len(entry.timestamps) >= fg.limitPerMinute {
		return false, entry.timestamps[0].Add(windowDuration).Sub(now)
	}

	entry.timestamps = append(entry.timestamps, now)
	return true, 0
}

func (fg *Floodgate) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fg.performCleanup()
		case <-fg.stopCleanup:
			return
		}
	}
}

// performCleanup removes entries that have been idle for too long
func (fg *Floodgate) performCleanup() {
	fg.mutex.Lock()
	defer fg.mutex.Unlock()

	cutoff := fg.now().Add(-idleTimeout)
	for key, entry := range fg.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(fg.entries, key)
		}
	}
}

// GetStats returns statistics about the floodgate for monitoring/debugging
func (fg *Floodgate) GetStats() Stats {
	fg.mutex.RLock()
	defer fg.mutex.RUnlock()

	return Stats{
		ActiveUsers:    len(fg.entries),
		LimitPerMinute: fg.limitPerMinute,
		WindowSeconds:  int(windowDuration.Seconds()),
	}
}

// Stats contains floodgate statistics
type Stats struct {
	ActiveUsers    int `json:"active_users"`
	LimitPerMinute int `json:"limit_per_minute"`
	WindowSeconds  int `json:"window_seconds"`
}
