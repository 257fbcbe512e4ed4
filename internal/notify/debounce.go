package notify

import (
	"strings"
	"sync"
	"time"

	"inventariagent/internal/clock"
)

// DefaultWindow is the minimum gap between two notifications for one application.
const DefaultWindow = 15 * time.Minute

// Debouncer rate-limits notifications per key. Keys are case-insensitive.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	clk    clock.Clock
	last   map[string]time.Time
}

func NewDebouncer(window time.Duration, clk clock.Clock) *Debouncer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Debouncer{
		window: window,
		clk:    clock.OrReal(clk),
		last:   make(map[string]time.Time),
	}
}

func (d *Debouncer) allowedLocked(key string, now time.Time) bool {
	last, ok := d.last[key]
	return !ok || now.Sub(last) >= d.window
}

// ShouldNotify reports whether key is outside its window. It does not record.
func (d *Debouncer) ShouldNotify(key string) bool {
	key = strings.ToLower(key)
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allowedLocked(key, d.clk.Now())
}

// RecordSent stores when a notification for key went out.
func (d *Debouncer) RecordSent(key string, when time.Time) {
	key = strings.ToLower(key)
	d.mu.Lock()
	d.last[key] = when
	d.mu.Unlock()
}

// TryAcquire checks and records in one step, so two concurrent callers for
// the same key cannot both be permitted.
func (d *Debouncer) TryAcquire(key string) bool {
	key = strings.ToLower(key)
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.clk.Now()
	if !d.allowedLocked(key, now) {
		return false
	}
	d.last[key] = now
	return true
}
