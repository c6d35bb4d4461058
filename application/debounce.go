package application

import (
	"sync"
	"time"
)

const DefaultDebounceWindow = 2 * time.Second

// Debouncer admits one action per window. The window starts when an admitted
// action is committed, so a failed action does not lock out a retry.
type Debouncer struct {
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	inFlight bool
	last     time.Time
	started  bool
}

func NewDebouncer(window time.Duration, now func() time.Time) *Debouncer {
	if now == nil {
		now = time.Now
	}
	return &Debouncer{window: window, now: now}
}

// Acquire reports whether an action may start. Every successful Acquire must
// be followed by Release.
func (d *Debouncer) Acquire() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.inFlight {
		return false
	}
	if d.started && d.now().Sub(d.last) < d.window {
		return false
	}
	d.inFlight = true
	return true
}

// Release ends the action started by Acquire. committed opens a new window.
func (d *Debouncer) Release(committed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.inFlight = false
	if committed {
		d.last = d.now()
		d.started = true
	}
}

// Active reports whether an action is running or the window is still open.
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.inFlight || (d.started && d.now().Sub(d.last) < d.window)
}
