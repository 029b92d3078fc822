package presence

import (
	"sync"
	"time"

	"github.com/mbeoliero/estatechat/pkg/constant"
)

// Debouncer turns a stream of keystrokes into start and stop signals.
// The first Notify calls start and a long burst calls it again once per
// refresh interval, so the receiving side's fallback timer never fires while
// input continues. Each Notify pushes the deadline out; when the window
// passes without input, stop is called once.
type Debouncer struct {
	mu        sync.Mutex
	window    time.Duration
	refresh   time.Duration
	start     func()
	stop      func()
	timer     *time.Timer
	active    bool
	gen       uint64
	lastStart time.Time
}

// NewDebouncer creates a debouncer with the given idle window. The refresh
// interval defaults to half the window.
func NewDebouncer(window time.Duration, start, stop func()) *Debouncer {
	if window <= 0 {
		window = constant.TypingDebounce
	}
	return &Debouncer{window: window, refresh: window / 2, start: start, stop: stop}
}

// WithRefresh sets how often start repeats during one burst
func (d *Debouncer) WithRefresh(interval time.Duration) *Debouncer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if interval > 0 {
		d.refresh = interval
	}
	return d
}

// Notify records a keystroke
func (d *Debouncer) Notify() {
	d.mu.Lock()
	now := time.Now()
	emit := !d.active || now.Sub(d.lastStart) >= d.refresh
	if emit {
		d.lastStart = now
	}
	d.active = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, func() { d.expire(gen) })
	d.mu.Unlock()

	if emit && d.start != nil {
		d.start()
	}
}

// Stop ends the typing burst now, calling stop if one was active
func (d *Debouncer) Stop() {
	d.mu.Lock()
	wasActive := d.active
	d.active = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.mu.Unlock()

	if wasActive && d.stop != nil {
		d.stop()
	}
}

// Cancel drops any pending burst without calling stop
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Active reports whether a burst is in progress
func (d *Debouncer) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Debouncer) expire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.active {
		d.mu.Unlock()
		return
	}
	d.active = false
	d.timer = nil
	d.mu.Unlock()

	if d.stop != nil {
		d.stop()
	}
}
