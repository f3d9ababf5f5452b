package store

import (
	"sync"
	"time"
)

// Debouncer delays a value until no newer value has been submitted for the
// configured window, then hands it to commit. Only the last value submitted
// inside a window is ever committed.
type Debouncer struct {
	mu      sync.Mutex
	wait    time.Duration
	commit  func(string)
	timer   *time.Timer
	pending *string
	gen     uint64
}

// NewDebouncer returns a Debouncer calling commit wait after the last Submit.
// A non-positive wait commits synchronously.
func NewDebouncer(wait time.Duration, commit func(string)) *Debouncer {
	return &Debouncer{wait: wait, commit: commit}
}

// Submit schedules v, superseding any value still pending.
func (d *Debouncer) Submit(v string) {
	if d.wait <= 0 {
		d.commit(v)
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	gen := d.gen
	d.pending = &v
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		return
	}
	v := *d.pending
	d.pending = nil
	d.mu.Unlock()
	d.commit(v)
}

// Flush commits the pending value now, if there is one.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	p := d.pending
	d.pending = nil
	d.mu.Unlock()
	if p != nil {
		d.commit(*p)
	}
}

// Stop discards the pending value.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = nil
	d.mu.Unlock()
}

// Pending returns the value waiting to be committed.
func (d *Debouncer) Pending() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending == nil {
		return "", false
	}
	return *d.pending, true
}
