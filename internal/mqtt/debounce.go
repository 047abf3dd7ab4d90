package mqtt

import (
	"sync"
	"time"
)

// debouncer runs flush for a key once no new touch arrived for the quiet period
type debouncer struct {
	mu     sync.Mutex
	quiet  time.Duration
	timers map[string]*time.Timer
	flush  func(key string)
	closed bool
}

func newDebouncer(quiet time.Duration, flush func(key string)) *debouncer {
	return &debouncer{
		quiet:  quiet,
		timers: make(map[string]*time.Timer),
		flush:  flush,
	}
}

// touch records activity for key and restarts its quiet timer.
// A zero quiet period flushes inline.
func (d *debouncer) touch(key string) {
	if d.quiet <= 0 {
		d.flush(key)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}

	if t, ok := d.timers[key]; ok {
		t.Stop()
	}
	d.timers[key] = time.AfterFunc(d.quiet, func() {
		d.mu.Lock()
		delete(d.timers, key)
		closed := d.closed
		d.mu.Unlock()

		if !closed {
			d.flush(key)
		}
	})
}

// cancel drops a pending flush for key
func (d *debouncer) cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.timers[key]; ok {
		t.Stop()
		delete(d.timers, key)
	}
}

// close stops all pending timers; later touches are ignored
func (d *debouncer) close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	for key, t := range d.timers {
		t.Stop()
		delete(d.timers, key)
	}
}
