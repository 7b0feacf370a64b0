package core

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Debouncer coalesces values per key and flushes each key once its window
// passes without a new value. Replacing a pending value is one critical
// section: stop the timer, merge, reschedule.
type Debouncer[T any] struct {
	mu      sync.Mutex
	clock   clock.Clock
	window  time.Duration
	merge   func(prev, next T) T
	flush   func(key string, value T)
	entries map[string]*pending[T]
	seq     uint64
}

type pending[T any] struct {
	value T
	timer *clock.Timer
	gen   uint64
}

// NewDebouncer builds a debouncer. flush runs with the debouncer lock held,
// so values for one key reach it in order; it must not call back into the
// debouncer.
func NewDebouncer[T any](clk clock.Clock, window time.Duration, merge func(prev, next T) T, flush func(key string, value T)) *Debouncer[T] {
	if clk == nil {
		clk = clock.New()
	}
	return &Debouncer[T]{
		clock:   clk,
		window:  window,
		merge:   merge,
		flush:   flush,
		entries: make(map[string]*pending[T]),
	}
}

// Schedule merges value into the pending entry for key and restarts its timer.
func (d *Debouncer[T]) Schedule(key string, value T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[key]
	if ok {
		entry.timer.Stop()
		entry.value = d.merge(entry.value, value)
	} else {
		entry = &pending[T]{value: value}
		d.entries[key] = entry
	}
	d.seq++
	entry.gen = d.seq
	gen := entry.gen
	entry.timer = d.clock.AfterFunc(d.window, func() { d.fire(key, gen) })
}

func (d *Debouncer[T]) fire(key string, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[key]
	// A timer that lost the race with Schedule or Cancel is stale.
	if !ok || entry.gen != gen {
		return
	}
	delete(d.entries, key)
	d.flush(key, entry.value)
}

// Cancel drops the pending value for key. Reports whether one existed.
func (d *Debouncer[T]) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(d.entries, key)
	return true
}

// Flush writes the pending value for key now instead of waiting.
func (d *Debouncer[T]) Flush(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(d.entries, key)
	d.flush(key, entry.value)
	return true
}

// FlushAll writes every pending value. Used on shutdown.
func (d *Debouncer[T]) FlushAll() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := 0
	for key, entry := range d.entries {
		entry.timer.Stop()
		delete(d.entries, key)
		d.flush(key, entry.value)
		n++
	}
	return n
}

// Pending returns the number of keys waiting to flush.
func (d *Debouncer[T]) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}
