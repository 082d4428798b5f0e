// Package probe holds the counter arrays that injected TOUCH instructions
// increment at run time.
//
// Each instrumented class owns one fixed-length array sized to the number
// of ids its rewrite session allocated. Probes never grow it, and an
// increment can never fail: ids outside the array are ignored.
package probe

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Mode selects how concurrent increments are performed.
type Mode int

const (
	// Relaxed increments are a load followed by a store. Concurrent
	// increments of the same counter may be lost.
	Relaxed Mode = iota
	// Atomic increments never lose updates.
	Atomic
)

func (m Mode) String() string {
	switch m {
	case Relaxed:
		return "relaxed"
	case Atomic:
		return "atomic"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "relaxed" or "atomic".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "relaxed", "":
		return Relaxed, nil
	case "atomic":
		return Atomic, nil
	}
	return Relaxed, fmt.Errorf("probe: unknown counter mode %q", s)
}

// Recorder is the counter array of one class.
type Recorder interface {
	// Touch increments the counter for id.
	Touch(id int)
	// Snapshot copies the current counter values.
	Snapshot() []int64
	// Reset zeroes every counter for a new collection window.
	Reset()
	// Len returns the number of counters.
	Len() int
	// Mode reports the increment strategy.
	Mode() Mode
}

// New allocates a recorder with n counters.
func New(mode Mode, n int) Recorder {
	if n < 0 {
		n = 0
	}
	counters := make([]atomic.Int64, n)
	if mode == Atomic {
		return &atomicRecorder{counters: counters}
	}
	return &relaxedRecorder{counters: counters}
}

type relaxedRecorder struct {
	counters []atomic.Int64
}

func (r *relaxedRecorder) Touch(id int) {
	if uint(id) < uint(len(r.counters)) {
		c := &r.counters[id]
		c.Store(c.Load() + 1)
	}
}

func (r *relaxedRecorder) Snapshot() []int64 { return snapshot(r.counters) }
func (r *relaxedRecorder) Reset()            { reset(r.counters) }
func (r *relaxedRecorder) Len() int          { return len(r.counters) }
func (r *relaxedRecorder) Mode() Mode        { return Relaxed }

type atomicRecorder struct {
	counters []atomic.Int64
}

func (r *atomicRecorder) Touch(id int) {
	if uint(id) < uint(len(r.counters)) {
		r.counters[id].Add(1)
	}
}

func (r *atomicRecorder) Snapshot() []int64 { return snapshot(r.counters) }
func (r *atomicRecorder) Reset()            { reset(r.counters) }
func (r *atomicRecorder) Len() int          { return len(r.counters) }
func (r *atomicRecorder) Mode() Mode        { return Atomic }

func snapshot(counters []atomic.Int64) []int64 {
	out := make([]int64, len(counters))
	for i := range counters {
		out[i] = counters[i].Load()
	}
	return out
}

func reset(counters []atomic.Int64) {
	for i := range counters {
		counters[i].Store(0)
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry maps class names to their recorders. All recorders created by
// one registry share its mode.
type Registry struct {
	mode Mode

	mu        sync.RWMutex
	recorders map[string]Recorder
}

// NewRegistry creates an empty registry.
func NewRegistry(mode Mode) *Registry {
	return &Registry{mode: mode, recorders: make(map[string]Recorder)}
}

// Mode returns the increment strategy of the registry's recorders.
func (r *Registry) Mode() Mode {
	return r.mode
}

// Register allocates the recorder for a class. Registering a class again
// returns the existing recorder when its size matches and replaces it
// otherwise. A replaced recorder keeps its counts; drain it first.
func (r *Registry) Register(class string, n int) Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.recorders[class]; ok && rec.Len() == n {
		return rec
	}
	rec := New(r.mode, n)
	r.recorders[class] = rec
	return rec
}

// Lookup returns the recorder registered for a class.
func (r *Registry) Lookup(class string) (Recorder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recorders[class]
	return rec, ok
}

// Classes returns the registered class names in sorted order.
func (r *Registry) Classes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.recorders))
	for name := range r.recorders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Drain snapshots and resets every recorder, calling fn once per class in
// name order.
func (r *Registry) Drain(fn func(class string, hits []int64)) {
	for _, name := range r.Classes() {
		rec, ok := r.Lookup(name)
		if !ok {
			continue
		}
		hits := rec.Snapshot()
		rec.Reset()
		fn(name, hits)
	}
}
