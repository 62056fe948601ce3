package engine

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// TIMER REGISTRY
// Every help and progress deadline lives in one min-heap keyed by a string.
// Scheduling an existing key replaces it; Flush drops everything.
// ══════════════════════════════════════════════════════════════════════════════

// TimerFunc runs when a timer comes due. firedAt is the instant passed to
// Advance.
type TimerFunc func(firedAt time.Time)

type timer struct {
	key      string
	deadline time.Time
	seq      uint64
	fire     TimerFunc
	index    int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Timers is a deadline-ordered registry of cancellable one-shot timers. It
// does not own a clock: Advance fires everything due at the given instant,
// and Run pumps Advance from a ticker.
type Timers struct {
	mu    sync.Mutex
	heap  timerHeap
	byKey map[string]*timer
	seq   uint64
}

// NewTimers creates an empty registry.
func NewTimers() *Timers {
	return &Timers{
		byKey: make(map[string]*timer),
	}
}

// Schedule arms the timer under key, replacing any timer already armed
// under the same key.
func (t *Timers) Schedule(key string, deadline time.Time, fire TimerFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	if existing, ok := t.byKey[key]; ok {
		existing.deadline = deadline
		existing.seq = t.seq
		existing.fire = fire
		heap.Fix(&t.heap, existing.index)
		return
	}

	tm := &timer{key: key, deadline: deadline, seq: t.seq, fire: fire}
	heap.Push(&t.heap, tm)
	t.byKey[key] = tm
}

// Cancel disarms the timer under key and reports whether one was armed.
func (t *Timers) Cancel(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&t.heap, tm.index)
	delete(t.byKey, key)
	return true
}

// Deadline returns when the timer under key is due.
func (t *Timers) Deadline(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tm, ok := t.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return tm.deadline, true
}

// Pending returns the number of armed timers.
func (t *Timers) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.heap)
}

// Next returns the earliest deadline.
func (t *Timers) Next() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.heap) == 0 {
		return time.Time{}, false
	}
	return t.heap[0].deadline, true
}

// Advance fires, in deadline order, every timer due at or before now and
// returns how many fired. Callbacks run without the registry lock held, so
// they may schedule or cancel timers.
func (t *Timers) Advance(now time.Time) int {
	fired := 0
	for {
		t.mu.Lock()
		if len(t.heap) == 0 || t.heap[0].deadline.After(now) {
			t.mu.Unlock()
			return fired
		}
		tm := heap.Pop(&t.heap).(*timer)
		delete(t.byKey, tm.key)
		t.mu.Unlock()

		tm.fire(now)
		fired++
	}
}

// Flush disarms every timer and returns how many were armed.
func (t *Timers) Flush() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.heap)
	t.heap = nil
	t.byKey = make(map[string]*timer)
	return n
}

// Run calls Advance every resolution until ctx is done.
func (t *Timers) Run(ctx context.Context, resolution time.Duration, now func() time.Time) {
	if resolution <= 0 {
		resolution = 100 * time.Millisecond
	}
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Advance(now())
		}
	}
}
