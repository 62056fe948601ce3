package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/internal/domain/student"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// ──────────────────────────────────────────────────────────────────────────────
// Clock
// ──────────────────────────────────────────────────────────────────────────────

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Add(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// ──────────────────────────────────────────────────────────────────────────────
// Event feed
// ──────────────────────────────────────────────────────────────────────────────

type fakeFeed struct {
	mu           sync.Mutex
	handlers     map[string]func(activity.RawEvent)
	recent       map[string][]activity.RawEvent
	subscribeErr error
	queryErr     error
	queries      int
	unsubscribes map[string]int

	// settle runs after every push; the harness waits for raises there.
	settle func()
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		handlers:     make(map[string]func(activity.RawEvent)),
		recent:       make(map[string][]activity.RawEvent),
		unsubscribes: make(map[string]int),
	}
}

func (f *fakeFeed) Subscribe(_ context.Context, key string, onEvent func(activity.RawEvent)) (activity.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	f.handlers[key] = onEvent
	return &fakeSubscription{feed: f, key: key}, nil
}

func (f *fakeFeed) QueryRecent(_ context.Context, key string, limit int) ([]activity.RawEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	events := f.recent[key]
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (f *fakeFeed) handler(key string) func(activity.RawEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[key]
}

func (f *fakeFeed) push(key string, raw activity.RawEvent) {
	if h := f.handler(key); h != nil {
		h(raw)
	}
	if f.settle != nil {
		f.settle()
	}
}

func (f *fakeFeed) unsubscribeCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubscribes[key]
}

type fakeSubscription struct {
	feed *fakeFeed
	key  string
	once sync.Once
}

func (s *fakeSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		defer s.feed.mu.Unlock()
		delete(s.feed.handlers, s.key)
		s.feed.unsubscribes[s.key]++
	})
	return nil
}

var rawSeq int

func rawEvent(kind, label string, at time.Time) activity.RawEvent {
	rawSeq++
	payload := map[string]any{}
	if label != "" {
		payload["buttonName"] = label
	}
	return activity.RawEvent{
		ID:         fmt.Sprintf("log-%d", rawSeq),
		OccurredAt: at.Format(time.RFC3339Nano),
		Kind:       kind,
		Payload:    payload,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Roster
// ──────────────────────────────────────────────────────────────────────────────

type fakeResolver struct {
	mu       sync.Mutex
	students map[string]*student.Student
	err      error
	calls    int

	// gate, when set, holds every lookup until it is closed or the
	// lookup's context ends.
	gate    chan struct{}
	waiting chan struct{}
}

func (r *fakeResolver) ResolveStudentByAddress(ctx context.Context, address string) (*student.Student, error) {
	r.mu.Lock()
	gate, waiting := r.gate, r.waiting
	r.mu.Unlock()
	if gate != nil {
		if waiting != nil {
			waiting <- struct{}{}
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return r.students[address], nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Key-value store
// ──────────────────────────────────────────────────────────────────────────────

type memStore struct {
	mu     sync.Mutex
	data   map[string]string
	setErr error
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (m *memStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.data[key] = value
	return nil
}

func (m *memStore) value(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key]
}

// ──────────────────────────────────────────────────────────────────────────────
// Outputs
// ──────────────────────────────────────────────────────────────────────────────

type recorder struct {
	mu            sync.Mutex
	events        []shared.Event
	announcements []string
	toasts        []activity.Toast
}

func (r *recorder) Publish(e shared.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Announce(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.announcements = append(r.announcements, message)
}

func (r *recorder) Toast(t activity.Toast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.toasts = append(r.toasts, t)
}

func (r *recorder) count(eventType shared.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

func (r *recorder) toastList() []activity.Toast {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]activity.Toast(nil), r.toasts...)
}

func (r *recorder) announcementList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.announcements...)
}

// ──────────────────────────────────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────────────────────────────────

type harness struct {
	clock     *manualClock
	feed      *fakeFeed
	resolver  *fakeResolver
	store     *memStore
	out       *recorder
	completed []string
	sup       *Supervisor
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		clock: &manualClock{now: t0},
		feed:  newFakeFeed(),
		resolver: &fakeResolver{students: map[string]*student.Student{
			"10.0.0.5": {ID: "s1", Name: "Ada", Address: "10.0.0.5"},
			"10.0.0.6": {ID: "s2", Name: "Grace", Address: "10.0.0.6"},
		}},
		store: newMemStore(),
		out:   &recorder{},
	}

	config := DefaultConfig()
	config.Now = h.clock.Now
	config.OnTaskComplete = func(key string) { h.completed = append(h.completed, key) }

	h.sup = NewSupervisor(Dependencies{
		Feed:      h.feed,
		Resolver:  h.resolver,
		Store:     h.store,
		Announcer: h.out,
		Notifier:  h.out,
		Publisher: h.out,
		Logger:    discardLogger(),
	}, config)

	h.feed.settle = h.settle

	t.Cleanup(func() { _ = h.sup.Close() })
	return h
}

// settle waits for identity lookups started by apply.
func (h *harness) settle() {
	h.sup.raises.Wait()
}

var errBoom = errors.New("boom")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
