package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EVENT FEED
// router_logs is the interaction log. Inserts fire pg_notify on
// RouterLogsChannel; one pooled connection LISTENs and hands notifications to
// a dispatcher goroutine that loads the row and calls the subscribers of its
// source address in arrival order.
// ══════════════════════════════════════════════════════════════════════════════

// EventFeedConfig tunes the listener.
type EventFeedConfig struct {
	// Channel is the NOTIFY channel to LISTEN on.
	Channel string

	// ReconnectDelay is the pause before re-acquiring a dropped listener.
	ReconnectDelay time.Duration

	// QueueSize bounds notifications waiting for dispatch.
	QueueSize int
}

// DefaultEventFeedConfig returns the listener defaults.
func DefaultEventFeedConfig() EventFeedConfig {
	return EventFeedConfig{
		Channel:        RouterLogsChannel,
		ReconnectDelay: 2 * time.Second,
		QueueSize:      256,
	}
}

// EventFeed implements activity.EventFeed on top of router_logs.
type EventFeed struct {
	conn     *Connection
	config   EventFeedConfig
	logger   *slog.Logger
	registry *feedRegistry
	queue    chan logNotification

	mu        sync.Mutex
	listening bool
	started   bool
	closed    bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewEventFeed creates a feed. Call Start before subscribing.
func NewEventFeed(conn *Connection, config EventFeedConfig, logger *slog.Logger) *EventFeed {
	if config.Channel == "" {
		config.Channel = RouterLogsChannel
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 2 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EventFeed{
		conn:     conn,
		config:   config,
		logger:   logger,
		registry: newFeedRegistry(),
		queue:    make(chan logNotification, config.QueueSize),
	}
}

// Start acquires the listening connection and runs the listener and the
// dispatcher until ctx is cancelled or Close is called. The first LISTEN is
// synchronous so a database that is down fails startup.
func (f *EventFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return shared.ErrFeedClosed
	}
	if f.started {
		f.mu.Unlock()
		return nil
	}
	f.started = true
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	pc, err := f.connect(ctx)
	if err != nil {
		return shared.ErrFeedSubscription.Wrap(err)
	}

	f.wg.Add(2)
	go f.listen(ctx, pc)
	go f.dispatch(ctx)

	f.logger.Info("event feed listening", "channel", f.config.Channel)
	return nil
}

// Close stops the listener and drops every subscription. Safe to call twice.
func (f *EventFeed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.listening = false
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()
	f.registry.clear()
	return nil
}

// Listening reports whether the listener connection is currently up.
func (f *EventFeed) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

// Subscribe registers onEvent for every new log from sourceKey.
func (f *EventFeed) Subscribe(ctx context.Context, sourceKey string, onEvent func(activity.RawEvent)) (activity.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, shared.ErrFeedSubscription.Wrap(err)
	}
	if onEvent == nil {
		return nil, shared.ErrFeedSubscription.Wrap(errors.New("nil handler"))
	}

	f.mu.Lock()
	closed, listening := f.closed, f.listening
	f.mu.Unlock()

	if closed {
		return nil, shared.ErrFeedClosed
	}
	if !listening {
		return nil, shared.ErrFeedSubscription.Wrap(errors.New("listener is not connected"))
	}

	id := uuid.NewString()
	f.registry.add(sourceKey, id, onEvent)
	return &feedSubscription{registry: f.registry, key: sourceKey, id: id}, nil
}

// QueryRecent returns the newest logs of sourceKey, newest first.
func (f *EventFeed) QueryRecent(ctx context.Context, sourceKey string, limit int) ([]activity.RawEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT id::text, source_ip, log_type, content, timestamp
		FROM router_logs
		WHERE source_ip = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := f.conn.Query(ctx, query, sourceKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent logs: %w", err)
	}
	defer rows.Close()

	var events []activity.RawEvent
	for rows.Next() {
		var (
			rec activity.LogRecord
			id  string
		)
		if err := rows.Scan(&id, &rec.SourceKey, &rec.LogType, &rec.Content, &rec.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		events = append(events, rec.ToRawEvent(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate logs: %w", err)
	}
	return events, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Listener
// ─────────────────────────────────────────────────────────────────────────────

func (f *EventFeed) connect(ctx context.Context) (*pgxpool.Conn, error) {
	pc, err := f.conn.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener connection: %w", err)
	}
	if _, err := pc.Exec(ctx, "LISTEN "+f.config.Channel); err != nil {
		pc.Release()
		return nil, fmt.Errorf("listen %s: %w", f.config.Channel, err)
	}
	f.setListening(true)
	return pc, nil
}

func (f *EventFeed) setListening(v bool) {
	f.mu.Lock()
	f.listening = v && !f.closed
	f.mu.Unlock()
}

func (f *EventFeed) listen(ctx context.Context, pc *pgxpool.Conn) {
	defer f.wg.Done()

	for {
		if pc != nil {
			err := f.receive(ctx, pc)
			f.setListening(false)
			f.release(pc)
			pc = nil

			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("event feed listener dropped", "channel", f.config.Channel, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(f.config.ReconnectDelay):
		}

		var err error
		pc, err = f.connect(ctx)
		if err != nil {
			f.logger.Warn("event feed reconnect failed", "channel", f.config.Channel, "error", err)
			continue
		}
		f.logger.Info("event feed listener reconnected", "channel", f.config.Channel)
	}
}

func (f *EventFeed) receive(ctx context.Context, pc *pgxpool.Conn) error {
	for {
		n, err := pc.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		f.enqueue(ctx, n)
	}
}

func (f *EventFeed) enqueue(ctx context.Context, n *pgconn.Notification) {
	msg, err := parseNotification(n.Payload)
	if err != nil {
		f.logger.Warn("event feed payload rejected", "payload", n.Payload, "error", err)
		return
	}
	if !f.registry.has(msg.SourceIP) {
		return
	}
	select {
	case f.queue <- msg:
	case <-ctx.Done():
	}
}

func (f *EventFeed) release(pc *pgxpool.Conn) {
	if !pc.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _ = pc.Exec(ctx, "UNLISTEN *")
		cancel()
	}
	pc.Release()
}

// ─────────────────────────────────────────────────────────────────────────────
// Dispatcher
// ─────────────────────────────────────────────────────────────────────────────

func (f *EventFeed) dispatch(ctx context.Context) {
	defer f.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-f.queue:
			handlers := f.registry.handlersFor(msg.SourceIP)
			if len(handlers) == 0 {
				continue
			}
			ev, err := f.load(ctx, msg.ID)
			if err != nil {
				f.logger.Warn("event feed row load failed", "log_id", msg.ID, "source_ip", msg.SourceIP, "error", err)
				continue
			}
			for _, h := range handlers {
				h(ev)
			}
		}
	}
}

func (f *EventFeed) load(ctx context.Context, id string) (activity.RawEvent, error) {
	query := `
		SELECT source_ip, log_type, content, timestamp
		FROM router_logs
		WHERE id = $1::uuid
	`
	var rec activity.LogRecord
	err := f.conn.QueryRow(ctx, query, id).Scan(&rec.SourceKey, &rec.LogType, &rec.Content, &rec.ReceivedAt)
	if err != nil {
		return activity.RawEvent{}, err
	}
	return rec.ToRawEvent(id), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Notification payload and subscriber registry
// ─────────────────────────────────────────────────────────────────────────────

type logNotification struct {
	ID       string `json:"id"`
	SourceIP string `json:"source_ip"`
}

func parseNotification(payload string) (logNotification, error) {
	var msg logNotification
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return msg, fmt.Errorf("decode notification: %w", err)
	}
	if msg.ID == "" || msg.SourceIP == "" {
		return msg, errors.New("notification without id or source_ip")
	}
	return msg, nil
}

type feedRegistry struct {
	mu       sync.RWMutex
	handlers map[string]map[string]func(activity.RawEvent)
}

func newFeedRegistry() *feedRegistry {
	return &feedRegistry{handlers: make(map[string]map[string]func(activity.RawEvent))}
}

func (r *feedRegistry) add(key, id string, fn func(activity.RawEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers[key] == nil {
		r.handlers[key] = make(map[string]func(activity.RawEvent))
	}
	r.handlers[key][id] = fn
}

func (r *feedRegistry) remove(key, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers[key], id)
	if len(r.handlers[key]) == 0 {
		delete(r.handlers, key)
	}
}

func (r *feedRegistry) has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[key]) > 0
}

func (r *feedRegistry) handlersFor(key string) []func(activity.RawEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]func(activity.RawEvent), 0, len(r.handlers[key]))
	for _, fn := range r.handlers[key] {
		out = append(out, fn)
	}
	return out
}

func (r *feedRegistry) clear() {
	r.mu.Lock()
	r.handlers = make(map[string]map[string]func(activity.RawEvent))
	r.mu.Unlock()
}

type feedSubscription struct {
	registry *feedRegistry
	key      string
	id       string
	once     sync.Once
}

// Unsubscribe implements activity.Subscription.
func (s *feedSubscription) Unsubscribe() error {
	s.once.Do(func() { s.registry.remove(s.key, s.id) })
	return nil
}

// Compile-time check.
var _ activity.EventFeed = (*EventFeed)(nil)
