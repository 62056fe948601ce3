// Package engine runs the student activity engine: it owns every observed
// student's window, raised-hand state and task progress, and funnels all
// mutation through one Supervisor.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/internal/domain/student"
	"github.com/vrlab/classroom-monitor/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains engine tuning.
type Config struct {
	// Thresholds are the classifier constants.
	Thresholds activity.Thresholds

	// BackfillLimit is the number of historical events read on Observe.
	BackfillLimit int

	// ResolveTimeout bounds one identity lookup.
	ResolveTimeout time.Duration

	// StoreTimeout bounds one help dot store write.
	StoreTimeout time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	// OnTaskComplete is called once per completed task, after the hold.
	OnTaskComplete func(studentKey string)
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds:     activity.DefaultThresholds(),
		BackfillLimit:  activity.WindowCapacity,
		ResolveTimeout: 3 * time.Second,
		StoreTimeout:   3 * time.Second,
		Now:            time.Now,
	}
}

// Dependencies are the collaborators of the Supervisor. Announcer, Notifier,
// Publisher and Logger are optional.
type Dependencies struct {
	Feed      activity.EventFeed
	Resolver  student.Resolver
	Store     activity.KeyValueStore
	Announcer activity.Announcer
	Notifier  activity.Notifier
	Publisher shared.EventPublisher
	Timers    *Timers
	Logger    *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SUPERVISOR
// ══════════════════════════════════════════════════════════════════════════════

// tracked is the state of one observed student, keyed by source address.
type tracked struct {
	key        string
	generation uint64

	studentID   string // set once the address has been resolved
	studentName string

	window   activity.Window
	progress activity.Progress
	status   activity.Status

	sub       activity.Subscription
	feedError error
	resolving bool
}

// Supervisor owns all per-student engine state. Every mutation happens under
// one mutex; network calls are made without it and their results are applied
// to whatever the state is when they return.
type Supervisor struct {
	feed      activity.EventFeed
	resolver  student.Resolver
	dots      *HelpDots
	announcer activity.Announcer
	notifier  activity.Notifier
	publisher shared.EventPublisher
	timers    *Timers
	logger    *slog.Logger
	config    Config

	backfill *retry.Retrier

	// lifetime of feed subscriptions
	ctx    context.Context
	cancel context.CancelFunc

	// identity lookups started off the feed goroutine
	raises sync.WaitGroup

	mu         sync.Mutex
	closed     bool
	generation uint64
	observed   map[string]*tracked
	help       map[string]activity.HelpState // by student ID
	helpNames  map[string]string             // student ID -> display name
}

// NewSupervisor creates a new Supervisor.
func NewSupervisor(deps Dependencies, config Config) *Supervisor {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.BackfillLimit <= 0 || config.BackfillLimit > activity.WindowCapacity {
		config.BackfillLimit = activity.WindowCapacity
	}
	if config.ResolveTimeout <= 0 {
		config.ResolveTimeout = 3 * time.Second
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 3 * time.Second
	}
	if config.Thresholds == (activity.Thresholds{}) {
		config.Thresholds = activity.DefaultThresholds()
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	announcer := deps.Announcer
	if announcer == nil {
		announcer = activity.NopAnnouncer{}
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = activity.NopNotifier{}
	}
	timers := deps.Timers
	if timers == nil {
		timers = NewTimers()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Supervisor{
		feed:      deps.Feed,
		resolver:  deps.Resolver,
		dots:      NewHelpDots(deps.Store, logger),
		announcer: announcer,
		notifier:  notifier,
		publisher: deps.Publisher,
		timers:    timers,
		logger:    logger.With("component", "activity_supervisor"),
		config:    config,
		backfill:  retry.BackfillRetrier(),
		ctx:       ctx,
		cancel:    cancel,
		observed:  make(map[string]*tracked),
		help:      make(map[string]activity.HelpState),
		helpNames: make(map[string]string),
	}
}

// Timers returns the registry holding the engine's deadlines.
func (s *Supervisor) Timers() *Timers {
	return s.timers
}

// Now returns the engine clock's current time.
func (s *Supervisor) Now() time.Time {
	return s.config.Now()
}

func helpTimerKey(studentID string) string { return "help:" + studentID }

func progressTimerKey(key string) string { return "progress:" + key }

// LoadHelpDots restores persisted dots. It is called once at startup.
func (s *Supervisor) LoadHelpDots(ctx context.Context) error {
	ids, err := s.dots.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.help[id] = s.help[id].WithDot()
	}
	s.logger.Info("help dots restored", "count", len(ids))
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Observation lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// Observe starts tracking the student whose headset sends from key. Feed
// failures do not fail Observe: a failed subscription leaves the student
// observed and idle with a warning toast until it is observed again, a failed
// backfill leaves the window empty.
func (s *Supervisor) Observe(ctx context.Context, key string) error {
	if key == "" {
		return shared.ErrStudentKeyEmpty
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return shared.ErrSupervisorClosed
	}
	// An entry whose subscription failed may be observed again to retry.
	if t, ok := s.observed[key]; ok && t.feedError == nil {
		s.mu.Unlock()
		return shared.ErrAlreadyObserved
	}
	s.generation++
	gen := s.generation
	s.observed[key] = &tracked{key: key, generation: gen, status: activity.StatusIdle}
	s.mu.Unlock()

	s.logger.Info("observing student", "student_key", key)

	// Subscribe before the backfill so nothing inserted in between is lost;
	// duplicates are dropped by feed ID.
	sub, err := s.feed.Subscribe(s.ctx, key, func(raw activity.RawEvent) {
		s.ingest(key, gen, raw)
	})
	if err != nil {
		s.subscriptionFailed(key, gen, err)
		return nil
	}
	if !s.attach(key, gen, sub) {
		_ = sub.Unsubscribe()
		return nil
	}

	s.seed(ctx, key, gen)
	return nil
}

func (s *Supervisor) subscriptionFailed(key string, gen uint64, err error) {
	wrapped := shared.ErrFeedSubscription.Wrap(err)
	s.logger.Warn("event feed subscription failed", "student_key", key, "error", wrapped)

	s.mu.Lock()
	if t := s.current(key, gen); t != nil {
		t.feedError = wrapped
	}
	s.mu.Unlock()

	s.notifier.Toast(activity.Toast{
		Level:   shared.ToastWarning,
		Title:   "Live updates unavailable",
		Message: fmt.Sprintf("Could not subscribe to activity from %s. The student will show as idle.", key),
	})
}

// attach stores sub on the entry if it is still the one that asked for it.
func (s *Supervisor) attach(key string, gen uint64, sub activity.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.current(key, gen)
	if t == nil {
		return false
	}
	t.sub = sub
	return true
}

// seed performs the one-shot history read.
func (s *Supervisor) seed(ctx context.Context, key string, gen uint64) {
	var raws []activity.RawEvent
	err := s.backfill.Do(ctx, func(ctx context.Context) error {
		r, err := s.feed.QueryRecent(ctx, key, s.config.BackfillLimit)
		if err != nil {
			return retry.Retryable(err)
		}
		raws = r
		return nil
	})
	if err != nil {
		s.logger.Warn("backfill failed, starting with empty window",
			"student_key", key, "error", shared.ErrBackfillRead.Wrap(err))
		return
	}

	now := s.config.Now()
	events := make([]activity.Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := activity.Normalize(raw, now)
		if err != nil {
			s.logger.Debug("coerced malformed event", "student_key", key, "error", err)
		}
		events = append(events, ev)
	}

	var (
		out       []shared.Event
		needRaise bool
	)

	s.mu.Lock()
	t := s.current(key, gen)
	if t == nil {
		s.mu.Unlock()
		return
	}
	for _, ev := range events {
		t.window = t.window.Add(ev)
	}
	// Only a help signal recent enough to still be raised is replayed.
	if t.window.HasRecentHelpSignal(now, activity.HelpRaiseDuration) && s.claimRaise(t) {
		needRaise = true
	}
	out = s.reclassifyLocked(t, now, out)
	s.mu.Unlock()

	s.logger.Debug("backfill applied", "student_key", key, "events", len(events))
	s.publish(out...)

	if needRaise {
		s.raise(ctx, key, gen)
	}
}

// Unobserve stops tracking key. It is idempotent: unobserving a student that
// is not observed is not an error.
func (s *Supervisor) Unobserve(key string) error {
	s.mu.Lock()
	t, ok := s.observed[key]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	s.dropLocked(t)
	s.mu.Unlock()

	s.logger.Info("stopped observing student", "student_key", key)
	return s.unsubscribe(t)
}

// dropLocked removes t and its timers. A raised hand whose timer is cancelled
// this way is lowered rather than staying raised forever; its dot, if any,
// stays.
func (s *Supervisor) dropLocked(t *tracked) {
	delete(s.observed, t.key)
	s.timers.Cancel(progressTimerKey(t.key))

	if t.studentID == "" || s.studentObservedLocked(t.studentID) {
		return
	}
	if s.help[t.studentID].HelpRequested() {
		s.timers.Cancel(helpTimerKey(t.studentID))
		s.help[t.studentID] = s.help[t.studentID].Lowered()
	}
}

func (s *Supervisor) unsubscribe(t *tracked) error {
	if t.sub == nil {
		return nil
	}
	if err := t.sub.Unsubscribe(); err != nil {
		s.logger.Warn("unsubscribe failed", "student_key", t.key, "error", err)
		return err
	}
	return nil
}

// Close tears down every subscription and timer. Closing twice is safe.
func (s *Supervisor) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	all := make([]*tracked, 0, len(s.observed))
	for _, t := range s.observed {
		all = append(all, t)
	}
	s.observed = make(map[string]*tracked)
	flushed := s.timers.Flush()
	s.mu.Unlock()

	s.cancel()
	s.raises.Wait()

	var firstErr error
	for _, t := range all {
		if err := s.unsubscribe(t); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	s.logger.Info("activity supervisor closed", "students", len(all), "timers_flushed", flushed)
	return firstErr
}

// IsObserved reports whether key is being tracked.
func (s *Supervisor) IsObserved(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.observed[key]
	return ok
}

// ObservedKeys returns the tracked keys, sorted.
func (s *Supervisor) ObservedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.observed))
	for k := range s.observed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// current returns the entry for key if it is still the given generation.
func (s *Supervisor) current(key string, gen uint64) *tracked {
	t, ok := s.observed[key]
	if !ok || t.generation != gen {
		return nil
	}
	return t
}

func (s *Supervisor) studentObservedLocked(studentID string) bool {
	for _, t := range s.observed {
		if t.studentID == studentID {
			return true
		}
	}
	return false
}

// ──────────────────────────────────────────────────────────────────────────────
// Event ingestion
// ──────────────────────────────────────────────────────────────────────────────

// ingest handles one live feed record for the given subscription.
func (s *Supervisor) ingest(key string, gen uint64, raw activity.RawEvent) {
	now := s.config.Now()
	ev, err := activity.Normalize(raw, now)
	if err != nil {
		s.logger.Warn("coerced malformed event", "student_key", key, "error", err)
	}
	s.apply(key, gen, ev, now)
}

// RecordInteraction feeds a synthetic event for key through the same
// pipeline as live events.
func (s *Supervisor) RecordInteraction(ctx context.Context, key string, kind activity.Kind, label string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	t, ok := s.observed[key]
	var gen uint64
	if ok {
		gen = t.generation
	}
	s.mu.Unlock()
	if !ok {
		return shared.ErrStudentNotObserved
	}

	if kind == activity.KindHelpRequest && label == "" {
		label = "help"
	}
	now := s.config.Now()
	s.apply(key, gen, activity.NewEvent(kind, label, now), now)
	return nil
}

// apply fans a normalized event out to the window, the progress counter and,
// for help signals, the raised-hand lifecycle. The raise itself runs on its
// own goroutine bound to the supervisor's lifetime.
func (s *Supervisor) apply(key string, gen uint64, ev activity.Event, now time.Time) {
	var (
		out       []shared.Event
		needRaise bool
	)

	s.mu.Lock()
	t := s.current(key, gen)
	if t == nil {
		s.mu.Unlock()
		return
	}
	if ev.ID != "" && t.window.Contains(ev.ID) {
		s.mu.Unlock()
		return
	}

	t.window = t.window.Add(ev)
	out = s.advanceProgressLocked(t, ev, now, out)
	if ev.IsHelpSignal && s.claimRaise(t) {
		needRaise = true
		s.raises.Add(1)
	}
	out = s.reclassifyLocked(t, now, out)
	s.mu.Unlock()

	s.publish(out...)

	// The lookup may hit the database; the feed goroutine must not wait on it.
	if needRaise {
		go func() {
			defer s.raises.Done()
			s.raise(s.ctx, key, gen)
		}()
	}
}

// claimRaise reports whether a help signal on t should start a raise, and if
// so marks the lookup in flight so concurrent signals coalesce.
func (s *Supervisor) claimRaise(t *tracked) bool {
	if t.resolving {
		return false
	}
	if t.studentID != "" && s.help[t.studentID].HelpRequested() {
		return false
	}
	t.resolving = true
	return true
}

func (s *Supervisor) advanceProgressLocked(t *tracked, ev activity.Event, now time.Time, out []shared.Event) []shared.Event {
	next, moved, reachedMax := t.progress.OnEvent(ev.Kind, now)
	t.progress = next
	if !moved {
		return out
	}

	out = append(out, shared.ProgressEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventProgressUpdated, t.key, now),
		Progress:  next.Value,
	})

	if reachedMax {
		deadline, _ := next.HoldDeadline()
		key, gen := t.key, t.generation
		s.timers.Schedule(progressTimerKey(key), deadline, func(firedAt time.Time) {
			s.completeTask(key, gen, firedAt)
		})
	}
	return out
}

func (s *Supervisor) completeTask(key string, gen uint64, firedAt time.Time) {
	s.mu.Lock()
	t := s.current(key, gen)
	if t == nil || s.closed {
		s.mu.Unlock()
		return
	}
	next, completed := t.progress.OnHoldElapsed()
	t.progress = next
	s.mu.Unlock()

	if !completed {
		return
	}

	s.logger.Info("task completed", "student_key", key)
	s.publish(
		shared.ProgressEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventProgressCompleted, key, firedAt),
			Progress:  activity.ProgressMax,
			Completed: true,
		},
		shared.ProgressEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventProgressUpdated, key, firedAt),
			Progress:  0,
		},
	)
	if s.config.OnTaskComplete != nil {
		s.config.OnTaskComplete(key)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Raised hands
// ──────────────────────────────────────────────────────────────────────────────

// raise resolves the address behind key and raises that student's hand. A
// failed or empty lookup drops the signal with a warning toast, unless the
// supervisor closed while it was in flight.
func (s *Supervisor) raise(ctx context.Context, key string, gen uint64) {
	lookupCtx, cancel := context.WithTimeout(ctx, s.config.ResolveTimeout)
	st, err := s.resolver.ResolveStudentByAddress(lookupCtx, key)
	cancel()

	if err != nil || st == nil {
		s.mu.Lock()
		if t := s.current(key, gen); t != nil {
			t.resolving = false
		}
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return
		}

		cause := err
		if cause == nil {
			cause = fmt.Errorf("no student registered for %s", key)
		}
		s.logger.Warn("help signal dropped", "student_key", key, "error", shared.ErrIdentityResolution.Wrap(cause))
		s.notifier.Toast(activity.Toast{
			Level:   shared.ToastWarning,
			Title:   "Unknown headset",
			Message: fmt.Sprintf("A help request came from %s, which is not registered to any student.", key),
		})
		return
	}

	now := s.config.Now()
	name := st.DisplayName()

	var out []shared.Event

	s.mu.Lock()
	t := s.current(key, gen)
	if t == nil || s.closed {
		s.mu.Unlock()
		return
	}
	t.resolving = false
	t.studentID = st.ID
	t.studentName = name
	s.helpNames[st.ID] = name

	next, changed := s.help[st.ID].OnSignal(now)
	if !changed {
		s.mu.Unlock()
		return
	}
	s.help[st.ID] = next
	deadline, _ := next.Deadline()
	id := st.ID
	s.timers.Schedule(helpTimerKey(id), deadline, func(firedAt time.Time) {
		s.degradeHelp(id, firedAt)
	})

	out = append(out, shared.HelpEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventHelpRaised, id, now),
		StudentName: name,
		Address:     key,
	})
	out = s.reclassifyStudentLocked(id, now, out)
	s.mu.Unlock()

	s.logger.Info("help requested", "student_id", id, "student_key", key)
	s.announcer.Announce(fmt.Sprintf("Student %s is requesting help", name))
	s.publish(out...)
}

// degradeHelp turns an unacknowledged raise into a persisted dot.
func (s *Supervisor) degradeHelp(studentID string, firedAt time.Time) {
	var out []shared.Event

	s.mu.Lock()
	if s.closed || !s.studentObservedLocked(studentID) {
		s.mu.Unlock()
		return
	}
	next, changed := s.help[studentID].OnTimeout()
	if !changed {
		s.mu.Unlock()
		return
	}
	s.help[studentID] = next
	name := s.helpNames[studentID]
	out = append(out, shared.HelpEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventHelpDotPersisted, studentID, firedAt),
		StudentName: name,
	})
	out = s.reclassifyStudentLocked(studentID, firedAt, out)
	s.mu.Unlock()

	s.logger.Info("help request unanswered, dot persisted", "student_id", studentID)
	s.persistDot(studentID, true)
	s.publish(out...)
}

// Acknowledge lowers a raised hand. A dot left by an earlier request stays
// until it is dismissed.
func (s *Supervisor) Acknowledge(studentID string) error {
	now := s.config.Now()
	var out []shared.Event

	s.mu.Lock()
	next, err := s.help[studentID].OnAcknowledge()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.help[studentID] = next
	s.timers.Cancel(helpTimerKey(studentID))
	out = append(out, shared.HelpEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventHelpAcknowledged, studentID, now),
		StudentName: s.helpNames[studentID],
	})
	out = s.reclassifyStudentLocked(studentID, now, out)
	s.mu.Unlock()

	s.logger.Info("help acknowledged", "student_id", studentID)
	s.publish(out...)
	return nil
}

// DismissDot clears a persisted help dot and removes it from the store. A hand
// raised again over the dot stays raised.
func (s *Supervisor) DismissDot(ctx context.Context, studentID string) error {
	now := s.config.Now()

	s.mu.Lock()
	next, err := s.help[studentID].OnDismiss()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.help[studentID] = next
	name := s.helpNames[studentID]
	s.mu.Unlock()

	s.logger.Info("help dot dismissed", "student_id", studentID)
	s.publish(shared.HelpEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventHelpDotDismissed, studentID, now),
		StudentName: name,
	})

	storeCtx, cancel := context.WithTimeout(ctx, s.config.StoreTimeout)
	defer cancel()
	if err := s.dots.Mark(storeCtx, studentID, false); err != nil {
		s.storeFailed(studentID, err)
		return err
	}
	return nil
}

func (s *Supervisor) persistDot(studentID string, on bool) {
	ctx, cancel := context.WithTimeout(s.ctx, s.config.StoreTimeout)
	defer cancel()
	if err := s.dots.Mark(ctx, studentID, on); err != nil {
		s.storeFailed(studentID, err)
	}
}

func (s *Supervisor) storeFailed(studentID string, err error) {
	s.logger.Error("help dot store write failed", "student_id", studentID, "error", err)
	s.notifier.Toast(activity.Toast{
		Level:   shared.ToastError,
		Title:   "Help indicator not saved",
		Message: "The help indicator could not be saved and will not survive a restart.",
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Classification
// ──────────────────────────────────────────────────────────────────────────────

// Reclassify recomputes every observed student's status at now and publishes
// the changes. It returns the number of students whose status changed.
func (s *Supervisor) Reclassify(now time.Time) int {
	var out []shared.Event

	s.mu.Lock()
	for _, t := range s.observed {
		out = s.reclassifyLocked(t, now, out)
	}
	s.mu.Unlock()

	s.publish(out...)
	return len(out)
}

// Advance fires every engine timer due at now.
func (s *Supervisor) Advance(now time.Time) int {
	return s.timers.Advance(now)
}

func (s *Supervisor) helpRequestedLocked(t *tracked) bool {
	return t.studentID != "" && s.help[t.studentID].HelpRequested()
}

func (s *Supervisor) reclassifyLocked(t *tracked, now time.Time, out []shared.Event) []shared.Event {
	status := s.config.Thresholds.Classify(t.window, s.helpRequestedLocked(t), now)
	if status == t.status {
		return out
	}
	previous := t.status
	t.status = status
	return append(out, shared.StatusChangedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventStatusChanged, t.key, now),
		StudentID: t.studentID,
		Previous:  previous.String(),
		Current:   status.String(),
	})
}

func (s *Supervisor) reclassifyStudentLocked(studentID string, now time.Time, out []shared.Event) []shared.Event {
	for _, t := range s.observed {
		if t.studentID == studentID {
			out = s.reclassifyLocked(t, now, out)
		}
	}
	return out
}

func (s *Supervisor) publish(events ...shared.Event) {
	if s.publisher == nil {
		return
	}
	for _, e := range events {
		if err := s.publisher.Publish(e); err != nil {
			s.logger.Warn("failed to publish engine event", "event_type", e.EventType(), "error", err)
		}
	}
}
