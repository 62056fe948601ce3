package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

const ada = "10.0.0.5"

func TestSupervisor_Observe_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.sup.Observe(ctx, ""), shared.ErrStudentKeyEmpty)

	require.NoError(t, h.sup.Observe(ctx, ada))
	assert.ErrorIs(t, h.sup.Observe(ctx, ada), shared.ErrAlreadyObserved)

	require.NoError(t, h.sup.Close())
	assert.ErrorIs(t, h.sup.Observe(ctx, "10.0.0.6"), shared.ErrSupervisorClosed)
}

func TestSupervisor_BackfillSeedsWindow(t *testing.T) {
	h := newHarness(t)
	h.feed.recent[ada] = []activity.RawEvent{
		rawEvent("Movement", "", t0.Add(-2*time.Second)),
		rawEvent("BlockGrab", "", t0.Add(-8*time.Second)),
		rawEvent("Movement", "", t0.Add(-40*time.Second)),
	}

	require.NoError(t, h.sup.Observe(context.Background(), ada))

	snap, err := h.sup.Snapshot(ada, t0)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.EventCount)
	assert.Equal(t, activity.StatusActive, snap.Status)
	assert.Equal(t, "2s", snap.InactiveFor)
	assert.Equal(t, 0, snap.Progress, "history does not advance progress")
	assert.Equal(t, 1, h.out.count(shared.EventStatusChanged))
}

func TestSupervisor_BackfillFailureStartsEmpty(t *testing.T) {
	h := newHarness(t)
	h.feed.queryErr = errBoom

	require.NoError(t, h.sup.Observe(context.Background(), ada))

	snap, err := h.sup.Snapshot(ada, t0)
	require.NoError(t, err)
	assert.Equal(t, activity.StatusIdle, snap.Status)
	assert.Equal(t, "No activity", snap.InactiveFor)
	assert.False(t, snap.FeedDegraded)
	assert.Empty(t, h.out.toastList(), "backfill failures are not surfaced")

	// live events still flow
	h.feed.push(ada, rawEvent("Movement", "", t0))
	snap, _ = h.sup.Snapshot(ada, t0)
	assert.Equal(t, 1, snap.EventCount)
}

func TestSupervisor_SubscriptionFailureShowsIdle(t *testing.T) {
	h := newHarness(t)
	h.feed.subscribeErr = errBoom

	require.NoError(t, h.sup.Observe(context.Background(), ada))

	snap, err := h.sup.Snapshot(ada, t0)
	require.NoError(t, err)
	assert.Equal(t, activity.StatusIdle, snap.Status)
	assert.True(t, snap.FeedDegraded)

	toasts := h.out.toastList()
	require.Len(t, toasts, 1)
	assert.Equal(t, shared.ToastWarning, toasts[0].Level)
	assert.Contains(t, toasts[0].Message, ada)

	// observing again retries the subscription
	h.feed.subscribeErr = nil
	require.NoError(t, h.sup.Observe(context.Background(), ada))
	snap, _ = h.sup.Snapshot(ada, t0)
	assert.False(t, snap.FeedDegraded)
}

func TestSupervisor_HelpRaisedThenPersisted(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	h.feed.push(ada, rawEvent("HelpRequest", "Help", t0))

	state := h.sup.HelpState("s1")
	assert.True(t, state.HelpRequested())
	assert.Equal(t, []string{"Student Ada is requesting help"}, h.out.announcementList())
	assert.Equal(t, 1, h.sup.Timers().Pending())

	snap, _ := h.sup.Snapshot(ada, t0)
	assert.Equal(t, activity.StatusStruggling, snap.Status)
	assert.Equal(t, "s1", snap.StudentID)

	// not yet due
	assert.Equal(t, 0, h.sup.Advance(h.clock.Add(4999*time.Millisecond)))
	assert.True(t, h.sup.HelpState("s1").HelpRequested())

	assert.Equal(t, 1, h.sup.Advance(h.clock.Add(time.Millisecond)))

	state = h.sup.HelpState("s1")
	assert.False(t, state.HelpRequested())
	assert.True(t, state.DotPersisted())
	assert.JSONEq(t, `{"s1": true}`, h.store.value(activity.HelpDotsKey))
	assert.Equal(t, 1, h.out.count(shared.EventHelpDotPersisted))
	assert.Equal(t, []string{"s1"}, h.sup.HelpDotIDs())
}

func TestSupervisor_HelpDebounce(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	h.clock.Add(time.Second)
	h.feed.push(ada, rawEvent("MenuButton", "Need help", h.clock.Now()))

	assert.Equal(t, 1, h.sup.Timers().Pending())
	deadline, ok := h.sup.Timers().Deadline(helpTimerKey("s1"))
	require.True(t, ok)
	assert.Equal(t, t0.Add(5*time.Second), deadline)
	assert.Equal(t, 1, h.out.count(shared.EventHelpRaised))
	assert.Equal(t, 1, h.resolver.calls)

	h.sup.Advance(t0.Add(10 * time.Second))
	assert.Equal(t, 1, h.out.count(shared.EventHelpDotPersisted))
}

func TestSupervisor_AcknowledgeBeforeTimeout(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	h.clock.Add(time.Second)
	h.feed.push(ada, rawEvent("HelpRequest", "help", h.clock.Now()))

	require.NoError(t, h.sup.Acknowledge("s1"))

	assert.True(t, h.sup.HelpState("s1").IsQuiet())
	assert.Equal(t, 0, h.sup.Timers().Pending())

	h.sup.Advance(t0.Add(time.Minute))
	assert.False(t, h.sup.HelpState("s1").DotPersisted())
	assert.Empty(t, h.store.value(activity.HelpDotsKey))

	assert.ErrorIs(t, h.sup.Acknowledge("s1"), shared.ErrNoRaisedHand)
}

func TestSupervisor_DismissDot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sup.Observe(ctx, ada))

	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	h.sup.Advance(h.clock.Add(5 * time.Second))
	require.True(t, h.sup.HelpState("s1").DotPersisted())

	require.NoError(t, h.sup.DismissDot(ctx, "s1"))

	assert.True(t, h.sup.HelpState("s1").IsQuiet())
	assert.JSONEq(t, `{}`, h.store.value(activity.HelpDotsKey))
	assert.Equal(t, 1, h.out.count(shared.EventHelpDotDismissed))

	assert.ErrorIs(t, h.sup.DismissDot(ctx, "s1"), shared.ErrNoHelpDot)
}

func TestSupervisor_SignalWhileDotPersistedRaisesAgain(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	h.sup.Advance(h.clock.Add(5 * time.Second))

	h.feed.push(ada, rawEvent("HelpRequest", "help", h.clock.Now()))

	assert.True(t, h.sup.HelpState("s1").HelpRequested())
	assert.True(t, h.sup.HelpState("s1").DotPersisted(), "the earlier dot is still unseen")
	assert.Equal(t, []string{"s1"}, h.sup.HelpDotIDs())
	assert.Equal(t, 2, h.out.count(shared.EventHelpRaised))
	assert.Equal(t, 1, h.sup.Timers().Pending())
}

// restart builds a second supervisor over the same store, as after a
// process restart.
func restart(t *testing.T, h *harness) *Supervisor {
	t.Helper()
	config := DefaultConfig()
	config.Now = h.clock.Now
	sup := NewSupervisor(Dependencies{
		Feed:     newFakeFeed(),
		Resolver: h.resolver,
		Store:    h.store,
		Logger:   discardLogger(),
	}, config)
	t.Cleanup(func() { _ = sup.Close() })
	require.NoError(t, sup.LoadHelpDots(context.Background()))
	return sup
}

func TestSupervisor_AcknowledgeAfterReraiseKeepsDot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sup.Observe(ctx, ada))

	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	h.sup.Advance(h.clock.Add(5 * time.Second))
	h.feed.push(ada, rawEvent("HelpRequest", "help", h.clock.Add(time.Second)))
	require.True(t, h.sup.HelpState("s1").HelpRequested())

	require.NoError(t, h.sup.Acknowledge("s1"))

	state := h.sup.HelpState("s1")
	assert.False(t, state.HelpRequested())
	assert.True(t, state.DotPersisted())
	assert.Equal(t, []string{"s1"}, h.sup.HelpDotIDs())
	assert.JSONEq(t, `{"s1": true}`, h.store.value(activity.HelpDotsKey))

	// memory and store agree, so a restart shows the same dot
	assert.Equal(t, h.sup.HelpDotIDs(), restart(t, h).HelpDotIDs())

	require.NoError(t, h.sup.DismissDot(ctx, "s1"))
	assert.True(t, h.sup.HelpState("s1").IsQuiet())
	assert.JSONEq(t, `{}`, h.store.value(activity.HelpDotsKey))
	assert.Empty(t, restart(t, h).HelpDotIDs())
}

func TestSupervisor_DismissDotWhileRaisedAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sup.Observe(ctx, ada))

	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	h.sup.Advance(h.clock.Add(5 * time.Second))
	h.feed.push(ada, rawEvent("HelpRequest", "help", h.clock.Now()))

	require.NoError(t, h.sup.DismissDot(ctx, "s1"))

	state := h.sup.HelpState("s1")
	assert.True(t, state.HelpRequested(), "the new raise is not dismissed with the old dot")
	assert.False(t, state.DotPersisted())
	assert.JSONEq(t, `{}`, h.store.value(activity.HelpDotsKey))
	assert.Equal(t, 1, h.sup.Timers().Pending())

	// left unanswered, the new raise persists its own dot
	h.sup.Advance(h.clock.Add(5 * time.Second))
	assert.True(t, h.sup.HelpState("s1").DotPersisted())
	assert.JSONEq(t, `{"s1": true}`, h.store.value(activity.HelpDotsKey))
}

func TestSupervisor_SlowLookupDoesNotStallFeed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.resolver.gate = make(chan struct{})
	h.resolver.waiting = make(chan struct{}, 1)
	require.NoError(t, h.sup.Observe(ctx, ada))
	require.NoError(t, h.sup.Observe(ctx, "10.0.0.6"))

	// call the handlers directly, as the feed's dispatcher does
	h.feed.handler(ada)(rawEvent("HelpRequest", "help", t0))
	select {
	case <-h.resolver.waiting:
	case <-time.After(time.Second):
		t.Fatal("lookup never started")
	}

	h.feed.handler("10.0.0.6")(rawEvent("Movement", "", t0))
	h.feed.handler(ada)(rawEvent("Movement", "", t0))

	grace, err := h.sup.Snapshot("10.0.0.6", t0)
	require.NoError(t, err)
	assert.Equal(t, 1, grace.EventCount)
	snap, err := h.sup.Snapshot(ada, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.EventCount)
	assert.False(t, h.sup.HelpState("s1").HelpRequested(), "lookup still in flight")

	close(h.resolver.gate)
	h.settle()

	assert.True(t, h.sup.HelpState("s1").HelpRequested())
	assert.Equal(t, 1, h.out.count(shared.EventHelpRaised))
}

func TestSupervisor_CloseAbandonsPendingLookup(t *testing.T) {
	h := newHarness(t)
	h.resolver.gate = make(chan struct{})
	h.resolver.waiting = make(chan struct{}, 1)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	h.feed.handler(ada)(rawEvent("HelpRequest", "help", t0))
	<-h.resolver.waiting

	require.NoError(t, h.sup.Close())

	assert.True(t, h.sup.HelpState("s1").IsQuiet())
	assert.Equal(t, 0, h.out.count(shared.EventHelpRaised))
	assert.Empty(t, h.out.toastList())
	assert.Equal(t, 0, h.sup.Timers().Pending())
}

func TestSupervisor_UnknownAddressDropsHelp(t *testing.T) {
	h := newHarness(t)
	const stranger = "10.0.0.99"
	require.NoError(t, h.sup.Observe(context.Background(), stranger))

	h.feed.push(stranger, rawEvent("HelpRequest", "help", t0))

	snap, err := h.sup.Snapshot(stranger, t0)
	require.NoError(t, err)
	assert.NotEqual(t, activity.StatusStruggling, snap.Status)
	assert.False(t, snap.HelpRequested)
	assert.Equal(t, 0, h.sup.Timers().Pending())

	toasts := h.out.toastList()
	require.Len(t, toasts, 1)
	assert.Contains(t, toasts[0].Message, stranger)
	assert.Empty(t, h.out.announcementList())
}

func TestSupervisor_ResolverErrorDropsHelp(t *testing.T) {
	h := newHarness(t)
	h.resolver.err = errBoom
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	assert.NotPanics(t, func() {
		h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	})

	assert.True(t, h.sup.HelpState("s1").IsQuiet())
	assert.Len(t, h.out.toastList(), 1)

	// a later signal retries the lookup
	h.resolver.err = nil
	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	assert.True(t, h.sup.HelpState("s1").HelpRequested())
}

func TestSupervisor_RecentBackfilledHelpRaises(t *testing.T) {
	h := newHarness(t)
	h.feed.recent[ada] = []activity.RawEvent{
		rawEvent("HelpRequest", "help", t0.Add(-2*time.Second)),
	}
	h.feed.recent["10.0.0.6"] = []activity.RawEvent{
		rawEvent("HelpRequest", "help", t0.Add(-time.Minute)),
	}

	require.NoError(t, h.sup.Observe(context.Background(), ada))
	require.NoError(t, h.sup.Observe(context.Background(), "10.0.0.6"))

	assert.True(t, h.sup.HelpState("s1").HelpRequested())
	assert.True(t, h.sup.HelpState("s2").IsQuiet())
}

func TestSupervisor_ProgressCompletes(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	for i := 0; i < 17; i++ {
		h.feed.push(ada, rawEvent("Movement", "", h.clock.Now()))
	}
	snap, _ := h.sup.Snapshot(ada, h.clock.Now())
	require.Equal(t, 85, snap.Progress)

	h.feed.push(ada, rawEvent("PortAdded", "", h.clock.Now()))
	snap, _ = h.sup.Snapshot(ada, h.clock.Now())
	assert.Equal(t, 100, snap.Progress)
	assert.True(t, snap.ProgressHolding)

	// ignored while holding
	h.feed.push(ada, rawEvent("PortAdded", "", h.clock.Now()))
	snap, _ = h.sup.Snapshot(ada, h.clock.Now())
	assert.Equal(t, 100, snap.Progress)

	h.sup.Advance(h.clock.Add(2 * time.Second))

	snap, _ = h.sup.Snapshot(ada, h.clock.Now())
	assert.Equal(t, 0, snap.Progress)
	assert.False(t, snap.ProgressHolding)
	assert.Equal(t, []string{ada}, h.completed)
	assert.Equal(t, 1, h.out.count(shared.EventProgressCompleted))

	h.sup.Advance(h.clock.Add(10 * time.Second))
	assert.Len(t, h.completed, 1)
}

func TestSupervisor_DuplicateFeedRecordsIgnored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	raw := rawEvent("Movement", "", t0)
	h.feed.push(ada, raw)
	h.feed.push(ada, raw)

	snap, _ := h.sup.Snapshot(ada, t0)
	assert.Equal(t, 1, snap.EventCount)
	assert.Equal(t, 5, snap.Progress)
}

func TestSupervisor_MalformedEventCountsAsGeneric(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	h.feed.push(ada, activity.RawEvent{
		ID:         "bad-1",
		OccurredAt: "not a time",
		Kind:       "HelpRequest",
		Payload:    map[string]any{"buttonName": []int{1}},
	})

	snap, _ := h.sup.Snapshot(ada, t0)
	assert.Equal(t, 1, snap.EventCount)
	assert.False(t, snap.HelpRequested)
	assert.Equal(t, 5, snap.Progress)
}

func TestSupervisor_RecordInteraction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.sup.RecordInteraction(ctx, ada, activity.KindMovement, ""), shared.ErrStudentNotObserved)

	require.NoError(t, h.sup.Observe(ctx, ada))
	require.NoError(t, h.sup.RecordInteraction(ctx, ada, activity.KindPortAdded, ""))
	require.NoError(t, h.sup.RecordInteraction(ctx, ada, activity.KindHelpRequest, ""))
	h.settle()

	snap, _ := h.sup.Snapshot(ada, t0)
	assert.Equal(t, 25, snap.Progress)
	assert.True(t, snap.HelpRequested)
}

func TestSupervisor_ReclassifyTick(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	h.feed.push(ada, rawEvent("Movement", "", t0))
	h.feed.push(ada, rawEvent("Movement", "", t0))
	snap, _ := h.sup.Snapshot(ada, t0)
	require.Equal(t, activity.StatusActive, snap.Status)

	before := h.out.count(shared.EventStatusChanged)
	assert.Equal(t, 0, h.sup.Reclassify(t0.Add(time.Second)))
	assert.Equal(t, 1, h.sup.Reclassify(t0.Add(3*time.Minute)))
	assert.Equal(t, before+1, h.out.count(shared.EventStatusChanged))
}

func TestSupervisor_UnobserveIsIdempotent(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	stale := h.feed.handler(ada)
	require.NotNil(t, stale)

	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	for i := 0; i < 19; i++ {
		h.feed.push(ada, rawEvent("Movement", "", t0))
	}
	require.Equal(t, 2, h.sup.Timers().Pending())

	require.NoError(t, h.sup.Unobserve(ada))
	require.NoError(t, h.sup.Unobserve(ada))

	assert.Equal(t, 1, h.feed.unsubscribeCount(ada))
	assert.Equal(t, 0, h.sup.Timers().Pending())
	assert.False(t, h.sup.IsObserved(ada))
	assert.True(t, h.sup.HelpState("s1").IsQuiet())

	published := len(h.out.events)
	stale(rawEvent("Movement", "", t0))
	h.sup.Advance(t0.Add(time.Hour))
	assert.Len(t, h.out.events, published)
}

func TestSupervisor_StaleCallbackAfterReobserve(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sup.Observe(ctx, ada))
	stale := h.feed.handler(ada)

	require.NoError(t, h.sup.Unobserve(ada))
	require.NoError(t, h.sup.Observe(ctx, ada))

	stale(rawEvent("Movement", "", t0))

	snap, _ := h.sup.Snapshot(ada, t0)
	assert.Equal(t, 0, snap.EventCount)
}

func TestSupervisor_CloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.sup.Observe(ctx, ada))
	require.NoError(t, h.sup.Observe(ctx, "10.0.0.6"))
	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))

	require.NoError(t, h.sup.Close())
	require.NoError(t, h.sup.Close())

	assert.Equal(t, 0, h.sup.Timers().Pending())
	assert.Empty(t, h.sup.ObservedKeys())
	assert.Equal(t, 1, h.feed.unsubscribeCount(ada))
	assert.Equal(t, 1, h.feed.unsubscribeCount("10.0.0.6"))

	published := len(h.out.events)
	assert.Equal(t, 0, h.sup.Advance(t0.Add(time.Hour)))
	assert.Len(t, h.out.events, published)
}

func TestSupervisor_LoadHelpDots(t *testing.T) {
	h := newHarness(t)
	h.store.data[activity.HelpDotsKey] = `{"s9": true, "s3": true, "s4": false}`

	require.NoError(t, h.sup.LoadHelpDots(context.Background()))

	assert.Equal(t, []string{"s3", "s9"}, h.sup.HelpDotIDs())
	require.NoError(t, h.sup.DismissDot(context.Background(), "s9"))
	assert.JSONEq(t, `{"s3": true, "s4": false}`, h.store.value(activity.HelpDotsKey))
}

func TestSupervisor_StoreFailureToasts(t *testing.T) {
	h := newHarness(t)
	h.store.setErr = errBoom
	require.NoError(t, h.sup.Observe(context.Background(), ada))

	h.feed.push(ada, rawEvent("HelpRequest", "help", t0))
	h.sup.Advance(h.clock.Add(5 * time.Second))

	assert.True(t, h.sup.HelpState("s1").DotPersisted())
	toasts := h.out.toastList()
	require.NotEmpty(t, toasts)
	assert.Equal(t, shared.ToastError, toasts[len(toasts)-1].Level)
}
