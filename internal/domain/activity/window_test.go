package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func at(offset time.Duration) Event {
	return NewEvent(KindGeneric, "", base.Add(offset))
}

func TestWindow_Empty(t *testing.T) {
	var w Window

	_, ok := w.LastActivityAt()
	assert.False(t, ok)
	assert.True(t, w.IsEmpty())
	assert.Empty(t, w.Events())
}

func TestWindow_KeepsThirtyMostRecent(t *testing.T) {
	var w Window
	for i := 0; i < 45; i++ {
		w = w.Add(at(time.Duration(i) * time.Second))
		assert.LessOrEqual(t, w.Len(), WindowCapacity)
	}

	events := w.Events()
	require.Len(t, events, WindowCapacity)
	for i, e := range events {
		assert.Equal(t, base.Add(time.Duration(44-i)*time.Second), e.OccurredAt)
	}

	last, ok := w.LastActivityAt()
	require.True(t, ok)
	assert.Equal(t, base.Add(44*time.Second), last)
}

func TestWindow_OrderedInsert(t *testing.T) {
	w := NewWindow(at(0), at(-10*time.Second), at(-5*time.Second))

	events := w.Events()
	require.Len(t, events, 3)
	assert.Equal(t, base, events[0].OccurredAt)
	assert.Equal(t, base.Add(-5*time.Second), events[1].OccurredAt)
	assert.Equal(t, base.Add(-10*time.Second), events[2].OccurredAt)

	last, _ := w.LastActivityAt()
	assert.Equal(t, base, last)
}

func TestWindow_EqualTimestampsNewestInFront(t *testing.T) {
	first := NewEvent(KindMovement, "", base)
	second := NewEvent(KindPortAdded, "", base)

	w := NewWindow(first, second)

	events := w.Events()
	require.Len(t, events, 2)
	assert.Equal(t, KindPortAdded, events[0].Kind)
	assert.Equal(t, KindMovement, events[1].Kind)
}

func TestWindow_DropsStragglerWhenFull(t *testing.T) {
	var w Window
	for i := 0; i < WindowCapacity; i++ {
		w = w.Add(at(time.Duration(i) * time.Second))
	}

	next := w.Add(at(-time.Hour))

	assert.Equal(t, w.Events(), next.Events())
}

func TestWindow_AddDoesNotMutateReceiver(t *testing.T) {
	w := NewWindow(at(0), at(time.Second))
	before := w.Events()

	_ = w.Add(at(500 * time.Millisecond))
	_ = w.Add(at(2 * time.Second))

	assert.Equal(t, before, w.Events())
}

func TestWindow_HasRecentHelpSignal(t *testing.T) {
	help := NewEvent(KindHelpRequest, "help", base.Add(-3*time.Second))
	w := NewWindow(at(-time.Second), help)

	assert.True(t, w.HasRecentHelpSignal(base, HelpRaiseDuration))
	assert.False(t, w.HasRecentHelpSignal(base.Add(2*time.Second), HelpRaiseDuration))
}

func TestWindow_IgnoresDuplicateFeedRecords(t *testing.T) {
	e := at(-time.Second)
	e.ID = "log-1"

	w := NewWindow(e, e)

	assert.Equal(t, 1, w.Len())
	assert.True(t, w.Contains("log-1"))
}
