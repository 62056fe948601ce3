package postgres

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

func TestParseNotification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    logNotification
		wantErr bool
	}{
		{
			name:    "valid",
			payload: `{"id":"6f1c2a8e-7b7d-4c1e-9d51-0c1f2b3a4d5e","source_ip":"10.0.0.5"}`,
			want:    logNotification{ID: "6f1c2a8e-7b7d-4c1e-9d51-0c1f2b3a4d5e", SourceIP: "10.0.0.5"},
		},
		{name: "not json", payload: `hello`, wantErr: true},
		{name: "missing source", payload: `{"id":"x"}`, wantErr: true},
		{name: "missing id", payload: `{"source_ip":"10.0.0.5"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseNotification(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFeedRegistry(t *testing.T) {
	r := newFeedRegistry()
	var calls int
	r.add("10.0.0.5", "a", func(activity.RawEvent) { calls++ })
	r.add("10.0.0.5", "b", func(activity.RawEvent) { calls++ })

	assert.True(t, r.has("10.0.0.5"))
	assert.False(t, r.has("10.0.0.6"))

	for _, h := range r.handlersFor("10.0.0.5") {
		h(activity.RawEvent{})
	}
	assert.Equal(t, 2, calls)

	r.remove("10.0.0.5", "a")
	assert.Len(t, r.handlersFor("10.0.0.5"), 1)
	r.remove("10.0.0.5", "b")
	assert.False(t, r.has("10.0.0.5"))
}

func TestEventFeed_SubscribeRequiresListener(t *testing.T) {
	feed := NewEventFeed(nil, DefaultEventFeedConfig(), nil)

	_, err := feed.Subscribe(context.Background(), "10.0.0.5", func(activity.RawEvent) {})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrFeedSubscription)
}

func TestEventFeed_SubscribeAfterClose(t *testing.T) {
	feed := NewEventFeed(nil, DefaultEventFeedConfig(), nil)
	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())

	_, err := feed.Subscribe(context.Background(), "10.0.0.5", func(activity.RawEvent) {})
	assert.ErrorIs(t, err, shared.ErrFeedClosed)
	assert.ErrorIs(t, feed.Start(context.Background()), shared.ErrFeedClosed)
}

func TestEventFeed_UnsubscribeIsIdempotent(t *testing.T) {
	feed := NewEventFeed(nil, DefaultEventFeedConfig(), nil)
	feed.setListening(true)

	sub, err := feed.Subscribe(context.Background(), "10.0.0.5", func(activity.RawEvent) {})
	require.NoError(t, err)
	assert.True(t, feed.registry.has("10.0.0.5"))

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())
	assert.False(t, feed.registry.has("10.0.0.5"))
}

func TestLogRecord_ToRawEvent(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 123_000_000, time.UTC)
	rec := activity.LogRecord{
		SourceKey:  "10.0.0.5",
		LogType:    "HelpRequest",
		Content:    map[string]any{"label": "help"},
		ReceivedAt: at,
	}

	raw := rec.ToRawEvent("log-1")
	ev, err := activity.Normalize(raw, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "log-1", ev.ID)
	assert.Equal(t, activity.KindHelpRequest, ev.Kind)
	assert.True(t, ev.IsHelpSignal)
	assert.True(t, ev.OccurredAt.Equal(at))
}

func TestMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)

	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "migration %s", m.Name)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}

	var notify bool
	for _, m := range migrations {
		if strings.Contains(m.UpSQL, "pg_notify('"+RouterLogsChannel+"'") {
			notify = true
		}
	}
	assert.True(t, notify, "router_logs inserts must notify listeners")
}
