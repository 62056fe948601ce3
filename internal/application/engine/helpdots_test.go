package engine

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

func TestHelpDots_MarkAndLoad(t *testing.T) {
	store := newMemStore()
	dots := NewHelpDots(store, discardLogger())
	ctx := context.Background()

	ids, err := dots.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, dots.Mark(ctx, "s1", true))
	require.NoError(t, dots.Mark(ctx, "s2", true))
	assert.JSONEq(t, `{"s1": true, "s2": true}`, store.value(activity.HelpDotsKey))

	require.NoError(t, dots.Mark(ctx, "s1", false))
	ids, err = dots.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, ids)
}

func TestHelpDots_KeepsOtherWriters(t *testing.T) {
	store := newMemStore()
	dots := NewHelpDots(store, discardLogger())
	ctx := context.Background()

	// another dashboard wrote s7 since we last looked
	store.data[activity.HelpDotsKey] = `{"s7": true}`

	require.NoError(t, dots.Mark(ctx, "s1", true))
	assert.JSONEq(t, `{"s1": true, "s7": true}`, store.value(activity.HelpDotsKey))
}

func TestHelpDots_CorruptMapIsReplaced(t *testing.T) {
	store := newMemStore()
	store.data[activity.HelpDotsKey] = `not json`
	var logs bytes.Buffer
	dots := NewHelpDots(store, slog.New(slog.NewTextHandler(&logs, nil)))

	ids, err := dots.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "failed to parse stored help dots")

	require.NoError(t, dots.Mark(context.Background(), "s1", true))
	assert.JSONEq(t, `{"s1": true}`, store.value(activity.HelpDotsKey))
}

func TestHelpDots_ValidMapLogsNothing(t *testing.T) {
	store := newMemStore()
	store.data[activity.HelpDotsKey] = `{"s1": true}`
	var logs bytes.Buffer
	dots := NewHelpDots(store, slog.New(slog.NewTextHandler(&logs, nil)))

	ids, err := dots.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
	assert.Empty(t, logs.String())
}

func TestHelpDots_StoreError(t *testing.T) {
	store := newMemStore()
	store.setErr = errBoom
	dots := NewHelpDots(store, discardLogger())

	err := dots.Mark(context.Background(), "s1", true)

	assert.ErrorIs(t, err, shared.ErrHelpDotStore)
	assert.ErrorIs(t, err, errBoom)
	assert.True(t, shared.IsExternalService(err))
}
