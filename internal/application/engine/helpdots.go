package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/pkg/retry"
)

// HelpDots persists the set of students with an unacknowledged help dot as
// one JSON object {"<studentID>": true} under activity.HelpDotsKey.
type HelpDots struct {
	store   activity.KeyValueStore
	retrier *retry.Retrier
	logger  *slog.Logger

	// serializes read-modify-write cycles from this process
	mu sync.Mutex
}

// NewHelpDots wraps a key-value store.
func NewHelpDots(store activity.KeyValueStore, logger *slog.Logger) *HelpDots {
	if logger == nil {
		logger = slog.Default()
	}
	return &HelpDots{
		store:   store,
		retrier: retry.StoreRetrier(),
		logger:  logger.With("component", "help_dots"),
	}
}

// Load returns the IDs of students with a persisted dot, sorted.
func (d *HelpDots) Load(ctx context.Context) ([]string, error) {
	dots, err := d.read(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(dots))
	for id, on := range dots {
		if on {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Mark sets or clears the dot of one student. The whole map is re-read and
// rewritten, so concurrent writers touching other keys are last-writer-wins
// at the map level.
func (d *HelpDots) Mark(ctx context.Context, studentID string, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	dots, err := d.read(ctx)
	if err != nil {
		return err
	}

	if on {
		dots[studentID] = true
	} else {
		delete(dots, studentID)
	}

	data, err := json.Marshal(dots)
	if err != nil {
		return shared.ErrHelpDotStore.Wrap(fmt.Errorf("encode: %w", err))
	}

	err = d.retrier.Do(ctx, func(ctx context.Context) error {
		if err := d.store.Set(ctx, activity.HelpDotsKey, string(data)); err != nil {
			return retry.Retryable(err)
		}
		return nil
	})
	if err != nil {
		return shared.ErrHelpDotStore.Wrap(err)
	}
	return nil
}

func (d *HelpDots) read(ctx context.Context) (map[string]bool, error) {
	raw, ok, err := d.store.Get(ctx, activity.HelpDotsKey)
	if err != nil {
		return nil, shared.ErrHelpDotStore.Wrap(err)
	}

	dots := make(map[string]bool)
	if !ok || raw == "" {
		return dots, nil
	}
	if err := json.Unmarshal([]byte(raw), &dots); err != nil {
		// A corrupt map is replaced on the next write rather than blocking
		// every future dot.
		d.logger.Warn("failed to parse stored help dots, replacing",
			"key", activity.HelpDotsKey,
			"bytes", len(raw),
			"error", err,
		)
		return make(map[string]bool), nil
	}
	return dots, nil
}
