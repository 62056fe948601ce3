// Package eventhandler contains subscribers of engine events that keep
// per-session classroom tallies.
package eventhandler

import (
	"log/slog"
	"sync"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON TASK COMPLETED HANDLER
// Counts completed tasks per student for the current session.
// ═══════════════════════════════════════════════════════════════════════════

// OnTaskCompletedHandler tallies progress.completed events. Events may come
// from another monitor through the distributed bus, so only the Event
// interface is relied on.
type OnTaskCompletedHandler struct {
	logger *slog.Logger

	mu          sync.RWMutex
	completions map[string]int // by student key
}

// NewOnTaskCompletedHandler creates the handler.
func NewOnTaskCompletedHandler(logger *slog.Logger) *OnTaskCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnTaskCompletedHandler{
		logger:      logger.With("handler", "on_task_completed"),
		completions: make(map[string]int),
	}
}

// EventType is the event the handler subscribes to.
func (h *OnTaskCompletedHandler) EventType() shared.EventType {
	return shared.EventProgressCompleted
}

// Handle implements shared.EventHandler.
func (h *OnTaskCompletedHandler) Handle(event shared.Event) error {
	if event.EventType() != shared.EventProgressCompleted {
		return nil
	}

	key := event.AggregateID()
	h.mu.Lock()
	h.completions[key]++
	n := h.completions[key]
	h.mu.Unlock()

	h.logger.Info("task completed",
		"student_key", key,
		"completed_tasks", n,
		"at", event.OccurredAt(),
	)
	return nil
}

// Completions returns how many tasks the student has completed.
func (h *OnTaskCompletedHandler) Completions(studentKey string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.completions[studentKey]
}

// Total returns the number of completed tasks across the classroom.
func (h *OnTaskCompletedHandler) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	total := 0
	for _, n := range h.completions {
		total += n
	}
	return total
}
