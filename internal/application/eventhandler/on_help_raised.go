package eventhandler

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON HELP RAISED HANDLER
// Measures how long raised hands wait for the teacher.
// ═══════════════════════════════════════════════════════════════════════════

// HelpResponseStats summarizes answered help requests.
type HelpResponseStats struct {
	Raised   int           `json:"raised"`
	Answered int           `json:"answered"`
	Waiting  int           `json:"waiting"`
	Average  time.Duration `json:"average_wait"`
	Longest  time.Duration `json:"longest_wait"`
}

// OnHelpRaisedHandler pairs help.raised with the acknowledgement or dot
// dismissal that answers it.
type OnHelpRaisedHandler struct {
	logger *slog.Logger

	mu        sync.Mutex
	open      map[string]time.Time // student ID -> raised at
	raised    int
	answered  int
	totalWait time.Duration
	longest   time.Duration
}

// NewOnHelpRaisedHandler creates the handler.
func NewOnHelpRaisedHandler(logger *slog.Logger) *OnHelpRaisedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OnHelpRaisedHandler{
		logger: logger.With("handler", "on_help_raised"),
		open:   make(map[string]time.Time),
	}
}

// EventTypes are the events the handler subscribes to.
func (h *OnHelpRaisedHandler) EventTypes() []shared.EventType {
	return []shared.EventType{
		shared.EventHelpRaised,
		shared.EventHelpAcknowledged,
		shared.EventHelpDotDismissed,
	}
}

// Handle implements shared.EventHandler.
func (h *OnHelpRaisedHandler) Handle(event shared.Event) error {
	id := event.AggregateID()
	at := event.OccurredAt()

	h.mu.Lock()
	defer h.mu.Unlock()

	switch event.EventType() {
	case shared.EventHelpRaised:
		if _, ok := h.open[id]; ok {
			return nil
		}
		h.open[id] = at
		h.raised++

	case shared.EventHelpAcknowledged, shared.EventHelpDotDismissed:
		raisedAt, ok := h.open[id]
		if !ok {
			return nil
		}
		delete(h.open, id)

		wait := at.Sub(raisedAt)
		if wait < 0 {
			wait = 0
		}
		h.answered++
		h.totalWait += wait
		if wait > h.longest {
			h.longest = wait
		}
		h.logger.Info("help request answered",
			"student_id", id,
			"via", string(event.EventType()),
			"wait_ms", wait.Milliseconds(),
		)
	}
	return nil
}

// Stats returns the response times so far.
func (h *OnHelpRaisedHandler) Stats() HelpResponseStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := HelpResponseStats{
		Raised:   h.raised,
		Answered: h.answered,
		Waiting:  len(h.open),
		Longest:  h.longest,
	}
	if h.answered > 0 {
		s.Average = h.totalWait / time.Duration(h.answered)
	}
	return s
}
