package messaging

import (
	"log/slog"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/activity"
	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// NOTICE PUBLISHER
// ══════════════════════════════════════════════════════════════════════════════

// NoticePublisher implements activity.Announcer and activity.Notifier by
// publishing NoticeEvents; the dashboard renders toasts and feeds
// announcements to its live region.
type NoticePublisher struct {
	publisher shared.EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewNoticePublisher creates a publisher over bus.
func NewNoticePublisher(publisher shared.EventPublisher, logger *slog.Logger) *NoticePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoticePublisher{
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Announce implements activity.Announcer.
func (p *NoticePublisher) Announce(message string) {
	p.publish(shared.NoticeEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventAnnouncement, "", p.now()),
		Message:   message,
	})
}

// Toast implements activity.Notifier. Warnings and errors are also logged.
func (p *NoticePublisher) Toast(t activity.Toast) {
	switch t.Level {
	case shared.ToastError:
		p.logger.Error("toast", "title", t.Title, "message", t.Message)
	case shared.ToastWarning:
		p.logger.Warn("toast", "title", t.Title, "message", t.Message)
	}

	level := t.Level
	if level == "" {
		level = shared.ToastInfo
	}
	p.publish(shared.NoticeEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventToast, "", p.now()),
		Level:     level,
		Title:     t.Title,
		Message:   t.Message,
	})
}

func (p *NoticePublisher) publish(e shared.NoticeEvent) {
	if err := p.publisher.Publish(e); err != nil {
		p.logger.Warn("notice dropped", "event_type", e.EventType(), "error", err)
	}
}

var (
	_ activity.Announcer = (*NoticePublisher)(nil)
	_ activity.Notifier  = (*NoticePublisher)(nil)
)
