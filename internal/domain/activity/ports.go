package activity

import (
	"context"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════
// External collaborators. Implementations live in infrastructure.
// ══════════════════════════════════════════════════════════════════════════

// EventFeed is the append-only interaction log, filtered per source key.
type EventFeed interface {
	// Subscribe delivers every new event for sourceKey to onEvent until the
	// subscription is cancelled. onEvent must not block.
	Subscribe(ctx context.Context, sourceKey string, onEvent func(RawEvent)) (Subscription, error)

	// QueryRecent returns at most limit events for sourceKey, newest first.
	QueryRecent(ctx context.Context, sourceKey string, limit int) ([]RawEvent, error)
}

// Subscription is a live feed registration.
type Subscription interface {
	// Unsubscribe stops delivery. Calling it more than once is safe.
	Unsubscribe() error
}

// KeyValueStore is the durable store holding the help dot map.
type KeyValueStore interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// HelpDotsKey is the store key of the JSON map {"<studentID>": true}.
const HelpDotsKey = "helpDots"

// Announcer speaks a sentence to assistive technology.
type Announcer interface {
	Announce(message string)
}

// Toast is a short user-visible notice.
type Toast struct {
	Level   shared.ToastLevel
	Title   string
	Message string
}

// Notifier shows toasts to the teacher.
type Notifier interface {
	Toast(t Toast)
}

// NopAnnouncer discards announcements; used in headless runs.
type NopAnnouncer struct{}

// Announce implements Announcer.
func (NopAnnouncer) Announce(string) {}

// NopNotifier discards toasts.
type NopNotifier struct{}

// Toast implements Notifier.
func (NopNotifier) Toast(Toast) {}
