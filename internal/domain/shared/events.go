package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types published by the activity engine. Dashboards receive
// them over the live event stream.
const (
	// Status events
	EventStatusChanged EventType = "status.changed"

	// Help events
	EventHelpRaised       EventType = "help.raised"
	EventHelpAcknowledged EventType = "help.acknowledged"
	EventHelpDotPersisted EventType = "help.dot_persisted"
	EventHelpDotDismissed EventType = "help.dot_dismissed"

	// Progress events
	EventProgressUpdated   EventType = "progress.updated"
	EventProgressCompleted EventType = "progress.completed"

	// User-facing notices
	EventToast        EventType = "toast"
	EventAnnouncement EventType = "announcement"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event stamped with the given time.
func NewBaseEvent(eventType EventType, aggregateID string, at time.Time) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   at,
		AggregateId: aggregateID,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Status Events
// ═══════════════════════════════════════════════════════════════════════════

// StatusChangedEvent is emitted when a student's behavioral status changes.
// The aggregate is the student key (source address).
type StatusChangedEvent struct {
	BaseEvent
	StudentID string `json:"student_id"`
	Previous  string `json:"previous"`
	Current   string `json:"current"`
}

// Payload implements Event interface.
func (e StatusChangedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_key": e.AggregateId,
		"student_id":  e.StudentID,
		"previous":    e.Previous,
		"current":     e.Current,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Help Events
// ═══════════════════════════════════════════════════════════════════════════

// HelpEvent covers every raised-hand lifecycle transition. The aggregate is
// the student ID.
type HelpEvent struct {
	BaseEvent
	StudentName string `json:"student_name,omitempty"`
	Address     string `json:"address,omitempty"`
}

// Payload implements Event interface.
func (e HelpEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"student_id": e.AggregateId,
	}
	if e.StudentName != "" {
		p["student_name"] = e.StudentName
	}
	if e.Address != "" {
		p["address"] = e.Address
	}
	return p
}

// ═══════════════════════════════════════════════════════════════════════════
// Progress Events
// ═══════════════════════════════════════════════════════════════════════════

// ProgressEvent is emitted when a student's task progress moves or completes.
type ProgressEvent struct {
	BaseEvent
	Progress  int  `json:"progress"`
	Completed bool `json:"completed"`
}

// Payload implements Event interface.
func (e ProgressEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"student_key": e.AggregateId,
		"progress":    e.Progress,
		"completed":   e.Completed,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Notices
// ═══════════════════════════════════════════════════════════════════════════

// ToastLevel is the severity of a user-visible toast.
type ToastLevel string

const (
	ToastInfo    ToastLevel = "info"
	ToastWarning ToastLevel = "warning"
	ToastError   ToastLevel = "error"
)

// NoticeEvent carries a human-readable sentence for the dashboard: either a
// toast or a screen-reader announcement.
type NoticeEvent struct {
	BaseEvent
	Level   ToastLevel `json:"level,omitempty"`
	Title   string     `json:"title,omitempty"`
	Message string     `json:"message"`
}

// Payload implements Event interface.
func (e NoticeEvent) Payload() map[string]interface{} {
	p := map[string]interface{}{
		"message": e.Message,
	}
	if e.Level != "" {
		p["level"] = e.Level
	}
	if e.Title != "" {
		p["title"] = e.Title
	}
	return p
}

// ═══════════════════════════════════════════════════════════════════════════
// Event Bus Contracts
// ═══════════════════════════════════════════════════════════════════════════

// EventHandler is a function that handles an event.
type EventHandler func(event Event) error

// EventPublisher defines the interface for publishing events.
type EventPublisher interface {
	// Publish sends an event to subscribers.
	Publish(event Event) error
}

// EventSubscriber defines the interface for subscribing to events.
type EventSubscriber interface {
	// Subscribe registers a handler for a specific event type.
	Subscribe(eventType EventType, handler EventHandler) error

	// SubscribeAll registers a handler for all events.
	SubscribeAll(handler EventHandler) error
}

// EventBus combines publishing and subscribing.
type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
}
