package activity

import (
	"context"
	"time"
)

// UnknownLogType is stored when a headset log carries no type.
const UnknownLogType = "unknown"

// LogRecord is one headset log line as appended to the interaction log.
type LogRecord struct {
	SourceKey   string
	LogType     string
	Content     map[string]any
	TimeSeconds float64
	ReceivedAt  time.Time
	RawLog      string
}

// ToRawEvent converts a stored record into the feed's delivery shape.
func (r LogRecord) ToRawEvent(id string) RawEvent {
	return RawEvent{
		ID:         id,
		SourceKey:  r.SourceKey,
		OccurredAt: r.ReceivedAt.UTC().Format(time.RFC3339Nano),
		Kind:       r.LogType,
		Payload:    r.Content,
	}
}

// LogSink appends headset logs to the interaction log. Appending is what
// makes an event visible to EventFeed subscribers.
type LogSink interface {
	// AppendLogs stores records one by one and reports how many succeeded.
	// A failed record does not stop the rest.
	AppendLogs(ctx context.Context, records []LogRecord) (stored int, failed int, err error)
}
