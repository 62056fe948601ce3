// Package activity contains the student activity engine: event
// normalization, the bounded event window, the status classifier, the
// raised-hand lifecycle and the task progress counter.
// This is a pure domain layer; every time-dependent operation takes an
// explicit now so results are reproducible.
package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// Kind is the normalized interaction category of an event.
type Kind string

const (
	KindGeneric            Kind = "generic-interaction"
	KindHelpRequest        Kind = "help-request"
	KindMenuButtonPress    Kind = "menu-button-press"
	KindMessageButtonPress Kind = "message-button-press"
	KindPortAdded          Kind = "port-added" // milestone
	KindMovement           Kind = "movement"
	KindBlockGrab          Kind = "block-grab"
	KindBlockRelease       Kind = "block-release"
)

// sourceKinds maps the log types emitted by the headsets to kinds.
var sourceKinds = map[string]Kind{
	"HelpRequest":   KindHelpRequest,
	"MenuButton":    KindMenuButtonPress,
	"MessageButton": KindMessageButtonPress,
	"PortAdded":     KindPortAdded,
	"Movement":      KindMovement,
	"BlockGrab":     KindBlockGrab,
	"BlockRelease":  KindBlockRelease,
}

var knownKinds = map[Kind]struct{}{
	KindGeneric:            {},
	KindHelpRequest:        {},
	KindMenuButtonPress:    {},
	KindMessageButtonPress: {},
	KindPortAdded:          {},
	KindMovement:           {},
	KindBlockGrab:          {},
	KindBlockRelease:       {},
}

// ParseKind maps a source log type (or an already-normalized kind) to a
// Kind. Anything unrecognized is a generic interaction.
func ParseKind(source string) Kind {
	source = strings.TrimSpace(source)
	if k, ok := sourceKinds[source]; ok {
		return k
	}
	if k := Kind(strings.ToLower(source)); isKnown(k) {
		return k
	}
	return KindGeneric
}

func isKnown(k Kind) bool {
	_, ok := knownKinds[k]
	return ok
}

// IsMilestone reports whether the kind advances progress by the large step.
func (k Kind) IsMilestone() bool {
	return k == KindPortAdded
}

// String returns the string representation of Kind.
func (k Kind) String() string {
	return string(k)
}

// Event is one normalized interaction. Events are immutable values.
type Event struct {
	ID           string // feed record id, empty for manual triggers
	OccurredAt   time.Time
	Kind         Kind
	Label        string
	IsHelpSignal bool
}

// NewEvent builds an event from already-typed parts, deriving the help flag.
func NewEvent(kind Kind, label string, occurredAt time.Time) Event {
	return Event{
		OccurredAt:   occurredAt.Truncate(time.Millisecond),
		Kind:         kind,
		Label:        label,
		IsHelpSignal: IsHelpSignal(kind, label),
	}
}

// IsHelpSignal reports whether an interaction of the given kind and label is
// a request for help.
func IsHelpSignal(kind Kind, label string) bool {
	if kind != KindHelpRequest && kind != KindMenuButtonPress {
		return false
	}
	return strings.Contains(strings.ToLower(label), "help")
}

// RawEvent is a record as delivered by the event feed, before normalization.
type RawEvent struct {
	ID         string
	SourceKey  string
	OccurredAt string // ISO-8601
	Kind       string
	Payload    map[string]any
}

// labelKeys are the payload fields that may carry the pressed button's label.
var labelKeys = []string{"label", "buttonName"}

// Normalize converts a raw feed record into an Event. It never fails to
// produce an event: malformed parts are coerced and reported through a
// non-nil error wrapping shared.ErrMalformedEvent, which callers log and
// otherwise ignore. receivedAt stands in for an unparseable timestamp.
func Normalize(raw RawEvent, receivedAt time.Time) (Event, error) {
	var problems []string

	occurredAt, err := parseTimestamp(raw.OccurredAt)
	if err != nil {
		problems = append(problems, fmt.Sprintf("occurred_at %q: %v", raw.OccurredAt, err))
		occurredAt = receivedAt
	}

	kind := ParseKind(raw.Kind)

	label, ok := extractLabel(raw.Payload)
	if !ok {
		problems = append(problems, "label is not a string")
		// A payload we cannot read must never raise a hand.
		ev := Event{ID: raw.ID, OccurredAt: occurredAt.Truncate(time.Millisecond), Kind: KindGeneric}
		return ev, shared.ErrMalformedEvent.Wrap(errors.New(strings.Join(problems, "; ")))
	}

	ev := NewEvent(kind, label, occurredAt)
	ev.ID = raw.ID
	if len(problems) > 0 {
		return ev, shared.ErrMalformedEvent.Wrap(errors.New(strings.Join(problems, "; ")))
	}
	return ev, nil
}

// timestampLayouts covers ISO-8601 and the textual forms Postgres emits.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New("unrecognized timestamp layout")
}

// extractLabel returns the label and whether the payload was well-formed.
// A missing label is well-formed and yields "".
func extractLabel(payload map[string]any) (string, bool) {
	for _, key := range labelKeys {
		v, present := payload[key]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return "", false
		}
		return s, true
	}
	return "", true
}
