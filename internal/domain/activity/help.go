package activity

import (
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
)

// HelpRaiseDuration is how long a raised hand stays up before it degrades
// into a help dot.
const HelpRaiseDuration = 5 * time.Second

// HelpPhase is the position of a student in the raised-hand lifecycle.
type HelpPhase string

const (
	HelpQuiet        HelpPhase = "quiet"
	HelpRaised       HelpPhase = "raised"
	HelpDotPersisted HelpPhase = "dot_persisted"
)

// HelpState is the raised-hand state of one student. Transitions return the
// next state and whether anything changed; the receiver is never mutated.
//
//	Quiet        --signal-->      Raised
//	Raised       --timeout-->     DotPersisted
//	Raised       --acknowledge--> Quiet, or DotPersisted if Dot is set
//	DotPersisted --dismiss-->     Quiet
//	DotPersisted --signal-->      Raised with Dot kept
//
// Dot mirrors the durable dot map and is cleared by dismiss only, so a dot
// left by an earlier request survives a new raise and its acknowledgement.
type HelpState struct {
	Phase    HelpPhase
	RaisedAt time.Time
	Dot      bool
}

// RestoreHelpState rebuilds a state from the durable dot map.
func RestoreHelpState(dotPersisted bool) HelpState {
	if dotPersisted {
		return HelpState{Phase: HelpDotPersisted, Dot: true}
	}
	return HelpState{Phase: HelpQuiet}
}

// WithDot returns h showing a dot without touching a raised hand.
func (h HelpState) WithDot() HelpState {
	if h.Phase != HelpRaised {
		h.Phase = HelpDotPersisted
		h.RaisedAt = time.Time{}
	}
	h.Dot = true
	return h
}

// Lowered returns h with the hand down. A dot, if any, stays.
func (h HelpState) Lowered() HelpState {
	if h.Dot {
		return HelpState{Phase: HelpDotPersisted, Dot: true}
	}
	return HelpState{Phase: HelpQuiet}
}

// HelpRequested reports whether the hand is currently raised.
func (h HelpState) HelpRequested() bool {
	return h.Phase == HelpRaised
}

// DotPersisted reports whether an unacknowledged request left a dot.
func (h HelpState) DotPersisted() bool {
	return h.Dot || h.Phase == HelpDotPersisted
}

// IsQuiet reports whether there is nothing to show for this student.
func (h HelpState) IsQuiet() bool {
	return (h.Phase == "" || h.Phase == HelpQuiet) && !h.Dot
}

// Deadline returns when a raised hand degrades.
func (h HelpState) Deadline() (time.Time, bool) {
	if h.Phase != HelpRaised {
		return time.Time{}, false
	}
	return h.RaisedAt.Add(HelpRaiseDuration), true
}

// OnSignal raises the hand. A signal while already raised is debounced.
func (h HelpState) OnSignal(now time.Time) (HelpState, bool) {
	if h.Phase == HelpRaised {
		return h, false
	}
	return HelpState{Phase: HelpRaised, RaisedAt: now, Dot: h.DotPersisted()}, true
}

// OnTimeout degrades a raised hand into a dot. Outside Raised it does
// nothing, which covers a timer that lost a race with an acknowledgement.
func (h HelpState) OnTimeout() (HelpState, bool) {
	if h.Phase != HelpRaised {
		return h, false
	}
	return HelpState{Phase: HelpDotPersisted, Dot: true}, true
}

// OnAcknowledge lowers a raised hand. It never clears an existing dot.
func (h HelpState) OnAcknowledge() (HelpState, error) {
	if h.Phase != HelpRaised {
		return h, shared.ErrNoRaisedHand
	}
	return h.Lowered(), nil
}

// OnDismiss clears a persisted dot. A hand raised again over the dot stays up.
func (h HelpState) OnDismiss() (HelpState, error) {
	if !h.DotPersisted() {
		return h, shared.ErrNoHelpDot
	}
	if h.Phase == HelpRaised {
		h.Dot = false
		return h, nil
	}
	return HelpState{Phase: HelpQuiet}, nil
}
