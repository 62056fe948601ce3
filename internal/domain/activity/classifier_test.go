package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func window(offsets ...time.Duration) Window {
	var w Window
	for _, o := range offsets {
		w = w.Add(at(o))
	}
	return w
}

func TestClassify(t *testing.T) {
	s := time.Second

	tests := []struct {
		name          string
		window        Window
		helpRequested bool
		want          Status
	}{
		{"no events", window(), false, StatusIdle},
		{"help dominates empty window", window(), true, StatusStruggling},
		{"help dominates activity", window(-1*s, -2*s), true, StatusStruggling},
		{"two events within ten seconds", window(-2*s, -8*s), false, StatusActive},
		{"single event 45s ago", window(-45 * s), false, StatusHesitant},
		{"newest exactly three minutes old", window(-3 * time.Minute), false, StatusIdle},
		{"exactly ten seconds old is outside", window(-10*s, -1*s), false, StatusHesitant},
		{"just inside ten seconds", window(-9999*time.Millisecond, -1*s), false, StatusActive},
		{"gap of 45s", window(-50*s, -5*s), false, StatusHesitant},
		{"gap of exactly 20s", window(-30*s, -10*s), false, StatusHesitant},
		{"two older buckets populated", window(-70*s, -100*s), false, StatusPersistent},
		{"steady work over a minute", window(-5*s, -20*s, -35*s, -50*s), false, StatusPersistent},
		{"single event in the persistent horizon", window(-100 * s), false, StatusIdle},
		{"future events count as recent", window(1*s, -1*s), false, StatusActive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.window, tt.helpRequested, base))
		})
	}
}

func TestClassify_Pure(t *testing.T) {
	w := window(-5*time.Second, -40*time.Second, -70*time.Second)

	first := Classify(w, false, base)
	second := Classify(w, false, base)

	assert.Equal(t, first, second)
	assert.Len(t, w.Events(), 3)
}

func TestClassify_IdleWithoutEvents(t *testing.T) {
	for _, now := range []time.Time{base, base.Add(time.Hour), time.Time{}} {
		assert.Equal(t, StatusIdle, Classify(Window{}, false, now))
		assert.Equal(t, StatusStruggling, Classify(Window{}, true, now))
	}
}

func TestClassify_DecaysToIdle(t *testing.T) {
	w := window(-2*time.Second, -4*time.Second)

	assert.Equal(t, StatusActive, Classify(w, false, base))
	assert.Equal(t, StatusIdle, Classify(w, false, base.Add(3*time.Minute)))
}

func TestThresholds_Custom(t *testing.T) {
	th := DefaultThresholds()
	th.ActiveMinEvents = 3

	w := window(-2*time.Second, -8*time.Second)

	assert.NotEqual(t, StatusActive, th.Classify(w, false, base))
}

func TestStatus_IsValid(t *testing.T) {
	assert.True(t, StatusPersistent.IsValid())
	assert.False(t, Status("bored").IsValid())
}
