package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormatInactive(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		v := now.Add(-d)
		return &v
	}

	tests := []struct {
		name string
		last *time.Time
		want string
	}{
		{"never", nil, "No activity"},
		{"just now", ago(0), "0s"},
		{"seconds", ago(42*time.Second + 900*time.Millisecond), "42s"},
		{"minute boundary", ago(60 * time.Second), "1m"},
		{"minutes floor", ago(3*time.Minute + 59*time.Second), "3m"},
		{"hour boundary", ago(time.Hour), "1h"},
		{"hours", ago(26 * time.Hour), "26h"},
		{"future", ago(-5 * time.Second), "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatInactive(tt.last, now))
		})
	}
}

func TestFormatUptime(t *testing.T) {
	assert.Equal(t, "45s", FormatUptime(45*time.Second))
	assert.Equal(t, "5m", FormatUptime(5*time.Minute+10*time.Second))
	assert.Equal(t, "2h 3m", FormatUptime(2*time.Hour+3*time.Minute))
	assert.Equal(t, "1d 1h 0m", FormatUptime(25*time.Hour))
}
