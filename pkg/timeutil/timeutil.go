// Package timeutil provides time formatting helpers for the dashboard.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// NoActivity is the label shown for a student who never sent an event.
const NoActivity = "No activity"

// FormatInactive returns how long ago last was, at now, as a compact label:
// "42s", "3m", "2h". A nil last yields NoActivity. Partial units are floored
// and timestamps after now read as "0s".
func FormatInactive(last *time.Time, now time.Time) string {
	if last == nil {
		return NoActivity
	}

	seconds := int64(now.Sub(*last) / time.Second)
	if seconds < 0 {
		seconds = 0
	}

	switch {
	case seconds < 60:
		return fmt.Sprintf("%ds", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%dm", seconds/60)
	default:
		return fmt.Sprintf("%dh", seconds/3600)
	}
}

// FormatUptime renders a duration as "1d 2h 3m" for status endpoints.
func FormatUptime(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}
