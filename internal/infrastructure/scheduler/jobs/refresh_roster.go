package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/internal/domain/student"
	"github.com/vrlab/classroom-monitor/pkg/circuitbreaker"
	"github.com/vrlab/classroom-monitor/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFRESH ROSTER JOB
// ══════════════════════════════════════════════════════════════════════════════

// Roster lists registered students.
type Roster interface {
	List(ctx context.Context, classroomID string) ([]*student.Student, error)
}

// Observer starts observing a headset address.
type Observer interface {
	Observe(ctx context.Context, key string) error
	IsObserved(key string) bool
}

// RefreshRosterConfig contains configuration for the refresh roster job.
type RefreshRosterConfig struct {
	// ClassroomID limits the roster to one classroom; empty means all.
	ClassroomID string

	// Timeout bounds one run.
	Timeout time.Duration
}

// DefaultRefreshRosterConfig returns sensible defaults.
func DefaultRefreshRosterConfig() RefreshRosterConfig {
	return RefreshRosterConfig{Timeout: 30 * time.Second}
}

// RefreshRosterStats describes one run.
type RefreshRosterStats struct {
	StartedAt  time.Time `json:"started_at"`
	Listed     int       `json:"listed"`
	Observed   int       `json:"observed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	DurationMs int64     `json:"duration_ms"`
}

// RefreshRosterJob observes students registered since the last run. The
// roster read is retried, and guarded by a breaker so a database outage does
// not pile up slow runs.
type RefreshRosterJob struct {
	roster   Roster
	observer Observer
	config   RefreshRosterConfig
	retrier  *retry.Retrier
	breaker  *circuitbreaker.CircuitBreaker
	logger   *slog.Logger

	lastStats atomic.Pointer[RefreshRosterStats]
}

// NewRefreshRosterJob creates the job.
func NewRefreshRosterJob(roster Roster, observer Observer, config RefreshRosterConfig, logger *slog.Logger) *RefreshRosterJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	logger = logger.With("job", "refresh_roster")

	return &RefreshRosterJob{
		roster:   roster,
		observer: observer,
		config:   config,
		retrier:  retry.DatabaseRetrier(),
		breaker: circuitbreaker.RosterBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("roster breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}),
		logger: logger,
	}
}

// Name returns the job name.
func (j *RefreshRosterJob) Name() string {
	return "refresh_roster"
}

// Description returns the job description.
func (j *RefreshRosterJob) Description() string {
	return "Starts observing students newly added to the roster"
}

// Run executes the job.
func (j *RefreshRosterJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	stats := &RefreshRosterStats{StartedAt: time.Now()}
	defer func() {
		stats.DurationMs = time.Since(stats.StartedAt).Milliseconds()
		j.lastStats.Store(stats)
	}()

	var students []*student.Student
	err := j.breaker.Execute(ctx, func(ctx context.Context) error {
		return j.retrier.Do(ctx, func(ctx context.Context) error {
			list, err := j.roster.List(ctx, j.config.ClassroomID)
			if err != nil {
				return retry.Retryable(err)
			}
			students = list
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("list roster: %w", err)
	}
	stats.Listed = len(students)

	for _, st := range students {
		key := st.Address.String()
		if !st.Address.IsValid() || j.observer.IsObserved(key) {
			stats.Skipped++
			continue
		}
		err := j.observer.Observe(ctx, key)
		switch {
		case err == nil:
			stats.Observed++
		case errors.Is(err, shared.ErrAlreadyObserved):
			stats.Skipped++
		default:
			stats.Failed++
			j.logger.Warn("failed to observe student", "student_id", st.ID, "student_key", key, "error", err)
		}
	}

	if stats.Observed > 0 || stats.Failed > 0 {
		j.logger.Info("roster refreshed",
			"listed", stats.Listed,
			"observed", stats.Observed,
			"failed", stats.Failed,
		)
	}
	return nil
}

// LastStats returns the stats of the latest run, or nil before the first.
func (j *RefreshRosterJob) LastStats() *RefreshRosterStats {
	return j.lastStats.Load()
}
