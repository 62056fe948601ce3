// Package jobs contains the classroom monitor's scheduled jobs.
package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECLASSIFY STUDENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// Reclassifier recomputes the status of every observed student.
type Reclassifier interface {
	Reclassify(now time.Time) int
	Now() time.Time
}

// ReclassifyStudentsJob re-evaluates statuses between events, so a student
// who stops interacting drifts from active to idle without a new event.
type ReclassifyStudentsJob struct {
	engine Reclassifier
	logger *slog.Logger

	changed atomic.Int64
}

// NewReclassifyStudentsJob creates the job.
func NewReclassifyStudentsJob(engine Reclassifier, logger *slog.Logger) *ReclassifyStudentsJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReclassifyStudentsJob{
		engine: engine,
		logger: logger.With("job", "reclassify_students"),
	}
}

// Name returns the job name.
func (j *ReclassifyStudentsJob) Name() string {
	return "reclassify_students"
}

// Description returns the job description.
func (j *ReclassifyStudentsJob) Description() string {
	return "Re-evaluates every observed student's activity status"
}

// Run executes the job.
func (j *ReclassifyStudentsJob) Run(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := j.engine.Reclassify(j.engine.Now())
	if n > 0 {
		j.changed.Add(int64(n))
		j.logger.Debug("statuses changed", "count", n)
	}
	return nil
}

// TotalChanged returns the number of status changes this job has published.
func (j *ReclassifyStudentsJob) TotalChanged() int64 {
	return j.changed.Load()
}
