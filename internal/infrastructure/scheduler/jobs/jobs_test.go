package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrlab/classroom-monitor/internal/domain/shared"
	"github.com/vrlab/classroom-monitor/internal/domain/student"
)

type fakeEngine struct {
	at      time.Time
	changed int
	calls   []time.Time
}

func (e *fakeEngine) Now() time.Time { return e.at }
func (e *fakeEngine) Reclassify(now time.Time) int {
	e.calls = append(e.calls, now)
	return e.changed
}

func TestReclassifyStudentsJob(t *testing.T) {
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	engine := &fakeEngine{at: at, changed: 2}
	job := NewReclassifyStudentsJob(engine, nil)

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []time.Time{at, at}, engine.calls)
	assert.Equal(t, int64(4), job.TotalChanged())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, job.Run(ctx), context.Canceled)
	assert.Len(t, engine.calls, 2)
}

type fakeRoster struct {
	students []*student.Student
	err      error
	calls    int
}

func (r *fakeRoster) List(context.Context, string) ([]*student.Student, error) {
	r.calls++
	return r.students, r.err
}

type fakeObserver struct {
	observed map[string]bool
	fail     map[string]error
}

func (o *fakeObserver) IsObserved(key string) bool { return o.observed[key] }
func (o *fakeObserver) Observe(_ context.Context, key string) error {
	if err := o.fail[key]; err != nil {
		return err
	}
	o.observed[key] = true
	return nil
}

func TestRefreshRosterJob_ObservesNewStudents(t *testing.T) {
	roster := &fakeRoster{students: []*student.Student{
		{ID: "s1", Address: "10.0.0.5"},
		{ID: "s2", Address: "10.0.0.6"},
		{ID: "s3", Address: ""},
		{ID: "s4", Address: "10.0.0.8"},
		{ID: "s5", Address: "10.0.0.9"},
	}}
	observer := &fakeObserver{
		observed: map[string]bool{"10.0.0.5": true},
		fail: map[string]error{
			"10.0.0.8": shared.ErrAlreadyObserved,
			"10.0.0.9": shared.ErrSupervisorClosed,
		},
	}
	job := NewRefreshRosterJob(roster, observer, DefaultRefreshRosterConfig(), nil)

	require.NoError(t, job.Run(context.Background()))
	assert.True(t, observer.observed["10.0.0.6"])

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 5, stats.Listed)
	assert.Equal(t, 1, stats.Observed)
	assert.Equal(t, 3, stats.Skipped)
	assert.Equal(t, 1, stats.Failed)
}

func TestRefreshRosterJob_RosterDown(t *testing.T) {
	roster := &fakeRoster{err: errors.New("connection refused")}
	job := NewRefreshRosterJob(roster, &fakeObserver{observed: map[string]bool{}}, DefaultRefreshRosterConfig(), nil)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 3, roster.calls, "retried before giving up")
	assert.Zero(t, job.LastStats().Listed)
}
