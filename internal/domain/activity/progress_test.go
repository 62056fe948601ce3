package activity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress_Steps(t *testing.T) {
	var p Progress

	p, moved, done := p.OnEvent(KindMovement, base)
	assert.True(t, moved)
	assert.False(t, done)
	assert.Equal(t, 5, p.Value)

	p, _, _ = p.OnEvent(KindPortAdded, base)
	assert.Equal(t, 25, p.Value)
}

func TestProgress_ClampAndReset(t *testing.T) {
	p := Progress{Value: 85}

	p, moved, reached := p.OnEvent(KindPortAdded, base)
	require.True(t, reached)
	assert.True(t, moved)
	assert.Equal(t, ProgressMax, p.Value)
	assert.True(t, p.Holding())

	deadline, ok := p.HoldDeadline()
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Second), deadline)

	held, moved, reached := p.OnEvent(KindPortAdded, base.Add(time.Second))
	assert.False(t, moved)
	assert.False(t, reached)
	assert.Equal(t, p, held)

	p, completed := p.OnHoldElapsed()
	assert.True(t, completed)
	assert.Equal(t, 0, p.Value)
	assert.False(t, p.Holding())

	_, completed = p.OnHoldElapsed()
	assert.False(t, completed)
}

func TestProgress_MilestonesNeverExceedMax(t *testing.T) {
	var p Progress
	completions := 0

	for i := 0; i < 12; i++ {
		var reached bool
		p, _, reached = p.OnEvent(KindPortAdded, base)
		assert.LessOrEqual(t, p.Value, ProgressMax)
		if reached {
			var done bool
			p, done = p.OnHoldElapsed()
			if done {
				completions++
			}
		}
	}

	// 12 milestones = two full tasks of five plus 40 toward the next
	assert.Equal(t, 2, completions)
	assert.Equal(t, 40, p.Value)
}
