package domain

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ScoreStatus
		want     bool
	}{
		{"", ScoreRunning, true},
		{ScoreRunning, ScoreRunning, true},
		{ScoreRunning, ScoreCompleted, true},
		{ScoreCompleted, ScoreCompleted, true},
		{ScoreCompleted, ScoreRunning, false},
		{"BOGUS", ScoreRunning, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to))
		})
	}
}

func TestEvaluationRun_Lifecycle(t *testing.T) {
	now := time.Now()
	run := NewEvaluationRun("run-1")
	assert.Equal(t, RunSetup, run.Status())

	require.NoError(t, run.Start(now))
	assert.Equal(t, RunRunning, run.Status())
	assert.ErrorIs(t, run.Start(now), ErrInvalidStatusTransition)

	require.NoError(t, run.Complete(now.Add(time.Second), true))
	assert.Equal(t, RunCompleted, run.Status())
	assert.True(t, run.Partial())
	assert.Equal(t, now.Add(time.Second), run.FinishedAt())

	assert.ErrorIs(t, run.Fail(now, errors.New("late")), ErrInvalidStatusTransition)
	assert.Equal(t, RunCompleted, run.Status(), "terminal status is sticky")
}

func TestEvaluationRun_FailFromSetup(t *testing.T) {
	run := NewEvaluationRun("run-1")
	cause := errors.New("bad config")
	require.NoError(t, run.Fail(time.Now(), cause))
	assert.Equal(t, RunFailed, run.Status())
	assert.ErrorIs(t, run.Err(), cause)
	assert.ErrorIs(t, run.Complete(time.Now(), false), ErrInvalidStatusTransition)
}

func TestEvaluationRun_ProcessedConcurrent(t *testing.T) {
	run := NewEvaluationRun("run-1")
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				run.AddProcessed(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), run.Processed())
}
