package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []JobStatus{
		JobStatusPending, JobStatusQueued, JobStatusRunning,
		JobStatusCompleted, JobStatusFailed, JobStatusCancelled,
	}

	legal := map[JobStatus]map[JobStatus]bool{
		JobStatusPending: {JobStatusQueued: true, JobStatusCancelled: true},
		JobStatusQueued:  {JobStatusRunning: true, JobStatusCancelled: true},
		JobStatusRunning: {JobStatusCompleted: true, JobStatusFailed: true, JobStatusCancelled: true},
		JobStatusFailed:  {JobStatusPending: true},
	}

	for _, from := range all {
		for _, to := range all {
			want := legal[from][to]
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				assert.Equal(t, want, CanTransition(from, to))

				err := ValidateTransition(from, to)
				if want {
					assert.NoError(t, err)
					return
				}
				var ite *InvalidTransitionError
				if assert.True(t, errors.As(err, &ite)) {
					assert.Equal(t, from, ite.From)
					assert.Equal(t, to, ite.To)
				}
			})
		}
	}
}

func TestTerminalStatusesHaveNoCancel(t *testing.T) {
	assert.False(t, IsCancellable(JobStatusCompleted))
	assert.False(t, IsCancellable(JobStatusFailed))
	assert.False(t, IsCancellable(JobStatusCancelled))
	assert.True(t, IsCancellable(JobStatusRunning))
}

func TestClampPriority(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{0, DefaultPriority},
		{-4, MinPriority},
		{1, 1},
		{7, 7},
		{10, 10},
		{42, MaxPriority},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClampPriority(tt.in), "priority %d", tt.in)
	}
}

func TestQueueMessageLess(t *testing.T) {
	a := QueueMessage{JobID: "a", Priority: 5}
	b := QueueMessage{JobID: "b", Priority: 8}
	assert.True(t, b.Less(a))
	assert.False(t, a.Less(b))

	c := QueueMessage{JobID: "c", Priority: 5, EnqueuedAt: a.EnqueuedAt.Add(1)}
	assert.True(t, a.Less(c))
}
