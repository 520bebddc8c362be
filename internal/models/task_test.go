package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskUrgencyBuckets(t *testing.T) {
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	due := func(d time.Duration) *time.Time {
		at := now.Add(d)
		return &at
	}

	cases := []struct {
		name string
		due  *time.Time
		want DueUrgency
	}{
		{"no due date", nil, DueNone},
		{"past due", due(-time.Minute), DueOverdue},
		{"due within the day", due(23 * time.Hour), DueSoon},
		{"due exactly in 24h", due(24 * time.Hour), DueSoon},
		{"due later", due(25 * time.Hour), DueLater},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			task := Task{DueDate: tc.due}
			assert.Equal(t, tc.want, task.Urgency(now))
		})
	}
}

func TestTaskNormalizeDerivesUrgency(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	task := Task{DueDate: &past}
	task.Normalize()
	assert.Equal(t, DueOverdue, task.DueUrgency)

	task = Task{}
	task.Normalize()
	assert.Equal(t, DueNone, task.DueUrgency)
	assert.Equal(t, AssignmentSelf, task.Assignment.Kind)
}
