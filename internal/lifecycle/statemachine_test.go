package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"liveclass-service/internal/models"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    models.SessionStatus
		to      models.SessionStatus
		allowed bool
	}{
		{models.SessionScheduled, models.SessionLive, true},
		{models.SessionScheduled, models.SessionCompleted, true},
		{models.SessionScheduled, models.SessionCancelled, true},
		{models.SessionLive, models.SessionCompleted, true},
		{models.SessionLive, models.SessionCancelled, true},

		// no regressions
		{models.SessionLive, models.SessionScheduled, false},
		{models.SessionCompleted, models.SessionLive, false},
		{models.SessionCompleted, models.SessionScheduled, false},
		{models.SessionCancelled, models.SessionLive, false},
		{models.SessionCancelled, models.SessionCompleted, false},
		{models.SessionCompleted, models.SessionCancelled, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.allowed, CanTransition(tt.from, tt.to),
			"%s -> %s", tt.from, tt.to)
	}
}

func TestPlan(t *testing.T) {
	tests := []struct {
		name    string
		current models.SessionStatus
		target  models.SessionStatus
		want    Outcome
	}{
		{"scheduled to live applies", models.SessionScheduled, models.SessionLive, OutcomeApply},
		{"live to completed applies", models.SessionLive, models.SessionCompleted, OutcomeApply},
		{"same state is a noop", models.SessionLive, models.SessionLive, OutcomeNoop},
		{"late start against completed is a noop", models.SessionCompleted, models.SessionLive, OutcomeNoop},
		{"late end against cancelled is a noop", models.SessionCancelled, models.SessionCompleted, OutcomeNoop},
		{"live back to scheduled rejected", models.SessionLive, models.SessionScheduled, OutcomeReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Plan(tt.current, tt.target))
		})
	}
}

func TestTargetForEvent(t *testing.T) {
	target, ok := TargetForEvent(models.EventSessionStarted)
	assert.True(t, ok)
	assert.Equal(t, models.SessionLive, target)

	target, ok = TargetForEvent(models.EventSessionEnded)
	assert.True(t, ok)
	assert.Equal(t, models.SessionCompleted, target)

	_, ok = TargetForEvent(models.EventParticipantJoined)
	assert.False(t, ok)

	_, ok = TargetForEvent("some.unknown.event")
	assert.False(t, ok)
}
