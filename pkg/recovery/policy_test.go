package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttemptTracker_DisabledAndNotifyOnlyNeverAttempt(t *testing.T) {
	var tracker AttemptTracker
	now := time.Now()
	assert.False(t, tracker.CanAttempt(Policy{Kind: Disabled}, now))
	assert.False(t, tracker.CanAttempt(Policy{Kind: NotifyOnly}, now))
}

func TestAttemptTracker_GatesOnMaxAttemptsWithZeroCooldown(t *testing.T) {
	var tracker AttemptTracker
	now := time.Now()
	policy := AutoRecoverPolicy(3, 0)

	for i := 0; i < 3; i++ {
		assert.True(t, tracker.CanAttempt(policy, now))
		tracker.RecordAttempt(now)
	}
	assert.Equal(t, uint8(3), tracker.Attempts)
	assert.False(t, tracker.CanAttempt(policy, now))

	tracker.Reset()
	assert.True(t, tracker.CanAttempt(policy, now))
}

func TestAttemptTracker_GatesOnCooldownEvenUnderMaxAttempts(t *testing.T) {
	var tracker AttemptTracker
	now := time.Now()
	policy := AutoRecoverPolicy(10, time.Hour)

	tracker.RecordAttempt(now)
	assert.False(t, tracker.CanAttempt(policy, now.Add(time.Minute)))
	assert.True(t, tracker.CanAttempt(policy, now.Add(2*time.Hour)))
}

func TestActionFormatForDisplay_ShowsPendingThenDone(t *testing.T) {
	now := time.Now()
	a := NewAction(TimeoutTask, "fg-1", "stuck for 45 minutes", now)
	assert.Contains(t, a.FormatForDisplay(), "PENDING")

	a = a.WithResult("task timed out")
	assert.Contains(t, a.FormatForDisplay(), "DONE")
	assert.True(t, a.Executed)
}
