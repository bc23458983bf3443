package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierPriority(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, TierHigh.Priority())
	assert.Equal(t, 2, TierMedium.Priority())
	assert.Equal(t, 3, TierLow.Priority())
	assert.Less(t, TierHigh.Priority(), TierMedium.Priority())
	assert.Less(t, TierMedium.Priority(), TierLow.Priority())

	t.Run("skip ranks below every schedulable tier", func(t *testing.T) {
		t.Parallel()
		assert.Greater(t, TierSkip.Priority(), TierLow.Priority())
	})

	t.Run("unknown tier treated like skip", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, TierSkip.Priority(), Tier("bogus").Priority())
	})
}

func TestJobStatusTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.False(t, JobStatusPaused.Terminal())
}
