package router

import (
	"testing"
	"time"

	"github.com/jedarden/forge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecommendedTier_ReasoningAlwaysEscalatesToPremium(t *testing.T) {
	task := TaskMetadata{Priority: types.PriorityP4, RequiresReasoning: true}
	assert.Equal(t, types.TierPremium, task.RecommendedTier())
}

func TestRecommendedTier_ArchitectureLabelEscalatesToPremium(t *testing.T) {
	task := TaskMetadata{Priority: types.PriorityP4, Labels: []string{"Architecture"}}
	assert.Equal(t, types.TierPremium, task.RecommendedTier())
}

func TestRecommendedTier_ComplexLabelEscalatesBudgetToStandard(t *testing.T) {
	task := TaskMetadata{Priority: types.PriorityP4, Labels: []string{"complex"}}
	assert.Equal(t, types.TierStandard, task.RecommendedTier())
}

func TestRoute_PicksHighestScoringModelInTier(t *testing.T) {
	r := New(DefaultConfig())
	task := TaskMetadata{BeadID: "fg-1", Priority: types.PriorityP0}

	d, err := r.Route(task)
	require.NoError(t, err)
	assert.Equal(t, types.TierPremium, d.Tier)
	assert.NotEmpty(t, d.ModelID)
	assert.Len(t, d.FallbackChain, len(DefaultConfig().StandardModels)+len(DefaultConfig().BudgetModels))
}

func TestRoute_UrgentSubscriptionQuotaWinsReason(t *testing.T) {
	r := New(DefaultConfig())
	reset := time.Now().Add(2 * time.Hour)
	r.UpdateQuota("claude-opus-4", Quota{TotalTokens: 1000, UsedTokens: 10, ResetAt: &reset})

	d, err := r.Route(TaskMetadata{BeadID: "fg-2", Priority: types.PriorityP0})
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4", d.ModelID)
	assert.Equal(t, ReasonSubscriptionPreference, d.Reason)
}

func TestRoute_UnavailableModelStillSelectedButFlagged(t *testing.T) {
	r := New(DefaultConfig())
	r.UpdateAvailability(Availability{ModelID: "claude-opus-4", IsAvailable: false})
	r.UpdateAvailability(Availability{ModelID: "o1", IsAvailable: false})
	r.UpdateAvailability(Availability{ModelID: "glm-5", IsAvailable: false})

	d, err := r.Route(TaskMetadata{BeadID: "fg-3", Priority: types.PriorityP0})
	require.NoError(t, err)
	assert.False(t, d.IsAvailable)
}

func TestFallback_PicksFirstAvailableInChain(t *testing.T) {
	r := New(DefaultConfig())
	r.UpdateAvailability(Availability{ModelID: "claude-opus-4", IsAvailable: false})
	r.UpdateAvailability(Availability{ModelID: "o1", IsAvailable: false})
	r.UpdateAvailability(Availability{ModelID: "glm-5", IsAvailable: false})
	r.UpdateAvailability(Availability{ModelID: "claude-sonnet-4", IsAvailable: true})

	d, err := r.Route(TaskMetadata{BeadID: "fg-4", Priority: types.PriorityP0})
	require.NoError(t, err)

	fb, err := r.Fallback(d)
	require.NoError(t, err)
	assert.Equal(t, "claude-sonnet-4", fb.ModelID)
	assert.Equal(t, ReasonFallback, fb.Reason)
}

func TestFallback_NoneAvailableIsAnError(t *testing.T) {
	r := New(DefaultConfig())
	rest := append(append([]ModelConfig{}, DefaultConfig().StandardModels...), DefaultConfig().BudgetModels...)
	for _, m := range rest {
		r.UpdateAvailability(Availability{ModelID: m.ID, IsAvailable: false})
	}
	r.UpdateAvailability(Availability{ModelID: "claude-opus-4", IsAvailable: false})
	r.UpdateAvailability(Availability{ModelID: "o1", IsAvailable: false})
	r.UpdateAvailability(Availability{ModelID: "glm-5", IsAvailable: false})

	d, err := r.Route(TaskMetadata{BeadID: "fg-5", Priority: types.PriorityP0})
	require.NoError(t, err)

	_, err = r.Fallback(d)
	assert.Error(t, err)
}

func TestBudgetTier_HasNoFallbackChain(t *testing.T) {
	r := New(DefaultConfig())
	d, err := r.Route(TaskMetadata{BeadID: "fg-6", Priority: types.PriorityP4})
	require.NoError(t, err)
	assert.Equal(t, types.TierBudget, d.Tier)
	assert.Empty(t, d.FallbackChain)
}

func TestHistory_IsBoundedAndStatsAggregate(t *testing.T) {
	r := New(DefaultConfig())
	for i := 0; i < 5; i++ {
		_, err := r.Route(TaskMetadata{BeadID: "fg", Priority: types.PriorityP4})
		require.NoError(t, err)
	}
	stats := r.Stats()
	assert.Equal(t, 5, stats.TotalDecisions)

	r.ClearHistory()
	assert.Empty(t, r.History())
}
