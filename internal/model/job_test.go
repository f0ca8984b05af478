package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		from, to JobState
		want     bool
	}{
		{"queued to assembling", JobStateQueued, JobStateAssembling, true},
		{"pass a to pass b", JobStatePassA, JobStatePassB, true},
		{"skip pass b", JobStatePassA, JobStateValidating, false},
		{"backwards", JobStatePassB, JobStatePassA, false},
		{"xref to complete without write-back", JobStateCrossReferencing, JobStateComplete, true},
		{"xref to write-back", JobStateCrossReferencing, JobStateWritingBack, true},
		{"write-back to complete", JobStateWritingBack, JobStateComplete, true},
		{"resolving to complete", JobStateResolving, JobStateComplete, false},
		{"any to error", JobStatePassB, JobStateError, true},
		{"queued to validation failed", JobStateQueued, JobStateValidationFailed, true},
		{"complete is terminal", JobStateComplete, JobStateError, false},
		{"error is terminal", JobStateError, JobStateAssembling, false},
		{"unknown state", JobState("BOGUS"), JobStateAssembling, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestJobState_Terminal(t *testing.T) {
	t.Parallel()

	for _, s := range linearStates[:len(linearStates)-1] {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, JobStateComplete.Terminal())
	assert.True(t, JobStateValidationFailed.Terminal())
	assert.True(t, JobStateError.Terminal())
	assert.False(t, JobStateComplete.Failed())
	assert.True(t, JobStateError.Failed())
}

func TestTriggerKind_Privileged(t *testing.T) {
	t.Parallel()

	assert.True(t, TriggerManualOverride.Privileged())
	assert.False(t, TriggerManual.Privileged())
	assert.False(t, TriggerScheduled.Privileged())
	assert.False(t, TriggerContentRefresh.Privileged())
	assert.False(t, TriggerKind("admin").Valid())
}

func TestParseKnowledgeSource(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want KnowledgeSource
	}{
		{"grounded_in_sources", KnowledgeGrounded},
		{"grounded-in-sources", KnowledgeGrounded},
		{"background_only", KnowledgeBackgroundOnly},
		{"grounded-in-background-only", KnowledgeBackgroundOnly},
		{"both", KnowledgeBoth},
		{"neither", KnowledgeNeither},
		{"vibes", KnowledgeNeither},
		{"", KnowledgeNeither},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseKnowledgeSource(tt.in), tt.in)
	}
}

func TestTokenUsageAdd(t *testing.T) {
	t.Parallel()

	a := TokenUsage{InputTokens: 100, OutputTokens: 50, CacheCreationTokens: 10, CacheReadTokens: 20, Cost: 0.01}
	a.Add(TokenUsage{InputTokens: 200, OutputTokens: 100, CacheReadTokens: 5, Cost: 0.02})

	assert.Equal(t, 300, a.InputTokens)
	assert.Equal(t, 150, a.OutputTokens)
	assert.Equal(t, 10, a.CacheCreationTokens)
	assert.Equal(t, 25, a.CacheReadTokens)
	assert.InDelta(t, 0.03, a.Cost, 1e-9)
	assert.Equal(t, 450, a.Total())
}

func TestConvergenceSignal_Present(t *testing.T) {
	t.Parallel()

	var nilSig *ConvergenceSignal
	assert.False(t, nilSig.Present())
	assert.False(t, (&ConvergenceSignal{EntityID: "v1", MentionCount: 3}).Present())

	score := 0.4
	assert.True(t, (&ConvergenceSignal{TouristScore: &score}).Present())
	assert.True(t, (&ConvergenceSignal{Tags: []string{"scenic"}}).Present())
}
