package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThinkingBudgetMonotonic(t *testing.T) {
	const maxBudget = 16000
	low := ThinkingBudget(maxBudget, "low")
	medium := ThinkingBudget(maxBudget, "medium")
	high := ThinkingBudget(maxBudget, "high")

	assert.Equal(t, 4000, low)
	assert.Equal(t, 8000, medium)
	assert.Equal(t, 16000, high)
	assert.LessOrEqual(t, low, medium)
	assert.LessOrEqual(t, medium, high)
}

func TestThinkingBudgetUnknownEffortFallsBackToLow(t *testing.T) {
	for _, effort := range []string{"", "extreme", "HIGH", "minimal"} {
		assert.Equal(t, ThinkingBudget(24576, "low"), ThinkingBudget(24576, effort), effort)
		assert.Equal(t, EffortLow, ParseEffort(effort), effort)
	}
	assert.Equal(t, 0, ThinkingBudget(0, "high"))
}

func TestBuildOptionsNeverAttachesReasoningForNoneModels(t *testing.T) {
	for _, spec := range DefaultCatalog().List() {
		if spec.Reasoning != ReasoningNone {
			continue
		}
		for _, use := range []bool{true, false} {
			for _, effort := range []string{"low", "medium", "high", "bogus"} {
				opts := BuildOptions(spec, effort, use, false, 1024)
				assert.Nil(t, opts.Reasoning, "%s use=%v effort=%s", spec.ID, use, effort)
			}
		}
	}
}

func TestBuildOptionsHybridRequiresOptIn(t *testing.T) {
	spec, ok := DefaultCatalog().Lookup("claude-sonnet-4")
	require.True(t, ok)

	assert.Nil(t, BuildOptions(spec, "high", false, false, 1024).Reasoning)

	opts := BuildOptions(spec, "medium", true, false, 1024)
	require.NotNil(t, opts.Reasoning)
	assert.Equal(t, StyleBudget, opts.Reasoning.Style)
	assert.Equal(t, EffortMedium, opts.Reasoning.Effort)
	assert.Equal(t, 8000, opts.Reasoning.BudgetTokens)
}

func TestBuildOptionsAlwaysIgnoresOptIn(t *testing.T) {
	spec, ok := DefaultCatalog().Lookup("o4-mini")
	require.True(t, ok)

	opts := BuildOptions(spec, "high", false, false, 1024)
	require.NotNil(t, opts.Reasoning)
	assert.Equal(t, EffortHigh, opts.Reasoning.Effort)
}

func TestBuildOptionsToolChoice(t *testing.T) {
	spec, _ := DefaultCatalog().Lookup("gpt-4o-mini")
	assert.Equal(t, ToolChoiceRequired, BuildOptions(spec, "", false, true, 0).ToolChoice)
	assert.Equal(t, ToolChoiceAuto, BuildOptions(spec, "", false, false, 0).ToolChoice)
}
