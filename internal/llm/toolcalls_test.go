package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestToolCallAccumulatorByIndex(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(intPtr(1), "b", "second", `{"x":`)
	acc.add(intPtr(0), "a", "first", "")
	acc.add(intPtr(1), "", "", `1}`)

	chunks := acc.chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, "b", chunks[0].ToolCallID)
	assert.Equal(t, `{"x":1}`, chunks[0].Args)
	assert.Equal(t, "first", chunks[1].ToolName)
	assert.Equal(t, "{}", chunks[1].Args)
}

func TestToolCallAccumulatorWithoutIndex(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(nil, "a", "search", `{"q":`)
	acc.add(nil, "", "", `"go"}`)
	acc.add(nil, "b", "save", `{}`)

	chunks := acc.chunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, `{"q":"go"}`, chunks[0].Args)
	assert.Equal(t, "b", chunks[1].ToolCallID)
}

func TestToolCallAccumulatorStampsFirstDelta(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	acc := newToolCallAccumulator()
	acc.now = func() time.Time { return now }

	acc.add(intPtr(0), "a", "search", `{"q":`)
	now = now.Add(time.Second)
	acc.add(intPtr(0), "", "", `"go"}`)
	acc.add(intPtr(1), "b", "save", `{}`)

	chunks := acc.chunks()
	require.Len(t, chunks, 2)
	assert.True(t, chunks[0].StartedAt.Equal(t0))
	assert.True(t, chunks[1].StartedAt.Equal(t0.Add(time.Second)))
}
