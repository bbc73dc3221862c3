package service

import (
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedchat-backend/internal/model"
)

func TestPromptBuilder(t *testing.T) {
	b := PromptBuilder{SystemPrompt: "Be brief.", MaxHistory: 3}
	now := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)

	history := []*model.Message{
		userMsg("u0", "dropped by the window"),
		userMsg("u1", "first"),
		{ID: "a1", Role: model.RoleAssistant, Parts: []model.Part{
			{Type: model.PartReasoning, Text: "hidden"},
			{Type: model.PartText, Text: "answer"},
		}},
		{ID: "u2", Role: model.RoleUser, Parts: []model.Part{
			{Type: model.PartText, Text: "see these"},
			{Type: model.PartFile, File: &model.FilePart{URL: "https://x/cat.png", MediaType: "image/png"}},
			{Type: model.PartFile, File: &model.FilePart{URL: "https://x/doc.pdf", MediaType: "application/pdf", Name: "doc.pdf"}},
		}},
	}
	memories := []*model.Memory{{Memory: "Prefers metric units"}}

	out := b.Build(history, memories, now)
	require.Len(t, out, 4)

	sys := out[0]
	assert.Equal(t, schema.System, sys.Role)
	assert.Contains(t, sys.Content, "Be brief.")
	assert.Contains(t, sys.Content, "Tuesday, March 4, 2025")
	assert.Contains(t, sys.Content, "- Prefers metric units")

	assert.Equal(t, "first", out[1].Content)
	assert.Equal(t, schema.Assistant, out[2].Role)
	assert.Equal(t, "answer", out[2].Content)

	last := out[3]
	require.Len(t, last.MultiContent, 2)
	assert.Equal(t, schema.ChatMessagePartTypeText, last.MultiContent[0].Type)
	assert.Contains(t, last.MultiContent[0].Text, "[Attached file doc.pdf (application/pdf): https://x/doc.pdf]")
	assert.Equal(t, "https://x/cat.png", last.MultiContent[1].ImageURL.URL)

	assert.True(t, hasFiles(history))
	assert.False(t, hasFiles(history[:3]))
	assert.Equal(t, "see these", lastUserText(history))
}
