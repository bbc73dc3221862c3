package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"speedchat-backend/internal/model"
)

type PromptBuilder struct {
	SystemPrompt string
	MaxHistory   int
}

// Build renders the system prompt and the trailing MaxHistory messages of
// history into model input.
func (b PromptBuilder) Build(history []*model.Message, memories []*model.Memory, now time.Time) []*schema.Message {
	if b.MaxHistory > 0 && len(history) > b.MaxHistory {
		history = history[len(history)-b.MaxHistory:]
	}

	out := make([]*schema.Message, 0, len(history)+1)
	out = append(out, schema.SystemMessage(b.systemPrompt(memories, now)))
	for _, m := range history {
		if sm := toSchemaMessage(m); sm != nil {
			out = append(out, sm)
		}
	}
	return out
}

func (b PromptBuilder) systemPrompt(memories []*model.Memory, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(b.SystemPrompt)
	fmt.Fprintf(&sb, "\n\nThe current date is %s.", now.Format("Monday, January 2, 2006"))
	if len(memories) > 0 {
		sb.WriteString("\n\nThings you remember about the user:")
		for _, mem := range memories {
			sb.WriteString("\n- ")
			sb.WriteString(mem.Memory)
		}
	}
	return sb.String()
}

func toSchemaMessage(m *model.Message) *schema.Message {
	switch m.Role {
	case model.RoleUser:
		return userMessage(m)
	case model.RoleAssistant:
		text := strings.TrimSpace(m.Text())
		if text == "" {
			return nil
		}
		return schema.AssistantMessage(text, nil)
	}
	return nil
}

func userMessage(m *model.Message) *schema.Message {
	var (
		text   strings.Builder
		images []schema.ChatMessagePart
	)
	for _, p := range m.Parts {
		switch p.Type {
		case model.PartText:
			text.WriteString(p.Text)
		case model.PartFile:
			if p.File == nil {
				continue
			}
			if isImage(p.File.MediaType) {
				images = append(images, schema.ChatMessagePart{
					Type:     schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{URL: p.File.URL},
				})
				continue
			}
			name := p.File.Name
			if name == "" {
				name = p.File.URL
			}
			fmt.Fprintf(&text, "\n[Attached file %s (%s): %s]", name, p.File.MediaType, p.File.URL)
		}
	}

	if len(images) == 0 {
		return schema.UserMessage(text.String())
	}
	parts := make([]schema.ChatMessagePart, 0, len(images)+1)
	if text.Len() > 0 {
		parts = append(parts, schema.ChatMessagePart{Type: schema.ChatMessagePartTypeText, Text: text.String()})
	}
	parts = append(parts, images...)
	return &schema.Message{Role: schema.User, MultiContent: parts}
}

func isImage(mediaType string) bool {
	return strings.HasPrefix(mediaType, "image/")
}

func hasFiles(history []*model.Message) bool {
	for _, m := range history {
		if m.Role != model.RoleUser {
			continue
		}
		for _, p := range m.Parts {
			if p.Type == model.PartFile && p.File != nil {
				return true
			}
		}
	}
	return false
}

// lastUserText is the prompt for image models and the input for titles.
func lastUserText(history []*model.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == model.RoleUser {
			return strings.TrimSpace(history[i].Text())
		}
	}
	return ""
}
