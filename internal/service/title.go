package service

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"speedchat-backend/internal/llm"
	"speedchat-backend/internal/model"
	"speedchat-backend/internal/storage"
	"speedchat-backend/pkg/logger"
)

const titlePrompt = `Generate a short title for a conversation that starts with the user message below.
Reply with the title only: at most 6 words, no quotes, no trailing punctuation.`

const (
	maxTitleRunes       = 80
	titleMaxOutputToken = 32
)

// ModelResolver is the part of llm.Resolver the service depends on.
type ModelResolver interface {
	Resolve(ctx context.Context, req llm.ResolveRequest) (*llm.Handle, error)
}

// TitleResult is delivered exactly once per started generation. Generated
// is false when the placeholder title was kept.
type TitleResult struct {
	Title     string
	Generated bool
}

type TitleGenerator struct {
	resolver ModelResolver
	store    storage.Storage
	modelID  string
	timeout  time.Duration
	now      Clock
}

func NewTitleGenerator(resolver ModelResolver, store storage.Storage, modelID string, timeout time.Duration, now Clock) *TitleGenerator {
	if now == nil {
		now = time.Now
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &TitleGenerator{resolver: resolver, store: store, modelID: modelID, timeout: timeout, now: now}
}

// Start generates and stores a title for chat in the background. It
// survives cancellation of ctx so an aborted turn still keeps its title.
func (g *TitleGenerator) Start(ctx context.Context, chat model.Chat, firstMessage string) <-chan TitleResult {
	out := make(chan TitleResult, 1)
	go func() {
		defer close(out)
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		title, err := g.generate(ctx, firstMessage)
		if err != nil {
			logger.Warnf("Title generation for chat %s failed: %v", chat.ID, err)
			out <- TitleResult{Title: model.DefaultChatTitle}
			return
		}
		if err := g.save(ctx, chat, title); err != nil {
			logger.Errorf("Failed to store title for chat %s: %v", chat.ID, err)
			out <- TitleResult{Title: model.DefaultChatTitle}
			return
		}
		out <- TitleResult{Title: title, Generated: true}
	}()
	return out
}

func (g *TitleGenerator) generate(ctx context.Context, firstMessage string) (string, error) {
	if strings.TrimSpace(firstMessage) == "" {
		return "", ErrEmptyHistory
	}
	h, err := g.resolver.Resolve(ctx, llm.ResolveRequest{ModelID: g.modelID})
	if err != nil {
		return "", err
	}
	if h.Chat == nil {
		return "", &llm.ConfigurationError{Msg: "title model " + g.modelID + " cannot generate text"}
	}

	text, _, err := h.Chat.Generate(ctx, &llm.Request{
		Messages: []*schema.Message{
			schema.SystemMessage(titlePrompt),
			schema.UserMessage(firstMessage),
		},
		Options: llm.ProviderOptions{
			ToolChoice:      llm.ToolChoiceAuto,
			MaxOutputTokens: titleMaxOutputToken,
		},
	})
	if err != nil {
		return "", err
	}
	title := cleanTitle(text)
	if title == "" {
		return "", ErrInvalidRequest
	}
	return title, nil
}

func (g *TitleGenerator) save(ctx context.Context, chat model.Chat, title string) error {
	chat.Title = title
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = g.now()
	}
	if chat.UpdatedAt.IsZero() {
		chat.UpdatedAt = chat.CreatedAt
	}
	return g.store.Transaction(ctx, func(tx storage.Tx) error {
		return tx.UpsertChat(&chat, storage.ColumnTitle)
	})
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	s = strings.Trim(s, "\"'` *#")
	s = strings.TrimRight(s, ".!。")
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) > maxTitleRunes {
		s = strings.TrimSpace(string(r[:maxTitleRunes]))
	}
	return s
}
