package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/require"

	"speedchat-backend/internal/llm"
	"speedchat-backend/internal/model"
	"speedchat-backend/internal/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptedChat replays one chunk list per Stream call.
type scriptedChat struct {
	mu        sync.Mutex
	steps     [][]*model.Chunk
	streamErr error
	// hold keeps the stream open after the scripted chunks until ctx ends.
	hold bool

	text   string
	genErr error
	// onGenerate runs before Generate returns.
	onGenerate func()

	requests []*llm.Request
	streams  int
}

func (s *scriptedChat) Stream(ctx context.Context, req *llm.Request) (*schema.StreamReader[*model.Chunk], error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.streams++
	if s.streamErr != nil {
		s.mu.Unlock()
		return nil, s.streamErr
	}
	var chunks []*model.Chunk
	if len(s.steps) > 0 {
		chunks, s.steps = s.steps[0], s.steps[1:]
	}
	hold := s.hold
	s.mu.Unlock()

	if !hold {
		return schema.StreamReaderFromArray(chunks), nil
	}
	sr, sw := schema.Pipe[*model.Chunk](len(chunks))
	go func() {
		defer sw.Close()
		for _, c := range chunks {
			sw.Send(c, nil)
		}
		<-ctx.Done()
	}()
	return sr, nil
}

func (s *scriptedChat) Generate(ctx context.Context, req *llm.Request) (string, *model.TokenUsage, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	hook := s.onGenerate
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text, &model.TokenUsage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8}, s.genErr
}

func (s *scriptedChat) Requests() []*llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*llm.Request(nil), s.requests...)
}

type fakeImage struct {
	prompt string
}

func (f *fakeImage) GenerateImage(ctx context.Context, prompt string) (*model.FilePart, *model.TokenUsage, error) {
	f.prompt = prompt
	return &model.FilePart{URL: "data:image/png;base64,AAAA", MediaType: "image/png"},
		&model.TokenUsage{PromptTokens: 10, TotalTokens: 10}, nil
}

type fakeProvider struct {
	chats map[string]llm.ChatModel
	image llm.ImageModel
}

func (p *fakeProvider) ChatModel(spec llm.ModelSpec) (llm.ChatModel, error) {
	c, ok := p.chats[spec.ID]
	if !ok {
		return nil, errors.New("no chat model for " + spec.ID)
	}
	return c, nil
}

func (p *fakeProvider) ImageModel(spec llm.ModelSpec) (llm.ImageModel, error) {
	if p.image == nil {
		return nil, errors.New("no image model")
	}
	return p.image, nil
}

const (
	testUser      = "user-1"
	testChatModel = "chat-model"
	testTitle     = "title-model"
	testPainter   = "painter"
	testPlain     = "plain-model"
)

func testResolver(t *testing.T, p *fakeProvider) *llm.Resolver {
	t.Helper()
	catalog := llm.NewCatalog(
		llm.ModelSpec{ID: testChatModel, Name: "Chat", Provider: "fake", Reasoning: llm.ReasoningHybrid,
			ReasoningStyle: llm.StyleBudget, MaxReasoningBudget: 1000, SupportsWebSearch: true, SupportsFiles: true},
		llm.ModelSpec{ID: testPlain, Name: "Plain", Provider: "fake", Reasoning: llm.ReasoningNone},
		llm.ModelSpec{ID: testTitle, Name: "Title", Provider: "fake", Reasoning: llm.ReasoningNone},
		llm.ModelSpec{ID: testPainter, Name: "Painter", Provider: "fake", ImageGeneration: true},
	)
	reg := llm.NewRegistry()
	reg.Register("fake", func(string, llm.Credentials) (llm.Provider, error) { return p, nil })

	r, err := llm.NewResolver(catalog, reg, map[string]llm.Credentials{"fake": {APIKey: "k"}}, 256,
		llm.WithRetryPolicy(llm.RetryPolicy{MaxAttempts: 3}))
	require.NoError(t, err)
	return r
}

type recordedEvent struct {
	name    string
	payload interface{}
}

type recordingTransport struct {
	mu      sync.Mutex
	chunks  []*model.Chunk
	events  []recordedEvent
	onChunk func(c *model.Chunk)
}

func (r *recordingTransport) SendChunk(c *model.Chunk) error {
	r.mu.Lock()
	r.chunks = append(r.chunks, c)
	hook := r.onChunk
	r.mu.Unlock()
	if hook != nil {
		hook(c)
	}
	return nil
}

func (r *recordingTransport) SendEvent(event string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event, payload: payload})
	return nil
}

func (r *recordingTransport) chunkTypes() []model.ChunkType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.ChunkType, 0, len(r.chunks))
	for _, c := range r.chunks {
		out = append(out, c.Type)
	}
	return out
}

func (r *recordingTransport) event(name string) (interface{}, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.name == name {
			return e.payload, true
		}
	}
	return nil, false
}

type fakeTool struct {
	name  string
	out   string
	calls []string
}

func (f *fakeTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: f.name, Desc: "test tool"}, nil
}

func (f *fakeTool) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (string, error) {
	f.calls = append(f.calls, args)
	return f.out, nil
}

type staticTools []tool.InvokableTool

func (s staticTools) Tools(ctx context.Context, userID string, searchWeb bool) ([]tool.InvokableTool, error) {
	return s, nil
}

func userMsg(id, text string) *model.Message {
	return &model.Message{ID: id, Role: model.RoleUser, Parts: []model.Part{{Type: model.PartText, Text: text}}}
}

func seedChat(t *testing.T, store storage.Storage, chat *model.Chat, msgs ...*model.Message) {
	t.Helper()
	require.NoError(t, store.Transaction(context.Background(), func(tx storage.Tx) error {
		if err := tx.UpsertChat(chat); err != nil {
			return err
		}
		for _, m := range msgs {
			m.ChatID = chat.ID
		}
		if len(msgs) == 0 {
			return nil
		}
		return tx.InsertMessages(msgs)
	}))
}
