package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"speedchat-backend/internal/model"
)

func sseServer(t *testing.T, lines []string, captured *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			*captured = string(body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			_, _ = io.WriteString(w, "data: "+l+"\n\n")
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
}

func drain(t *testing.T, sr *schema.StreamReader[*model.Chunk]) ([]*model.Chunk, error) {
	t.Helper()
	defer sr.Close()
	var out []*model.Chunk
	for {
		c, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, c)
	}
}

func newTestOpenAI(t *testing.T, url string) ChatModel {
	t.Helper()
	p, err := NewOpenAIProvider(ProviderOpenAI, Credentials{APIKey: "test", BaseURL: url})
	require.NoError(t, err)
	spec, _ := DefaultCatalog().Lookup("gpt-4o-mini")
	cm, err := p.ChatModel(spec)
	require.NoError(t, err)
	return cm
}

func TestOpenAIStreamTextAndUsage(t *testing.T) {
	var body string
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"reasoning_content":"hmm"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"Hel"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"lo"},"finish_reason":"stop"}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
	}, &body)
	defer srv.Close()

	cm := newTestOpenAI(t, srv.URL)
	sr, err := cm.Stream(context.Background(), &Request{
		Messages: []*schema.Message{schema.UserMessage("hi")},
		Options: ProviderOptions{
			Reasoning:       &ReasoningOptions{Style: StyleEffort, Effort: EffortHigh},
			ToolChoice:      ToolChoiceAuto,
			MaxOutputTokens: 256,
		},
	})
	require.NoError(t, err)

	chunks, err := drain(t, sr)
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	assert.Equal(t, model.ChunkReasoningDelta, chunks[0].Type)
	assert.Equal(t, "Hel", chunks[1].Delta)
	assert.Equal(t, "lo", chunks[2].Delta)
	assert.Equal(t, model.ChunkFinish, chunks[3].Type)
	assert.Equal(t, "stop", chunks[3].FinishReason)
	require.NotNil(t, chunks[3].Usage)
	assert.Equal(t, 5, chunks[3].Usage.TotalTokens)

	assert.Equal(t, "high", gjson.Get(body, "reasoning_effort").String())
	assert.Equal(t, int64(256), gjson.Get(body, "max_completion_tokens").Int())
	assert.True(t, gjson.Get(body, "stream_options.include_usage").Bool())
}

func TestOpenAIBudgetOnlyWidensConfiguredCap(t *testing.T) {
	cm := newTestOpenAI(t, "http://unused").(*openAIChatModel)
	budget := &ReasoningOptions{Style: StyleBudget, Effort: EffortMedium, BudgetTokens: 8000}

	out, err := cm.buildRequest(&Request{
		Messages: []*schema.Message{schema.UserMessage("hi")},
		Options:  ProviderOptions{Reasoning: budget},
	})
	require.NoError(t, err)
	assert.Zero(t, out.MaxCompletionTokens)
	assert.Equal(t, "medium", out.ReasoningEffort)

	out, err = cm.buildRequest(&Request{
		Messages: []*schema.Message{schema.UserMessage("hi")},
		Options:  ProviderOptions{Reasoning: budget, MaxOutputTokens: 1000},
	})
	require.NoError(t, err)
	assert.Equal(t, 9000, out.MaxCompletionTokens)
}

func TestOpenAIStreamAccumulatesToolCalls(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"web_search","arguments":"{\"qu"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":\"go\"}"}}]}}]}`,
		`{"choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`,
	}, nil)
	defer srv.Close()

	cm := newTestOpenAI(t, srv.URL)
	sr, err := cm.Stream(context.Background(), &Request{Messages: []*schema.Message{schema.UserMessage("hi")}})
	require.NoError(t, err)

	chunks, err := drain(t, sr)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, model.ChunkToolCall, chunks[0].Type)
	assert.Equal(t, "call_1", chunks[0].ToolCallID)
	assert.Equal(t, "web_search", chunks[0].ToolName)
	assert.Equal(t, `{"query":"go"}`, chunks[0].Args)
	assert.False(t, chunks[0].StartedAt.IsZero())
	assert.Equal(t, "tool_calls", chunks[1].FinishReason)
}

func TestOpenAIErrorBecomesProviderCallError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"rate limited","type":"rate_limit_error"}}`)
	}))
	defer srv.Close()

	cm := newTestOpenAI(t, srv.URL)
	_, err := cm.Stream(context.Background(), &Request{Messages: []*schema.Message{schema.UserMessage("hi")}})

	var pe *ProviderCallError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusTooManyRequests, pe.StatusCode)
	assert.Equal(t, "rate limited", pe.Error())
	assert.True(t, pe.Retryable())
}

func TestToOpenAIMessagesSkipsEmptyAssistant(t *testing.T) {
	msgs := toOpenAIMessages([]*schema.Message{
		schema.SystemMessage("sys"),
		{Role: schema.Assistant},
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: "look"},
				{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: "https://x/img.png"}},
			},
		},
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	require.Len(t, msgs[1].MultiContent, 2)
	assert.True(t, strings.HasSuffix(msgs[1].MultiContent[1].ImageURL.URL, "img.png"))
}
