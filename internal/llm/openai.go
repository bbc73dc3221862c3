package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"
	openai "github.com/sashabaranov/go-openai"

	"speedchat-backend/internal/model"
)

var defaultBaseURLs = map[string]string{
	ProviderOpenRouter: "https://openrouter.ai/api/v1",
	ProviderGateway:    "https://ai-gateway.vercel.sh/v1",
}

// openAIProvider serves every OpenAI-compatible upstream.
type openAIProvider struct {
	key    string
	client *openai.Client
}

func NewOpenAIProvider(key string, creds Credentials) (Provider, error) {
	cfg := openai.DefaultConfig(creds.APIKey)
	if creds.BaseURL != "" {
		cfg.BaseURL = creds.BaseURL
	} else if u, ok := defaultBaseURLs[key]; ok {
		cfg.BaseURL = u
	}
	return &openAIProvider{key: key, client: openai.NewClientWithConfig(cfg)}, nil
}

func (p *openAIProvider) ChatModel(spec ModelSpec) (ChatModel, error) {
	return &openAIChatModel{provider: p.key, client: p.client, model: spec.UpstreamModel}, nil
}

func (p *openAIProvider) ImageModel(spec ModelSpec) (ImageModel, error) {
	if p.key != ProviderOpenAI {
		return nil, fmt.Errorf("provider %s does not serve image models", p.key)
	}
	return &openAIImageModel{client: p.client, model: spec.UpstreamModel}, nil
}

type openAIChatModel struct {
	provider string
	client   *openai.Client
	model    string
}

func (m *openAIChatModel) buildRequest(req *Request) (openai.ChatCompletionRequest, error) {
	out := openai.ChatCompletionRequest{
		Model:    m.model,
		Messages: toOpenAIMessages(req.Messages),
	}
	if len(req.Tools) > 0 {
		tools, err := toOpenAITools(req.Tools)
		if err != nil {
			return out, err
		}
		out.Tools = tools
		out.ToolChoice = string(req.Options.ToolChoice)
	}

	maxTokens := req.Options.MaxOutputTokens
	if ro := req.Options.Reasoning; ro != nil {
		out.ReasoningEffort = string(ro.Effort)
		// The budget widens a configured cap; without one the provider's
		// own limit applies.
		if ro.Style == StyleBudget && ro.BudgetTokens > 0 && maxTokens > 0 {
			maxTokens += ro.BudgetTokens
		}
	}
	if maxTokens > 0 {
		out.MaxCompletionTokens = maxTokens
	}
	return out, nil
}

func (m *openAIChatModel) Stream(ctx context.Context, req *Request) (*schema.StreamReader[*model.Chunk], error) {
	r, err := m.buildRequest(req)
	if err != nil {
		return nil, &ConfigurationError{Msg: err.Error()}
	}
	r.Stream = true
	r.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	stream, err := m.client.CreateChatCompletionStream(ctx, r)
	if err != nil {
		return nil, m.wrapErr(err)
	}

	reader, writer := schema.Pipe[*model.Chunk](64)
	go func() {
		defer writer.Close()
		defer stream.Close()

		acc := newToolCallAccumulator()
		var usage *model.TokenUsage
		finish := ""
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				writer.Send(nil, m.wrapErr(err))
				return
			}
			if resp.Usage != nil {
				usage = &model.TokenUsage{
					PromptTokens:     resp.Usage.PromptTokens,
					CompletionTokens: resp.Usage.CompletionTokens,
					TotalTokens:      resp.Usage.TotalTokens,
				}
			}
			for _, choice := range resp.Choices {
				if d := choice.Delta.ReasoningContent; d != "" {
					if writer.Send(&model.Chunk{Type: model.ChunkReasoningDelta, Delta: d}, nil) {
						return
					}
				}
				if d := choice.Delta.Content; d != "" {
					if writer.Send(&model.Chunk{Type: model.ChunkTextDelta, Delta: d}, nil) {
						return
					}
				}
				for _, tc := range choice.Delta.ToolCalls {
					acc.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
				}
				if choice.FinishReason != "" {
					finish = string(choice.FinishReason)
				}
			}
		}

		for _, c := range acc.chunks() {
			if writer.Send(c, nil) {
				return
			}
		}
		writer.Send(&model.Chunk{Type: model.ChunkFinish, FinishReason: finish, Usage: usage}, nil)
	}()

	return reader, nil
}

func (m *openAIChatModel) Generate(ctx context.Context, req *Request) (string, *model.TokenUsage, error) {
	r, err := m.buildRequest(req)
	if err != nil {
		return "", nil, &ConfigurationError{Msg: err.Error()}
	}
	resp, err := m.client.CreateChatCompletion(ctx, r)
	if err != nil {
		return "", nil, m.wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", nil, &ProviderCallError{Provider: m.provider, Message: "no response from " + m.provider}
	}
	return resp.Choices[0].Message.Content, &model.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (m *openAIChatModel) wrapErr(err error) error {
	return wrapOpenAIError(m.provider, err)
}

func wrapOpenAIError(provider string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ProviderCallError{Provider: provider, StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ProviderCallError{Provider: provider, StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return &ProviderCallError{Provider: provider, Message: err.Error(), Err: err}
}

func toOpenAIMessages(msgs []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, msg := range msgs {
		om := openai.ChatCompletionMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		if len(msg.MultiContent) > 0 {
			om.Content = ""
			for _, part := range msg.MultiContent {
				switch part.Type {
				case schema.ChatMessagePartTypeText:
					om.MultiContent = append(om.MultiContent, openai.ChatMessagePart{
						Type: openai.ChatMessagePartTypeText,
						Text: part.Text,
					})
				case schema.ChatMessagePartTypeImageURL:
					if part.ImageURL == nil {
						continue
					}
					om.MultiContent = append(om.MultiContent, openai.ChatMessagePart{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: part.ImageURL.URL},
					})
				}
			}
		}
		for _, tc := range msg.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		// Empty assistant turns are rejected upstream.
		if msg.Role == schema.Assistant && om.Content == "" && len(om.MultiContent) == 0 && len(om.ToolCalls) == 0 {
			continue
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(infos []*schema.ToolInfo) ([]openai.Tool, error) {
	tools := make([]openai.Tool, 0, len(infos))
	for _, info := range infos {
		var params any = map[string]any{"type": "object", "properties": map[string]any{}}
		if info.ParamsOneOf != nil {
			s, err := info.ParamsOneOf.ToOpenAPIV3()
			if err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", info.Name, err)
			}
			if s != nil {
				params = s
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

type openAIImageModel struct {
	client *openai.Client
	model  string
}

func (m *openAIImageModel) GenerateImage(ctx context.Context, prompt string) (*model.FilePart, *model.TokenUsage, error) {
	resp, err := m.client.CreateImage(ctx, openai.ImageRequest{
		Prompt: prompt,
		Model:  m.model,
		N:      1,
		Size:   openai.CreateImageSize1024x1024,
	})
	if err != nil {
		return nil, nil, wrapOpenAIError(ProviderOpenAI, err)
	}
	if len(resp.Data) == 0 {
		return nil, nil, &ProviderCallError{Provider: ProviderOpenAI, Message: "no image returned"}
	}
	d := resp.Data[0]
	url := d.URL
	if url == "" && d.B64JSON != "" {
		url = "data:image/png;base64," + d.B64JSON
	}
	return &model.FilePart{URL: url, MediaType: "image/png", Name: "image.png"}, nil, nil
}
