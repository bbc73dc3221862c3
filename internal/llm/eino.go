package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"speedchat-backend/internal/model"
	"speedchat-backend/pkg/logger"
)

const defaultQwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// einoChatModel adapts an eino ChatModel built per request, so per-turn
// headers and bound tools never leak between concurrent turns.
type einoChatModel struct {
	provider string
	build    func(ctx context.Context, req *Request) (einoModel.ChatModel, error)
}

func (m *einoChatModel) prepare(ctx context.Context, req *Request) (einoModel.ChatModel, error) {
	cm, err := m.build(ctx, req)
	if err != nil {
		return nil, &ConfigurationError{Msg: fmt.Sprintf("create %s model: %v", m.provider, err)}
	}
	if len(req.Tools) > 0 {
		if err := cm.BindTools(req.Tools); err != nil {
			return nil, &ConfigurationError{Msg: fmt.Sprintf("bind tools: %v", err)}
		}
	}
	return cm, nil
}

func (m *einoChatModel) Stream(ctx context.Context, req *Request) (*schema.StreamReader[*model.Chunk], error) {
	cm, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	sr, err := cm.Stream(ctx, req.Messages)
	if err != nil {
		return nil, m.wrapErr(err)
	}

	reader, writer := schema.Pipe[*model.Chunk](64)
	go func() {
		defer writer.Close()
		defer sr.Close()

		acc := newToolCallAccumulator()
		var usage *model.TokenUsage
		finish := ""
		for {
			msg, err := sr.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				writer.Send(nil, m.wrapErr(err))
				return
			}
			if msg == nil {
				continue
			}
			if msg.ReasoningContent != "" {
				if writer.Send(&model.Chunk{Type: model.ChunkReasoningDelta, Delta: msg.ReasoningContent}, nil) {
					return
				}
			}
			if msg.Content != "" {
				if writer.Send(&model.Chunk{Type: model.ChunkTextDelta, Delta: msg.Content}, nil) {
					return
				}
			}
			for _, tc := range msg.ToolCalls {
				acc.add(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if meta := msg.ResponseMeta; meta != nil {
				if meta.FinishReason != "" {
					finish = meta.FinishReason
				}
				if meta.Usage != nil {
					usage = usageFromMeta(meta.Usage)
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

func (m *einoChatModel) Generate(ctx context.Context, req *Request) (string, *model.TokenUsage, error) {
	cm, err := m.prepare(ctx, req)
	if err != nil {
		return "", nil, err
	}
	msg, err := cm.Generate(ctx, req.Messages)
	if err != nil {
		return "", nil, m.wrapErr(err)
	}
	var usage *model.TokenUsage
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		usage = usageFromMeta(msg.ResponseMeta.Usage)
	}
	return msg.Content, usage, nil
}

func (m *einoChatModel) wrapErr(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ProviderCallError{Provider: m.provider, Message: err.Error(), Err: err}
}

func usageFromMeta(u *schema.TokenUsage) *model.TokenUsage {
	return &model.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

type arkProvider struct {
	creds Credentials
}

func NewArkProvider(_ string, creds Credentials) (Provider, error) {
	return &arkProvider{creds: creds}, nil
}

func (p *arkProvider) ChatModel(spec ModelSpec) (ChatModel, error) {
	return &einoChatModel{
		provider: ProviderDoubao,
		build: func(ctx context.Context, req *Request) (einoModel.ChatModel, error) {
			cfg := &ark.ChatModelConfig{
				APIKey: p.creds.APIKey,
				Model:  spec.UpstreamModel,
				CustomHeader: map[string]string{
					"X-Ark-Thinking-Mode": arkThinkingMode(req.Options),
				},
			}
			if p.creds.BaseURL != "" {
				cfg.BaseURL = p.creds.BaseURL
			}
			if n := req.Options.MaxOutputTokens; n > 0 {
				cfg.MaxTokens = &n
			}
			return ark.NewChatModel(ctx, cfg)
		},
	}, nil
}

func (p *arkProvider) ImageModel(spec ModelSpec) (ImageModel, error) {
	return nil, fmt.Errorf("provider %s does not serve image models", ProviderDoubao)
}

func arkThinkingMode(opts ProviderOptions) string {
	if opts.Reasoning != nil {
		return "enable"
	}
	return "disable"
}

type qwenProvider struct {
	creds      Credentials
	httpClient *http.Client
}

func NewQwenProvider(_ string, creds Credentials) (Provider, error) {
	if creds.BaseURL == "" {
		creds.BaseURL = defaultQwenBaseURL
	}
	return &qwenProvider{
		creds:      creds,
		httpClient: &http.Client{Timeout: creds.Timeout},
	}, nil
}

func (p *qwenProvider) ChatModel(spec ModelSpec) (ChatModel, error) {
	return &einoChatModel{
		provider: ProviderQwen,
		build: func(ctx context.Context, req *Request) (einoModel.ChatModel, error) {
			if req.Options.Reasoning != nil {
				logger.Debugf("Qwen model %s ignores reasoning options", spec.ID)
			}
			cfg := &qwen.ChatModelConfig{
				BaseURL:    p.creds.BaseURL,
				APIKey:     p.creds.APIKey,
				Model:      spec.UpstreamModel,
				Timeout:    p.creds.Timeout,
				HTTPClient: p.httpClient,
			}
			if n := req.Options.MaxOutputTokens; n > 0 {
				cfg.MaxTokens = &n
			}
			return qwen.NewChatModel(ctx, cfg)
		},
	}, nil
}

func (p *qwenProvider) ImageModel(spec ModelSpec) (ImageModel, error) {
	return nil, fmt.Errorf("provider %s does not serve image models", ProviderQwen)
}
