package llm

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"speedchat-backend/internal/model"
)

// Request is one model step: the running conversation, bound tools and the
// options resolved for this turn.
type Request struct {
	Messages []*schema.Message
	Tools    []*schema.ToolInfo
	Options  ProviderOptions
}

// ChatModel streams chunks for one step. Tool calls are emitted whole, once
// their arguments are complete, and every stream ends with a finish chunk
// carrying usage totals.
type ChatModel interface {
	Stream(ctx context.Context, req *Request) (*schema.StreamReader[*model.Chunk], error)
	Generate(ctx context.Context, req *Request) (string, *model.TokenUsage, error)
}

type ImageModel interface {
	GenerateImage(ctx context.Context, prompt string) (*model.FilePart, *model.TokenUsage, error)
}

// Provider builds model handles for one upstream credential set.
type Provider interface {
	ChatModel(spec ModelSpec) (ChatModel, error)
	ImageModel(spec ModelSpec) (ImageModel, error)
}

// Handle is a resolved, ready-to-call model.
type Handle struct {
	Spec    ModelSpec
	Chat    ChatModel
	Image   ImageModel
	Options ProviderOptions
}
