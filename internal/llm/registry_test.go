package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedchat-backend/internal/model"
)

type stubProvider struct{}

func (stubProvider) ChatModel(spec ModelSpec) (ChatModel, error) { return stubChat{}, nil }
func (stubProvider) ImageModel(spec ModelSpec) (ImageModel, error) {
	return nil, errors.New("no images")
}

type stubChat struct{}

func (stubChat) Stream(ctx context.Context, req *Request) (*schema.StreamReader[*model.Chunk], error) {
	return schema.StreamReaderFromArray([]*model.Chunk{{Type: model.ChunkFinish}}), nil
}

func (stubChat) Generate(ctx context.Context, req *Request) (string, *model.TokenUsage, error) {
	return "ok", nil, nil
}

func stubFactory(string, Credentials) (Provider, error) { return stubProvider{}, nil }

func testCatalog() *Catalog {
	return NewCatalog(
		ModelSpec{ID: "plain", Provider: "a", Reasoning: ReasoningNone, SupportsWebSearch: true},
		ModelSpec{ID: "nosearch", Provider: "a", Reasoning: ReasoningNone},
		ModelSpec{ID: "other", Provider: "b", Reasoning: ReasoningNone, SupportsFiles: true},
		ModelSpec{ID: "painter", Provider: "a", ImageGeneration: true},
	)
}

func TestNewResolverRejectsUnregisteredProvider(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", stubFactory)

	_, err := NewResolver(testCatalog(), reg, nil, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b")
}

func TestResolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register("a", stubFactory)
	reg.Register("b", stubFactory)
	creds := map[string]Credentials{"a": {APIKey: "key"}}

	r, err := NewResolver(testCatalog(), reg, creds, 512)
	require.NoError(t, err)

	var cfgErr *ConfigurationError

	t.Run("unknown model", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), ResolveRequest{ModelID: "missing"})
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), ResolveRequest{ModelID: "other"})
		require.ErrorAs(t, err, &cfgErr)
		assert.False(t, r.Available("other"))
	})

	t.Run("web search unsupported", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), ResolveRequest{ModelID: "nosearch", ShouldSearchWeb: true})
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("files unsupported", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), ResolveRequest{ModelID: "plain", HasFiles: true})
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("ok", func(t *testing.T) {
		h, err := r.Resolve(context.Background(), ResolveRequest{ModelID: "plain", ShouldSearchWeb: true})
		require.NoError(t, err)
		assert.Equal(t, "plain", h.Spec.ID)
		assert.NotNil(t, h.Chat)
		assert.Nil(t, h.Image)
		assert.Equal(t, ToolChoiceRequired, h.Options.ToolChoice)
		assert.Equal(t, 512, h.Options.MaxOutputTokens)
	})

	t.Run("image model provider error", func(t *testing.T) {
		_, err := r.Resolve(context.Background(), ResolveRequest{ModelID: "painter"})
		require.ErrorAs(t, err, &cfgErr)
	})
}

func TestDefaultRegistryCoversDefaultCatalog(t *testing.T) {
	_, err := NewResolver(DefaultCatalog(), DefaultRegistry(), nil, 0)
	require.NoError(t, err)
}
