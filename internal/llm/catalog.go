package llm

import "speedchat-backend/internal/model"

// ReasoningMode declares whether a model can think before answering.
type ReasoningMode string

const (
	ReasoningNone   ReasoningMode = "none"
	ReasoningHybrid ReasoningMode = "hybrid"
	ReasoningAlways ReasoningMode = "always"
)

// ReasoningStyle selects how reasoning options are expressed on the wire.
type ReasoningStyle string

const (
	StyleEffort ReasoningStyle = "effort"
	StyleBudget ReasoningStyle = "budget"
	StyleToggle ReasoningStyle = "toggle"
)

const (
	ProviderOpenAI     = "openai"
	ProviderOpenRouter = "openrouter"
	ProviderGateway    = "gateway"
	ProviderDoubao     = "doubao"
	ProviderQwen       = "qwen"
)

type ModelSpec struct {
	ID            string
	Name          string
	Provider      string
	UpstreamModel string

	Reasoning          ReasoningMode
	ReasoningStyle     ReasoningStyle
	MaxReasoningBudget int

	SupportsWebSearch bool
	SupportsFiles     bool
	ImageGeneration   bool
}

func (s ModelSpec) Info() model.ModelInfo {
	return model.ModelInfo{
		ID:                s.ID,
		Name:              s.Name,
		Provider:          s.Provider,
		Reasoning:         string(s.Reasoning),
		SupportsWebSearch: s.SupportsWebSearch,
		SupportsFiles:     s.SupportsFiles,
		ImageGeneration:   s.ImageGeneration,
	}
}

// Catalog is the fixed, ordered set of models the backend serves.
type Catalog struct {
	order []string
	specs map[string]ModelSpec
}

func NewCatalog(specs ...ModelSpec) *Catalog {
	c := &Catalog{specs: make(map[string]ModelSpec, len(specs))}
	for _, s := range specs {
		if _, dup := c.specs[s.ID]; !dup {
			c.order = append(c.order, s.ID)
		}
		c.specs[s.ID] = s
	}
	return c
}

func (c *Catalog) Lookup(id string) (ModelSpec, bool) {
	s, ok := c.specs[id]
	return s, ok
}

func (c *Catalog) List() []ModelSpec {
	out := make([]ModelSpec, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.specs[id])
	}
	return out
}

// Providers returns the distinct provider keys referenced by the catalog.
func (c *Catalog) Providers() []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range c.order {
		p := c.specs[id].Provider
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

func DefaultCatalog() *Catalog {
	return NewCatalog(
		ModelSpec{
			ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: ProviderOpenAI, UpstreamModel: "gpt-4o-mini",
			Reasoning: ReasoningNone, SupportsWebSearch: true, SupportsFiles: true,
		},
		ModelSpec{
			ID: "gpt-4.1", Name: "GPT-4.1", Provider: ProviderOpenAI, UpstreamModel: "gpt-4.1",
			Reasoning: ReasoningNone, SupportsWebSearch: true, SupportsFiles: true,
		},
		ModelSpec{
			ID: "gpt-4.1-nano", Name: "GPT-4.1 nano", Provider: ProviderOpenAI, UpstreamModel: "gpt-4.1-nano",
			Reasoning: ReasoningNone, SupportsWebSearch: true,
		},
		ModelSpec{
			ID: "o4-mini", Name: "o4-mini", Provider: ProviderOpenAI, UpstreamModel: "o4-mini",
			Reasoning: ReasoningAlways, ReasoningStyle: StyleEffort,
			SupportsWebSearch: true, SupportsFiles: true,
		},
		ModelSpec{
			ID: "o3-mini", Name: "o3-mini", Provider: ProviderOpenAI, UpstreamModel: "o3-mini",
			Reasoning: ReasoningAlways, ReasoningStyle: StyleEffort,
			SupportsWebSearch: true,
		},
		ModelSpec{
			ID: "claude-sonnet-4", Name: "Claude Sonnet 4", Provider: ProviderOpenRouter, UpstreamModel: "anthropic/claude-sonnet-4",
			Reasoning: ReasoningHybrid, ReasoningStyle: StyleBudget, MaxReasoningBudget: 16000,
			SupportsWebSearch: true, SupportsFiles: true,
		},
		ModelSpec{
			ID: "deepseek-r1", Name: "DeepSeek R1", Provider: ProviderOpenRouter, UpstreamModel: "deepseek/deepseek-r1",
			Reasoning: ReasoningAlways, ReasoningStyle: StyleEffort,
		},
		ModelSpec{
			ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: ProviderGateway, UpstreamModel: "google/gemini-2.5-flash",
			Reasoning: ReasoningHybrid, ReasoningStyle: StyleBudget, MaxReasoningBudget: 24576,
			SupportsWebSearch: true, SupportsFiles: true,
		},
		ModelSpec{
			ID: "doubao-seed-1.6", Name: "Doubao Seed 1.6", Provider: ProviderDoubao, UpstreamModel: "doubao-seed-1-6-250615",
			Reasoning: ReasoningHybrid, ReasoningStyle: StyleToggle, SupportsFiles: true,
		},
		ModelSpec{
			ID: "qwen-plus", Name: "Qwen Plus", Provider: ProviderQwen, UpstreamModel: "qwen-plus",
			Reasoning: ReasoningNone,
		},
		ModelSpec{
			ID: "gpt-image-1", Name: "GPT Image 1", Provider: ProviderOpenAI, UpstreamModel: "gpt-image-1",
			Reasoning: ReasoningNone, ImageGeneration: true,
		},
	)
}
