package llm

type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

var effortRatio = map[Effort]float64{
	EffortHigh:   1.0,
	EffortMedium: 0.5,
	EffortLow:    0.25,
}

// ParseEffort maps unrecognized values to EffortLow.
func ParseEffort(s string) Effort {
	e := Effort(s)
	if _, ok := effortRatio[e]; ok {
		return e
	}
	return EffortLow
}

// ThinkingBudget scales maxBudget by the effort ratio table.
func ThinkingBudget(maxBudget int, effort string) int {
	if maxBudget <= 0 {
		return 0
	}
	return int(float64(maxBudget) * effortRatio[ParseEffort(effort)])
}

type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
)

type ReasoningOptions struct {
	Style        ReasoningStyle
	Effort       Effort
	BudgetTokens int
}

// ProviderOptions is the per-request option set handed to an adapter.
// Reasoning is nil whenever nothing reasoning-related may be sent.
type ProviderOptions struct {
	Reasoning       *ReasoningOptions
	ToolChoice      ToolChoice
	MaxOutputTokens int
}

func BuildOptions(spec ModelSpec, effort string, useReasoning, searchWeb bool, maxOutputTokens int) ProviderOptions {
	opts := ProviderOptions{
		ToolChoice:      ToolChoiceAuto,
		MaxOutputTokens: maxOutputTokens,
	}
	if searchWeb {
		opts.ToolChoice = ToolChoiceRequired
	}

	attach := false
	switch spec.Reasoning {
	case ReasoningAlways:
		attach = true
	case ReasoningHybrid:
		attach = useReasoning
	}
	if attach {
		opts.Reasoning = &ReasoningOptions{
			Style:        spec.ReasoningStyle,
			Effort:       ParseEffort(effort),
			BudgetTokens: ThinkingBudget(spec.MaxReasoningBudget, effort),
		}
	}
	return opts
}
