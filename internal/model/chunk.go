package model

import "time"

type ChunkType string

const (
	ChunkTextDelta      ChunkType = "text-delta"
	ChunkReasoningDelta ChunkType = "reasoning-delta"
	ChunkToolCall       ChunkType = "tool-call"
	ChunkToolResult     ChunkType = "tool-result"
	ChunkFile           ChunkType = "file"
	ChunkStepFinish     ChunkType = "step-finish"
	ChunkFinish         ChunkType = "finish"
)

// Chunk is one incremental unit of a streaming model response. It is
// forwarded to the client verbatim.
type Chunk struct {
	Type         ChunkType   `json:"type"`
	Delta        string      `json:"delta,omitempty"`
	ToolCallID   string      `json:"toolCallId,omitempty"`
	ToolName     string      `json:"toolName,omitempty"`
	Args         string      `json:"args,omitempty"`
	Result       string      `json:"result,omitempty"`
	File         *FilePart   `json:"file,omitempty"`
	FinishReason string      `json:"finishReason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`

	// StartedAt is when the first upstream delta of a tool call arrived.
	// Tool calls are emitted whole, so it can be well before the chunk.
	StartedAt time.Time `json:"-"`
}

type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u *TokenUsage) Add(o *TokenUsage) {
	if o == nil {
		return
	}
	u.PromptTokens += o.PromptTokens
	u.CompletionTokens += o.CompletionTokens
	u.TotalTokens += o.TotalTokens
}

// PartsAssembler folds chunks into message parts in receipt order.
// Consecutive deltas of the same kind extend the current part.
type PartsAssembler struct {
	parts []Part
}

func (a *PartsAssembler) Add(c Chunk) {
	switch c.Type {
	case ChunkTextDelta:
		a.appendDelta(PartText, c.Delta)
	case ChunkReasoningDelta:
		a.appendDelta(PartReasoning, c.Delta)
	case ChunkToolCall:
		a.parts = append(a.parts, Part{
			Type: PartToolInvocation,
			ToolInvocation: &ToolInvocation{
				ToolCallID: c.ToolCallID,
				ToolName:   c.ToolName,
				Args:       c.Args,
				State:      ToolStateCall,
			},
		})
	case ChunkToolResult:
		for i := len(a.parts) - 1; i >= 0; i-- {
			ti := a.parts[i].ToolInvocation
			if ti != nil && ti.ToolCallID == c.ToolCallID {
				ti.Result = c.Result
				ti.State = ToolStateResult
				return
			}
		}
		a.parts = append(a.parts, Part{
			Type: PartToolInvocation,
			ToolInvocation: &ToolInvocation{
				ToolCallID: c.ToolCallID,
				ToolName:   c.ToolName,
				Result:     c.Result,
				State:      ToolStateResult,
			},
		})
	case ChunkFile:
		if c.File != nil {
			f := *c.File
			a.parts = append(a.parts, Part{Type: PartFile, File: &f})
		}
	}
}

func (a *PartsAssembler) appendDelta(t PartType, delta string) {
	if delta == "" {
		return
	}
	if n := len(a.parts); n > 0 && a.parts[n-1].Type == t {
		a.parts[n-1].Text += delta
		return
	}
	a.parts = append(a.parts, Part{Type: t, Text: delta})
}

func (a *PartsAssembler) AppendText(text string) {
	a.parts = append(a.parts, Part{Type: PartText, Text: text})
}

func (a *PartsAssembler) Parts() []Part {
	out := make([]Part, len(a.parts))
	copy(out, a.parts)
	return out
}
