package model

import "time"

const DefaultChatTitle = "New Chat"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Chat struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	UserID       string    `json:"userId"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	IsBranch     bool      `json:"isBranch"`
	ParentChatID string    `json:"parentChatId,omitempty"`
	IsPinned     bool      `json:"isPinned"`
	IsShared     bool      `json:"isShared"`
}

type PartType string

const (
	PartText           PartType = "text"
	PartReasoning      PartType = "reasoning"
	PartToolInvocation PartType = "tool-invocation"
	PartFile           PartType = "file"
)

// Part is one typed content segment of a message.
type Part struct {
	Type           PartType        `json:"type"`
	Text           string          `json:"text,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty"`
	File           *FilePart       `json:"file,omitempty"`
}

type ToolInvocationState string

const (
	ToolStateCall   ToolInvocationState = "call"
	ToolStateResult ToolInvocationState = "result"
)

type ToolInvocation struct {
	ToolCallID string              `json:"toolCallId"`
	ToolName   string              `json:"toolName"`
	Args       string              `json:"args"`
	Result     string              `json:"result,omitempty"`
	State      ToolInvocationState `json:"state"`
}

type FilePart struct {
	URL       string `json:"url"`
	MediaType string `json:"mediaType"`
	Name      string `json:"name,omitempty"`
}

type Message struct {
	ID        string           `json:"id"`
	ChatID    string           `json:"chatId"`
	Role      Role             `json:"role"`
	Parts     []Part           `json:"parts"`
	Metadata  *MessageMetadata `json:"metadata,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Clone returns a deep copy so stores never share part slices with callers.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Parts = make([]Part, len(m.Parts))
	for i, p := range m.Parts {
		c.Parts[i] = p
		if p.ToolInvocation != nil {
			ti := *p.ToolInvocation
			c.Parts[i].ToolInvocation = &ti
		}
		if p.File != nil {
			f := *p.File
			c.Parts[i].File = &f
		}
	}
	if m.Metadata != nil {
		md := *m.Metadata
		if m.Metadata.ReasoningDurationMs != nil {
			d := *m.Metadata.ReasoningDurationMs
			md.ReasoningDurationMs = &d
		}
		c.Metadata = &md
	}
	return &c
}

// MessageMetadata is computed once per completed stream and attached to the
// assistant message.
type MessageMetadata struct {
	ModelName           string  `json:"modelName"`
	TokensPerSecond     float64 `json:"tokensPerSecond"`
	TimeToFirstTokenMs  int64   `json:"timeToFirstTokenMs"`
	ElapsedTimeMs       int64   `json:"elapsedTimeMs"`
	TotalTokens         int     `json:"totalTokens"`
	PromptTokens        int     `json:"promptTokens"`
	CompletionTokens    int     `json:"completionTokens"`
	ReasoningDurationMs *int64  `json:"reasoningDurationMs,omitempty"`
}

type Usage struct {
	UserID           string    `json:"userId"`
	PromptTokens     int64     `json:"promptTokens"`
	CompletionTokens int64     `json:"completionTokens"`
	ChatsCreated     int64     `json:"chatsCreated"`
	MessagesSent     int64     `json:"messagesSent"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

type Memory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Memory    string    `json:"memory"`
	CreatedAt time.Time `json:"createdAt"`
}
