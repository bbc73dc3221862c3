package model

// Side-channel SSE event names.
const (
	EventStart     = "start"
	EventChunk     = "chunk"
	EventTitle     = "title"
	EventMetadata  = "metadata"
	EventError     = "error"
	EventHeartbeat = "heartbeat"
)

type StartEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// TitleEvent is transient: it is never stored as message content.
type TitleEvent struct {
	ChatID    string `json:"chatId"`
	Title     string `json:"title"`
	Transient bool   `json:"transient"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type ChatResponse struct {
	Chat     *Chat      `json:"chat"`
	Messages []*Message `json:"messages"`
}

type ModelInfo struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	Reasoning         string `json:"reasoning"`
	SupportsWebSearch bool   `json:"supportsWebSearch"`
	SupportsFiles     bool   `json:"supportsFiles"`
	ImageGeneration   bool   `json:"imageGeneration"`
}
