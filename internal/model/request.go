package model

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	ChatID             string     `json:"chatId" binding:"required"`
	Messages           []*Message `json:"messages" binding:"required"`
	Model              string     `json:"model"`
	ReasoningEffort    string     `json:"reasoningEffort"`
	ShouldUseReasoning bool       `json:"shouldUseReasoning"`
	ShouldSearchWeb    bool       `json:"shouldSearchWeb"`
}

type UpdateChatRequest struct {
	Title    *string `json:"title"`
	IsPinned *bool   `json:"isPinned"`
	IsShared *bool   `json:"isShared"`
}

type BranchRequest struct {
	MessageID string `json:"messageId" binding:"required"`
}

type DeleteMessagesRequest struct {
	MessageIDs []string `json:"messageIds" binding:"required"`
}
