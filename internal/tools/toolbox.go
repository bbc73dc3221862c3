package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"

	"speedchat-backend/internal/storage"
)

// Toolbox assembles the tools bound to one turn.
type Toolbox struct {
	search       *WebSearchTool
	memories     storage.MemoryStore
	enableMemory bool
	mcp          *MCPTools
}

func NewToolbox(search *WebSearchTool, memories storage.MemoryStore, enableMemory bool, mcpTools *MCPTools) *Toolbox {
	return &Toolbox{
		search:       search,
		memories:     memories,
		enableMemory: enableMemory,
		mcp:          mcpTools,
	}
}

func (b *Toolbox) Tools(ctx context.Context, userID string, searchWeb bool) ([]tool.InvokableTool, error) {
	var out []tool.InvokableTool
	if searchWeb && b.search != nil {
		out = append(out, b.search)
	}
	if b.enableMemory && b.memories != nil {
		out = append(out, NewSaveMemoryTool(b.memories, userID))
	}
	out = append(out, b.mcp.Tools()...)
	return out, nil
}

func (b *Toolbox) Close() error {
	return b.mcp.Close()
}
