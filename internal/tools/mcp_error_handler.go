package tools

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"speedchat-backend/pkg/logger"
)

type MCPErrorResult struct {
	Success      bool   `json:"success"`
	Error        bool   `json:"error"`
	ErrorMessage string `json:"error_message"`
	ToolName     string `json:"tool_name"`
}

// CreateMCPErrorHandler turns a failed MCP call into an ordinary result the
// model can read, so a broken tool never aborts the turn.
func CreateMCPErrorHandler() func(ctx context.Context, name string, result *mcp.CallToolResult) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, name string, result *mcp.CallToolResult) (*mcp.CallToolResult, error) {
		if result == nil || !result.IsError {
			return result, nil
		}

		logger.Warnf("MCP tool %s returned an error result", name)

		errorJSON, err := json.Marshal(MCPErrorResult{
			Success:      false,
			Error:        true,
			ErrorMessage: extractErrorMessage(result),
			ToolName:     name,
		})
		if err != nil {
			errorJSON = []byte(`{"success":false,"error":true,"error_message":"tool failed"}`)
		}

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{
					Type: "text",
					Text: string(errorJSON),
				},
			},
			IsError: false,
		}, nil
	}
}

func extractErrorMessage(result *mcp.CallToolResult) string {
	for _, content := range result.Content {
		if text, ok := content.(*mcp.TextContent); ok && text.Text != "" {
			return text.Text
		}
		if text, ok := content.(mcp.TextContent); ok && text.Text != "" {
			return text.Text
		}
	}
	return "tool execution failed"
}

// IsMCPErrorResult reports whether resultText was produced by the error handler.
func IsMCPErrorResult(resultText string) (bool, *MCPErrorResult) {
	var errorResult MCPErrorResult
	if err := json.Unmarshal([]byte(resultText), &errorResult); err != nil {
		return false, nil
	}
	if errorResult.Error && !errorResult.Success {
		return true, &errorResult
	}
	return false, nil
}
