package tools

import (
	"context"
	"fmt"
	"time"

	einoMcp "github.com/cloudwego/eino-ext/components/tool/mcp"
	"github.com/cloudwego/eino/components/tool"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"speedchat-backend/pkg/logger"
)

type MCPServer struct {
	Name string
	URL  string
}

// MCPTools holds the tools exposed by remote MCP servers and the clients
// that serve them.
type MCPTools struct {
	clients []*client.Client
	tools   []tool.InvokableTool
}

// LoadMCPTools connects to every server over SSE. The SSE streams live as
// long as ctx; timeout bounds only each server's handshake and tool listing.
// A server that cannot be reached is logged and skipped.
func LoadMCPTools(ctx context.Context, servers []MCPServer, timeout time.Duration) *MCPTools {
	out := &MCPTools{}
	for _, srv := range servers {
		cli, tools, err := loadServer(ctx, srv, timeout)
		if err != nil {
			logger.Warnf("MCP server %s unavailable: %v", srv.Name, err)
			continue
		}
		out.clients = append(out.clients, cli)
		out.tools = append(out.tools, tools...)
		logger.Infof("Loaded %d tools from MCP server %s", len(tools), srv.Name)
	}
	return out
}

func loadServer(ctx context.Context, srv MCPServer, timeout time.Duration) (*client.Client, []tool.InvokableTool, error) {
	cli, err := client.NewSSEMCPClient(srv.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}
	// The SSE stream is bound to the context given to Start.
	if err := cli.Start(ctx); err != nil {
		_ = cli.Close()
		return nil, nil, fmt.Errorf("start client: %w", err)
	}

	setupCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		setupCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	initRequest := mcp.InitializeRequest{}
	initRequest.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initRequest.Params.ClientInfo = mcp.Implementation{
		Name:    "speedchat-" + srv.Name,
		Version: "1.0.0",
	}
	if _, err := cli.Initialize(setupCtx, initRequest); err != nil {
		_ = cli.Close()
		return nil, nil, fmt.Errorf("initialize: %w", err)
	}

	baseTools, err := einoMcp.GetTools(setupCtx, &einoMcp.Config{
		Cli:                   cli,
		ToolCallResultHandler: CreateMCPErrorHandler(),
	})
	if err != nil {
		_ = cli.Close()
		return nil, nil, fmt.Errorf("list tools: %w", err)
	}

	var tools []tool.InvokableTool
	for _, bt := range baseTools {
		it, ok := bt.(tool.InvokableTool)
		if !ok {
			continue
		}
		tools = append(tools, it)
	}
	return cli, tools, nil
}

func (m *MCPTools) Tools() []tool.InvokableTool {
	if m == nil {
		return nil
	}
	return m.tools
}

func (m *MCPTools) Close() error {
	if m == nil {
		return nil
	}
	var firstErr error
	for _, cli := range m.clients {
		if err := cli.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
