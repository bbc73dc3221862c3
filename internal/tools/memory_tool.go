package tools

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"speedchat-backend/internal/model"
	"speedchat-backend/internal/storage"
	"speedchat-backend/pkg/logger"
)

const SaveMemoryToolName = "save_memory"

// SaveMemoryTool stores a fact about the turn's user.
type SaveMemoryTool struct {
	store  storage.MemoryStore
	userID string
}

func NewSaveMemoryTool(store storage.MemoryStore, userID string) *SaveMemoryTool {
	return &SaveMemoryTool{store: store, userID: userID}
}

func (t *SaveMemoryTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: SaveMemoryToolName,
		Desc: "Save a short fact about the user that should be remembered in future conversations, such as preferences, names or ongoing projects.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"memory": {
				Type:     schema.String,
				Desc:     "The fact to remember, written as a single sentence",
				Required: true,
			},
		}),
	}, nil
}

func (t *SaveMemoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var params struct {
		Memory string `json:"memory"`
	}
	if err := parseArgs(argumentsInJSON, &params); err != nil {
		return "", err
	}
	text := strings.TrimSpace(params.Memory)
	if text == "" {
		return marshalResult(map[string]interface{}{"success": false, "error": "memory is required"})
	}

	mem := &model.Memory{
		ID:        model.NewMemoryID(),
		UserID:    t.userID,
		Memory:    text,
		CreatedAt: time.Now(),
	}
	if err := t.store.AddMemory(ctx, mem); err != nil {
		logger.Errorf("Failed to save memory for user %s: %v", t.userID, err)
		return marshalResult(map[string]interface{}{"success": false, "error": "could not save memory"})
	}
	return marshalResult(map[string]interface{}{"success": true, "id": mem.ID})
}
