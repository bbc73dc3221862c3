package llm

import (
	"time"

	"speedchat-backend/internal/model"
)

type pendingToolCall struct {
	id      string
	name    string
	args    string
	started time.Time
}

// toolCallAccumulator joins streamed tool-call deltas by index.
type toolCallAccumulator struct {
	order []int
	calls map[int]*pendingToolCall
	now   func() time.Time
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*pendingToolCall), now: time.Now}
}

// add merges one delta. A nil index falls back to the call id's position,
// or a new slot when the id has not been seen.
func (a *toolCallAccumulator) add(index *int, id, name, args string) {
	idx := -1
	if index != nil {
		idx = *index
	} else {
		for _, i := range a.order {
			if id != "" && a.calls[i].id == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			if id == "" && len(a.order) > 0 {
				idx = a.order[len(a.order)-1]
			} else {
				idx = len(a.order)
			}
		}
	}

	c, ok := a.calls[idx]
	if !ok {
		c = &pendingToolCall{started: a.now()}
		a.calls[idx] = c
		a.order = append(a.order, idx)
	}
	if id != "" {
		c.id = id
	}
	if name != "" {
		c.name = name
	}
	c.args += args
}

func (a *toolCallAccumulator) chunks() []*model.Chunk {
	out := make([]*model.Chunk, 0, len(a.order))
	for _, i := range a.order {
		c := a.calls[i]
		args := c.args
		if args == "" {
			args = "{}"
		}
		out = append(out, &model.Chunk{
			Type:       model.ChunkToolCall,
			ToolCallID: c.id,
			ToolName:   c.name,
			Args:       args,
			StartedAt:  c.started,
		})
	}
	return out
}
