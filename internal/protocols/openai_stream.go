package protocols

import (
	"time"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

// OpenAIChatEmitter renders the block state machine as chat.completion.chunk
// deltas terminated by the [DONE] sentinel. The chunk vocabulary has no
// block open/close events; only the deltas and the final finish_reason
// carry information.
type OpenAIChatEmitter struct {
	w       SSEWriter
	id      string
	model   string
	created int64

	toolIndex int
	toolOpen  bool
}

func NewOpenAIChatEmitter(w SSEWriter, model string) *OpenAIChatEmitter {
	return &OpenAIChatEmitter{
		w:       w,
		id:      NewChatCompletionID(),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (e *OpenAIChatEmitter) chunk(delta map[string]any, finish any, usage map[string]any) {
	payload := map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []any{map[string]any{
			"index":         0,
			"delta":         delta,
			"finish_reason": finish,
		}},
	}

	if usage != nil {
		payload["usage"] = usage
	}

	e.w.WriteData(payload)
}

func (e *OpenAIChatEmitter) Start() {
	e.chunk(map[string]any{"role": unified.RoleAssistant, "content": ""}, nil, nil)
}

func (e *OpenAIChatEmitter) OpenText(int) {}

func (e *OpenAIChatEmitter) AppendText(_ int, delta string) {
	e.chunk(map[string]any{"content": delta}, nil, nil)
}

func (e *OpenAIChatEmitter) OpenTool(_ int, id, name string) {
	e.chunk(map[string]any{
		"tool_calls": []any{map[string]any{
			"index": e.toolIndex,
			"id":    id,
			"type":  "function",
			"function": map[string]any{
				"name":      name,
				"arguments": "",
			},
		}},
	}, nil, nil)
}

func (e *OpenAIChatEmitter) ToolArguments(_ int, arguments string) {
	e.chunk(map[string]any{
		"tool_calls": []any{map[string]any{
			"index":    e.toolIndex,
			"function": map[string]any{"arguments": arguments},
		}},
	}, nil, nil)
	e.toolOpen = true
}

func (e *OpenAIChatEmitter) CloseBlock(int) {
	// Chunk streams have no close event; closing a tool block just advances
	// the tool_calls index for the next one.
	if e.toolOpen {
		e.toolIndex++
		e.toolOpen = false
	}
}

func (e *OpenAIChatEmitter) Completed(toolUse bool, usage unified.Usage) {
	finish := "stop"
	if toolUse {
		finish = "tool_calls"
	}

	e.chunk(map[string]any{}, finish, map[string]any{
		"prompt_tokens":     usage.InputTokens,
		"completion_tokens": usage.OutputTokens,
		"total_tokens":      usage.InputTokens + usage.OutputTokens,
	})

	e.w.WriteRaw("data: [DONE]")
}

func (e *OpenAIChatEmitter) Failed(err error) {
	e.w.WriteData(map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    "api_error",
			"param":   nil,
			"code":    nil,
		},
	})

	e.w.WriteRaw("data: [DONE]")
}
