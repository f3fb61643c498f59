package protocols

import "github.com/sandrinn/llm-gateway/internal/unified"

// ClaudeEmitter renders the block state machine as the Claude event
// vocabulary: message_start, content_block_start/delta/stop, message_delta,
// message_stop, and the in-band error event on failure.
type ClaudeEmitter struct {
	w           SSEWriter
	messageID   string
	model       string
	inputTokens int
}

func NewClaudeEmitter(w SSEWriter, model string, inputTokens int) *ClaudeEmitter {
	return &ClaudeEmitter{
		w:           w,
		messageID:   unified.NewMessageID("msg"),
		model:       model,
		inputTokens: inputTokens,
	}
}

func (e *ClaudeEmitter) Start() {
	e.w.WriteEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            e.messageID,
			"type":          "message",
			"role":          unified.RoleAssistant,
			"model":         e.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage": map[string]any{
				"input_tokens":  e.inputTokens,
				"output_tokens": 0,
			},
		},
	})
}

func (e *ClaudeEmitter) OpenText(index int) {
	e.w.WriteEvent("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": index,
		"content_block": map[string]any{
			"type": "text",
			"text": "",
		},
	})
}

func (e *ClaudeEmitter) AppendText(index int, delta string) {
	e.w.WriteEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": map[string]any{
			"type": "text_delta",
			"text": delta,
		},
	})
}

func (e *ClaudeEmitter) OpenTool(index int, id, name string) {
	e.w.WriteEvent("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": index,
		"content_block": map[string]any{
			"type":  "tool_use",
			"id":    id,
			"name":  name,
			"input": map[string]any{},
		},
	})
}

func (e *ClaudeEmitter) ToolArguments(index int, arguments string) {
	e.w.WriteEvent("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": index,
		"delta": map[string]any{
			"type":         "input_json_delta",
			"partial_json": arguments,
		},
	})
}

func (e *ClaudeEmitter) CloseBlock(index int) {
	e.w.WriteEvent("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": index,
	})
}

func (e *ClaudeEmitter) Completed(toolUse bool, usage unified.Usage) {
	stopReason := "end_turn"
	if toolUse {
		stopReason = "tool_use"
	}

	e.w.WriteEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   stopReason,
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
		},
	})

	e.w.WriteEvent("message_stop", map[string]any{
		"type": "message_stop",
	})
}

func (e *ClaudeEmitter) Failed(err error) {
	e.w.WriteEvent("error", map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    "api_error",
			"message": err.Error(),
		},
	})
}
