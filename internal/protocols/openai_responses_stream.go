package protocols

import (
	"time"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

// ResponsesEmitter renders the block state machine as the item-oriented
// responses event vocabulary: response.created/in_progress envelope, one
// output_item per block, output_text.delta and
// function_call_arguments.delta/.done inside items, and
// response.completed/failed terminals.
type ResponsesEmitter struct {
	w          SSEWriter
	responseID string
	model      string
	createdAt  int64
	sequence   int

	// Per-block accumulation for the *.done events.
	textByIndex map[int]string
	callIDs     map[int]string
	callNames   map[int]string
	callArgs    map[int]string
	order       []int
}

func NewResponsesEmitter(w SSEWriter, model string) *ResponsesEmitter {
	return &ResponsesEmitter{
		w:           w,
		responseID:  unified.NewMessageID("resp"),
		model:       model,
		createdAt:   time.Now().Unix(),
		textByIndex: make(map[int]string),
		callIDs:     make(map[int]string),
		callNames:   make(map[int]string),
		callArgs:    make(map[int]string),
	}
}

func (e *ResponsesEmitter) event(name string, payload map[string]any) {
	payload["type"] = name
	payload["sequence_number"] = e.sequence
	e.sequence++
	e.w.WriteEvent(name, payload)
}

func (e *ResponsesEmitter) envelope(status string) map[string]any {
	return map[string]any{
		"id":         e.responseID,
		"object":     "response",
		"created_at": e.createdAt,
		"status":     status,
		"model":      e.model,
	}
}

func (e *ResponsesEmitter) Start() {
	e.event("response.created", map[string]any{"response": e.envelope("in_progress")})
	e.event("response.in_progress", map[string]any{"response": e.envelope("in_progress")})
}

func (e *ResponsesEmitter) OpenText(index int) {
	e.order = append(e.order, index)
	e.event("response.output_item.added", map[string]any{
		"output_index": index,
		"item": map[string]any{
			"type":    "message",
			"id":      responsesItemID(e.responseID, index),
			"status":  "in_progress",
			"role":    unified.RoleAssistant,
			"content": []any{},
		},
	})
}

func (e *ResponsesEmitter) AppendText(index int, delta string) {
	e.textByIndex[index] += delta
	e.event("response.output_text.delta", map[string]any{
		"item_id":       responsesItemID(e.responseID, index),
		"output_index":  index,
		"content_index": 0,
		"delta":         delta,
	})
}

func (e *ResponsesEmitter) OpenTool(index int, id, name string) {
	e.order = append(e.order, index)
	e.callIDs[index] = id
	e.callNames[index] = name

	e.event("response.output_item.added", map[string]any{
		"output_index": index,
		"item": map[string]any{
			"type":      "function_call",
			"id":        responsesItemID(e.responseID, index),
			"call_id":   id,
			"name":      name,
			"arguments": "",
			"status":    "in_progress",
		},
	})
}

func (e *ResponsesEmitter) ToolArguments(index int, arguments string) {
	e.callArgs[index] = arguments

	e.event("response.function_call_arguments.delta", map[string]any{
		"item_id":      responsesItemID(e.responseID, index),
		"output_index": index,
		"delta":        arguments,
	})
	e.event("response.function_call_arguments.done", map[string]any{
		"item_id":      responsesItemID(e.responseID, index),
		"output_index": index,
		"arguments":    arguments,
	})
}

func (e *ResponsesEmitter) CloseBlock(index int) {
	e.event("response.output_item.done", map[string]any{
		"output_index": index,
		"item":         e.itemFor(index, "completed"),
	})
}

func (e *ResponsesEmitter) itemFor(index int, status string) map[string]any {
	if _, isCall := e.callIDs[index]; isCall {
		return map[string]any{
			"type":      "function_call",
			"id":        responsesItemID(e.responseID, index),
			"call_id":   e.callIDs[index],
			"name":      e.callNames[index],
			"arguments": e.callArgs[index],
			"status":    status,
		}
	}

	return map[string]any{
		"type":   "message",
		"id":     responsesItemID(e.responseID, index),
		"status": status,
		"role":   unified.RoleAssistant,
		"content": []any{map[string]any{
			"type":        "output_text",
			"text":        e.textByIndex[index],
			"annotations": []any{},
		}},
	}
}

func (e *ResponsesEmitter) Completed(_ bool, usage unified.Usage) {
	response := e.envelope("completed")

	output := make([]any, 0, len(e.order))
	for _, index := range e.order {
		output = append(output, e.itemFor(index, "completed"))
	}

	response["output"] = output
	response["usage"] = map[string]any{
		"input_tokens":  usage.InputTokens,
		"output_tokens": usage.OutputTokens,
		"total_tokens":  usage.InputTokens + usage.OutputTokens,
	}

	e.event("response.completed", map[string]any{"response": response})
}

func (e *ResponsesEmitter) Failed(err error) {
	response := e.envelope("failed")
	response["error"] = map[string]any{
		"code":    "server_error",
		"message": err.Error(),
	}

	e.event("response.failed", map[string]any{"response": response})
}
