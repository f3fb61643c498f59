package protocols

import (
	"encoding/json"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

// GeminiEmitter renders the block state machine as successive partial
// generateContent response objects. The Gemini stream has no start/stop
// envelope or block events; every emission is a complete response-shaped
// chunk carrying the newest parts.
type GeminiEmitter struct {
	w     SSEWriter
	model string

	// Tool name captured at OpenTool; the whole functionCall is emitted as
	// one part when the arguments arrive.
	pendingName string
}

func NewGeminiEmitter(w SSEWriter, model string) *GeminiEmitter {
	return &GeminiEmitter{w: w, model: model}
}

func (e *GeminiEmitter) chunk(parts []map[string]any, finishReason string, usage *unified.Usage) {
	candidate := map[string]any{
		"content": map[string]any{
			"parts": parts,
			"role":  "model",
		},
		"index": 0,
	}

	if finishReason != "" {
		candidate["finishReason"] = finishReason
	}

	payload := map[string]any{
		"candidates":   []any{candidate},
		"modelVersion": e.model,
	}

	if usage != nil {
		payload["usageMetadata"] = map[string]any{
			"promptTokenCount":     usage.InputTokens,
			"candidatesTokenCount": usage.OutputTokens,
			"totalTokenCount":      usage.InputTokens + usage.OutputTokens,
		}
	}

	e.w.WriteData(payload)
}

func (e *GeminiEmitter) Start() {
	// No opening envelope; the first partial object starts the stream.
}

func (e *GeminiEmitter) OpenText(int) {}

func (e *GeminiEmitter) AppendText(_ int, delta string) {
	e.chunk([]map[string]any{{"text": delta}}, "", nil)
}

func (e *GeminiEmitter) OpenTool(_ int, _, name string) {
	e.pendingName = name
}

func (e *GeminiEmitter) ToolArguments(_ int, arguments string) {
	args := map[string]any{}
	if arguments != "" {
		_ = json.Unmarshal([]byte(arguments), &args)
	}

	e.chunk([]map[string]any{{
		"functionCall": map[string]any{
			"name": e.pendingName,
			"args": args,
		},
	}}, "", nil)

	e.pendingName = ""
}

func (e *GeminiEmitter) CloseBlock(int) {}

// Completed emits the terminal partial object. Gemini reports STOP for
// tool-call turns as well.
func (e *GeminiEmitter) Completed(_ bool, usage unified.Usage) {
	e.chunk([]map[string]any{{"text": ""}}, "STOP", &usage)
}

func (e *GeminiEmitter) Failed(err error) {
	e.w.WriteData(map[string]any{
		"error": map[string]any{
			"code":    500,
			"message": err.Error(),
			"status":  "INTERNAL",
		},
	})
}
