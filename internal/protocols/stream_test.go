package protocols

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

type sseRecord struct {
	event string
	raw   string
	data  map[string]any
}

// sseRecorder captures emitter output for assertions. Payloads round-trip
// through JSON so tests see exactly what a client would parse.
type sseRecorder struct {
	records []sseRecord
}

func (r *sseRecorder) WriteEvent(event string, data any) {
	r.records = append(r.records, sseRecord{event: event, data: toMap(data)})
}

func (r *sseRecorder) WriteData(data any) {
	r.records = append(r.records, sseRecord{data: toMap(data)})
}

func (r *sseRecorder) WriteRaw(line string) {
	r.records = append(r.records, sseRecord{raw: line})
}

func toMap(data any) map[string]any {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}

	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}

	return out
}

func (r *sseRecorder) eventNames() []string {
	names := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		switch {
		case rec.event != "":
			names = append(names, rec.event)
		case rec.raw != "":
			names = append(names, rec.raw)
		default:
			names = append(names, "data")
		}
	}

	return names
}

func weatherScenario() *scriptStream {
	return &scriptStream{parts: []unified.StreamPart{
		unified.TextDelta("Hel"),
		unified.TextDelta("lo"),
		unified.ToolCall("toolu_01", "get_weather", `{"city":"Oslo"}`),
	}}
}

func TestClaudeEmitter_EventSequence(t *testing.T) {
	rec := &sseRecorder{}
	emitter := NewClaudeEmitter(rec, "claude-opus-4.5", 42)
	NewEngine(emitter, fixedUsage(42, 9)).Run(weatherScenario())

	assert.Equal(t, []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"content_block_start",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}, rec.eventNames())

	start := rec.records[0].data["message"].(map[string]any)
	assert.Equal(t, "claude-opus-4.5", start["model"])
	assert.EqualValues(t, 42, start["usage"].(map[string]any)["input_tokens"])

	toolStart := rec.records[5].data["content_block"].(map[string]any)
	assert.Equal(t, "tool_use", toolStart["type"])
	assert.Equal(t, "toolu_01", toolStart["id"])
	assert.Equal(t, "get_weather", toolStart["name"])
	assert.EqualValues(t, 1, rec.records[5].data["index"])

	argsDelta := rec.records[6].data["delta"].(map[string]any)
	assert.Equal(t, "input_json_delta", argsDelta["type"])
	assert.Equal(t, `{"city":"Oslo"}`, argsDelta["partial_json"])

	final := rec.records[8].data
	assert.Equal(t, "tool_use", final["delta"].(map[string]any)["stop_reason"])
	assert.EqualValues(t, 9, final["usage"].(map[string]any)["output_tokens"])
}

func TestClaudeEmitter_TextDeltasReassemble(t *testing.T) {
	rec := &sseRecorder{}
	emitter := NewClaudeEmitter(rec, "m", 1)

	stream := &scriptStream{parts: []unified.StreamPart{
		unified.TextDelta("one "),
		unified.TextDelta("two "),
		unified.TextDelta("three"),
	}}
	NewEngine(emitter, fixedUsage(1, 3)).Run(stream)

	var text string
	for _, r := range rec.records {
		if r.event != "content_block_delta" {
			continue
		}

		delta := r.data["delta"].(map[string]any)
		if delta["type"] == "text_delta" {
			text += delta["text"].(string)
		}
	}

	assert.Equal(t, "one two three", text)
}

func TestClaudeEmitter_Failure(t *testing.T) {
	rec := &sseRecorder{}
	emitter := NewClaudeEmitter(rec, "m", 1)

	stream := &scriptStream{
		parts: []unified.StreamPart{unified.TextDelta("par")},
		err:   assert.AnError,
	}
	NewEngine(emitter, fixedUsage(1, 1)).Run(stream)

	names := rec.eventNames()
	require.NotEmpty(t, names)
	assert.Equal(t, "error", names[len(names)-1])
	assert.NotContains(t, names, "message_stop")

	errObj := rec.records[len(rec.records)-1].data["error"].(map[string]any)
	assert.Equal(t, "api_error", errObj["type"])
}

func TestOpenAIChatEmitter_Stream(t *testing.T) {
	rec := &sseRecorder{}
	emitter := NewOpenAIChatEmitter(rec, "gpt-test")
	NewEngine(emitter, fixedUsage(7, 5)).Run(weatherScenario())

	last := rec.records[len(rec.records)-1]
	assert.Equal(t, "data: [DONE]", last.raw)

	// Role announcement first, then content deltas.
	first := rec.records[0].data
	assert.Equal(t, "chat.completion.chunk", first["object"])

	firstDelta := first["choices"].([]any)[0].(map[string]any)["delta"].(map[string]any)
	assert.Equal(t, unified.RoleAssistant, firstDelta["role"])

	var content string
	var toolNames []string

	for _, r := range rec.records[:len(rec.records)-1] {
		choice := r.data["choices"].([]any)[0].(map[string]any)
		delta := choice["delta"].(map[string]any)

		if text, ok := delta["content"].(string); ok {
			content += text
		}

		if calls, ok := delta["tool_calls"].([]any); ok {
			call := calls[0].(map[string]any)
			if fn, ok := call["function"].(map[string]any); ok {
				if name, ok := fn["name"].(string); ok && name != "" {
					toolNames = append(toolNames, name)
				}
			}
		}
	}

	assert.Equal(t, "Hello", content)
	assert.Equal(t, []string{"get_weather"}, toolNames)

	final := rec.records[len(rec.records)-2].data
	finalChoice := final["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_calls", finalChoice["finish_reason"])

	usage := final["usage"].(map[string]any)
	assert.EqualValues(t, 7, usage["prompt_tokens"])
	assert.EqualValues(t, 5, usage["completion_tokens"])
	assert.EqualValues(t, 12, usage["total_tokens"])
}

func TestResponsesEmitter_Stream(t *testing.T) {
	rec := &sseRecorder{}
	emitter := NewResponsesEmitter(rec, "gpt-test")
	NewEngine(emitter, fixedUsage(3, 4)).Run(weatherScenario())

	names := make([]string, 0, len(rec.records))
	for _, r := range rec.records {
		names = append(names, r.event)
	}

	assert.Equal(t, "response.created", names[0])
	assert.Equal(t, "response.in_progress", names[1])
	assert.Contains(t, names, "response.output_item.added")
	assert.Contains(t, names, "response.output_text.delta")
	assert.Contains(t, names, "response.function_call_arguments.delta")
	assert.Contains(t, names, "response.function_call_arguments.done")
	assert.Equal(t, "response.completed", names[len(names)-1])

	// Sequence numbers are strictly increasing from 0.
	for i, r := range rec.records {
		assert.EqualValues(t, i, r.data["sequence_number"])
	}

	final := rec.records[len(rec.records)-1].data["response"].(map[string]any)
	assert.Equal(t, "completed", final["status"])

	usage := final["usage"].(map[string]any)
	assert.EqualValues(t, 3, usage["input_tokens"])
	assert.EqualValues(t, 4, usage["output_tokens"])
}

func TestResponsesEmitter_Failure(t *testing.T) {
	rec := &sseRecorder{}
	emitter := NewResponsesEmitter(rec, "gpt-test")

	stream := &scriptStream{err: assert.AnError}
	NewEngine(emitter, fixedUsage(0, 0)).Run(stream)

	last := rec.records[len(rec.records)-1]
	assert.Equal(t, "response.failed", last.event)
}

func TestGeminiEmitter_Stream(t *testing.T) {
	rec := &sseRecorder{}
	emitter := NewGeminiEmitter(rec, "gemini-test")
	NewEngine(emitter, fixedUsage(2, 6)).Run(weatherScenario())

	// Two text chunks, one functionCall chunk, one terminal chunk.
	require.Len(t, rec.records, 4)

	partOf := func(rec sseRecord) map[string]any {
		candidate := rec.data["candidates"].([]any)[0].(map[string]any)
		parts := candidate["content"].(map[string]any)["parts"].([]any)
		return parts[0].(map[string]any)
	}

	assert.Equal(t, "Hel", partOf(rec.records[0])["text"])
	assert.Equal(t, "lo", partOf(rec.records[1])["text"])

	call := partOf(rec.records[2])["functionCall"].(map[string]any)
	assert.Equal(t, "get_weather", call["name"])
	assert.Equal(t, map[string]any{"city": "Oslo"}, call["args"])

	finalCandidate := rec.records[3].data["candidates"].([]any)[0].(map[string]any)
	assert.Equal(t, "STOP", finalCandidate["finishReason"])

	usage := rec.records[3].data["usageMetadata"].(map[string]any)
	assert.EqualValues(t, 8, usage["totalTokenCount"])
}

func TestGeminiEmitter_Failure(t *testing.T) {
	rec := &sseRecorder{}
	emitter := NewGeminiEmitter(rec, "gemini-test")
	NewEngine(emitter, fixedUsage(0, 0)).Run(&scriptStream{err: assert.AnError})

	last := rec.records[len(rec.records)-1].data["error"].(map[string]any)
	assert.EqualValues(t, 500, last["code"])
	assert.Equal(t, "INTERNAL", last["status"])
}
