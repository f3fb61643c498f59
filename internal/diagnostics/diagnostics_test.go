package diagnostics

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

func TestSanitizeRequest_RedactsContentKeepsShape(t *testing.T) {
	body := []byte(`{
		"model": "claude-opus-4.5",
		"system": "secret instructions",
		"messages": [
			{"role": "user", "content": "private question"},
			{"role": "assistant", "content": [
				{"type": "text", "text": "private answer"},
				{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "Oslo"}}
			]}
		]
	}`)

	sanitized := SanitizeRequest(body).(map[string]any)

	assert.Equal(t, "claude-opus-4.5", sanitized["model"], "metadata survives")
	assert.Equal(t, "[redacted]", sanitized["system"])

	messages := sanitized["messages"].([]any)
	require.Len(t, messages, 2, "array lengths survive")

	first := messages[0].(map[string]any)
	assert.Equal(t, "user", first["role"])
	assert.Equal(t, "[redacted]", first["content"])

	blocks := messages[1].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 2)

	text := blocks[0].(map[string]any)
	assert.Equal(t, "text", text["type"], "block kinds survive")
	assert.Equal(t, "[redacted]", text["text"])

	tool := blocks[1].(map[string]any)
	assert.Equal(t, "toolu_1", tool["id"], "ids survive")
	assert.Equal(t, "get_weather", tool["name"])
	assert.Equal(t, "[redacted]", tool["input"], "tool input redacts whole")
}

func TestSanitizeRequest_Unparseable(t *testing.T) {
	sanitized := SanitizeRequest([]byte("not json")).(map[string]any)
	assert.EqualValues(t, 8, sanitized["unparseable_bytes"])
}

func TestSanitizeMessages(t *testing.T) {
	messages := []unified.Message{
		{Role: unified.RoleUser, Parts: []unified.Part{
			unified.TextPart{Text: "hello there"},
			unified.ImagePart{Data: []byte{1, 2, 3}, MIMEType: "image/png"},
		}},
		{Role: unified.RoleAssistant, Parts: []unified.Part{
			unified.ToolCallPart{ID: "toolu_1", Name: "get_weather", Input: json.RawMessage(`{"city":"Oslo"}`)},
		}},
		{Role: unified.RoleUser, Parts: []unified.Part{
			unified.ToolResultPart{CallID: "toolu_1", Parts: []unified.Part{
				unified.TextPart{Text: "sunny"},
			}},
		}},
	}

	sanitized := SanitizeMessages(messages)
	require.Len(t, sanitized, 3)

	assert.Equal(t, SanitizedPart{Kind: "text", TextLength: 11}, sanitized[0].Parts[0])
	assert.Equal(t, SanitizedPart{Kind: "image", MIMEType: "image/png", DataBytes: 3}, sanitized[0].Parts[1])

	call := sanitized[1].Parts[0]
	assert.Equal(t, "tool_call", call.Kind)
	assert.Equal(t, "get_weather", call.ToolName)
	assert.Equal(t, 15, call.InputBytes)

	result := sanitized[2].Parts[0]
	assert.Equal(t, "tool_result", result.Kind)
	assert.Equal(t, "toolu_1", result.CallID)
	require.Len(t, result.Parts, 1)
	assert.Equal(t, 5, result.Parts[0].TextLength)
}

func TestRecorder_AppendsRecords(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, nil)

	assert.Empty(t, r.Path(), "no file until the first record")

	path := r.Record("/v1/messages", "claude-opus-4.5",
		[]byte(`{"model":"claude-opus-4.5"}`), nil, errors.New("upstream exploded"))
	require.NotEmpty(t, path)
	assert.Equal(t, path, r.Path())

	second := r.Record("/v1/responses", "gpt-test", nil, nil, errors.New("again"))
	assert.Equal(t, path, second, "one file per process lifetime")

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	var lines []map[string]any

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		lines = append(lines, entry)
	}

	require.Len(t, lines, 2)
	assert.Equal(t, "/v1/messages", lines[0]["endpoint"])
	assert.Equal(t, "upstream exploded", lines[0]["error"])
	assert.NotEmpty(t, lines[0]["timestamp"])
	assert.Equal(t, "gpt-test", lines[1]["model"])
}

func TestHint(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		hasHint bool
	}{
		{"tool pairing", errors.New("unexpected tool_use id in tool_result block"), true},
		{"unsupported model", errors.New("The model is not supported"), true},
		{"unknown", errors.New("connection reset by peer"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hint := Hint(tt.err)
			if tt.hasHint {
				assert.NotEmpty(t, hint)
			} else {
				assert.Empty(t, hint)
			}
		})
	}
}
