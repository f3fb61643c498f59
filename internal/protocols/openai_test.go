package protocols

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

func TestDecodeOpenAIChat_Basic(t *testing.T) {
	body := `{
		"model": "gpt-test",
		"max_tokens": 512,
		"temperature": 0.7,
		"stop": ["END"],
		"messages": [
			{"role": "system", "content": "be brief"},
			{"role": "user", "content": "hello"}
		]
	}`

	req, err := DecodeOpenAIChat([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "gpt-test", req.Model)
	require.NotNil(t, req.Options.MaxTokens)
	assert.Equal(t, 512, *req.Options.MaxTokens)
	assert.Equal(t, []string{"END"}, req.Options.StopSequences)

	require.Len(t, req.Messages, 2)
	assert.Equal(t, unified.RoleUser, req.Messages[0].Role, "system collapses to user")
	assert.Equal(t, unified.TextPart{Text: "be brief"}, req.Messages[0].Parts[0])
}

func TestDecodeOpenAIChat_MaxCompletionTokensWins(t *testing.T) {
	body := `{
		"model": "m",
		"max_tokens": 100,
		"max_completion_tokens": 200,
		"messages": [{"role": "user", "content": "hi"}]
	}`

	req, err := DecodeOpenAIChat([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, req.Options.MaxTokens)
	assert.Equal(t, 200, *req.Options.MaxTokens)
}

func TestDecodeOpenAIChat_ToolRoundTrip(t *testing.T) {
	body := `{
		"model": "m",
		"messages": [
			{"role": "assistant", "tool_calls": [
				{"id": "call_1", "type": "function",
				 "function": {"name": "get_weather", "arguments": "{\"city\":\"Oslo\"}"}}
			]},
			{"role": "tool", "tool_call_id": "call_1", "content": "sunny"}
		]
	}`

	req, err := DecodeOpenAIChat([]byte(body))
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)

	call, ok := req.Messages[0].Parts[0].(unified.ToolCallPart)
	require.True(t, ok)
	assert.Equal(t, "call_1", call.ID)
	assert.JSONEq(t, `{"city":"Oslo"}`, string(call.Input))

	assert.Equal(t, unified.RoleUser, req.Messages[1].Role)
	result, ok := req.Messages[1].Parts[0].(unified.ToolResultPart)
	require.True(t, ok)
	assert.Equal(t, "call_1", result.CallID)
}

func TestDecodeOpenAIChat_ImageDataURL(t *testing.T) {
	body := `{
		"model": "m",
		"messages": [{"role": "user", "content": [
			{"type": "text", "text": "what is this"},
			{"type": "image_url", "image_url": {"url": "data:image/png;base64,aGk="}}
		]}]
	}`

	req, err := DecodeOpenAIChat([]byte(body))
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Parts, 2)

	img, ok := req.Messages[0].Parts[1].(unified.ImagePart)
	require.True(t, ok)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.Equal(t, []byte("hi"), img.Data)
}

func TestDecodeOpenAIChat_ToolChoiceForms(t *testing.T) {
	tests := []struct {
		name     string
		choice   string
		expected unified.ToolChoice
		wantErr  bool
	}{
		{"string auto", `"auto"`, unified.ToolChoice{Mode: unified.ToolChoiceAuto}, false},
		{"string none", `"none"`, unified.ToolChoice{Mode: unified.ToolChoiceNone}, false},
		{"string required", `"required"`, unified.ToolChoice{Mode: unified.ToolChoiceRequired}, false},
		{"object", `{"type": "function", "function": {"name": "f"}}`, unified.ToolChoice{Mode: unified.ToolChoiceTool, Name: "f"}, false},
		{"nameless object", `{"type": "function"}`, unified.ToolChoice{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"model": "m", "tool_choice": ` + tt.choice + `,
				"messages": [{"role": "user", "content": "hi"}]}`

			req, err := DecodeOpenAIChat([]byte(body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, req.ToolChoice)
		})
	}
}

func TestEncodeOpenAIChatResponse_ToolCalls(t *testing.T) {
	result := &Result{
		Blocks: []Block{
			{Call: &unified.StreamCall{ID: "call_1", Name: "get_weather", Arguments: `{"city":"Oslo"}`}},
		},
		ToolUse: true,
	}

	body, err := EncodeOpenAIChatResponse("gpt-test", result, unified.Usage{InputTokens: 5, OutputTokens: 7})
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(body, &resp))

	assert.Equal(t, "chat.completion", resp["object"])

	choice := resp["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_calls", choice["finish_reason"])

	message := choice["message"].(map[string]any)
	assert.Nil(t, message["content"], "content stays null on pure tool-call turns")

	calls := message["tool_calls"].([]any)
	require.Len(t, calls, 1)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "get_weather", fn["name"])

	usage := resp["usage"].(map[string]any)
	assert.EqualValues(t, 12, usage["total_tokens"])
}

func TestEncodeOpenAIChatResponse_TextOnly(t *testing.T) {
	result := &Result{Blocks: []Block{{Text: "hello"}}}

	body, err := EncodeOpenAIChatResponse("m", result, unified.Usage{})
	require.NoError(t, err)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(body, &resp))

	choice := resp["choices"].([]any)[0].(map[string]any)
	assert.Equal(t, "stop", choice["finish_reason"])
	assert.Equal(t, "hello", choice["message"].(map[string]any)["content"])
}
