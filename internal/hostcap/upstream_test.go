package hostcap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

func sseServer(t *testing.T, capture *[]byte, lines ...string) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			*capture = body
		}

		w.Header().Set("Content-Type", "text/event-stream")

		for _, line := range lines {
			fmt.Fprintf(w, "%s\n\n", line)
		}
	}))
}

func drain(t *testing.T, stream PartStream) []unified.StreamPart {
	t.Helper()

	var parts []unified.StreamPart

	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return parts
		}

		require.NoError(t, err)
		parts = append(parts, part)
	}
}

func TestUpstream_ListModels(t *testing.T) {
	u := NewUpstream(UpstreamConfig{
		BaseURL: "https://api.example.com/v1",
		Models:  []string{"claude-opus-4.5@cc-2025", "gpt-5.2"},
	})

	handles, err := u.ListModels(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []ModelHandle{
		{ID: "claude-opus-4.5", Version: "cc-2025"},
		{ID: "gpt-5.2", Version: ""},
	}, handles)
}

func TestUpstream_SendTextStream(t *testing.T) {
	var captured []byte
	server := sseServer(t, &captured,
		`data: {"choices":[{"delta":{"content":"Hel"}}]}`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)
	defer server.Close()

	u := NewUpstream(UpstreamConfig{BaseURL: server.URL, APIKey: "k", Models: []string{"m"}})

	req := &unified.Request{
		Model: "m",
		Messages: []unified.Message{
			{Role: unified.RoleUser, Parts: []unified.Part{unified.TextPart{Text: "hi"}}},
		},
	}

	stream, err := u.Send(context.Background(), ModelHandle{ID: "m"}, req)
	require.NoError(t, err)

	parts := drain(t, stream)
	require.Len(t, parts, 2)
	assert.Equal(t, unified.TextDelta("Hel"), parts[0])
	assert.Equal(t, unified.TextDelta("lo"), parts[1])

	// The upstream request always asks for a stream.
	var body map[string]any
	require.NoError(t, json.Unmarshal(captured, &body))
	assert.Equal(t, true, body["stream"])
	assert.Equal(t, "m", body["model"])
}

func TestUpstream_BuffersToolCallArguments(t *testing.T) {
	server := sseServer(t, nil,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":"{\"ci"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ty\":\"Oslo\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	)
	defer server.Close()

	u := NewUpstream(UpstreamConfig{BaseURL: server.URL, Models: []string{"m"}})

	stream, err := u.Send(context.Background(), ModelHandle{ID: "m"}, &unified.Request{
		Messages: []unified.Message{
			{Role: unified.RoleUser, Parts: []unified.Part{unified.TextPart{Text: "hi"}}},
		},
	})
	require.NoError(t, err)

	parts := drain(t, stream)
	require.Len(t, parts, 1, "argument deltas coalesce into one whole call")

	require.Equal(t, unified.StreamToolCall, parts[0].Kind)
	assert.Equal(t, "call_1", parts[0].Call.ID)
	assert.Equal(t, "get_weather", parts[0].Call.Name)
	assert.JSONEq(t, `{"city":"Oslo"}`, parts[0].Call.Arguments)
}

func TestUpstream_MintsIDsForAnonymousToolCalls(t *testing.T) {
	server := sseServer(t, nil,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"get_weather","arguments":"{\"city\":\"Oslo\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"function":{"name":"get_time","arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	)
	defer server.Close()

	u := NewUpstream(UpstreamConfig{BaseURL: server.URL, Models: []string{"m"}})

	stream, err := u.Send(context.Background(), ModelHandle{ID: "m"}, &unified.Request{
		Messages: []unified.Message{
			{Role: unified.RoleUser, Parts: []unified.Part{unified.TextPart{Text: "hi"}}},
		},
	})
	require.NoError(t, err)

	parts := drain(t, stream)
	require.Len(t, parts, 2)

	require.Equal(t, unified.StreamToolCall, parts[0].Kind)
	require.Equal(t, unified.StreamToolCall, parts[1].Kind)
	assert.NotEmpty(t, parts[0].Call.ID)
	assert.NotEmpty(t, parts[1].Call.ID)
	assert.NotEqual(t, parts[0].Call.ID, parts[1].Call.ID, "minted ids stay unique within one response")
}

func TestUpstream_TextAfterToolFlushesInOrder(t *testing.T) {
	server := sseServer(t, nil,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"f","arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{"content":"after"}}]}`,
		`data: [DONE]`,
	)
	defer server.Close()

	u := NewUpstream(UpstreamConfig{BaseURL: server.URL, Models: []string{"m"}})

	stream, err := u.Send(context.Background(), ModelHandle{ID: "m"}, &unified.Request{
		Messages: []unified.Message{
			{Role: unified.RoleUser, Parts: []unified.Part{unified.TextPart{Text: "hi"}}},
		},
	})
	require.NoError(t, err)

	parts := drain(t, stream)
	require.Len(t, parts, 2)
	assert.Equal(t, unified.StreamToolCall, parts[0].Kind)
	assert.Equal(t, unified.StreamText, parts[1].Kind)
}

func TestUpstream_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":{"message":"The model is not supported"}}`)
	}))
	defer server.Close()

	u := NewUpstream(UpstreamConfig{BaseURL: server.URL, Models: []string{"m"}})

	_, err := u.Send(context.Background(), ModelHandle{ID: "m"}, &unified.Request{
		Messages: []unified.Message{
			{Role: unified.RoleUser, Parts: []unified.Part{unified.TextPart{Text: "hi"}}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
	assert.Contains(t, err.Error(), "The model is not supported")
}

func TestEncodeUpstreamMessage_ToolResult(t *testing.T) {
	msg := unified.Message{
		Role: unified.RoleUser,
		Parts: []unified.Part{
			unified.ToolResultPart{CallID: "call_1", Parts: []unified.Part{
				unified.TextPart{Text: "sunny"},
			}},
			unified.TextPart{Text: "and now?"},
		},
	}

	out := encodeUpstreamMessage(msg)
	require.Len(t, out, 2)

	toolMsg := out[0].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, "call_1", toolMsg["tool_call_id"])
	assert.Equal(t, "sunny", toolMsg["content"])

	userMsg := out[1].(map[string]any)
	assert.Equal(t, "user", userMsg["role"])
	assert.Equal(t, "and now?", userMsg["content"], "single text part collapses to a string")
}

func TestEncodeUpstreamMessage_AssistantToolCalls(t *testing.T) {
	msg := unified.Message{
		Role: unified.RoleAssistant,
		Parts: []unified.Part{
			unified.ToolCallPart{ID: "call_1", Name: "f", Input: json.RawMessage(`{"a":1}`)},
		},
	}

	out := encodeUpstreamMessage(msg)
	require.Len(t, out, 1)

	m := out[0].(map[string]any)
	assert.Equal(t, "assistant", m["role"])
	assert.Equal(t, "", m["content"])

	calls := m["tool_calls"].([]any)
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].(map[string]any)["id"])
}

func TestCountText(t *testing.T) {
	n, err := CountText("Hello, world")
	require.NoError(t, err)
	assert.Greater(t, n, 0)

	zero, err := CountText("")
	require.NoError(t, err)
	assert.Zero(t, zero)
}
