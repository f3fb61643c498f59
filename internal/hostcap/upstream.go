package hostcap

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

// UpstreamConfig configures the default capability adapter, which fronts an
// OpenAI-compatible chat completions endpoint.
type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	// Models lists the handles this process exposes, as "id" or
	// "id@version". The listing is fixed for the process lifetime.
	Models []string
	Client *http.Client
	Logger *slog.Logger
}

// Upstream implements Capability against an OpenAI-compatible endpoint. It
// always requests a streamed completion and re-chunks the response into
// StreamParts, buffering incremental tool-call argument deltas so that tool
// calls are emitted whole.
type Upstream struct {
	baseURL string
	apiKey  string
	handles []ModelHandle
	client  *http.Client
	logger  *slog.Logger
}

func NewUpstream(cfg UpstreamConfig) *Upstream {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	handles := make([]ModelHandle, 0, len(cfg.Models))
	for _, entry := range cfg.Models {
		id, version, _ := strings.Cut(entry, "@")
		handles = append(handles, ModelHandle{ID: id, Version: version})
	}

	return &Upstream{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		handles: handles,
		client:  client,
		logger:  logger,
	}
}

func (u *Upstream) ListModels(_ context.Context) ([]ModelHandle, error) {
	out := make([]ModelHandle, len(u.handles))
	copy(out, u.handles)

	return out, nil
}

func (u *Upstream) CountTokens(_ context.Context, _ ModelHandle, text string) (int, error) {
	return CountText(text)
}

func (u *Upstream) Send(ctx context.Context, handle ModelHandle, req *unified.Request) (PartStream, error) {
	body, err := u.encodeRequest(handle, req)
	if err != nil {
		return nil, fmt.Errorf("encode upstream request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create upstream request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if u.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+u.apiKey)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()

		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		u.logger.Error("Upstream error response", "status", resp.StatusCode, "body", string(errBody))

		return nil, fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, upstreamErrorMessage(errBody))
	}

	bodyReader, err := decompressReader(resp)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("decompress upstream response: %w", err)
	}

	stream := &upstreamStream{items: make(chan streamItem, 8)}
	go u.scan(resp, bodyReader, stream)

	return stream, nil
}

func upstreamErrorMessage(body []byte) string {
	var wrapper struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}

	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}

	return strings.TrimSpace(string(body))
}

func decompressReader(resp *http.Response) (io.Reader, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		return gzip.NewReader(resp.Body)
	case "br":
		return brotli.NewReader(resp.Body), nil
	default:
		return resp.Body, nil
	}
}

type streamItem struct {
	part unified.StreamPart
	err  error
}

type upstreamStream struct {
	items chan streamItem
}

func (s *upstreamStream) Recv() (unified.StreamPart, error) {
	item, ok := <-s.items
	if !ok {
		return unified.StreamPart{}, io.EOF
	}

	return item.part, item.err
}

// pendingCall accumulates one upstream tool call until its arguments are
// complete.
type pendingCall struct {
	index int
	id    string
	name  string
	args  strings.Builder
}

func (u *Upstream) scan(resp *http.Response, bodyReader io.Reader, stream *upstreamStream) {
	defer resp.Body.Close()
	defer close(stream.items)

	scanner := bufio.NewScanner(bodyReader)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)

	var pending []*pendingCall

	flushPending := func() {
		for _, call := range pending {
			args := call.args.String()
			if args == "" {
				args = "{}"
			}

			// Some upstreams never send an id fragment; mint one so
			// calls within a response stay distinguishable.
			if call.id == "" {
				call.id = unified.NewToolCallID()
			}

			stream.items <- streamItem{part: unified.ToolCall(call.id, call.name, args)}
		}

		pending = pending[:0]
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		data, found := strings.CutPrefix(line, "data: ")
		if !found {
			continue
		}

		if data == "[DONE]" {
			break
		}

		var chunk upstreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			u.logger.Warn("Skipping malformed upstream chunk", "error", err)
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta

		for _, tc := range delta.ToolCalls {
			call := findPending(&pending, tc.Index)
			if tc.ID != "" {
				call.id = tc.ID
			}

			if tc.Function.Name != "" {
				call.name = tc.Function.Name
			}

			call.args.WriteString(tc.Function.Arguments)
		}

		if delta.Content != "" {
			// Text following buffered tool calls means those calls are
			// complete; release them first to preserve arrival order.
			flushPending()
			stream.items <- streamItem{part: unified.TextDelta(delta.Content)}
		}

		if chunk.Choices[0].FinishReason != nil {
			flushPending()
		}
	}

	flushPending()

	if err := scanner.Err(); err != nil {
		stream.items <- streamItem{err: fmt.Errorf("upstream stream failed: %w", err)}
	}
}

func findPending(pending *[]*pendingCall, index int) *pendingCall {
	for _, call := range *pending {
		if call.index == index {
			return call
		}
	}

	call := &pendingCall{index: index}
	*pending = append(*pending, call)

	return call
}

type upstreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// encodeRequest renders a unified request as an OpenAI-compatible chat
// completions body.
func (u *Upstream) encodeRequest(handle ModelHandle, req *unified.Request) ([]byte, error) {
	body := map[string]any{
		"model":  handle.ID,
		"stream": true,
	}

	var messages []any
	for _, msg := range req.Messages {
		messages = append(messages, encodeUpstreamMessage(msg)...)
	}

	body["messages"] = messages

	if len(req.Tools) > 0 && req.ToolChoice.Mode != unified.ToolChoiceNone {
		tools := make([]any, 0, len(req.Tools))
		for _, tool := range req.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  tool.InputSchema,
				},
			})
		}

		body["tools"] = tools

		switch req.ToolChoice.Mode {
		case unified.ToolChoiceRequired:
			body["tool_choice"] = "required"
		case unified.ToolChoiceTool:
			body["tool_choice"] = map[string]any{
				"type":     "function",
				"function": map[string]any{"name": req.ToolChoice.Name},
			}
		}
	}

	if req.Options.MaxTokens != nil {
		body["max_completion_tokens"] = *req.Options.MaxTokens
	}

	if req.Options.Temperature != nil {
		body["temperature"] = *req.Options.Temperature
	}

	if req.Options.TopP != nil {
		body["top_p"] = *req.Options.TopP
	}

	if len(req.Options.StopSequences) > 0 {
		body["stop"] = req.Options.StopSequences
	}

	return json.Marshal(body)
}

// encodeUpstreamMessage flattens one unified message into OpenAI chat
// messages. Tool results become separate role:tool messages; everything else
// folds into a single message for the original role.
func encodeUpstreamMessage(msg unified.Message) []any {
	var (
		out       []any
		content   []any
		toolCalls []any
	)

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case unified.TextPart:
			content = append(content, map[string]any{"type": "text", "text": p.Text})
		case unified.ImagePart:
			dataURL := "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
			content = append(content, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": dataURL},
			})
		case unified.ToolCallPart:
			toolCalls = append(toolCalls, map[string]any{
				"id":   p.ID,
				"type": "function",
				"function": map[string]any{
					"name":      p.Name,
					"arguments": string(p.Input),
				},
			})
		case unified.ToolResultPart:
			out = append(out, map[string]any{
				"role":         "tool",
				"tool_call_id": p.CallID,
				"content":      flattenResultText(p.Parts),
			})
		}
	}

	if len(content) > 0 || len(toolCalls) > 0 {
		message := map[string]any{"role": msg.Role}

		switch {
		case len(content) == 1:
			if text, ok := content[0].(map[string]any)["text"].(string); ok {
				message["content"] = text
			} else {
				message["content"] = content
			}
		case len(content) > 0:
			message["content"] = content
		default:
			message["content"] = ""
		}

		if len(toolCalls) > 0 {
			message["tool_calls"] = toolCalls
		}

		out = append(out, message)
	}

	return out
}

func flattenResultText(parts []unified.Part) string {
	var sb strings.Builder

	for _, part := range parts {
		switch p := part.(type) {
		case unified.TextPart:
			sb.WriteString(p.Text)
		case unified.ImagePart:
			// The upstream tool-result channel is text only; describe the
			// binary payload instead of dropping it.
			encoded, _ := json.Marshal(map[string]any{
				"type":      "image",
				"mime_type": p.MIMEType,
				"size":      len(p.Data),
			})
			sb.Write(encoded)
		}
	}

	return sb.String()
}
