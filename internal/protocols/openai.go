package protocols

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  json.RawMessage `json:"tool_choice,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
	MaxComplete *int            `json:"max_completion_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	Stop        json.RawMessage `json:"stop,omitempty"`
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters,omitempty"`
	} `json:"function"`
}

// DecodeOpenAIChat parses an OpenAI-style chat completions request.
func DecodeOpenAIChat(body []byte) (*unified.Request, error) {
	var wire openaiChatRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, decodeErrorf("invalid request body: %v", err)
	}

	if wire.Model == "" {
		return nil, decodeErrorf("missing required field: model")
	}

	if len(wire.Messages) == 0 {
		return nil, decodeErrorf("missing required field: messages")
	}

	req := &unified.Request{
		Model:      wire.Model,
		ToolChoice: unified.ToolChoice{Mode: unified.ToolChoiceAuto},
		Stream:     wire.Stream,
		Options: unified.Options{
			Temperature:   wire.Temperature,
			TopP:          wire.TopP,
			StopSequences: decodeStopSequences(wire.Stop),
		},
	}

	// max_completion_tokens supersedes the deprecated max_tokens.
	req.Options.MaxTokens = wire.MaxComplete
	if req.Options.MaxTokens == nil {
		req.Options.MaxTokens = wire.MaxTokens
	}

	for _, msg := range wire.Messages {
		decoded, err := decodeOpenAIMessage(msg)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, decoded)
	}

	choice, err := decodeOpenAIToolChoice(wire.ToolChoice)
	if err != nil {
		return nil, err
	}

	req.ToolChoice = choice

	if choice.Mode != unified.ToolChoiceNone {
		for _, tool := range wire.Tools {
			if tool.Type != "" && tool.Type != "function" {
				continue
			}

			req.Tools = append(req.Tools, unified.ToolDefinition{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				InputSchema: tool.Function.Parameters,
			})
		}
	}

	return req, nil
}

func decodeStopSequences(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}

	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}

	return nil
}

func decodeOpenAIMessage(msg openaiMessage) (unified.Message, error) {
	switch msg.Role {
	case "tool":
		parts, err := decodeOpenAIContent(msg.Content)
		if err != nil {
			return unified.Message{}, err
		}

		return unified.Message{
			Role: unified.RoleUser,
			Parts: []unified.Part{unified.ToolResultPart{
				CallID: msg.ToolCallID,
				Parts:  unified.EnsureParts(parts),
			}},
		}, nil
	case unified.RoleAssistant:
		parts, err := decodeOpenAIContent(msg.Content)
		if err != nil {
			return unified.Message{}, err
		}

		for _, call := range msg.ToolCalls {
			input := json.RawMessage(call.Function.Arguments)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}

			parts = append(parts, unified.ToolCallPart{
				ID:    call.ID,
				Name:  call.Function.Name,
				Input: input,
			})
		}

		return unified.Message{Role: unified.RoleAssistant, Parts: unified.EnsureParts(parts)}, nil
	default:
		// system and developer instructions become a leading user message;
		// the host capability has no distinct system role.
		parts, err := decodeOpenAIContent(msg.Content)
		if err != nil {
			return unified.Message{}, err
		}

		return unified.Message{Role: unified.RoleUser, Parts: unified.EnsureParts(parts)}, nil
	}
}

// decodeOpenAIContent handles plain strings and typed content-part arrays.
func decodeOpenAIContent(raw json.RawMessage) ([]unified.Part, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []unified.Part{unified.TextPart{Text: text}}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErrorf("invalid message content: %v", err)
	}

	parts := make([]unified.Part, 0, len(items))

	for _, item := range items {
		var block struct {
			Type     string `json:"type"`
			Text     string `json:"text"`
			ImageURL struct {
				URL string `json:"url"`
			} `json:"image_url"`
		}

		if err := json.Unmarshal(item, &block); err != nil {
			return nil, decodeErrorf("invalid content part: %v", err)
		}

		switch block.Type {
		case "text", "input_text", "output_text":
			parts = append(parts, unified.TextPart{Text: block.Text})
		case "image_url", "input_image":
			if part, ok := decodeDataURL(block.ImageURL.URL); ok {
				parts = append(parts, part)
			} else {
				// Remote URLs cannot be fetched here; keep the reference
				// visible as text.
				parts = append(parts, unified.TextPart{Text: string(item)})
			}
		default:
			parts = append(parts, unified.TextPart{Text: string(item)})
		}
	}

	return parts, nil
}

func decodeOpenAIToolChoice(raw json.RawMessage) (unified.ToolChoice, error) {
	if len(raw) == 0 {
		return unified.ToolChoice{Mode: unified.ToolChoiceAuto}, nil
	}

	var mode string
	if err := json.Unmarshal(raw, &mode); err == nil {
		switch mode {
		case "", "auto":
			return unified.ToolChoice{Mode: unified.ToolChoiceAuto}, nil
		case "none":
			return unified.ToolChoice{Mode: unified.ToolChoiceNone}, nil
		case "required":
			return unified.ToolChoice{Mode: unified.ToolChoiceRequired}, nil
		default:
			return unified.ToolChoice{}, decodeErrorf("unknown tool_choice: %s", mode)
		}
	}

	var wire struct {
		Type     string `json:"type"`
		Name     string `json:"name"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}

	if err := json.Unmarshal(raw, &wire); err != nil {
		return unified.ToolChoice{}, decodeErrorf("invalid tool_choice: %v", err)
	}

	name := wire.Function.Name
	if name == "" {
		name = wire.Name
	}

	if name == "" {
		return unified.ToolChoice{}, decodeErrorf("tool_choice function name is required")
	}

	return unified.ToolChoice{Mode: unified.ToolChoiceTool, Name: name}, nil
}

// decodeDataURL converts a data: URL into an image part. Anything else
// (http references) is not representable as binary data here.
func decodeDataURL(url string) (unified.ImagePart, bool) {
	rest, found := strings.CutPrefix(url, "data:")
	if !found {
		return unified.ImagePart{}, false
	}

	meta, payload, found := strings.Cut(rest, ",")
	if !found || !strings.HasSuffix(meta, ";base64") {
		return unified.ImagePart{}, false
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return unified.ImagePart{}, false
	}

	return unified.ImagePart{
		Data:     data,
		MIMEType: strings.TrimSuffix(meta, ";base64"),
	}, true
}

type openaiChatResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Model   string             `json:"model"`
	Choices []openaiChatChoice `json:"choices"`
	Usage   openaiUsage        `json:"usage"`
}

type openaiChatChoice struct {
	Index        int                  `json:"index"`
	Message      openaiChatRespMsg    `json:"message"`
	FinishReason string               `json:"finish_reason"`
	Logprobs     *struct{}            `json:"logprobs"`
}

type openaiChatRespMsg struct {
	Role      string           `json:"role"`
	Content   *string          `json:"content"`
	ToolCalls []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewChatCompletionID mints an id in the chatcmpl- convention.
func NewChatCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// EncodeOpenAIChatResponse assembles the non-streaming chat.completion
// object.
func EncodeOpenAIChatResponse(model string, result *Result, usage unified.Usage) ([]byte, error) {
	message := openaiChatRespMsg{Role: unified.RoleAssistant}

	var text string

	for _, block := range result.Blocks {
		if block.Call == nil {
			text += block.Text
			continue
		}

		call := openaiToolCall{ID: block.Call.ID, Type: "function"}
		call.Function.Name = block.Call.Name
		call.Function.Arguments = block.Call.Arguments
		message.ToolCalls = append(message.ToolCalls, call)
	}

	if text != "" || len(message.ToolCalls) == 0 {
		message.Content = &text
	}

	finish := "stop"
	if result.ToolUse {
		finish = "tool_calls"
	}

	resp := openaiChatResponse{
		ID:      NewChatCompletionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []openaiChatChoice{{Message: message, FinishReason: finish}},
		Usage: openaiUsage{
			PromptTokens:     usage.InputTokens,
			CompletionTokens: usage.OutputTokens,
			TotalTokens:      usage.InputTokens + usage.OutputTokens,
		},
	}

	return json.Marshal(resp)
}

// OpenAIErrorBody builds the OpenAI-shaped error envelope.
func OpenAIErrorBody(errType, code, message string) []byte {
	errObj := map[string]any{
		"message": message,
		"type":    errType,
		"param":   nil,
	}

	if code != "" {
		errObj["code"] = code
	} else {
		errObj["code"] = nil
	}

	body, _ := json.Marshal(map[string]any{"error": errObj})

	return body
}
