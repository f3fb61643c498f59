package protocols

import (
	"encoding/base64"
	"encoding/json"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

// Claude wire shapes. Content is raw because it may be a plain string or an
// array of typed blocks.
type claudeRequest struct {
	Model         string          `json:"model"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []claudeMessage `json:"messages"`
	Tools         []claudeTool    `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	MaxTokens     *int            `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type claudeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type claudeBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Source    *claudeSource   `json:"source,omitempty"`
}

type claudeSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// DecodeClaude parses a Claude-style messages request.
func DecodeClaude(body []byte) (*unified.Request, error) {
	var wire claudeRequest
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
			MaxTokens:     wire.MaxTokens,
			Temperature:   wire.Temperature,
			TopP:          wire.TopP,
			StopSequences: wire.StopSequences,
		},
	}

	// The host capability has no distinct system role; system instructions
	// lead the conversation as a user message.
	if len(wire.System) > 0 {
		parts, err := decodeClaudeContent(wire.System)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, unified.Message{
			Role:  unified.RoleUser,
			Parts: unified.EnsureParts(parts),
		})
	}

	for _, msg := range wire.Messages {
		role := unified.RoleUser
		if msg.Role == unified.RoleAssistant {
			role = unified.RoleAssistant
		}

		parts, err := decodeClaudeContent(msg.Content)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, unified.Message{
			Role:  role,
			Parts: unified.EnsureParts(parts),
		})
	}

	choice, err := decodeClaudeToolChoice(wire.ToolChoice)
	if err != nil {
		return nil, err
	}

	req.ToolChoice = choice

	// An explicit "none" suppresses tool advertisement entirely.
	if choice.Mode != unified.ToolChoiceNone {
		for _, tool := range wire.Tools {
			req.Tools = append(req.Tools, unified.ToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.InputSchema,
			})
		}
	}

	return req, nil
}

// decodeClaudeContent handles both the plain-string and block-array forms.
func decodeClaudeContent(raw json.RawMessage) ([]unified.Part, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []unified.Part{unified.TextPart{Text: text}}, nil
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, decodeErrorf("invalid message content: %v", err)
	}

	parts := make([]unified.Part, 0, len(blocks))

	for _, rawBlock := range blocks {
		part, err := decodeClaudeBlock(rawBlock)
		if err != nil {
			return nil, err
		}

		parts = append(parts, part)
	}

	return parts, nil
}

func decodeClaudeBlock(raw json.RawMessage) (unified.Part, error) {
	var block claudeBlock
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, decodeErrorf("invalid content block: %v", err)
	}

	switch block.Type {
	case "text":
		return unified.TextPart{Text: block.Text}, nil
	case "tool_use":
		input := block.Input
		if len(input) == 0 {
			input = json.RawMessage("{}")
		}

		return unified.ToolCallPart{ID: block.ID, Name: block.Name, Input: input}, nil
	case "tool_result":
		inner, err := decodeClaudeContent(block.Content)
		if err != nil {
			return nil, err
		}

		return unified.ToolResultPart{
			CallID: block.ToolUseID,
			Parts:  unified.EnsureParts(inner),
		}, nil
	case "image":
		if block.Source != nil && block.Source.Type == "base64" {
			data, err := base64.StdEncoding.DecodeString(block.Source.Data)
			if err != nil {
				return nil, decodeErrorf("invalid base64 image data: %v", err)
			}

			return unified.ImagePart{Data: data, MIMEType: block.Source.MediaType}, nil
		}
		// URL-referenced images cannot cross the capability boundary as
		// binary data; carry the block as serialized text instead.
		return unified.TextPart{Text: string(raw)}, nil
	default:
		// Unknown block kinds (documents, thinking, ...) are serialized
		// rather than silently dropped.
		return unified.TextPart{Text: string(raw)}, nil
	}
}

func decodeClaudeToolChoice(raw json.RawMessage) (unified.ToolChoice, error) {
	if len(raw) == 0 {
		return unified.ToolChoice{Mode: unified.ToolChoiceAuto}, nil
	}

	var wire struct {
		Type string `json:"type"`
		Name string `json:"name,omitempty"`
	}

	if err := json.Unmarshal(raw, &wire); err != nil {
		return unified.ToolChoice{}, decodeErrorf("invalid tool_choice: %v", err)
	}

	switch wire.Type {
	case "", "auto":
		return unified.ToolChoice{Mode: unified.ToolChoiceAuto}, nil
	case "any":
		return unified.ToolChoice{Mode: unified.ToolChoiceRequired}, nil
	case "none":
		return unified.ToolChoice{Mode: unified.ToolChoiceNone}, nil
	case "tool":
		return unified.ToolChoice{Mode: unified.ToolChoiceTool, Name: wire.Name}, nil
	default:
		return unified.ToolChoice{}, decodeErrorf("unknown tool_choice type: %s", wire.Type)
	}
}

// Claude non-streaming response shapes.
type claudeResponse struct {
	ID           string               `json:"id"`
	Type         string               `json:"type"`
	Role         string               `json:"role"`
	Model        string               `json:"model"`
	Content      []claudeContentBlock `json:"content"`
	StopReason   string               `json:"stop_reason"`
	StopSequence *string              `json:"stop_sequence"`
	Usage        claudeUsage          `json:"usage"`
}

type claudeContentBlock struct {
	Type  string         `json:"type"`
	Text  *string        `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// EncodeClaudeResponse assembles the non-streaming Claude response.
func EncodeClaudeResponse(model string, result *Result, usage unified.Usage) ([]byte, error) {
	resp := claudeResponse{
		ID:         unified.NewMessageID("msg"),
		Type:       "message",
		Role:       unified.RoleAssistant,
		Model:      model,
		StopReason: "end_turn",
		Usage: claudeUsage{
			InputTokens:  usage.InputTokens,
			OutputTokens: usage.OutputTokens,
		},
	}

	if result.ToolUse {
		resp.StopReason = "tool_use"
	}

	for _, block := range result.Blocks {
		if block.Call == nil {
			text := block.Text
			resp.Content = append(resp.Content, claudeContentBlock{Type: "text", Text: &text})

			continue
		}

		input := map[string]any{}
		if block.Call.Arguments != "" {
			// Unparseable arguments degrade to an empty input object; the
			// raw string has already been counted for usage.
			_ = json.Unmarshal([]byte(block.Call.Arguments), &input)
		}

		resp.Content = append(resp.Content, claudeContentBlock{
			Type:  "tool_use",
			ID:    block.Call.ID,
			Name:  block.Call.Name,
			Input: input,
		})
	}

	if len(resp.Content) == 0 {
		empty := ""
		resp.Content = []claudeContentBlock{{Type: "text", Text: &empty}}
	}

	return json.Marshal(resp)
}

// ClaudeTokenCountBody builds the count_tokens response.
func ClaudeTokenCountBody(inputTokens int) []byte {
	body, _ := json.Marshal(map[string]any{
		"input_tokens": inputTokens,
	})

	return body
}

// ClaudeErrorBody builds the Claude-shaped error envelope.
func ClaudeErrorBody(errType, message string) []byte {
	body, _ := json.Marshal(map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    errType,
			"message": message,
		},
	})

	return body
}
