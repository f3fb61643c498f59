package protocols

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

type responsesRequest struct {
	Model           string          `json:"model"`
	Input           json.RawMessage `json:"input,omitempty"`
	Instructions    string          `json:"instructions,omitempty"`
	Tools           []responsesTool `json:"tools,omitempty"`
	ToolChoice      json.RawMessage `json:"tool_choice,omitempty"`
	Stream          bool            `json:"stream,omitempty"`
	MaxOutputTokens *int            `json:"max_output_tokens,omitempty"`
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"top_p,omitempty"`

	// Stateful fields this gateway cannot honor; their presence is a 400.
	PreviousResponseID json.RawMessage `json:"previous_response_id,omitempty"`
	Conversation       json.RawMessage `json:"conversation,omitempty"`
}

// responsesTool is the flattened responses-style function declaration.
type responsesTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type responsesInputItem struct {
	Type    string          `json:"type,omitempty"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// function_call / function_call_output items.
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments string          `json:"arguments,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
}

// DecodeOpenAIResponses parses an OpenAI-style responses request. The
// gateway is stateless, so stateful fields are rejected outright rather
// than ignored.
func DecodeOpenAIResponses(body []byte) (*unified.Request, error) {
	var wire responsesRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, decodeErrorf("invalid request body: %v", err)
	}

	if len(wire.PreviousResponseID) > 0 && string(wire.PreviousResponseID) != "null" {
		return nil, &UnsupportedParameterError{Param: "previous_response_id"}
	}

	if len(wire.Conversation) > 0 && string(wire.Conversation) != "null" {
		return nil, &UnsupportedParameterError{Param: "conversation"}
	}

	if wire.Model == "" {
		return nil, decodeErrorf("missing required field: model")
	}

	if len(wire.Input) == 0 && wire.Instructions == "" {
		return nil, decodeErrorf("at least one of input or instructions is required")
	}

	req := &unified.Request{
		Model:      wire.Model,
		ToolChoice: unified.ToolChoice{Mode: unified.ToolChoiceAuto},
		Stream:     wire.Stream,
		Options: unified.Options{
			MaxTokens:   wire.MaxOutputTokens,
			Temperature: wire.Temperature,
			TopP:        wire.TopP,
		},
	}

	if wire.Instructions != "" {
		req.Messages = append(req.Messages, unified.Message{
			Role:  unified.RoleUser,
			Parts: []unified.Part{unified.TextPart{Text: wire.Instructions}},
		})
	}

	messages, err := decodeResponsesInput(wire.Input)
	if err != nil {
		return nil, err
	}

	req.Messages = append(req.Messages, messages...)

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
				Name:        tool.Name,
				Description: tool.Description,
				InputSchema: tool.Parameters,
			})
		}
	}

	return req, nil
}

// decodeResponsesInput handles the string form and the item-array form.
func decodeResponsesInput(raw json.RawMessage) ([]unified.Message, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []unified.Message{{
			Role:  unified.RoleUser,
			Parts: []unified.Part{unified.TextPart{Text: text}},
		}}, nil
	}

	var items []responsesInputItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, decodeErrorf("invalid input: %v", err)
	}

	var messages []unified.Message

	for _, item := range items {
		switch item.Type {
		case "function_call":
			input := json.RawMessage(item.Arguments)
			if len(input) == 0 {
				input = json.RawMessage("{}")
			}

			messages = append(messages, unified.Message{
				Role:  unified.RoleAssistant,
				Parts: []unified.Part{unified.ToolCallPart{ID: item.CallID, Name: item.Name, Input: input}},
			})
		case "function_call_output":
			parts, err := decodeOpenAIContent(item.Output)
			if err != nil {
				return nil, err
			}

			messages = append(messages, unified.Message{
				Role: unified.RoleUser,
				Parts: []unified.Part{unified.ToolResultPart{
					CallID: item.CallID,
					Parts:  unified.EnsureParts(parts),
				}},
			})
		case "", "message":
			parts, err := decodeOpenAIContent(item.Content)
			if err != nil {
				return nil, err
			}

			role := unified.RoleUser
			if item.Role == unified.RoleAssistant {
				role = unified.RoleAssistant
			}

			messages = append(messages, unified.Message{
				Role:  role,
				Parts: unified.EnsureParts(parts),
			})
		default:
			// Unknown item kinds are carried as serialized text, not
			// dropped.
			encoded, _ := json.Marshal(item)
			messages = append(messages, unified.Message{
				Role:  unified.RoleUser,
				Parts: []unified.Part{unified.TextPart{Text: string(encoded)}},
			})
		}
	}

	return messages, nil
}

// responsesOutputItems renders drained blocks as response output items.
func responsesOutputItems(responseID string, result *Result) []map[string]any {
	items := make([]map[string]any, 0, len(result.Blocks))

	for i, block := range result.Blocks {
		if block.Call == nil {
			items = append(items, map[string]any{
				"type":   "message",
				"id":     responsesItemID(responseID, i),
				"status": "completed",
				"role":   unified.RoleAssistant,
				"content": []any{map[string]any{
					"type":        "output_text",
					"text":        block.Text,
					"annotations": []any{},
				}},
			})

			continue
		}

		items = append(items, map[string]any{
			"type":      "function_call",
			"id":        responsesItemID(responseID, i),
			"call_id":   block.Call.ID,
			"name":      block.Call.Name,
			"arguments": block.Call.Arguments,
			"status":    "completed",
		})
	}

	return items
}

func responsesItemID(responseID string, index int) string {
	return fmt.Sprintf("%s-item-%d", responseID, index)
}

// EncodeOpenAIResponsesResponse assembles the non-streaming response object.
func EncodeOpenAIResponsesResponse(model string, result *Result, usage unified.Usage) ([]byte, error) {
	responseID := unified.NewMessageID("resp")

	return json.Marshal(map[string]any{
		"id":         responseID,
		"object":     "response",
		"created_at": time.Now().Unix(),
		"status":     "completed",
		"model":      model,
		"output":     responsesOutputItems(responseID, result),
		"usage": map[string]any{
			"input_tokens":  usage.InputTokens,
			"output_tokens": usage.OutputTokens,
			"total_tokens":  usage.InputTokens + usage.OutputTokens,
		},
	})
}
