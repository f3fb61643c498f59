package protocols

import (
	"encoding/base64"
	"encoding/json"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	Tools             []geminiToolGroup `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenConfig  `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string            `json:"role,omitempty"`
	Parts []json.RawMessage `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiBlob             `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
}

type geminiBlob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

type geminiToolGroup struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations,omitempty"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig *struct {
		Mode                 string   `json:"mode,omitempty"`
		AllowedFunctionNames []string `json:"allowedFunctionNames,omitempty"`
	} `json:"functionCallingConfig,omitempty"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

// DecodeGemini parses a Gemini-style generateContent request. The model
// identifier arrives in the URL path, not the body.
func DecodeGemini(model string, body []byte) (*unified.Request, error) {
	if model == "" {
		return nil, decodeErrorf("missing model in request path")
	}

	var wire geminiRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, decodeErrorf("invalid request body: %v", err)
	}

	if len(wire.Contents) == 0 {
		return nil, decodeErrorf("missing required field: contents")
	}

	req := &unified.Request{
		Model:      model,
		ToolChoice: unified.ToolChoice{Mode: unified.ToolChoiceAuto},
	}

	if wire.GenerationConfig != nil {
		req.Options = unified.Options{
			MaxTokens:     wire.GenerationConfig.MaxOutputTokens,
			Temperature:   wire.GenerationConfig.Temperature,
			TopP:          wire.GenerationConfig.TopP,
			StopSequences: wire.GenerationConfig.StopSequences,
		}
	}

	// Tracks synthesized call ids so functionResponse parts, which Gemini
	// matches by name only, reattach to the right call.
	callIDs := make(map[string]string)

	if wire.SystemInstruction != nil {
		parts, err := decodeGeminiParts(wire.SystemInstruction.Parts, callIDs)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, unified.Message{
			Role:  unified.RoleUser,
			Parts: unified.EnsureParts(parts),
		})
	}

	for _, content := range wire.Contents {
		role := unified.RoleUser
		if content.Role == "model" {
			role = unified.RoleAssistant
		}

		parts, err := decodeGeminiParts(content.Parts, callIDs)
		if err != nil {
			return nil, err
		}

		req.Messages = append(req.Messages, unified.Message{
			Role:  role,
			Parts: unified.EnsureParts(parts),
		})
	}

	choice := decodeGeminiToolChoice(wire.ToolConfig)
	req.ToolChoice = choice

	if choice.Mode != unified.ToolChoiceNone {
		for _, group := range wire.Tools {
			for _, decl := range group.FunctionDeclarations {
				req.Tools = append(req.Tools, unified.ToolDefinition{
					Name:        decl.Name,
					Description: decl.Description,
					InputSchema: unified.NormalizeSchemaTypes(decl.Parameters),
				})
			}
		}
	}

	return req, nil
}

func decodeGeminiParts(raws []json.RawMessage, callIDs map[string]string) ([]unified.Part, error) {
	parts := make([]unified.Part, 0, len(raws))

	for _, raw := range raws {
		var part geminiPart
		if err := json.Unmarshal(raw, &part); err != nil {
			return nil, decodeErrorf("invalid content part: %v", err)
		}

		switch {
		case part.FunctionCall != nil:
			args, err := json.Marshal(part.FunctionCall.Args)
			if err != nil || part.FunctionCall.Args == nil {
				args = []byte("{}")
			}

			id := unified.NewToolCallID()
			callIDs[part.FunctionCall.Name] = id

			parts = append(parts, unified.ToolCallPart{
				ID:    id,
				Name:  part.FunctionCall.Name,
				Input: args,
			})
		case part.FunctionResponse != nil:
			id := callIDs[part.FunctionResponse.Name]
			if id == "" {
				id = unified.NewToolCallID()
			}

			encoded, err := json.Marshal(part.FunctionResponse.Response)
			if err != nil {
				encoded = []byte("{}")
			}

			parts = append(parts, unified.ToolResultPart{
				CallID: id,
				Parts:  []unified.Part{unified.TextPart{Text: string(encoded)}},
			})
		case part.InlineData != nil:
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, decodeErrorf("invalid inline data: %v", err)
			}

			parts = append(parts, unified.ImagePart{
				Data:     data,
				MIMEType: part.InlineData.MIMEType,
			})
		default:
			var probe map[string]json.RawMessage
			_ = json.Unmarshal(raw, &probe)

			if _, ok := probe["text"]; ok {
				parts = append(parts, unified.TextPart{Text: part.Text})
			} else {
				// fileData and future part kinds survive as serialized
				// text.
				parts = append(parts, unified.TextPart{Text: string(raw)})
			}
		}
	}

	return parts, nil
}

func decodeGeminiToolChoice(cfg *geminiToolConfig) unified.ToolChoice {
	if cfg == nil || cfg.FunctionCallingConfig == nil {
		return unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	}

	fc := cfg.FunctionCallingConfig

	switch fc.Mode {
	case "NONE":
		return unified.ToolChoice{Mode: unified.ToolChoiceNone}
	case "ANY":
		if len(fc.AllowedFunctionNames) == 1 {
			return unified.ToolChoice{Mode: unified.ToolChoiceTool, Name: fc.AllowedFunctionNames[0]}
		}

		return unified.ToolChoice{Mode: unified.ToolChoiceRequired}
	default:
		return unified.ToolChoice{Mode: unified.ToolChoiceAuto}
	}
}

// geminiResponseParts renders drained blocks as Gemini candidate parts.
func geminiResponseParts(result *Result) []map[string]any {
	parts := make([]map[string]any, 0, len(result.Blocks))

	for _, block := range result.Blocks {
		if block.Call == nil {
			parts = append(parts, map[string]any{"text": block.Text})
			continue
		}

		args := map[string]any{}
		if block.Call.Arguments != "" {
			_ = json.Unmarshal([]byte(block.Call.Arguments), &args)
		}

		parts = append(parts, map[string]any{
			"functionCall": map[string]any{
				"name": block.Call.Name,
				"args": args,
			},
		})
	}

	if len(parts) == 0 {
		parts = append(parts, map[string]any{"text": ""})
	}

	return parts
}

// EncodeGeminiResponse assembles the non-streaming generateContent
// response.
func EncodeGeminiResponse(model string, result *Result, usage unified.Usage) ([]byte, error) {
	return json.Marshal(map[string]any{
		"candidates": []any{map[string]any{
			"content": map[string]any{
				"parts": geminiResponseParts(result),
				"role":  "model",
			},
			"finishReason": "STOP",
			"index":        0,
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     usage.InputTokens,
			"candidatesTokenCount": usage.OutputTokens,
			"totalTokenCount":      usage.InputTokens + usage.OutputTokens,
		},
		"modelVersion": model,
	})
}

// EncodeGeminiTokenCount assembles the countTokens response.
func EncodeGeminiTokenCount(totalTokens int) []byte {
	body, _ := json.Marshal(map[string]any{"totalTokens": totalTokens})

	return body
}

// GeminiErrorBody builds the Gemini/google-rpc error envelope.
func GeminiErrorBody(code int, status, message string) []byte {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})

	return body
}
