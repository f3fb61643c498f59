package unified

// ToolDefinition advertises one callable tool to the host capability.
// InputSchema is a JSON Schema object using the lowercase type vocabulary;
// decoders for protocols with other vocabularies normalize before storing.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolChoiceMode selects how the host capability may use advertised tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"
	ToolChoiceRequired ToolChoiceMode = "required"
	ToolChoiceNone     ToolChoiceMode = "none"
	ToolChoiceTool     ToolChoiceMode = "tool"
)

// ToolChoice is the four-way tool selection. Name is set only for
// ToolChoiceTool.
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}
