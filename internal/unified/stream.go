package unified

// StreamPartKind discriminates StreamPart variants.
type StreamPartKind string

const (
	StreamText     StreamPartKind = "text_delta"
	StreamToolCall StreamPartKind = "tool_call"
)

// StreamCall is a complete tool invocation emitted by the host capability.
// Tool calls always arrive whole, never as incremental argument fragments.
type StreamCall struct {
	ID        string
	Name      string
	Arguments string // serialized JSON object
}

// StreamPart is one increment of host capability output.
type StreamPart struct {
	Kind StreamPartKind
	Text string      // set for StreamText
	Call *StreamCall // set for StreamToolCall
}

// TextDelta builds a text increment.
func TextDelta(text string) StreamPart {
	return StreamPart{Kind: StreamText, Text: text}
}

// ToolCall builds a whole-tool-call increment.
func ToolCall(id, name, arguments string) StreamPart {
	return StreamPart{Kind: StreamToolCall, Call: &StreamCall{ID: id, Name: name, Arguments: arguments}}
}
