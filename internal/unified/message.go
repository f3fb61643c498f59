// Package unified defines the protocol-neutral message, tool, and stream
// types shared by every decoder and encoder in the gateway. Each external
// protocol is parsed into these types on the way in and rendered from them
// on the way out; nothing below the handler layer knows which protocol a
// request arrived on.
package unified

import (
	"encoding/json"

	"github.com/google/uuid"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single role-tagged message. Part order is meaningful and is
// replayed verbatim to the host capability.
type Message struct {
	Role  string
	Parts []Part
}

// Part is one content block inside a message.
type Part interface {
	isPart()
}

// TextPart is a plain text run.
type TextPart struct {
	Text string
}

// ToolCallPart records an assistant tool invocation.
type ToolCallPart struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResultPart carries the result of an earlier tool call. Its content is
// itself a part sequence so structured results survive the round trip.
type ToolResultPart struct {
	CallID string
	Parts  []Part
}

// ImagePart holds inline binary image data.
type ImagePart struct {
	Data     []byte
	MIMEType string
}

func (TextPart) isPart()       {}
func (ToolCallPart) isPart()   {}
func (ToolResultPart) isPart() {}
func (ImagePart) isPart()      {}

// EnsureParts guarantees a non-empty part sequence. Decoders call this so an
// empty message never reaches the host capability.
func EnsureParts(parts []Part) []Part {
	if len(parts) == 0 {
		return []Part{TextPart{}}
	}

	return parts
}

// NewToolCallID mints a call id in the toolu_ convention.
func NewToolCallID() string {
	return "toolu_" + uuid.NewString()
}

// NewMessageID mints a response id with the given protocol prefix,
// e.g. "msg", "chatcmpl", "resp".
func NewMessageID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
