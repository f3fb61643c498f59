// Package diagnostics persists sanitized failure context so operators can
// debug a request without its user content ever reaching the log. Records
// append to one JSON-lines file created once per process lifetime; the file
// path is returned so error responses can reference it.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sandrinn/llm-gateway/internal/unified"
)

const redactionMarker = "[redacted]"

// Recorder serializes concurrent appends so records are never interleaved
// mid-write.
type Recorder struct {
	mu     sync.Mutex
	dir    string
	path   string
	file   *os.File
	logger *slog.Logger
}

func NewRecorder(dir string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}

	return &Recorder{dir: dir, logger: logger}
}

// record is the persisted shape of one failure.
type record struct {
	Timestamp string `json:"timestamp"`
	Endpoint  string `json:"endpoint"`
	Model     string `json:"model,omitempty"`
	Error     string `json:"error"`
	Request   any    `json:"request,omitempty"`
	Messages  any    `json:"messages,omitempty"`
}

// Record appends one sanitized failure record and returns the log file
// path. Recording failures are logged but never propagated; diagnostics
// must not turn one error into two.
func (r *Recorder) Record(endpoint, model string, requestBody []byte, messages []SanitizedMessage, cause error) string {
	entry := record{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Endpoint:  endpoint,
		Model:     model,
		Error:     cause.Error(),
		Request:   SanitizeRequest(requestBody),
		Messages:  messages,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		r.logger.Error("Failed to marshal diagnostics record", "error", err)
		return r.Path()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			r.logger.Error("Failed to open diagnostics log", "error", err)
			return ""
		}
	}

	if _, err := r.file.Write(append(line, '\n')); err != nil {
		r.logger.Error("Failed to append diagnostics record", "error", err)
	}

	return r.path
}

// Path returns the log file path, empty until the first record.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.path
}

func (r *Recorder) open() error {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create diagnostics dir: %w", err)
	}

	name := fmt.Sprintf("gateway-errors-%s.jsonl", time.Now().Format("20060102-150405"))
	path := filepath.Join(r.dir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open diagnostics log: %w", err)
	}

	r.file = file
	r.path = path

	return nil
}

// Keys whose string values are user content and always redacted.
var redactStringKeys = map[string]bool{
	"text":         true,
	"data":         true,
	"arguments":    true,
	"system":       true,
	"instructions": true,
}

// Keys whose object values are user content and redacted whole.
var redactObjectKeys = map[string]bool{
	"input":    true,
	"args":     true,
	"response": true,
}

// SanitizeRequest redacts user-content payloads field by field while
// preserving shape-revealing metadata: block kinds, ids, and array lengths
// all survive.
func SanitizeRequest(body []byte) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return map[string]any{"unparseable_bytes": len(body)}
	}

	return sanitizeValue("", parsed)
}

func sanitizeValue(key string, value any) any {
	switch v := value.(type) {
	case map[string]any:
		if redactObjectKeys[key] {
			return redactionMarker
		}

		out := make(map[string]any, len(v))
		for k, inner := range v {
			out[k] = sanitizeValue(k, inner)
		}

		return out
	case []any:
		out := make([]any, len(v))
		for i, inner := range v {
			out[i] = sanitizeValue(key, inner)
		}

		return out
	case string:
		if redactStringKeys[key] || redactObjectKeys[key] || key == "content" {
			return redactionMarker
		}

		return v
	default:
		return v
	}
}

// SanitizedMessage is the shape-only view of one unified message actually
// sent to the host capability.
type SanitizedMessage struct {
	Role  string          `json:"role"`
	Parts []SanitizedPart `json:"parts"`
}

// SanitizedPart keeps kind, ids, names, and sizes; never content.
type SanitizedPart struct {
	Kind       string          `json:"kind"`
	TextLength int             `json:"text_length,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	InputBytes int             `json:"input_bytes,omitempty"`
	MIMEType   string          `json:"mime_type,omitempty"`
	DataBytes  int             `json:"data_bytes,omitempty"`
	Parts      []SanitizedPart `json:"parts,omitempty"`
}

// SanitizeMessages reduces the unified messages actually dispatched to the
// host capability to their shape.
func SanitizeMessages(messages []unified.Message) []SanitizedMessage {
	out := make([]SanitizedMessage, 0, len(messages))

	for _, msg := range messages {
		out = append(out, SanitizedMessage{
			Role:  msg.Role,
			Parts: sanitizeParts(msg.Parts),
		})
	}

	return out
}

func sanitizeParts(parts []unified.Part) []SanitizedPart {
	out := make([]SanitizedPart, 0, len(parts))

	for _, part := range parts {
		switch p := part.(type) {
		case unified.TextPart:
			out = append(out, SanitizedPart{Kind: "text", TextLength: len(p.Text)})
		case unified.ToolCallPart:
			out = append(out, SanitizedPart{
				Kind:       "tool_call",
				CallID:     p.ID,
				ToolName:   p.Name,
				InputBytes: len(p.Input),
			})
		case unified.ToolResultPart:
			out = append(out, SanitizedPart{
				Kind:   "tool_result",
				CallID: p.CallID,
				Parts:  sanitizeParts(p.Parts),
			})
		case unified.ImagePart:
			out = append(out, SanitizedPart{
				Kind:      "image",
				MIMEType:  p.MIMEType,
				DataBytes: len(p.Data),
			})
		}
	}

	return out
}

// Hint maps known failure signatures to a human-readable remediation note.
// Unrecognized failures get no hint; the generic message and log path still
// apply.
func Hint(err error) string {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "tool_use") && strings.Contains(msg, "tool_result"):
		return "a tool_result block references a tool_use id that was never issued; check that tool results echo the exact call id"
	case strings.Contains(msg, "model is not supported"), strings.Contains(msg, "model_not_supported"):
		return "the resolved host model rejected this request; configure a different main model or adjust the requested model id"
	default:
		return ""
	}
}
