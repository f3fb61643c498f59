// Package handlers wires the protocol decoders, the model resolver, the
// host capability, and the streaming/non-streaming encoders into HTTP
// endpoints. Each protocol gets its own handler type; the shared request
// pipeline lives here.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sandrinn/llm-gateway/internal/diagnostics"
	"github.com/sandrinn/llm-gateway/internal/hostcap"
	"github.com/sandrinn/llm-gateway/internal/resolver"
	"github.com/sandrinn/llm-gateway/internal/tokens"
	"github.com/sandrinn/llm-gateway/internal/unified"
)

// Deps bundles the collaborators every protocol handler needs.
type Deps struct {
	Capability  hostcap.Capability
	Resolver    *resolver.Resolver
	Calibrator  *tokens.Calibrator
	Diagnostics *diagnostics.Recorder
	Logger      *slog.Logger
}

// sseWriter adapts http.ResponseWriter to protocols.SSEWriter, flushing
// after every event so deltas reach the client immediately.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)

	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) WriteEvent(event string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}

	fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload)
	s.flush()
}

func (s *sseWriter) WriteData(data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}

	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flush()
}

func (s *sseWriter) WriteRaw(line string) {
	fmt.Fprintf(s.w, "%s\n\n", line)
	s.flush()
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

// promptText serializes a unified request for raw input token estimation.
// The serialization only needs to be stable and complete, not pretty: every
// piece of text, tool arguments, and tool schema the host will see is
// included once.
func promptText(req *unified.Request) string {
	var sb strings.Builder

	for _, msg := range req.Messages {
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		writePartsText(&sb, msg.Parts)
		sb.WriteString("\n")
	}

	for _, tool := range req.Tools {
		sb.WriteString(tool.Name)
		sb.WriteString(" ")
		sb.WriteString(tool.Description)

		if tool.InputSchema != nil {
			if schema, err := json.Marshal(tool.InputSchema); err == nil {
				sb.Write(schema)
			}
		}

		sb.WriteString("\n")
	}

	return sb.String()
}

func writePartsText(sb *strings.Builder, parts []unified.Part) {
	for _, part := range parts {
		switch p := part.(type) {
		case unified.TextPart:
			sb.WriteString(p.Text)
		case unified.ToolCallPart:
			sb.WriteString(p.Name)
			sb.Write(p.Input)
		case unified.ToolResultPart:
			writePartsText(sb, p.Parts)
		case unified.ImagePart:
			// Binary payloads are priced by the provider, not the
			// tokenizer; a fixed charge approximates it.
			sb.WriteString(strings.Repeat("image ", 128))
		}
	}
}

// invocation is the per-request pipeline state shared by the three protocol
// handlers once decoding succeeds.
type invocation struct {
	deps     Deps
	endpoint string
	body     []byte
	req      *unified.Request
	handle   hostcap.ModelHandle
	rawIn    int

	recorded bool
	diagPath string
}

// prepare resolves the model and prices the input. resolve selects the
// protocol's resolution entry point.
func (d Deps) prepare(ctx context.Context, endpoint string, body []byte, req *unified.Request,
	resolve func(context.Context, string) (hostcap.ModelHandle, error),
) (*invocation, error) {
	handle, err := resolve(ctx, req.Model)
	if err != nil {
		return nil, err
	}

	rawIn, err := d.Capability.CountTokens(ctx, handle, promptText(req))
	if err != nil {
		return nil, fmt.Errorf("count input tokens: %w", err)
	}

	return &invocation{
		deps:     d,
		endpoint: endpoint,
		body:     body,
		req:      req,
		handle:   handle,
		rawIn:    rawIn,
	}, nil
}

// send dispatches to the host capability. Mid-stream failures surface
// through Recv on the returned stream, which records them as they happen.
func (inv *invocation) send(ctx context.Context) (hostcap.PartStream, error) {
	stream, err := inv.deps.Capability.Send(ctx, inv.handle, inv.req)
	if err != nil {
		return nil, err
	}

	return &recordingStream{inner: stream, inv: inv}, nil
}

// usageFunc returns the engine callback that prices the output once the
// stream has drained.
func (inv *invocation) usageFunc(ctx context.Context) func(string) unified.Usage {
	return func(outputText string) unified.Usage {
		rawOut, err := inv.deps.Capability.CountTokens(ctx, inv.handle, outputText)
		if err != nil {
			inv.deps.Logger.Warn("Output token count failed", "error", err)
		}

		usage := inv.deps.Calibrator.Usage(inv.rawIn, rawOut)
		inv.logUsage(usage)

		return usage
	}
}

// logUsage keeps the raw estimates visible alongside the calibrated values.
func (inv *invocation) logUsage(usage unified.Usage) {
	inv.deps.Logger.Info("Request usage",
		"endpoint", inv.endpoint,
		"model", inv.handle.ID,
		"input_tokens_raw", usage.InputTokensRaw,
		"input_tokens", usage.InputTokens,
		"output_tokens_raw", usage.OutputTokensRaw,
		"output_tokens", usage.OutputTokens,
	)
}

// record persists sanitized failure context once per invocation and returns
// the log reference.
func (inv *invocation) record(cause error) string {
	if inv.recorded {
		return inv.diagPath
	}

	inv.recorded = true
	inv.diagPath = inv.deps.Diagnostics.Record(
		inv.endpoint,
		inv.handle.ID,
		inv.body,
		diagnostics.SanitizeMessages(inv.req.Messages),
		cause,
	)

	return inv.diagPath
}

// invocationErrorMessage is the generic message attached to host failures;
// specifics go to the diagnostics log, with an optional hint for known
// signatures.
func (inv *invocation) invocationErrorMessage(cause error) string {
	var sanitized *invocationError
	if errors.As(cause, &sanitized) {
		return sanitized.msg
	}

	msg := "The host capability failed to complete the request."

	if path := inv.record(cause); path != "" {
		msg += " Details were recorded at " + path + "."
	}

	if hint := diagnostics.Hint(cause); hint != "" {
		msg += " Hint: " + hint
	}

	return msg
}

// invocationError replaces a raw host failure once diagnostics have been
// recorded, so streaming emitters only ever see the sanitized message.
type invocationError struct {
	msg string
}

func (e *invocationError) Error() string {
	return e.msg
}

type recordingStream struct {
	inner hostcap.PartStream
	inv   *invocation
}

func (s *recordingStream) Recv() (unified.StreamPart, error) {
	part, err := s.inner.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		return part, &invocationError{msg: s.inv.invocationErrorMessage(err)}
	}

	return part, err
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()

	return io.ReadAll(r.Body)
}
