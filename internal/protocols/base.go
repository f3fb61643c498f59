// Package protocols implements the three external wire protocols the
// gateway speaks: Claude-style messages, OpenAI-style chat and responses,
// and Gemini-style generateContent. Each protocol contributes a decoder
// (wire request -> unified.Request), a non-streaming response builder, and a
// streaming emitter driven by the shared Engine.
package protocols

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sandrinn/llm-gateway/internal/hostcap"
	"github.com/sandrinn/llm-gateway/internal/unified"
)

// DecodeError reports a malformed or incomplete request body.
type DecodeError struct {
	Message string
}

func (e *DecodeError) Error() string {
	return e.Message
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Message: fmt.Sprintf(format, args...)}
}

// UnsupportedParameterError reports a stateful field sent to the stateless
// responses protocol.
type UnsupportedParameterError struct {
	Param string
}

func (e *UnsupportedParameterError) Error() string {
	return fmt.Sprintf("unsupported parameter: %s", e.Param)
}

// Emitter is the per-protocol streaming event vocabulary. The Engine calls
// these in a fixed order; implementations only translate each call into
// their protocol's concrete events and never manage block state themselves.
//
// Emitters write directly to the response stream, so errors from the
// transport are swallowed here: once streaming has begun there is no channel
// left to report them on.
type Emitter interface {
	// Start emits the opening envelope, before any block.
	Start()
	// OpenText opens a text content block at index.
	OpenText(index int)
	// AppendText emits one text delta into the open text block.
	AppendText(index int, delta string)
	// OpenTool opens a tool-call block. Arguments follow as a single
	// ToolArguments call because tool calls arrive whole.
	OpenTool(index int, id, name string)
	// ToolArguments emits the complete serialized arguments as one delta.
	ToolArguments(index int, arguments string)
	// CloseBlock closes the block at index.
	CloseBlock(index int)
	// Completed emits the terminal success event(s) with final usage.
	Completed(toolUse bool, usage unified.Usage)
	// Failed emits the terminal in-band failure event(s). The transport
	// commitment to an event stream cannot be undone, so this is the only
	// failure channel once streaming has started.
	Failed(err error)
}

// UsageFunc computes final usage from the concatenated output text (text
// deltas plus serialized tool arguments) once the stream has drained.
type UsageFunc func(outputText string) unified.Usage

// Engine drives one Emitter through the block state machine shared by all
// three protocols: Idle -> Started -> {NoBlockOpen <-> TextBlockOpen <->
// ToolBlockOpen} -> Completed | Failed. Block indices are monotonically
// increasing from 0 and never reused within a stream.
type Engine struct {
	emitter Emitter
	usage   UsageFunc

	nextIndex int
	openIndex int // -1 when no block is open
	openText  bool

	lastToolCall bool
	output       strings.Builder
}

func NewEngine(emitter Emitter, usage UsageFunc) *Engine {
	return &Engine{
		emitter:   emitter,
		usage:     usage,
		openIndex: -1,
	}
}

// Run consumes the part stream to exhaustion. A mid-stream host failure is
// emitted in-band via Failed and does not return an error; the HTTP response
// is already committed by then.
func (e *Engine) Run(stream hostcap.PartStream) {
	e.emitter.Start()

	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			e.closeOpen()
			e.emitter.Failed(err)

			return
		}

		switch part.Kind {
		case unified.StreamText:
			e.appendText(part.Text)
		case unified.StreamToolCall:
			e.emitToolCall(part.Call)
		}
	}

	e.closeOpen()
	e.emitter.Completed(e.lastToolCall, e.usage(e.output.String()))
}

func (e *Engine) appendText(delta string) {
	if e.openIndex < 0 || !e.openText {
		e.closeOpen()
		e.openIndex = e.nextIndex
		e.nextIndex++
		e.openText = true
		e.emitter.OpenText(e.openIndex)
	}

	e.output.WriteString(delta)
	e.emitter.AppendText(e.openIndex, delta)
	e.lastToolCall = false
}

func (e *Engine) emitToolCall(call *unified.StreamCall) {
	e.closeOpen()

	index := e.nextIndex
	e.nextIndex++

	e.emitter.OpenTool(index, call.ID, call.Name)
	e.emitter.ToolArguments(index, call.Arguments)
	e.emitter.CloseBlock(index)

	e.output.WriteString(call.Arguments)
	e.lastToolCall = true
}

func (e *Engine) closeOpen() {
	if e.openIndex >= 0 {
		e.emitter.CloseBlock(e.openIndex)
		e.openIndex = -1
		e.openText = false
	}
}

// Block is one accumulated content block of a drained stream: a text run
// when Call is nil, otherwise a whole tool call.
type Block struct {
	Text string
	Call *unified.StreamCall
}

// Result is a fully drained part stream.
type Result struct {
	Blocks []Block
	// ToolUse is true when the final emitted item was a tool call. A text
	// delta arriving after a tool call flips it back; stop reason follows
	// arrival order.
	ToolUse bool
	// OutputText is the concatenation of all text and serialized tool
	// arguments, used for output token counting.
	OutputText string
}

// Collect drains a part stream without emitting events, concatenating
// consecutive text deltas into single blocks and keeping tool calls in
// arrival order. Any mid-stream failure aborts the whole response.
func Collect(stream hostcap.PartStream) (*Result, error) {
	result := &Result{}

	var output strings.Builder

	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, err
		}

		switch part.Kind {
		case unified.StreamText:
			output.WriteString(part.Text)

			if n := len(result.Blocks); n > 0 && result.Blocks[n-1].Call == nil {
				result.Blocks[n-1].Text += part.Text
			} else {
				result.Blocks = append(result.Blocks, Block{Text: part.Text})
			}

			result.ToolUse = false
		case unified.StreamToolCall:
			output.WriteString(part.Call.Arguments)
			result.Blocks = append(result.Blocks, Block{Call: part.Call})
			result.ToolUse = true
		}
	}

	result.OutputText = output.String()

	return result, nil
}

// SSEWriter is the transport surface emitters write to. Handlers implement
// it over http.ResponseWriter with per-event flushing.
type SSEWriter interface {
	// WriteEvent writes an "event:"-framed SSE event with a JSON payload.
	WriteEvent(event string, data any)
	// WriteData writes a bare "data:" line with a JSON payload.
	WriteData(data any)
	// WriteRaw writes one raw line verbatim (e.g. the [DONE] sentinel).
	WriteRaw(line string)
}
