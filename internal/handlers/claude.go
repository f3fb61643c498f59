package handlers

import (
	"errors"
	"net/http"

	"github.com/sandrinn/llm-gateway/internal/hostcap"
	"github.com/sandrinn/llm-gateway/internal/protocols"
	"github.com/sandrinn/llm-gateway/internal/tokens"
)

// Claude serves the Anthropic-style messages surface.
type Claude struct {
	deps Deps
}

func NewClaude(deps Deps) *Claude {
	return &Claude{deps: deps}
}

// Messages handles POST /v1/messages.
func (h *Claude) Messages(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.ClaudeErrorBody("invalid_request_error", "failed to read request body"))
		return
	}

	req, err := protocols.DecodeClaude(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.ClaudeErrorBody("invalid_request_error", err.Error()))
		return
	}

	inv, err := h.deps.prepare(r.Context(), "/v1/messages", body, req, h.deps.Resolver.ResolveClaude)
	if err != nil {
		if errors.Is(err, hostcap.ErrModelNotFound) {
			writeJSON(w, http.StatusNotFound, protocols.ClaudeErrorBody("not_found_error", "model not found: "+req.Model))
			return
		}

		writeJSON(w, http.StatusInternalServerError, protocols.ClaudeErrorBody("api_error", err.Error()))
		return
	}

	stream, err := inv.send(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.ClaudeErrorBody("api_error", inv.invocationErrorMessage(err)))
		return
	}

	if req.Stream {
		sse := newSSEWriter(w)
		inputTokens := h.deps.Calibrator.Calibrate(tokens.Input, inv.rawIn)
		emitter := protocols.NewClaudeEmitter(sse, req.Model, inputTokens)
		protocols.NewEngine(emitter, inv.usageFunc(r.Context())).Run(stream)
		return
	}

	result, err := protocols.Collect(stream)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.ClaudeErrorBody("api_error", inv.invocationErrorMessage(err)))
		return
	}

	usage := inv.usageFunc(r.Context())(result.OutputText)

	resp, err := protocols.EncodeClaudeResponse(req.Model, result, usage)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.ClaudeErrorBody("api_error", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// CountTokens handles POST /v1/messages/count_tokens. It prices the prompt
// without invoking the host chat operation.
func (h *Claude) CountTokens(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.ClaudeErrorBody("invalid_request_error", "failed to read request body"))
		return
	}

	req, err := protocols.DecodeClaude(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.ClaudeErrorBody("invalid_request_error", err.Error()))
		return
	}

	inv, err := h.deps.prepare(r.Context(), "/v1/messages/count_tokens", body, req, h.deps.Resolver.ResolveClaude)
	if err != nil {
		if errors.Is(err, hostcap.ErrModelNotFound) {
			writeJSON(w, http.StatusNotFound, protocols.ClaudeErrorBody("not_found_error", "model not found: "+req.Model))
			return
		}

		writeJSON(w, http.StatusInternalServerError, protocols.ClaudeErrorBody("api_error", err.Error()))
		return
	}

	inputTokens := h.deps.Calibrator.Calibrate(tokens.Input, inv.rawIn)
	writeJSON(w, http.StatusOK, protocols.ClaudeTokenCountBody(inputTokens))
}
