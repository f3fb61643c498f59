package handlers

import (
	"errors"
	"net/http"

	"github.com/sandrinn/llm-gateway/internal/hostcap"
	"github.com/sandrinn/llm-gateway/internal/protocols"
	"github.com/sandrinn/llm-gateway/internal/unified"
)

// OpenAI serves the chat completions and responses surfaces.
type OpenAI struct {
	deps Deps
}

func NewOpenAI(deps Deps) *OpenAI {
	return &OpenAI{deps: deps}
}

// ChatCompletions handles POST /v1/chat/completions.
func (h *OpenAI) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.OpenAIErrorBody("invalid_request_error", "", "failed to read request body"))
		return
	}

	req, err := protocols.DecodeOpenAIChat(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.OpenAIErrorBody("invalid_request_error", "", err.Error()))
		return
	}

	h.run(w, r, "/v1/chat/completions", body, req, false)
}

// Responses handles POST /v1/responses. Stored-conversation parameters are
// rejected before any host call happens.
func (h *OpenAI) Responses(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.OpenAIErrorBody("invalid_request_error", "", "failed to read request body"))
		return
	}

	req, err := protocols.DecodeOpenAIResponses(body)
	if err != nil {
		var unsupported *protocols.UnsupportedParameterError
		if errors.As(err, &unsupported) {
			writeJSON(w, http.StatusBadRequest, protocols.OpenAIErrorBody("invalid_request_error", "unsupported_parameter", err.Error()))
			return
		}

		writeJSON(w, http.StatusBadRequest, protocols.OpenAIErrorBody("invalid_request_error", "", err.Error()))
		return
	}

	h.run(w, r, "/v1/responses", body, req, true)
}

func (h *OpenAI) run(w http.ResponseWriter, r *http.Request, endpoint string, body []byte, req *unified.Request, responses bool) {
	inv, err := h.deps.prepare(r.Context(), endpoint, body, req, h.deps.Resolver.Resolve)
	if err != nil {
		if errors.Is(err, hostcap.ErrModelNotFound) {
			writeJSON(w, http.StatusNotFound, protocols.OpenAIErrorBody("invalid_request_error", "model_not_found", "model not found: "+req.Model))
			return
		}

		writeJSON(w, http.StatusInternalServerError, protocols.OpenAIErrorBody("api_error", "", err.Error()))
		return
	}

	stream, err := inv.send(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.OpenAIErrorBody("api_error", "", inv.invocationErrorMessage(err)))
		return
	}

	if req.Stream {
		sse := newSSEWriter(w)

		var emitter protocols.Emitter
		if responses {
			emitter = protocols.NewResponsesEmitter(sse, req.Model)
		} else {
			emitter = protocols.NewOpenAIChatEmitter(sse, req.Model)
		}

		protocols.NewEngine(emitter, inv.usageFunc(r.Context())).Run(stream)
		return
	}

	result, err := protocols.Collect(stream)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.OpenAIErrorBody("api_error", "", inv.invocationErrorMessage(err)))
		return
	}

	usage := inv.usageFunc(r.Context())(result.OutputText)

	var resp []byte
	if responses {
		resp, err = protocols.EncodeOpenAIResponsesResponse(req.Model, result, usage)
	} else {
		resp, err = protocols.EncodeOpenAIChatResponse(req.Model, result, usage)
	}

	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.OpenAIErrorBody("api_error", "", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
