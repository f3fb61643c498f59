package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sandrinn/llm-gateway/internal/hostcap"
	"github.com/sandrinn/llm-gateway/internal/protocols"
	"github.com/sandrinn/llm-gateway/internal/tokens"
)

// Gemini serves the generativelanguage-style surface. Operations arrive as a
// single path segment of the form "model:method".
type Gemini struct {
	deps Deps
}

func NewGemini(deps Deps) *Gemini {
	return &Gemini{deps: deps}
}

// Generate handles POST /v1beta/models/{modelAction} and dispatches on the
// method suffix.
func (h *Gemini) Generate(w http.ResponseWriter, r *http.Request) {
	model, method, ok := strings.Cut(r.PathValue("modelAction"), ":")
	if !ok || model == "" || method == "" {
		writeJSON(w, http.StatusNotFound, protocols.GeminiErrorBody(http.StatusNotFound, "NOT_FOUND", "unknown operation"))
		return
	}

	switch method {
	case "generateContent":
		h.generate(w, r, model, false)
	case "streamGenerateContent":
		h.generate(w, r, model, true)
	case "countTokens":
		h.countTokens(w, r, model)
	default:
		writeJSON(w, http.StatusNotFound, protocols.GeminiErrorBody(http.StatusNotFound, "NOT_FOUND", "unknown method: "+method))
	}
}

func (h *Gemini) generate(w http.ResponseWriter, r *http.Request, model string, streaming bool) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.GeminiErrorBody(http.StatusBadRequest, "INVALID_ARGUMENT", "failed to read request body"))
		return
	}

	req, err := protocols.DecodeGemini(model, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.GeminiErrorBody(http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()))
		return
	}

	req.Stream = streaming

	endpoint := "/v1beta/models/" + model + ":generateContent"
	if streaming {
		endpoint = "/v1beta/models/" + model + ":streamGenerateContent"
	}

	inv, err := h.deps.prepare(r.Context(), endpoint, body, req, h.deps.Resolver.Resolve)
	if err != nil {
		if errors.Is(err, hostcap.ErrModelNotFound) {
			writeJSON(w, http.StatusNotFound, protocols.GeminiErrorBody(http.StatusNotFound, "NOT_FOUND", "model not found: "+model))
			return
		}

		writeJSON(w, http.StatusInternalServerError, protocols.GeminiErrorBody(http.StatusInternalServerError, "INTERNAL", err.Error()))
		return
	}

	stream, err := inv.send(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.GeminiErrorBody(http.StatusInternalServerError, "INTERNAL", inv.invocationErrorMessage(err)))
		return
	}

	if streaming {
		sse := newSSEWriter(w)
		emitter := protocols.NewGeminiEmitter(sse, model)
		protocols.NewEngine(emitter, inv.usageFunc(r.Context())).Run(stream)
		return
	}

	result, err := protocols.Collect(stream)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.GeminiErrorBody(http.StatusInternalServerError, "INTERNAL", inv.invocationErrorMessage(err)))
		return
	}

	usage := inv.usageFunc(r.Context())(result.OutputText)

	resp, err := protocols.EncodeGeminiResponse(model, result, usage)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.GeminiErrorBody(http.StatusInternalServerError, "INTERNAL", err.Error()))
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Gemini) countTokens(w http.ResponseWriter, r *http.Request, model string) {
	body, err := readBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.GeminiErrorBody(http.StatusBadRequest, "INVALID_ARGUMENT", "failed to read request body"))
		return
	}

	req, err := protocols.DecodeGemini(model, body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, protocols.GeminiErrorBody(http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()))
		return
	}

	inv, err := h.deps.prepare(r.Context(), "/v1beta/models/"+model+":countTokens", body, req, h.deps.Resolver.Resolve)
	if err != nil {
		if errors.Is(err, hostcap.ErrModelNotFound) {
			writeJSON(w, http.StatusNotFound, protocols.GeminiErrorBody(http.StatusNotFound, "NOT_FOUND", "model not found: "+model))
			return
		}

		writeJSON(w, http.StatusInternalServerError, protocols.GeminiErrorBody(http.StatusInternalServerError, "INTERNAL", err.Error()))
		return
	}

	totalTokens := h.deps.Calibrator.Calibrate(tokens.Input, inv.rawIn)
	writeJSON(w, http.StatusOK, protocols.EncodeGeminiTokenCount(totalTokens))
}

// ListModels handles GET /v1beta/models.
func (h *Gemini) ListModels(w http.ResponseWriter, r *http.Request) {
	handles, err := h.deps.Resolver.Handles(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, protocols.GeminiErrorBody(http.StatusInternalServerError, "INTERNAL", err.Error()))
		return
	}

	models := make([]map[string]any, 0, len(handles))
	for _, handle := range handles {
		models = append(models, map[string]any{
			"name":        "models/" + handle.ID,
			"version":     handle.Version,
			"displayName": handle.ID,
			"supportedGenerationMethods": []string{
				"generateContent",
				"streamGenerateContent",
				"countTokens",
			},
		})
	}

	body, _ := json.Marshal(map[string]any{"models": models})
	writeJSON(w, http.StatusOK, body)
}
