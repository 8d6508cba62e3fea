package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/hlog"

	"github.com/snarg/ucmwatch/internal/ucm"
)

// CallsHandler serves the live call panel and click-to-dial.
type CallsHandler struct {
	monitor MonitorSource
	dialer  CallDialer
}

func NewCallsHandler(monitor MonitorSource, dialer CallDialer) *CallsHandler {
	return &CallsHandler{monitor: monitor, dialer: dialer}
}

// ListCalls returns the currently active calls.
func (h *CallsHandler) ListCalls(w http.ResponseWriter, r *http.Request) {
	calls := h.monitor.ActiveCalls()
	WriteJSON(w, http.StatusOK, map[string]any{"calls": calls})
}

// ListExtensions returns the latest reported status per extension.
func (h *CallsHandler) ListExtensions(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"extensions": h.monitor.ExtensionStatus()})
}

type dialRequest struct {
	Extension string `json:"extension"`
	Number    string `json:"number"`
}

// dialResponse is the body of every /api/call outcome, success or failure,
// so the click-to-dial UI can always render message.
type dialResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Dial originates a call from an extension to an external number.
func (h *CallsHandler) Dial(w http.ResponseWriter, r *http.Request) {
	if h.dialer == nil {
		WriteJSON(w, http.StatusServiceUnavailable, dialResponse{OK: false, Message: "dialing not configured"})
		return
	}

	var req dialRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteJSON(w, http.StatusBadRequest, dialResponse{OK: false, Message: "invalid request body"})
		return
	}
	req.Extension = strings.TrimSpace(req.Extension)
	req.Number = strings.TrimSpace(req.Number)
	if req.Extension == "" || req.Number == "" {
		WriteJSON(w, http.StatusBadRequest, dialResponse{OK: false, Message: "extension and number are required"})
		return
	}

	log := hlog.FromRequest(r)
	if err := h.dialer.Dial(req.Extension, req.Number); err != nil {
		log.Warn().Err(err).Str("extension", req.Extension).Str("number", req.Number).Msg("dial failed")
		var apiErr *ucm.APIError
		if errors.As(err, &apiErr) {
			WriteJSON(w, http.StatusBadGateway, dialResponse{OK: false, Message: apiErr.Message})
			return
		}
		WriteJSON(w, http.StatusBadGateway, dialResponse{OK: false, Message: "exchange unreachable"})
		return
	}

	log.Info().Str("extension", req.Extension).Str("number", req.Number).Msg("call originated")
	WriteJSON(w, http.StatusOK, dialResponse{OK: true, Message: "call originated from " + req.Extension + " to " + req.Number})
}
