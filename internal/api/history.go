package api

import (
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/snarg/ucmwatch/internal/calllog"
)

// HistoryHandler serves the persisted call log.
type HistoryHandler struct {
	store *calllog.Store
}

func NewHistoryHandler(store *calllog.Store) *HistoryHandler {
	return &HistoryHandler{store: store}
}

// ListHistory returns call-log entries newest-first with optional filters:
// direction, number, ext, from, to (dates as YYYY-MM-DD), plus limit/offset.
func (h *HistoryHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	q := r.URL.Query()
	f := calllog.Filter{
		Direction: q.Get("direction"),
		Number:    q.Get("number"),
		Extension: q.Get("ext"),
		DateFrom:  q.Get("from"),
		DateTo:    q.Get("to"),
		Limit:     p.Limit,
		Offset:    p.Offset,
	}

	entries, total, err := h.store.List(r.Context(), f)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("call log query failed")
		WriteError(w, http.StatusInternalServerError, "call log query failed")
		return
	}
	if entries == nil {
		entries = []calllog.Entry{}
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   total,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}
