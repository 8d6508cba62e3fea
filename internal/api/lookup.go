package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog/hlog"
)

// LookupHandler resolves caller numbers to directory names for the call
// panel. The exchange reports numbers in whatever format the trunk delivers,
// so the lookup tries several normalized variants of the same number.
type LookupHandler struct {
	directory Directory
	region    string
}

func NewLookupHandler(directory Directory, region string) *LookupHandler {
	return &LookupHandler{directory: directory, region: region}
}

type lookupResponse struct {
	Number string  `json:"number"`
	Name   *string `json:"name"`
}

// Lookup resolves a single number. An unconfigured directory or a miss both
// return name null; only directory failures are errors.
func (h *LookupHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	number := strings.TrimSpace(chi.URLParam(r, "number"))
	if number == "" {
		WriteError(w, http.StatusBadRequest, "number is required")
		return
	}

	resp := lookupResponse{Number: number}
	if h.directory == nil {
		WriteJSON(w, http.StatusOK, resp)
		return
	}

	name, err := h.directory.LookupName(r.Context(), h.candidates(number))
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Str("number", number).Msg("directory lookup failed")
		WriteError(w, http.StatusBadGateway, "directory lookup failed")
		return
	}
	if name != "" {
		resp.Name = &name
	}
	WriteJSON(w, http.StatusOK, resp)
}

// candidates builds the number variants to try against the directory: the raw
// number as reported, the E.164 form, and the national significant number.
func (h *LookupHandler) candidates(raw string) []string {
	seen := map[string]struct{}{raw: {}}
	out := []string{raw}

	num, err := phonenumbers.Parse(raw, h.region)
	if err != nil {
		return out
	}
	for _, v := range []string{
		phonenumbers.Format(num, phonenumbers.E164),
		phonenumbers.GetNationalSignificantNumber(num),
	} {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
