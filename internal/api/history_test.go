package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/ucmwatch/internal/calllog"
)

func seededHistory(t *testing.T) *calllog.Store {
	t.Helper()
	s, err := calllog.Open(filepath.Join(t.TempDir(), "calllog.db"), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	s.InsertInboundRing("L1", "0551234567")
	s.MarkInboundAnswered("L1", "201", "Mario Rossi", "")
	s.InsertOutbound("L2", "2025-03-14 10:30:00", "0669876543", "202", "Luisa Bianchi")
	return s
}

type historyResponse struct {
	Entries []calllog.Entry `json:"entries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func TestListHistory(t *testing.T) {
	h := NewHistoryHandler(seededHistory(t))

	get := func(t *testing.T, url string) (*httptest.ResponseRecorder, historyResponse) {
		t.Helper()
		rec := httptest.NewRecorder()
		h.ListHistory(rec, httptest.NewRequest("GET", url, nil))
		var resp historyResponse
		if rec.Code == http.StatusOK {
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
		}
		return rec, resp
	}

	t.Run("all_newest_first", func(t *testing.T) {
		rec, resp := get(t, "/api/calllog")
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if resp.Total != 2 || len(resp.Entries) != 2 {
			t.Fatalf("total = %d entries = %d", resp.Total, len(resp.Entries))
		}
		if resp.Entries[0].LinkedID != "L2" {
			t.Errorf("first entry = %s, want newest (L2)", resp.Entries[0].LinkedID)
		}
	})

	t.Run("direction_filter", func(t *testing.T) {
		_, resp := get(t, "/api/calllog?direction=inbound")
		if resp.Total != 1 || resp.Entries[0].LinkedID != "L1" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("pagination_echoed", func(t *testing.T) {
		_, resp := get(t, "/api/calllog?limit=1&offset=1")
		if resp.Limit != 1 || resp.Offset != 1 {
			t.Errorf("limit/offset = %d/%d", resp.Limit, resp.Offset)
		}
		if len(resp.Entries) != 1 || resp.Entries[0].LinkedID != "L1" {
			t.Errorf("entries = %+v", resp.Entries)
		}
	})

	t.Run("bad_pagination", func(t *testing.T) {
		rec, _ := get(t, "/api/calllog?limit=zero")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})
}
