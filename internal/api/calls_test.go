package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snarg/ucmwatch/internal/monitor"
	"github.com/snarg/ucmwatch/internal/ucm"
)

// mockMonitor implements MonitorSource with canned data.
type mockMonitor struct {
	calls      []monitor.CallRecord
	extensions map[string]string
	replay     []monitor.Event
	events     chan monitor.Event
}

func (m *mockMonitor) ActiveCalls() []monitor.CallRecord  { return m.calls }
func (m *mockMonitor) ExtensionStatus() map[string]string { return m.extensions }
func (m *mockMonitor) ReplaySince(string) []monitor.Event { return m.replay }
func (m *mockMonitor) Subscribe() (<-chan monitor.Event, func()) {
	if m.events == nil {
		m.events = make(chan monitor.Event, 8)
	}
	return m.events, func() {}
}

// mockDialer records dial attempts and returns a scripted error.
type mockDialer struct {
	extension, number string
	err               error
}

func (m *mockDialer) Dial(extension, number string) error {
	m.extension, m.number = extension, number
	return m.err
}

func TestListCalls(t *testing.T) {
	h := NewCallsHandler(&mockMonitor{calls: []monitor.CallRecord{
		{LinkedID: "L1", State: monitor.StateRinging, CallerNum: "0551234567", Extensions: []string{"201"}},
	}}, nil)

	rec := httptest.NewRecorder()
	h.ListCalls(rec, httptest.NewRequest("GET", "/api/calls", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Calls []monitor.CallRecord `json:"calls"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Calls) != 1 || resp.Calls[0].LinkedID != "L1" {
		t.Errorf("calls = %+v", resp.Calls)
	}
}

func TestListExtensions(t *testing.T) {
	h := NewCallsHandler(&mockMonitor{extensions: map[string]string{"201": "Idle"}}, nil)

	rec := httptest.NewRecorder()
	h.ListExtensions(rec, httptest.NewRequest("GET", "/api/extensions", nil))

	var resp struct {
		Extensions map[string]string `json:"extensions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Extensions["201"] != "Idle" {
		t.Errorf("extensions = %v", resp.Extensions)
	}
}

func TestDial(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		dialer := &mockDialer{}
		h := NewCallsHandler(&mockMonitor{}, dialer)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/call", strings.NewReader(`{"extension":"201","number":"0551234567"}`))
		h.Dial(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
		}
		if dialer.extension != "201" || dialer.number != "0551234567" {
			t.Errorf("dialed %s/%s", dialer.extension, dialer.number)
		}
		var resp dialResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if !resp.OK || resp.Message == "" {
			t.Errorf("resp = %+v, want ok with a message", resp)
		}
	})

	t.Run("missing_fields", func(t *testing.T) {
		h := NewCallsHandler(&mockMonitor{}, &mockDialer{})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/call", strings.NewReader(`{"extension":" ","number":""}`))
		h.Dial(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		var resp dialResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.OK || resp.Message == "" {
			t.Errorf("resp = %+v, want ok=false with a message", resp)
		}
	})

	t.Run("bad_body", func(t *testing.T) {
		h := NewCallsHandler(&mockMonitor{}, &mockDialer{})
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/call", strings.NewReader(`{not json`))
		h.Dial(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		var resp dialResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.OK || resp.Message == "" {
			t.Errorf("resp = %+v, want ok=false with a message", resp)
		}
	})

	t.Run("exchange_error_maps_to_502", func(t *testing.T) {
		dialer := &mockDialer{err: &ucm.APIError{Message: "invalid cookie"}}
		h := NewCallsHandler(&mockMonitor{}, dialer)

		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/call", strings.NewReader(`{"extension":"201","number":"0551234567"}`))
		h.Dial(rec, req)

		if rec.Code != http.StatusBadGateway {
			t.Fatalf("status = %d, want 502", rec.Code)
		}
		var resp dialResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.OK || resp.Message != "invalid cookie" {
			t.Errorf("resp = %+v", resp)
		}
	})

	t.Run("no_dialer_configured", func(t *testing.T) {
		h := NewCallsHandler(&mockMonitor{}, nil)
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("POST", "/api/call", strings.NewReader(`{"extension":"201","number":"0551234567"}`))
		h.Dial(rec, req)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", rec.Code)
		}
		var resp dialResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if resp.OK || resp.Message == "" {
			t.Errorf("resp = %+v, want ok=false with a message", resp)
		}
	})
}
