package api

import (
	"bufio"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/snarg/ucmwatch/internal/monitor"
)

// readSSE collects stream lines until stop returns true or the deadline hits.
func readSSE(t *testing.T, resp *http.Response, stop func(lines []string) bool) []string {
	t.Helper()
	lineCh := make(chan string)
	go func() {
		defer close(lineCh)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lineCh <- scanner.Text()
		}
	}()

	var lines []string
	deadline := time.After(2 * time.Second)
	for {
		select {
		case line, ok := <-lineCh:
			if !ok {
				t.Fatalf("SSE stream closed early, got lines: %q", lines)
			}
			lines = append(lines, line)
			if stop(lines) {
				return lines
			}
		case <-deadline:
			t.Fatalf("SSE stream timed out, got lines: %q", lines)
		}
	}
}

func TestStreamEventsReplaysAndStreams(t *testing.T) {
	src := &mockMonitor{
		replay: []monitor.Event{
			{ID: "1-1", Type: monitor.EventCallRing, Data: []byte(`{"uniqueid":"L1"}`)},
		},
		events: make(chan monitor.Event, 8),
	}
	src.events <- monitor.Event{ID: "1-2", Type: monitor.EventCallHangup, Data: []byte(`{"uniqueid":"L1"}`)}

	srv := httptest.NewServer(http.HandlerFunc(NewEventsHandler(src).StreamEvents))
	defer srv.Close()

	req, _ := http.NewRequest("GET", srv.URL, nil)
	req.Header.Set("Last-Event-ID", "1-0")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Header.Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}

	lines := readSSE(t, resp, func(lines []string) bool {
		return strings.Contains(strings.Join(lines, "\n"), "event: call_hangup")
	})
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "id: 1-1\nevent: call_ring\ndata: {\"uniqueid\":\"L1\"}") {
		t.Errorf("replayed event missing:\n%s", joined)
	}
	if !strings.Contains(joined, "id: 1-2\nevent: call_hangup") {
		t.Errorf("live event missing:\n%s", joined)
	}
}

func TestStreamEventsWithoutLastEventIDSkipsReplay(t *testing.T) {
	src := &mockMonitor{
		replay: []monitor.Event{
			{ID: "1-1", Type: monitor.EventCallRing, Data: []byte(`{"x":1}`)},
		},
		events: make(chan monitor.Event, 8),
	}
	// A live marker event so the reader knows the stream is past any replay.
	src.events <- monitor.Event{ID: "2-1", Type: monitor.EventPresence, Data: []byte(`{}`)}

	srv := httptest.NewServer(http.HandlerFunc(NewEventsHandler(src).StreamEvents))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	lines := readSSE(t, resp, func(lines []string) bool {
		return strings.Contains(strings.Join(lines, "\n"), "event: presence")
	})
	if strings.Contains(strings.Join(lines, "\n"), "call_ring") {
		t.Errorf("replay happened without Last-Event-ID:\n%s", strings.Join(lines, "\n"))
	}
}
