package api

import (
	"context"
	"net/http"
	"time"
)

// MonitorStatus reports the exchange session state for health checks.
type MonitorStatus interface {
	IsConnected() bool
}

// HistoryChecker verifies the call log database is reachable.
type HistoryChecker interface {
	HealthCheck(ctx context.Context) error
}

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	history   HistoryChecker
	monitor   MonitorStatus
	version   string
	startTime time.Time
}

// NewHealthHandler builds the health endpoint. A nil monitor means the
// exchange monitor is disabled on purpose, not broken.
func NewHealthHandler(history HistoryChecker, monitor MonitorStatus, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		history:   history,
		monitor:   monitor,
		version:   version,
		startTime: startTime,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	if h.history != nil {
		if err := h.history.HealthCheck(r.Context()); err != nil {
			checks["call_log"] = "error"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["call_log"] = "ok"
		}
	} else {
		checks["call_log"] = "not_configured"
	}

	if h.monitor != nil {
		if h.monitor.IsConnected() {
			checks["monitor"] = "ok"
		} else {
			// The client reconnects on its own; the service still serves
			// history and dialing meanwhile.
			checks["monitor"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["monitor"] = "disabled"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}
