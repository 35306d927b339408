package handlers

import (
	"net/http"
	"time"

	"github.com/meihua/gemini-relay/internal/db/models"
	"github.com/meihua/gemini-relay/internal/logging"
	"github.com/meihua/gemini-relay/internal/proxy/monitor"
)

// GetOrGenerateRequestID retrieves X-Request-ID from header or generates
// a new one.
func GetOrGenerateRequestID(r *http.Request) string {
	if requestId := r.Header.Get("X-Request-ID"); requestId != "" {
		return requestId
	}
	return logging.GenerateRequestID()
}

// SetSSEHeaders sets standard headers for Server-Sent Events streaming.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// audit records one finished request with the monitor. pm may be nil when
// auditing is not wired.
func audit(pm *monitor.ProxyMonitor, entry models.RequestLog, started time.Time) {
	if pm == nil {
		return
	}
	entry.Duration = time.Since(started).Milliseconds()
	pm.LogRequest(entry)
}
