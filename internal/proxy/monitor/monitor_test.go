package monitor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/meihua/gemini-relay/internal/db"
	"github.com/meihua/gemini-relay/internal/db/models"
)

func newTestMonitor(t *testing.T) *ProxyMonitor {
	t.Helper()
	gdb, err := db.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	return NewProxyMonitor(gdb)
}

func TestLogRequestDisabledByDefault(t *testing.T) {
	pm := newTestMonitor(t)

	pm.LogRequest(models.RequestLog{Method: "POST", URL: "/v1/chat/completions", Status: 200})

	if stats := pm.GetStats(); stats.TotalRequests != 0 {
		t.Errorf("stats recorded while disabled: %+v", stats)
	}
}

func TestLogRequestStats(t *testing.T) {
	pm := newTestMonitor(t)
	pm.SetEnabled(true)

	pm.LogRequest(models.RequestLog{Status: 200, Model: "gemini-2.5-pro"})
	pm.LogRequest(models.RequestLog{Status: 400})
	pm.LogRequest(models.RequestLog{Status: 503})

	stats := pm.GetStats()
	if stats.TotalRequests != 3 || stats.SuccessCount != 1 || stats.ErrorCount != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLogRequestPersistedAndQueried(t *testing.T) {
	pm := newTestMonitor(t)
	pm.SetEnabled(true)

	pm.LogRequest(models.RequestLog{
		Method: "POST",
		URL:    "/v1/chat/completions",
		Status: 200,
		Schema: "openai",
		Model:  "gemini-2.5-flash",
	})

	// The DB write is async.
	deadline := time.Now().Add(2 * time.Second)
	for {
		logs := pm.GetLogs(10, 0)
		if len(logs) == 1 {
			if logs[0].Model != "gemini-2.5-flash" || logs[0].Schema != "openai" {
				t.Errorf("log = %+v", logs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("log never reached the database")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLogRequestTruncatesBodies(t *testing.T) {
	pm := newTestMonitor(t)
	pm.SetEnabled(true)

	big := make([]byte, MaxRequestBodySize+100)
	for i := range big {
		big[i] = 'a'
	}
	pm.LogRequest(models.RequestLog{Status: 200, RequestBody: string(big)})

	pm.logsMu.RLock()
	got := pm.recentLogs[0].RequestBody
	pm.logsMu.RUnlock()
	if len(got) > MaxRequestBodySize+20 {
		t.Errorf("body not truncated: %d bytes", len(got))
	}
}

func TestClear(t *testing.T) {
	pm := newTestMonitor(t)
	pm.SetEnabled(true)

	pm.LogRequest(models.RequestLog{Status: 200})

	// Wait for the async write before clearing.
	deadline := time.Now().Add(2 * time.Second)
	for len(pm.GetLogs(10, 0)) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("log never reached the database")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := pm.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if stats := pm.GetStats(); stats.TotalRequests != 0 {
		t.Errorf("stats after clear = %+v", stats)
	}
	if logs := pm.GetLogs(10, 0); len(logs) != 0 {
		t.Errorf("logs after clear = %+v", logs)
	}
}
