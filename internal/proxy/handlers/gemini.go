package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meihua/gemini-relay/internal/db/models"
	"github.com/meihua/gemini-relay/internal/logging"
	"github.com/meihua/gemini-relay/internal/proxy"
	"github.com/meihua/gemini-relay/internal/proxy/monitor"
	"github.com/meihua/gemini-relay/internal/translate"
	"github.com/meihua/gemini-relay/internal/util"
)

// GeminiGenerateHandler handles /v1beta/models/{model}:generateContent and
// /v1beta/models/{model}:streamGenerateContent. The model and method share
// one path segment, so the route captures them together and the handler
// splits on the colon.
func GeminiGenerateHandler(d *proxy.Dispatcher, pm *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		modelAction := chi.URLParam(r, "modelAction")
		model, method, found := strings.Cut(modelAction, ":")
		if !found {
			writeGeminiError(w, "Unknown method", http.StatusNotFound)
			return
		}

		var stream bool
		switch method {
		case "generateContent":
		case "streamGenerateContent":
			stream = true
		default:
			writeGeminiError(w, fmt.Sprintf("Unknown method %q", method), http.StatusNotFound)
			return
		}

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeGeminiError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		requestId := GetOrGenerateRequestID(r)
		if util.IsVerbose() {
			log.Printf("📥 [VERBOSE] [%s] %s Raw request: %s", requestId, r.URL.Path, util.TruncateBytes(bodyBytes))
		}

		ctx := logging.WithRequestID(r.Context(), requestId)
		res, derr := d.Dispatch(ctx, translate.SchemaGemini, model, bodyBytes, stream, requestId)
		if derr != nil {
			log.Printf("❌ [%s] %s dispatch failed: %v", requestId, r.URL.Path, derr)
			writeGeminiError(w, derr.Message, derr.Status)
			audit(pm, models.RequestLog{
				Method: r.Method, URL: r.URL.Path, Status: derr.Status,
				Schema: "gemini", Model: model, Streamed: stream,
				Error: derr.Message, RequestBody: string(bodyBytes),
			}, started)
			return
		}

		if res.Stream != nil {
			usage := streamGemini(w, res, requestId)
			entry := models.RequestLog{
				Method: r.Method, URL: r.URL.Path, Status: http.StatusOK,
				Schema: "gemini", Model: model, Streamed: true,
				RequestBody: string(bodyBytes),
			}
			if usage != nil {
				entry.InputTokens = usage.PromptTokens
				entry.OutputTokens = usage.CompletionTokens
			}
			audit(pm, entry, started)
			return
		}

		out := translate.UnwrapEnvelope(res.Body)
		w.Header().Set("Content-Type", "application/json")
		w.Write(out)

		entry := models.RequestLog{
			Method: r.Method, URL: r.URL.Path, Status: http.StatusOK,
			Schema: "gemini", Model: model,
			RequestBody: string(bodyBytes), ResponseBody: string(out),
		}
		if usage := translate.ExtractUsage(res.Body); usage != nil {
			entry.InputTokens = usage.PromptTokens
			entry.OutputTokens = usage.CompletionTokens
		}
		audit(pm, entry, started)
	}
}

// streamGemini forwards backend chunks in native Gemini SSE framing, the
// envelope already stripped, and returns the usage reported on the final
// chunk, if any.
func streamGemini(w http.ResponseWriter, res *proxy.Result, requestId string) *translate.Usage {
	SetSSEHeaders(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeGeminiError(w, "Streaming not supported", http.StatusInternalServerError)
		return nil
	}

	var usage *translate.Usage
	for ch := range res.Stream {
		if ch.Err != nil {
			log.Printf("⚠️ [%s] stream interrupted: %v", requestId, ch.Err)
			fmt.Fprintf(w, "data: %s\n\n", translate.GeminiErrorEventJSON("stream interrupted before completion"))
			flusher.Flush()
			return usage
		}
		if ch.Usage != nil {
			usage = ch.Usage
		}
		fmt.Fprintf(w, "data: %s\n\n", ch.Raw)
		flusher.Flush()
	}
	return usage
}

func writeGeminiError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	})
}
