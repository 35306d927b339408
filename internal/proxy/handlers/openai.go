package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/meihua/gemini-relay/internal/db/models"
	"github.com/meihua/gemini-relay/internal/logging"
	"github.com/meihua/gemini-relay/internal/proxy"
	"github.com/meihua/gemini-relay/internal/proxy/monitor"
	"github.com/meihua/gemini-relay/internal/translate"
	"github.com/meihua/gemini-relay/internal/util"
)

// OpenAIChatHandler handles /v1/chat/completions
func OpenAIChatHandler(d *proxy.Dispatcher, pm *monitor.ProxyMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		bodyBytes, err := io.ReadAll(r.Body)
		if err != nil {
			writeOpenAIError(w, "Failed to read request body", http.StatusBadRequest)
			return
		}

		requestId := GetOrGenerateRequestID(r)

		if util.IsVerbose() {
			log.Printf("📥 [VERBOSE] [%s] /v1/chat/completions Raw request: %s", requestId, util.TruncateBytes(bodyBytes))
		}

		// The stream flag lives in the body; peek at it before dispatch so
		// error rendering picks the right framing.
		var peek struct {
			Model  string `json:"model"`
			Stream bool   `json:"stream"`
		}
		json.Unmarshal(bodyBytes, &peek)

		ctx := logging.WithRequestID(r.Context(), requestId)
		res, derr := d.Dispatch(ctx, translate.SchemaOpenAI, "", bodyBytes, peek.Stream, requestId)
		if derr != nil {
			log.Printf("❌ [%s] /v1/chat/completions dispatch failed: %v", requestId, derr)
			writeOpenAIError(w, derr.Message, derr.Status)
			audit(pm, models.RequestLog{
				Method: r.Method, URL: r.URL.Path, Status: derr.Status,
				Schema: "openai", Model: peek.Model, Streamed: peek.Stream,
				Error: derr.Message, RequestBody: string(bodyBytes),
			}, started)
			return
		}

		created := time.Now().Unix()

		if res.Stream != nil {
			usage := streamOpenAI(w, r, res, requestId, created)
			entry := models.RequestLog{
				Method: r.Method, URL: r.URL.Path, Status: http.StatusOK,
				Schema: "openai", Model: res.Request.Model, Streamed: true,
				RequestBody: string(bodyBytes),
			}
			if usage != nil {
				entry.InputTokens = usage.PromptTokens
				entry.OutputTokens = usage.CompletionTokens
			}
			audit(pm, entry, started)
			return
		}

		out, err := translate.ToOpenAIResponse(res.Body, res.Request.Model, requestId, created)
		if err != nil {
			log.Printf("❌ [%s] response translation failed: %v", requestId, err)
			writeOpenAIError(w, "Failed to translate backend response", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write(out)

		entry := models.RequestLog{
			Method: r.Method, URL: r.URL.Path, Status: http.StatusOK,
			Schema: "openai", Model: res.Request.Model,
			RequestBody: string(bodyBytes), ResponseBody: string(out),
		}
		if usage := translate.ExtractUsage(res.Body); usage != nil {
			entry.InputTokens = usage.PromptTokens
			entry.OutputTokens = usage.CompletionTokens
		}
		audit(pm, entry, started)
	}
}

// streamOpenAI renders backend chunks as chat.completion.chunk SSE events
// and returns the usage reported on the final chunk, if any. Chunks
// already sent stay sent: an abnormal backend termination turns into a
// terminal error event after whatever was delivered.
func streamOpenAI(w http.ResponseWriter, r *http.Request, res *proxy.Result, requestId string, created int64) *translate.Usage {
	SetSSEHeaders(w)

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeOpenAIError(w, "Streaming not supported", http.StatusInternalServerError)
		return nil
	}

	model := res.Request.Model
	var usage *translate.Usage
	for ch := range res.Stream {
		if ch.Err != nil {
			log.Printf("⚠️ [%s] stream interrupted: %v", requestId, ch.Err)
			if out, err := translate.OpenAIErrorChunkJSON("stream interrupted before completion", model, requestId, created); err == nil {
				fmt.Fprintf(w, "data: %s\n\n", out)
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			flusher.Flush()
			return usage
		}
		if ch.Usage != nil {
			usage = ch.Usage
		}

		out, err := translate.OpenAIChunkJSON(ch, model, requestId, created)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", out)
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	return usage
}

func writeOpenAIError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    status,
		},
	})
}
