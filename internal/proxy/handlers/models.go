package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/meihua/gemini-relay/internal/catalog"
)

// OpenAIModelsHandler handles GET /v1/models.
func OpenAIModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(catalog.OpenAIList())
	}
}

// GeminiModelsHandler handles GET /v1beta/models.
func GeminiModelsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(catalog.GeminiList())
	}
}
