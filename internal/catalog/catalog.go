// Package catalog serves the static model listing in both inbound schema
// shapes. The Code Assist backend offers no listing endpoint, so the set
// is pinned here.
package catalog

// Model is one entry in the served catalog.
type Model struct {
	ID          string
	DisplayName string
	InputLimit  int
	OutputLimit int
}

// Models is the supported set, in listing order.
var Models = []Model{
	{ID: "gemini-2.5-pro", DisplayName: "Gemini 2.5 Pro", InputLimit: 1048576, OutputLimit: 65536},
	{ID: "gemini-2.5-flash", DisplayName: "Gemini 2.5 Flash", InputLimit: 1048576, OutputLimit: 65536},
	{ID: "gemini-2.5-flash-lite", DisplayName: "Gemini 2.5 Flash Lite", InputLimit: 1048576, OutputLimit: 65536},
	{ID: "gemini-2.0-flash", DisplayName: "Gemini 2.0 Flash", InputLimit: 1048576, OutputLimit: 8192},
}

// Supported reports whether id names a model in the catalog.
func Supported(id string) bool {
	for _, m := range Models {
		if m.ID == id {
			return true
		}
	}
	return false
}

// OpenAI list shapes.

type OpenAIModel struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type OpenAIModelList struct {
	Object string        `json:"object"`
	Data   []OpenAIModel `json:"data"`
}

// catalogEpoch is a fixed created timestamp so listings are stable.
const catalogEpoch = 1735689600

// OpenAIList renders the catalog as a /v1/models response.
func OpenAIList() OpenAIModelList {
	out := OpenAIModelList{Object: "list"}
	for _, m := range Models {
		out.Data = append(out.Data, OpenAIModel{
			ID:      m.ID,
			Object:  "model",
			Created: catalogEpoch,
			OwnedBy: "google",
		})
	}
	return out
}

// Gemini list shapes.

type GeminiModel struct {
	Name                       string   `json:"name"`
	DisplayName                string   `json:"displayName"`
	InputTokenLimit            int      `json:"inputTokenLimit"`
	OutputTokenLimit           int      `json:"outputTokenLimit"`
	SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
}

type GeminiModelList struct {
	Models []GeminiModel `json:"models"`
}

// GeminiList renders the catalog as a /v1beta/models response.
func GeminiList() GeminiModelList {
	var out GeminiModelList
	for _, m := range Models {
		out.Models = append(out.Models, GeminiModel{
			Name:                       "models/" + m.ID,
			DisplayName:                m.DisplayName,
			InputTokenLimit:            m.InputLimit,
			OutputTokenLimit:           m.OutputLimit,
			SupportedGenerationMethods: []string{"generateContent", "streamGenerateContent"},
		})
	}
	return out
}
