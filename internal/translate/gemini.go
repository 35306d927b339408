package translate

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Native Gemini generateContent request shapes.

type geminiIn struct {
	Contents          []geminiContent  `json:"contents"`
	SystemInstruction *geminiContent   `json:"systemInstruction"`
	GenerationConfig  *geminiGenConfig `json:"generationConfig"`
	Tools             []geminiTool     `json:"tools"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string `json:"text"`
	Thought      bool   `json:"thought"`
	FunctionCall *struct {
		Name string                 `json:"name"`
		Args map[string]interface{} `json:"args"`
	} `json:"functionCall"`
	FunctionResponse *struct {
		Name     string                 `json:"name"`
		Response map[string]interface{} `json:"response"`
	} `json:"functionResponse"`
	InlineData json.RawMessage `json:"inlineData"`
}

type geminiGenConfig struct {
	Temperature     *float64 `json:"temperature"`
	TopP            *float64 `json:"topP"`
	MaxOutputTokens *int     `json:"maxOutputTokens"`
	StopSequences   []string `json:"stopSequences"`
}

type geminiTool struct {
	FunctionDeclarations []struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"functionDeclarations"`
}

// ParseGemini validates a native Gemini generateContent body and
// normalizes it. The model comes from the URL path; the stream flag from
// the route.
func ParseGemini(model string, body []byte, stream bool) (*Request, error) {
	if model == "" {
		return nil, schemaErrf("model", "is required")
	}

	var in geminiIn
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, schemaErrf("(body)", "is not a valid generateContent request: %v", err)
	}
	if len(in.Contents) == 0 {
		return nil, schemaErrf("contents", "is required and must not be empty")
	}

	out := &Request{
		Source: SchemaGemini,
		Model:  model,
		Stream: stream,
	}

	if in.SystemInstruction != nil {
		for _, p := range in.SystemInstruction.Parts {
			out.System = append(out.System, Part{Text: p.Text})
		}
	}

	for i, content := range in.Contents {
		field := fmt.Sprintf("contents[%d]", i)

		role := content.Role
		if role == "" {
			role = "user"
		}
		if role != "user" && role != "model" {
			return nil, schemaErrf(field+".role", "must be user or model (got %q)", content.Role)
		}
		if len(content.Parts) == 0 {
			return nil, schemaErrf(field+".parts", "is required and must not be empty")
		}

		turn := Turn{Role: role}
		for j, p := range content.Parts {
			switch {
			case p.FunctionCall != nil:
				turn.Parts = append(turn.Parts, Part{FunctionCall: &FunctionCall{
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				}})
			case p.FunctionResponse != nil:
				turn.Parts = append(turn.Parts, Part{FunctionResponse: &FunctionResponse{
					Name:     p.FunctionResponse.Name,
					Response: p.FunctionResponse.Response,
				}})
			case len(p.InlineData) > 0:
				out.warnDropped(fmt.Sprintf("%s.parts[%d].inlineData", field, j))
			default:
				turn.Parts = append(turn.Parts, Part{Text: p.Text})
			}
		}
		if len(turn.Parts) == 0 {
			return nil, schemaErrf(field+".parts", "contains no supported part")
		}
		out.Turns = append(out.Turns, turn)
	}

	if gc := in.GenerationConfig; gc != nil {
		out.Params = GenParams{
			Temperature: gc.Temperature,
			TopP:        gc.TopP,
			MaxTokens:   gc.MaxOutputTokens,
			Stop:        gc.StopSequences,
		}
	}

	for _, tool := range in.Tools {
		for _, fd := range tool.FunctionDeclarations {
			out.Tools = append(out.Tools, ToolDecl{
				Name:        fd.Name,
				Description: fd.Description,
				Parameters:  fd.Parameters,
			})
		}
	}

	return out, nil
}

// UnwrapEnvelope strips the Code Assist {"response": ...} wrapper, leaving
// the standard Gemini response object. Bodies without the wrapper pass
// through untouched.
func UnwrapEnvelope(body []byte) []byte {
	if inner := gjson.GetBytes(body, "response"); inner.Exists() && inner.IsObject() {
		return []byte(inner.Raw)
	}
	return body
}

// GeminiErrorEventJSON renders the terminal error event for a native
// Gemini stream that ended abnormally.
func GeminiErrorEventJSON(message string) []byte {
	out, _ := json.Marshal(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    503,
			"status":  "UNAVAILABLE",
			"message": message,
		},
	})
	return out
}
