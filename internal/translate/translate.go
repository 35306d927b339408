// Package translate maps between the two inbound schemas (OpenAI chat
// completions and native Gemini generateContent) and the Code Assist
// backend's wire shape, in both directions, batch and streamed.
//
// Every mapping here is a pure function of its inputs: request ids and
// timestamps come in as arguments, so identical input yields byte-identical
// output.
package translate

import "fmt"

// Schema tags which caller format produced a request, so the response can
// be translated back symmetrically.
type Schema string

const (
	SchemaOpenAI Schema = "openai"
	SchemaGemini Schema = "gemini"
)

// SchemaError reports an unrecognized or malformed request shape, naming
// the offending field path.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid request: field %q %s", e.Field, e.Reason)
}

func schemaErrf(field, format string, args ...interface{}) *SchemaError {
	return &SchemaError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// FunctionCall is a model-emitted tool invocation.
type FunctionCall struct {
	Name string
	Args map[string]interface{}
}

// FunctionResponse is a caller-supplied tool result.
type FunctionResponse struct {
	Name     string
	Response map[string]interface{}
}

// Part is one content part of a conversation turn. Exactly one field is
// set.
type Part struct {
	Text             string
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
}

// Turn is one conversation turn in normalized form. Role is "user" or
// "model".
type Turn struct {
	Role  string
	Parts []Part
}

// ToolDecl declares a callable function to the model.
type ToolDecl struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
}

// GenParams are the generation parameters common to both schemas.
type GenParams struct {
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
	Stop        []string
}

// Request is the normalized intermediate representation every inbound
// schema is parsed into.
type Request struct {
	Source Schema
	Model  string
	System []Part
	Turns  []Turn
	Params GenParams
	Tools  []ToolDecl
	Stream bool

	// Warnings records inbound fields with no backend counterpart that
	// were dropped rather than silently reinterpreted.
	Warnings []string
}

func (r *Request) warnDropped(field string) {
	r.Warnings = append(r.Warnings, fmt.Sprintf("field %q has no backend counterpart and was dropped", field))
}

// Usage is the token accounting attached to a response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// mapFinishReason translates the backend finish reason into OpenAI's
// vocabulary.
func mapFinishReason(reason string) string {
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION", "BLOCKLIST", "PROHIBITED_CONTENT":
		return "content_filter"
	default:
		return "stop"
	}
}
