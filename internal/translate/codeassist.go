package translate

// Code Assist wire envelope: the v1internal API wraps a standard Gemini
// request in {project, requestId, model, request{...}}.

// wireUserAgent identifies this relay inside the request envelope, distinct
// from the HTTP User-Agent header.
const wireUserAgent = "gemini-relay"

type CodeAssistRequest struct {
	Project   string            `json:"project"`
	RequestID string            `json:"requestId,omitempty"`
	Model     string            `json:"model"`
	UserAgent string            `json:"userAgent,omitempty"`
	Request   CodeAssistPayload `json:"request"`
}

type CodeAssistPayload struct {
	Contents          []CodeAssistContent `json:"contents"`
	SystemInstruction *CodeAssistContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig   `json:"generationConfig,omitempty"`
	Tools             []CodeAssistTool    `json:"tools,omitempty"`
	SessionID         string              `json:"sessionId,omitempty"`
}

type CodeAssistContent struct {
	Role  string           `json:"role,omitempty"` // omitted for systemInstruction
	Parts []CodeAssistPart `json:"parts"`
}

type CodeAssistPart struct {
	Text             string                `json:"text,omitempty"`
	FunctionCall     *WireFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *WireFunctionResponse `json:"functionResponse,omitempty"`
}

type WireFunctionCall struct {
	Name string                 `json:"name"`
	Args map[string]interface{} `json:"args,omitempty"`
}

type WireFunctionResponse struct {
	Name     string                 `json:"name"`
	Response map[string]interface{} `json:"response,omitempty"`
}

type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type CodeAssistTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToBackend maps a normalized request into the Code Assist call shape.
// projectID and requestID are caller inputs; given the same inputs the
// output is identical.
func ToBackend(req *Request, projectID, requestID string) *CodeAssistRequest {
	payload := CodeAssistPayload{
		SessionID: requestID,
	}

	for _, turn := range req.Turns {
		content := CodeAssistContent{Role: turn.Role}
		for _, p := range turn.Parts {
			content.Parts = append(content.Parts, toWirePart(p))
		}
		payload.Contents = append(payload.Contents, content)
	}

	if len(req.System) > 0 {
		sys := &CodeAssistContent{}
		for _, p := range req.System {
			sys.Parts = append(sys.Parts, toWirePart(p))
		}
		payload.SystemInstruction = sys
	}

	if p := req.Params; p.Temperature != nil || p.TopP != nil || p.MaxTokens != nil || len(p.Stop) > 0 {
		payload.GenerationConfig = &GenerationConfig{
			Temperature:     req.Params.Temperature,
			TopP:            req.Params.TopP,
			MaxOutputTokens: req.Params.MaxTokens,
			StopSequences:   req.Params.Stop,
		}
	}

	if len(req.Tools) > 0 {
		var decls []FunctionDeclaration
		for _, t := range req.Tools {
			decls = append(decls, FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  sanitizeSchema(t.Parameters),
			})
		}
		payload.Tools = []CodeAssistTool{{FunctionDeclarations: decls}}
	}

	return &CodeAssistRequest{
		Project:   projectID,
		RequestID: requestID,
		Model:     req.Model,
		UserAgent: wireUserAgent,
		Request:   payload,
	}
}

func toWirePart(p Part) CodeAssistPart {
	switch {
	case p.FunctionCall != nil:
		return CodeAssistPart{FunctionCall: &WireFunctionCall{
			Name: p.FunctionCall.Name,
			Args: p.FunctionCall.Args,
		}}
	case p.FunctionResponse != nil:
		return CodeAssistPart{FunctionResponse: &WireFunctionResponse{
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		}}
	default:
		return CodeAssistPart{Text: p.Text}
	}
}

// sanitizeSchema strips JSON Schema fields the backend's OpenAPI-style
// schema rejects, recursively.
func sanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	result := make(map[string]interface{}, len(schema))
	for k, v := range schema {
		if k == "additionalProperties" || k == "strict" || k == "$schema" {
			continue
		}
		if nested, ok := v.(map[string]interface{}); ok {
			result[k] = sanitizeSchema(nested)
		} else {
			result[k] = v
		}
	}
	return result
}
