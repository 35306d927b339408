package translate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// OpenAI chat-completions request shapes.

type OpenAIChatRequest struct {
	Model            string          `json:"model"`
	Messages         []OpenAIMessage `json:"messages"`
	Stream           bool            `json:"stream,omitempty"`
	Temperature      *float64        `json:"temperature,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	Stop             StopSequences   `json:"stop,omitempty"`
	Tools            []OpenAITool    `json:"tools,omitempty"`
	N                *int            `json:"n,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	LogitBias        map[string]int  `json:"logit_bias,omitempty"`
	User             string          `json:"user,omitempty"`
}

// StopSequences accepts both the single-string and array forms.
type StopSequences []string

func (s *StopSequences) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

type OpenAITool struct {
	Type     string                    `json:"type"`
	Function *OpenAIFunctionDefinition `json:"function,omitempty"`
}

type OpenAIFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

type OpenAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`

	hasContent bool
}

// UnmarshalJSON handles both string and multimodal-array content formats,
// concatenating text parts the way the backend expects.
func (m *OpenAIMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role       string           `json:"role"`
		Content    json.RawMessage  `json:"content"`
		Name       string           `json:"name"`
		ToolCallID string           `json:"tool_call_id"`
		ToolCalls  []OpenAIToolCall `json:"tool_calls"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.Role = a.Role
	m.Name = a.Name
	m.ToolCallID = a.ToolCallID
	m.ToolCalls = a.ToolCalls

	if len(a.Content) == 0 || string(a.Content) == "null" {
		return nil
	}
	m.hasContent = true

	var str string
	if err := json.Unmarshal(a.Content, &str); err == nil {
		m.Content = str
		return nil
	}

	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(a.Content, &parts); err == nil {
		var texts []string
		for _, p := range parts {
			if p.Type == "text" && p.Text != "" {
				texts = append(texts, p.Text)
			}
		}
		m.Content = strings.Join(texts, "\n")
		return nil
	}

	m.Content = string(a.Content)
	return nil
}

// ParseOpenAI validates an OpenAI chat-completions body and normalizes it.
func ParseOpenAI(body []byte) (*Request, error) {
	var in OpenAIChatRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, schemaErrf("(body)", "is not a valid chat completion request: %v", err)
	}

	if in.Model == "" {
		return nil, schemaErrf("model", "is required")
	}
	if len(in.Messages) == 0 {
		return nil, schemaErrf("messages", "is required and must not be empty")
	}

	out := &Request{
		Source: SchemaOpenAI,
		Model:  in.Model,
		Stream: in.Stream,
		Params: GenParams{
			Temperature: in.Temperature,
			TopP:        in.TopP,
			MaxTokens:   in.MaxTokens,
			Stop:        in.Stop,
		},
	}

	for i, msg := range in.Messages {
		field := fmt.Sprintf("messages[%d]", i)
		switch msg.Role {
		case "system", "developer":
			if !msg.hasContent {
				return nil, schemaErrf(field+".content", "is required")
			}
			out.System = append(out.System, Part{Text: msg.Content})

		case "user":
			if !msg.hasContent {
				return nil, schemaErrf(field+".content", "is required")
			}
			out.Turns = append(out.Turns, Turn{Role: "user", Parts: []Part{{Text: msg.Content}}})

		case "assistant":
			turn := Turn{Role: "model"}
			if msg.hasContent && msg.Content != "" {
				turn.Parts = append(turn.Parts, Part{Text: msg.Content})
			}
			for j, tc := range msg.ToolCalls {
				args := map[string]interface{}{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
						return nil, schemaErrf(
							fmt.Sprintf("%s.tool_calls[%d].function.arguments", field, j),
							"is not valid JSON")
					}
				}
				turn.Parts = append(turn.Parts, Part{FunctionCall: &FunctionCall{
					Name: tc.Function.Name,
					Args: args,
				}})
			}
			if len(turn.Parts) == 0 {
				return nil, schemaErrf(field+".content", "is required")
			}
			out.Turns = append(out.Turns, turn)

		case "tool":
			name := msg.Name
			if name == "" {
				name = msg.ToolCallID
			}
			if name == "" {
				return nil, schemaErrf(field+".tool_call_id", "is required")
			}
			out.Turns = append(out.Turns, Turn{Role: "user", Parts: []Part{{
				FunctionResponse: &FunctionResponse{
					Name:     name,
					Response: map[string]interface{}{"result": msg.Content},
				},
			}}})

		case "":
			return nil, schemaErrf(field+".role", "is required")
		default:
			return nil, schemaErrf(field+".role", "must be one of system, user, assistant, tool (got %q)", msg.Role)
		}
	}

	for i, tool := range in.Tools {
		if tool.Type != "function" || tool.Function == nil {
			out.warnDropped(fmt.Sprintf("tools[%d]", i))
			continue
		}
		out.Tools = append(out.Tools, ToolDecl{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}

	if in.N != nil && *in.N > 1 {
		out.warnDropped("n")
	}
	if in.PresencePenalty != nil {
		out.warnDropped("presence_penalty")
	}
	if in.FrequencyPenalty != nil {
		out.warnDropped("frequency_penalty")
	}
	if len(in.LogitBias) > 0 {
		out.warnDropped("logit_bias")
	}

	return out, nil
}

// OpenAI response shapes.

type OpenAIChatResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   *OpenAIUsage   `json:"usage,omitempty"`
}

type OpenAIChoice struct {
	Index        int                 `json:"index"`
	Message      *OpenAIOutMessage   `json:"message,omitempty"`
	Delta        *OpenAIDeltaMessage `json:"delta,omitempty"`
	FinishReason *string             `json:"finish_reason"`
}

type OpenAIOutMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIDeltaMessage struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type OpenAIStreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Error   *OpenAIError   `json:"error,omitempty"`
}

type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code,omitempty"`
}

// ToOpenAIResponse reconstructs an OpenAI chat completion from a batch
// backend response. requestID and created are inputs so the mapping stays
// deterministic.
func ToOpenAIResponse(backendBody []byte, model, requestID string, created int64) ([]byte, error) {
	inner := UnwrapEnvelope(backendBody)
	root := gjson.ParseBytes(inner)

	msg := &OpenAIOutMessage{Role: "assistant"}
	var text strings.Builder
	callIndex := 0
	root.Get("candidates.0.content.parts").ForEach(func(_, part gjson.Result) bool {
		if fc := part.Get("functionCall"); fc.Exists() {
			tc := OpenAIToolCall{
				ID:   fmt.Sprintf("call_%s_%d", requestID, callIndex),
				Type: "function",
			}
			tc.Function.Name = fc.Get("name").String()
			args := fc.Get("args").Raw
			if args == "" {
				args = "{}"
			}
			tc.Function.Arguments = args
			msg.ToolCalls = append(msg.ToolCalls, tc)
			callIndex++
			return true
		}
		if part.Get("thought").Bool() {
			return true
		}
		text.WriteString(part.Get("text").String())
		return true
	})
	msg.Content = text.String()

	finish := mapFinishReason(root.Get("candidates.0.finishReason").String())
	if len(msg.ToolCalls) > 0 && finish == "stop" {
		finish = "tool_calls"
	}

	resp := OpenAIChatResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: created,
		Model:   model,
		Choices: []OpenAIChoice{{
			Index:        0,
			Message:      msg,
			FinishReason: &finish,
		}},
	}
	if usage := extractUsage(root); usage != nil {
		resp.Usage = &OpenAIUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}

	return json.Marshal(resp)
}

// OpenAIChunkJSON renders one streamed delta in chat.completion.chunk
// framing.
func OpenAIChunkJSON(ch Chunk, model, requestID string, created int64) ([]byte, error) {
	choice := OpenAIChoice{
		Index: 0,
		Delta: &OpenAIDeltaMessage{Role: "assistant", Content: ch.Delta},
	}
	if ch.FinishReason != "" {
		fr := mapFinishReason(ch.FinishReason)
		choice.FinishReason = &fr
	}
	chunk := OpenAIStreamChunk{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []OpenAIChoice{choice},
	}
	return json.Marshal(chunk)
}

// OpenAIErrorChunkJSON renders the best-effort terminal event emitted when
// the backend stream ends abnormally.
func OpenAIErrorChunkJSON(message, model, requestID string, created int64) ([]byte, error) {
	fr := "error"
	chunk := OpenAIStreamChunk{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []OpenAIChoice{{
			Index:        0,
			Delta:        &OpenAIDeltaMessage{},
			FinishReason: &fr,
		}},
		Error: &OpenAIError{Message: message, Type: "stream_interrupted"},
	}
	return json.Marshal(chunk)
}
