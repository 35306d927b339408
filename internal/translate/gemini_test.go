package translate

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseGemini(t *testing.T) {
	body := []byte(`{
		"systemInstruction": {"parts": [{"text": "be brief"}]},
		"contents": [
			{"role": "user", "parts": [{"text": "hi"}]},
			{"role": "model", "parts": [{"text": "hello"}]},
			{"role": "user", "parts": [{"text": "bye"}]}
		],
		"generationConfig": {"temperature": 0.7, "maxOutputTokens": 100, "stopSequences": ["END"]}
	}`)

	req, err := ParseGemini("gemini-2.5-flash", body, true)
	if err != nil {
		t.Fatalf("ParseGemini: %v", err)
	}
	if req.Source != SchemaGemini || !req.Stream {
		t.Errorf("Source/Stream = %q/%v", req.Source, req.Stream)
	}
	if len(req.System) != 1 || req.System[0].Text != "be brief" {
		t.Errorf("System = %+v", req.System)
	}
	if len(req.Turns) != 3 || req.Turns[1].Role != "model" {
		t.Errorf("Turns = %+v", req.Turns)
	}
	if req.Params.Temperature == nil || *req.Params.Temperature != 0.7 {
		t.Errorf("Temperature = %v", req.Params.Temperature)
	}
	if req.Params.MaxTokens == nil || *req.Params.MaxTokens != 100 {
		t.Errorf("MaxTokens = %v", req.Params.MaxTokens)
	}
	if len(req.Params.Stop) != 1 || req.Params.Stop[0] != "END" {
		t.Errorf("Stop = %v", req.Params.Stop)
	}
}

func TestParseGeminiDefaultsRoleToUser(t *testing.T) {
	body := []byte(`{"contents": [{"parts": [{"text": "hi"}]}]}`)
	req, err := ParseGemini("m", body, false)
	if err != nil {
		t.Fatalf("ParseGemini: %v", err)
	}
	if req.Turns[0].Role != "user" {
		t.Errorf("role = %q", req.Turns[0].Role)
	}
}

func TestParseGeminiSchemaErrors(t *testing.T) {
	cases := []struct {
		name  string
		model string
		body  string
		field string
	}{
		{"missing model", "", `{"contents":[{"parts":[{"text":"x"}]}]}`, "model"},
		{"empty contents", "m", `{"contents":[]}`, "contents"},
		{"bad role", "m", `{"contents":[{"role":"system","parts":[{"text":"x"}]}]}`, "contents[0].role"},
		{"empty parts", "m", `{"contents":[{"role":"user","parts":[]}]}`, "contents[0].parts"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseGemini(tc.model, []byte(tc.body), false)
			var se *SchemaError
			if !errors.As(err, &se) {
				t.Fatalf("got %v, want SchemaError", err)
			}
			if se.Field != tc.field {
				t.Errorf("Field = %q, want %q", se.Field, tc.field)
			}
		})
	}
}

func TestParseGeminiInlineDataDropped(t *testing.T) {
	body := []byte(`{"contents": [{"role": "user", "parts": [
		{"text": "look at this"},
		{"inlineData": {"mimeType": "image/png", "data": "aGk="}}
	]}]}`)

	req, err := ParseGemini("m", body, false)
	if err != nil {
		t.Fatalf("ParseGemini: %v", err)
	}
	if len(req.Turns[0].Parts) != 1 {
		t.Errorf("parts = %+v", req.Turns[0].Parts)
	}
	if len(req.Warnings) != 1 {
		t.Errorf("warnings = %v", req.Warnings)
	}
}

func TestParseGeminiFunctionParts(t *testing.T) {
	body := []byte(`{"contents": [
		{"role": "model", "parts": [{"functionCall": {"name": "f", "args": {"a": 1}}}]},
		{"role": "user", "parts": [{"functionResponse": {"name": "f", "response": {"result": "ok"}}}]}
	]}`)

	req, err := ParseGemini("m", body, false)
	if err != nil {
		t.Fatalf("ParseGemini: %v", err)
	}
	if req.Turns[0].Parts[0].FunctionCall == nil {
		t.Error("functionCall part lost")
	}
	if resp := req.Turns[1].Parts[0].FunctionResponse; resp == nil || resp.Response["result"] != "ok" {
		t.Errorf("functionResponse = %+v", resp)
	}
}

func TestUnwrapEnvelope(t *testing.T) {
	wrapped := []byte(`{"response": {"candidates": [{"content": {"parts": [{"text": "hi"}]}}]}}`)
	inner := UnwrapEnvelope(wrapped)
	if got := string(inner); got != `{"candidates": [{"content": {"parts": [{"text": "hi"}]}}]}` {
		t.Errorf("unwrapped = %s", got)
	}

	bare := []byte(`{"candidates": []}`)
	if got := UnwrapEnvelope(bare); string(got) != string(bare) {
		t.Errorf("bare body changed: %s", got)
	}
}

func TestGeminiErrorEventJSON(t *testing.T) {
	out := GeminiErrorEventJSON("stream cut short")
	var ev struct {
		Error struct {
			Code    int    `json:"code"`
			Status  string `json:"status"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(out, &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Error.Code != 503 || ev.Error.Status != "UNAVAILABLE" || ev.Error.Message != "stream cut short" {
		t.Errorf("event = %+v", ev)
	}
}
