package catalog

import "testing"

func TestSupported(t *testing.T) {
	if !Supported("gemini-2.5-pro") {
		t.Error("gemini-2.5-pro should be supported")
	}
	if Supported("gpt-4") {
		t.Error("gpt-4 should not be supported")
	}
}

func TestOpenAIList(t *testing.T) {
	list := OpenAIList()
	if list.Object != "list" {
		t.Errorf("Object = %q", list.Object)
	}
	if len(list.Data) != len(Models) {
		t.Fatalf("got %d entries, want %d", len(list.Data), len(Models))
	}
	for _, m := range list.Data {
		if m.Object != "model" || m.OwnedBy != "google" || m.ID == "" {
			t.Errorf("entry = %+v", m)
		}
	}
}

func TestGeminiList(t *testing.T) {
	list := GeminiList()
	if len(list.Models) != len(Models) {
		t.Fatalf("got %d entries, want %d", len(list.Models), len(Models))
	}
	first := list.Models[0]
	if first.Name != "models/gemini-2.5-pro" {
		t.Errorf("Name = %q", first.Name)
	}
	if len(first.SupportedGenerationMethods) != 2 {
		t.Errorf("methods = %v", first.SupportedGenerationMethods)
	}
}
