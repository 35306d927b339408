package logging

import (
	"context"
	"testing"
)

func TestGenerateRequestID_Length(t *testing.T) {
	id := GenerateRequestID()
	if len(id) != 8 {
		t.Errorf("Expected 8-character request ID, got %d: %q", len(id), id)
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abcd1234")
	if got := GetRequestID(ctx); got != "abcd1234" {
		t.Errorf("Expected abcd1234, got %q", got)
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("Expected empty request ID on bare context, got %q", got)
	}
}
