package util

import (
	"strings"
	"testing"
)

func TestTruncateLog_ShortString(t *testing.T) {
	s := "short message"
	if got := TruncateLog(s, 100); got != s {
		t.Errorf("Short string should pass through unchanged, got %q", got)
	}
}

func TestTruncateLog_LongString(t *testing.T) {
	s := strings.Repeat("x", 2000)
	got := TruncateLog(s, 100)

	if !strings.HasPrefix(got, strings.Repeat("x", 100)) {
		t.Errorf("Truncated string should keep the first maxLen bytes")
	}
	if !strings.Contains(got, "2000 bytes total") {
		t.Errorf("Truncated string should report original size, got %q", got)
	}
}

func TestTruncateBytes_UsesDefault(t *testing.T) {
	b := []byte(strings.Repeat("y", DefaultLogMaxLen+1))
	got := TruncateBytes(b)
	if len(got) <= DefaultLogMaxLen {
		t.Errorf("Expected suffix marker appended")
	}
	if !strings.Contains(got, "truncated") {
		t.Errorf("Expected truncation marker, got %q", got[len(got)-60:])
	}
}
