package util

import (
	"os"
	"strings"
)

// IsVerbose checks if the RELAY_VERBOSE environment variable is set.
// Accepts: "1", "true", "yes" (case-insensitive)
func IsVerbose() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("RELAY_VERBOSE")))
	return v == "1" || v == "true" || v == "yes"
}
