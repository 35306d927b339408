package middleware

import (
	"net/http"
	"strings"
)

// PasswordAuth gates the API behind a shared password. Callers may
// present it as a Bearer token, HTTP Basic password, x-goog-api-key
// header, or 'key' query parameter.
func PasswordAuth(password string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if password == "" {
				// No password configured, allow all requests (first-run scenario)
				next.ServeHTTP(w, r)
				return
			}

			// Check Authorization header (Bearer token)
			authHeader := r.Header.Get("Authorization")
			if strings.HasPrefix(authHeader, "Bearer ") {
				if strings.TrimPrefix(authHeader, "Bearer ") == password {
					next.ServeHTTP(w, r)
					return
				}
			}

			// Check HTTP Basic auth (password side only)
			if _, basicPass, ok := r.BasicAuth(); ok && basicPass == password {
				next.ServeHTTP(w, r)
				return
			}

			// Check x-goog-api-key header (GenAI SDK)
			if r.Header.Get("x-goog-api-key") == password {
				next.ServeHTTP(w, r)
				return
			}

			// Check 'key' query parameter (std Google API style)
			if queryKey := r.URL.Query().Get("key"); queryKey != "" && queryKey == password {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error": {"message": "Invalid API key", "type": "authentication_error"}}`))
		})
	}
}
