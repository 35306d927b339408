package google

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/meihua/gemini-relay/internal/auth/credstore"
	"golang.org/x/oauth2"
)

const (
	// PreferredCallbackPort matches the port the gemini-cli registers for
	// its loopback redirect. Falls back to a random high port when taken.
	PreferredCallbackPort = 8085

	// CallbackTimeout is how long to wait for the OAuth callback.
	CallbackTimeout = 5 * time.Minute
)

func newStateToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// RunInteractiveFlow performs the authorization-code exchange end to end:
// starts a loopback callback server, logs the consent URL for the operator,
// waits for the redirect, exchanges the code and persists the new credential
// through the store. It blocks until completion, timeout or ctx
// cancellation; callers who must not block startup run it in a goroutine.
func RunInteractiveFlow(ctx context.Context, store *credstore.Store) (*credstore.Credential, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", PreferredCallbackPort))
	if err != nil {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("start callback server: %w", err)
		}
		log.Printf("[OAuth] Port %d in use, using random port", PreferredCallbackPort)
	}
	port := listener.Addr().(*net.TCPAddr).Port

	redirectURL := fmt.Sprintf("http://localhost:%d/oauth2callback", port)
	config := GetOAuthConfig(redirectURL)
	state := newStateToken()

	type exchangeResult struct {
		cred *credstore.Credential
		err  error
	}
	resultCh := make(chan exchangeResult, 1)

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2callback", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != state {
			resultCh <- exchangeResult{err: fmt.Errorf("invalid state token")}
			http.Error(w, "Invalid state token", http.StatusBadRequest)
			return
		}
		if errParam := r.URL.Query().Get("error"); errParam != "" {
			resultCh <- exchangeResult{err: fmt.Errorf("authorization denied: %s", errParam)}
			http.Error(w, "Authorization denied", http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		token, err := config.Exchange(r.Context(), code)
		if err != nil {
			resultCh <- exchangeResult{err: fmt.Errorf("token exchange failed: %w", err)}
			http.Error(w, "Token exchange failed", http.StatusInternalServerError)
			return
		}

		cred := &credstore.Credential{
			AccessToken:  token.AccessToken,
			RefreshToken: token.RefreshToken,
			Expiry:       token.Expiry,
		}
		resultCh <- exchangeResult{cred: cred}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<!DOCTYPE html>
<html>
<head><title>Authentication Complete</title></head>
<body style="font-family: sans-serif; max-width: 480px; margin: 80px auto; text-align: center;">
	<h1>&#9989; Authentication complete</h1>
	<p>You can close this window and return to the relay.</p>
</body>
</html>`)
	})

	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)
	defer srv.Close()

	authURL := config.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
	)
	log.Printf("🔐 Open this URL in a browser to authorize the relay:\n%s", authURL)

	timeout := time.NewTimer(CallbackTimeout)
	defer timeout.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		if err := store.Save(res.cred); err != nil {
			return nil, fmt.Errorf("persist credential: %w", err)
		}
		log.Printf("✅ Interactive authorization complete, credential saved to %s", store.Path())
		return res.cred, nil
	case <-timeout.C:
		return nil, fmt.Errorf("timed out waiting for OAuth callback after %s", CallbackTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
