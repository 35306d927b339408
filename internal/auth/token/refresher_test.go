package token

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meihua/gemini-relay/internal/auth/credstore"
	"golang.org/x/oauth2"
)

// newTokenServer returns a fake OAuth token endpoint counting refresh calls.
func newTokenServer(t *testing.T, calls *atomic.Int64, status int, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		// Small delay widens the window in which concurrent requesters pile up.
		time.Sleep(30 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
}

func testConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "id",
		ClientSecret: "secret",
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func seedStore(t *testing.T, expiry time.Time) *credstore.Store {
	t.Helper()
	store := credstore.New(filepath.Join(t.TempDir(), "oauth_creds.json"))
	err := store.Save(&credstore.Credential{
		AccessToken:  "stale-token",
		RefreshToken: "refresh-token",
		Expiry:       expiry,
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestEnsureValid_FreshTokenNoNetworkCall(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, http.StatusOK,
		`{"access_token":"new","token_type":"Bearer","expires_in":3600}`)
	defer srv.Close()

	store := seedStore(t, time.Now().Add(time.Hour))
	r := NewRefresher(store, testConfig(srv.URL))

	cred, err := r.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid failed: %v", err)
	}
	if cred.AccessToken != "stale-token" {
		t.Errorf("Fresh credential must be returned unchanged, got %s", cred.AccessToken)
	}
	if calls.Load() != 0 {
		t.Errorf("Expected zero refresh calls for a fresh token, got %d", calls.Load())
	}
}

func TestEnsureValid_RefreshInsideSkewMargin(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, http.StatusOK,
		`{"access_token":"refreshed","token_type":"Bearer","expires_in":3600}`)
	defer srv.Close()

	// Expiry inside the skew margin but not yet past.
	store := seedStore(t, time.Now().Add(5*time.Second))
	r := NewRefresher(store, testConfig(srv.URL))

	cred, err := r.EnsureValid(context.Background())
	if err != nil {
		t.Fatalf("EnsureValid failed: %v", err)
	}
	if cred.AccessToken != "refreshed" {
		t.Errorf("Expected refreshed token, got %s", cred.AccessToken)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected exactly one refresh call, got %d", calls.Load())
	}
}

func TestEnsureValid_RefreshIsDurable(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, http.StatusOK,
		`{"access_token":"refreshed","token_type":"Bearer","expires_in":3600,"refresh_token":"rotated"}`)
	defer srv.Close()

	store := seedStore(t, time.Now().Add(-time.Minute))
	r := NewRefresher(store, testConfig(srv.URL))

	if _, err := r.EnsureValid(context.Background()); err != nil {
		t.Fatalf("EnsureValid failed: %v", err)
	}

	// A brand-new store over the same file must see the refreshed state.
	reloaded, err := credstore.New(store.Path()).Load()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if reloaded.AccessToken != "refreshed" {
		t.Errorf("Refreshed access token not persisted, got %s", reloaded.AccessToken)
	}
	if reloaded.RefreshToken != "rotated" {
		t.Errorf("Rotated refresh token not persisted, got %s", reloaded.RefreshToken)
	}
}

func TestEnsureValid_CoalescesConcurrentRefreshers(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, http.StatusOK,
		`{"access_token":"shared","token_type":"Bearer","expires_in":3600}`)
	defer srv.Close()

	store := seedStore(t, time.Now().Add(-time.Minute))
	r := NewRefresher(store, testConfig(srv.URL))

	const n = 16
	tokens := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := r.EnsureValid(context.Background())
			if err != nil {
				errs[i] = err
				return
			}
			tokens[i] = cred.AccessToken
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("Requester %d failed: %v", i, errs[i])
		}
		if tokens[i] != "shared" {
			t.Errorf("Requester %d got token %q, want the shared refreshed token", i, tokens[i])
		}
	}
	if calls.Load() != 1 {
		t.Errorf("Expected exactly one refresh call under %d concurrent requesters, got %d", n, calls.Load())
	}
}

func TestEnsureValid_PermanentFailureSignalsReauth(t *testing.T) {
	var calls atomic.Int64
	srv := newTokenServer(t, &calls, http.StatusBadRequest,
		`{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`)
	defer srv.Close()

	store := seedStore(t, time.Now().Add(-time.Minute))
	r := NewRefresher(store, testConfig(srv.URL))

	_, err := r.EnsureValid(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Errorf("Expected ErrReauthRequired, got %v", err)
	}
}

func TestEnsureValid_NoCredential(t *testing.T) {
	store := credstore.New(filepath.Join(t.TempDir(), "oauth_creds.json"))
	r := NewRefresher(store, testConfig("http://127.0.0.1:0/token"))

	_, err := r.EnsureValid(context.Background())
	if !errors.Is(err, credstore.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
