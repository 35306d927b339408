// Package token keeps the stored credential's access token valid: proactive
// refresh inside a skew margin, durable persistence of the refreshed token,
// and coalescing so concurrent requests trigger at most one refresh.
package token

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/meihua/gemini-relay/internal/auth/credstore"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// SkewMargin is the safety buffer before expiry that triggers a proactive
// refresh, so a token cannot expire mid-call.
const SkewMargin = 30 * time.Second

// ErrReauthRequired signals a revoked or otherwise permanently rejected
// refresh token; only a new interactive flow can recover.
var ErrReauthRequired = errors.New("refresh token rejected, re-authentication required")

// Refresher exchanges the refresh token for new access tokens via the
// store, which stays the single owner of credential mutation.
type Refresher struct {
	store  *credstore.Store
	config *oauth2.Config
	skew   time.Duration
	sf     singleflight.Group
}

// NewRefresher creates a Refresher bound to the given store and OAuth config.
func NewRefresher(store *credstore.Store, config *oauth2.Config) *Refresher {
	return &Refresher{
		store:  store,
		config: config,
		skew:   SkewMargin,
	}
}

// EnsureValid returns a credential whose access token is valid beyond the
// skew margin, refreshing (and persisting) first when necessary. Concurrent
// callers sharing an expiring credential are coalesced onto one refresh;
// every waiter receives the same refreshed credential or the same error.
func (r *Refresher) EnsureValid(ctx context.Context) (*credstore.Credential, error) {
	cred, ok := r.store.Current()
	if !ok {
		loaded, err := r.store.Load()
		if err != nil {
			return nil, err
		}
		cred = loaded
	}

	if time.Until(cred.Expiry) > r.skew {
		return cred, nil
	}

	v, err, _ := r.sf.Do("refresh", func() (interface{}, error) {
		return r.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*credstore.Credential), nil
}

func (r *Refresher) refresh(ctx context.Context) (*credstore.Credential, error) {
	// Re-check under the coalescing flight: a previous flight may have
	// already refreshed while this caller was queued.
	cred, ok := r.store.Current()
	if !ok {
		return nil, credstore.ErrNotFound
	}
	if time.Until(cred.Expiry) > r.skew {
		return cred, nil
	}

	ts := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	newToken, err := ts.Token()
	if err != nil {
		if isPermanentRefreshError(err) {
			log.Printf("🔒 Refresh token rejected permanently: %v", err)
			return nil, fmt.Errorf("%w: %v", ErrReauthRequired, err)
		}
		return nil, fmt.Errorf("token refresh failed: %w", err)
	}

	// Persist before handing the token to anyone: a restart must not lose
	// the refreshed state.
	updated, err := r.store.Update(func(c *credstore.Credential) {
		c.AccessToken = newToken.AccessToken
		c.Expiry = newToken.Expiry
		// Persist rotated refresh token if provided (RFC 6749 compliance)
		if newToken.RefreshToken != "" && newToken.RefreshToken != c.RefreshToken {
			log.Printf("🔄 Rotating refresh token")
			c.RefreshToken = newToken.RefreshToken
		}
	})
	if err != nil {
		return nil, fmt.Errorf("persist refreshed token: %w", err)
	}

	log.Printf("✅ Access token refreshed (expires: %s)", newToken.Expiry.Format(time.RFC3339))
	return updated, nil
}

func isPermanentRefreshError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	permanentMarkers := []string{
		"invalid_grant",
		"invalid_client",
		"unauthorized_client",
		"token has been expired or revoked",
		"revoked",
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
