// Package onboard resolves (or creates) the Cloud project tied to the
// credential via the Code Assist loadCodeAssist/onboardUser calls. The
// result is cached on the credential, so onboarding runs once per
// credential lifetime.
package onboard

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/meihua/gemini-relay/internal/auth/credstore"
	"github.com/meihua/gemini-relay/internal/backend"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const defaultPollInterval = 2 * time.Second

// maxPollAttempts bounds the onboarding long-running operation wait
// (attempts * poll interval).
const maxPollAttempts = 30

// Onboarder performs the one-time project setup for a credential.
type Onboarder struct {
	store  *credstore.Store
	client *backend.Client

	// DefaultProject, when set (GOOGLE_CLOUD_PROJECT), pins the project
	// offered to the backend instead of relying on discovery alone.
	DefaultProject string

	pollInterval time.Duration
	sf           singleflight.Group
}

// New creates an Onboarder bound to the store and backend client.
func New(store *credstore.Store, client *backend.Client) *Onboarder {
	return &Onboarder{
		store:        store,
		client:       client,
		pollInterval: defaultPollInterval,
	}
}

// EnsureOnboarded returns the project id for the current credential,
// running the backend onboarding at most once. An already-onboarded
// credential answers from cache with zero backend calls; concurrent
// first-time callers are coalesced onto a single onboarding run.
func (o *Onboarder) EnsureOnboarded(ctx context.Context, accessToken string) (string, error) {
	if cred, ok := o.store.Current(); ok && cred.Onboarded && cred.ProjectID != "" {
		return cred.ProjectID, nil
	}

	v, err, _ := o.sf.Do("onboard", func() (interface{}, error) {
		// Re-check inside the flight: a queued caller may arrive after
		// the first one already finished.
		if cred, ok := o.store.Current(); ok && cred.Onboarded && cred.ProjectID != "" {
			return cred.ProjectID, nil
		}
		return o.onboard(ctx, accessToken)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (o *Onboarder) onboard(ctx context.Context, accessToken string) (string, error) {
	projectID, tierID, err := o.loadCodeAssist(ctx, accessToken)
	if err != nil {
		return "", err
	}

	if projectID == "" {
		projectID, err = o.runOnboardOperation(ctx, accessToken, tierID)
		if err != nil {
			return "", err
		}
	}
	if projectID == "" {
		return "", fmt.Errorf("backend returned no project id")
	}

	if _, err := o.store.Update(func(c *credstore.Credential) {
		c.ProjectID = projectID
		c.Onboarded = true
	}); err != nil {
		return "", fmt.Errorf("persist onboarding result: %w", err)
	}

	log.Printf("✅ Onboarded with project ID: %s", projectID)
	return projectID, nil
}

// loadCodeAssist returns the already-associated project id (when any) and
// the default tier id to onboard with otherwise.
func (o *Onboarder) loadCodeAssist(ctx context.Context, accessToken string) (projectID, tierID string, err error) {
	payload := map[string]interface{}{
		"metadata": backend.ClientMetadata(),
	}
	if o.DefaultProject != "" {
		payload["cloudaicompanionProject"] = o.DefaultProject
	}

	body, err := o.call(ctx, accessToken, "loadCodeAssist", payload, o.client.LoadCodeAssist)
	if err != nil {
		return "", "", err
	}

	root := gjson.ParseBytes(body)

	if p := root.Get("cloudaicompanionProject"); p.Exists() {
		if p.Type == gjson.String && p.String() != "" {
			return p.String(), "", nil
		}
		if id := p.Get("id").String(); id != "" {
			return id, "", nil
		}
	}

	tierID = "free-tier"
	root.Get("allowedTiers").ForEach(func(_, tier gjson.Result) bool {
		if tier.Get("isDefault").Bool() {
			if id := tier.Get("id").String(); id != "" {
				tierID = id
			}
			return false
		}
		return true
	})
	return "", tierID, nil
}

// runOnboardOperation starts the onboardUser long-running operation and
// polls it to completion.
func (o *Onboarder) runOnboardOperation(ctx context.Context, accessToken, tierID string) (string, error) {
	payload := map[string]interface{}{
		"tierId":   tierID,
		"metadata": backend.ClientMetadata(),
	}
	if o.DefaultProject != "" {
		payload["cloudaicompanionProject"] = o.DefaultProject
	}

	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		body, err := o.call(ctx, accessToken, "onboardUser", payload, o.client.OnboardUser)
		if err != nil {
			return "", err
		}

		lro := gjson.ParseBytes(body)
		if lro.Get("done").Bool() {
			if id := lro.Get("response.cloudaicompanionProject.id").String(); id != "" {
				return id, nil
			}
			if id := lro.Get("response.cloudaicompanionProject").String(); id != "" {
				return id, nil
			}
			return "", fmt.Errorf("onboarding finished without a project id")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(o.pollInterval):
		}
	}
	return "", fmt.Errorf("onboarding did not complete after %d attempts", maxPollAttempts)
}

type callFn func(ctx context.Context, accessToken string, payload interface{}) (*http.Response, error)

func (o *Onboarder) call(ctx context.Context, accessToken, name string, payload interface{}, fn callFn) ([]byte, error) {
	resp, err := fn(ctx, accessToken, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: HTTP %d: %s", name, resp.StatusCode, body)
	}
	return body, nil
}
