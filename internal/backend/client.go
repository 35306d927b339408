// Package backend is the HTTP client for Google's Code Assist API
// (cloudcode-pa.googleapis.com/v1internal). One inbound request maps to
// exactly one backend call; retry policy belongs to the caller.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/meihua/gemini-relay/internal/logging"
	"github.com/meihua/gemini-relay/internal/util"
)

// DefaultBaseURL is the production Code Assist endpoint.
const DefaultBaseURL = "https://cloudcode-pa.googleapis.com/v1internal"

const (
	userAgent = "GeminiCLI/0.1.5 (linux; x64)"
	apiClient = "gl-node/22.17.0"
)

// clientMetadata identifies the calling surface to the Code Assist API.
var clientMetadata = map[string]string{
	"ideType":    "IDE_UNSPECIFIED",
	"platform":   "PLATFORM_UNSPECIFIED",
	"pluginType": "GEMINI",
}

// Client handles communication with the Code Assist API.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a backend client. The underlying http.Client carries no
// timeout of its own; per-request deadlines and cancellation come from the
// context, so a cancelled inbound connection tears the backend call down.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{},
		baseURL:    DefaultBaseURL,
	}
}

// WithBaseURL overrides the endpoint, used by tests.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// GenerateContent calls :generateContent for a batch completion.
func (c *Client) GenerateContent(ctx context.Context, accessToken string, payload interface{}) (*http.Response, error) {
	return c.do(ctx, "generateContent", "", accessToken, payload)
}

// StreamGenerateContent calls :streamGenerateContent with SSE framing.
func (c *Client) StreamGenerateContent(ctx context.Context, accessToken string, payload interface{}) (*http.Response, error) {
	return c.do(ctx, "streamGenerateContent", "alt=sse", accessToken, payload)
}

// LoadCodeAssist fetches account configuration, including the Cloud
// project association when one already exists.
func (c *Client) LoadCodeAssist(ctx context.Context, accessToken string, payload interface{}) (*http.Response, error) {
	return c.do(ctx, "loadCodeAssist", "", accessToken, payload)
}

// OnboardUser starts (or polls) the long-running project onboarding
// operation for the account.
func (c *Client) OnboardUser(ctx context.Context, accessToken string, payload interface{}) (*http.Response, error) {
	return c.do(ctx, "onboardUser", "", accessToken, payload)
}

// ClientMetadata returns the metadata block sent on onboarding calls.
func ClientMetadata() map[string]string {
	out := make(map[string]string, len(clientMetadata))
	for k, v := range clientMetadata {
		out[k] = v
	}
	return out
}

func (c *Client) do(ctx context.Context, method, queryString, accessToken string, payload interface{}) (*http.Response, error) {
	url := fmt.Sprintf("%s:%s", c.baseURL, method)
	if queryString != "" {
		url += "?" + queryString
	}

	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(jsonData)

		if util.IsVerbose() {
			log.Printf("📤 [VERBOSE] [%s] Code Assist :%s payload: %s",
				logging.GetRequestID(ctx), method, util.TruncateBytes(jsonData))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Goog-Api-Client", apiClient)
	metadataJSON, _ := json.Marshal(clientMetadata)
	req.Header.Set("Client-Metadata", string(metadataJSON))
	if queryString == "alt=sse" {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("code assist request failed: %w", err)
	}
	return resp, nil
}
