package credstore

import (
	"encoding/json"
	"fmt"
	"time"
)

// Credential is the persisted OAuth2 state for the Code Assist backend.
// The access token is valid only while now < Expiry; the refresh token is
// long-lived and never leaves this package except toward Google's token
// endpoint.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry"`
	ProjectID    string    `json:"project_id,omitempty"`
	Onboarded    bool      `json:"onboarded,omitempty"`
}

// MalformedError reports a structurally incomplete credential blob.
type MalformedError struct {
	Field  string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed credential: field %q %s", e.Field, e.Reason)
}

// credentialJSON is the on-disk shape. Expiry is kept raw because the
// gemini-cli family of tools writes either an RFC3339 string or an epoch
// number (seconds or milliseconds).
type credentialJSON struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	Expiry       json.RawMessage `json:"expiry"`
	ExpiryDate   json.RawMessage `json:"expiry_date"` // legacy key, ms epoch
	ProjectID    string          `json:"project_id"`
	Onboarded    bool            `json:"onboarded"`
}

// ParseCredential decodes and validates a credential blob. It returns a
// MalformedError rather than a partially populated credential when any
// required field is missing or unreadable.
func ParseCredential(data []byte) (*Credential, error) {
	var raw credentialJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedError{Field: "(root)", Reason: "is not valid JSON"}
	}

	if raw.AccessToken == "" {
		return nil, &MalformedError{Field: "access_token", Reason: "is required"}
	}
	if raw.RefreshToken == "" {
		return nil, &MalformedError{Field: "refresh_token", Reason: "is required"}
	}

	expiryRaw := raw.Expiry
	field := "expiry"
	if len(expiryRaw) == 0 {
		expiryRaw = raw.ExpiryDate
		field = "expiry_date"
	}
	if len(expiryRaw) == 0 {
		return nil, &MalformedError{Field: "expiry", Reason: "is required"}
	}
	expiry, err := parseExpiry(expiryRaw)
	if err != nil {
		return nil, &MalformedError{Field: field, Reason: err.Error()}
	}

	return &Credential{
		AccessToken:  raw.AccessToken,
		RefreshToken: raw.RefreshToken,
		Expiry:       expiry,
		ProjectID:    raw.ProjectID,
		Onboarded:    raw.Onboarded,
	}, nil
}

// parseExpiry accepts RFC3339 strings and epoch numbers. Epoch values above
// 1e12 are treated as milliseconds.
func parseExpiry(raw json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("is not an RFC3339 timestamp")
		}
		return t, nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n <= 0 {
			return time.Time{}, fmt.Errorf("is not a positive epoch value")
		}
		if n > 1e12 {
			return time.UnixMilli(int64(n)), nil
		}
		return time.Unix(int64(n), 0), nil
	}

	return time.Time{}, fmt.Errorf("is neither a timestamp string nor an epoch number")
}

// Encode serializes the credential in the on-disk format (RFC3339 expiry).
func (c *Credential) Encode() ([]byte, error) {
	out := map[string]interface{}{
		"access_token":  c.AccessToken,
		"refresh_token": c.RefreshToken,
		"expiry":        c.Expiry.UTC().Format(time.RFC3339),
	}
	if c.ProjectID != "" {
		out["project_id"] = c.ProjectID
	}
	if c.Onboarded {
		out["onboarded"] = true
	}
	return json.MarshalIndent(out, "", "  ")
}

// clone returns a value copy so readers never observe in-place mutation.
func (c *Credential) clone() *Credential {
	cp := *c
	return &cp
}
