// Package proxy drives a chat request through its whole lifecycle:
// credential resolution, onboarding, translation, the backend call, and
// response delivery in batch or streaming form.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/meihua/gemini-relay/internal/auth/credstore"
	"github.com/meihua/gemini-relay/internal/auth/onboard"
	"github.com/meihua/gemini-relay/internal/auth/token"
	"github.com/meihua/gemini-relay/internal/backend"
	"github.com/meihua/gemini-relay/internal/catalog"
	"github.com/meihua/gemini-relay/internal/translate"
	"github.com/meihua/gemini-relay/internal/util"
)

// maxErrorBody caps how much of an upstream error body is read back.
const maxErrorBody = 64 * 1024

// Dispatcher owns the request lifecycle shared by both inbound schemas.
type Dispatcher struct {
	Refresher *token.Refresher
	Onboarder *onboard.Onboarder
	Backend   *backend.Client
}

// Result is a successful dispatch. Exactly one of Body or Stream is set,
// matching the request's stream flag.
type Result struct {
	// Body is the raw backend response for a batch request, envelope
	// intact.
	Body []byte

	// Stream delivers parsed chunks for a streaming request.
	Stream <-chan translate.Chunk

	Request *translate.Request
}

// Dispatch parses body in the given schema, resolves a usable credential,
// and makes exactly one backend attempt. Failures before the backend call
// never leave the process; failures from the backend preserve the
// upstream status.
func (d *Dispatcher) Dispatch(ctx context.Context, source translate.Schema, model string, body []byte, stream bool, requestID string) (*Result, *Error) {
	cred, err := d.Refresher.EnsureValid(ctx)
	if err != nil {
		return nil, classifyCredentialError(err)
	}

	var req *translate.Request
	switch source {
	case translate.SchemaOpenAI:
		req, err = translate.ParseOpenAI(body)
	case translate.SchemaGemini:
		req, err = translate.ParseGemini(model, body, stream)
	default:
		return nil, dispatchErr(KindSchemaError, http.StatusBadRequest, nil, "unrecognized request schema")
	}
	if err != nil {
		var se *translate.SchemaError
		if errors.As(err, &se) {
			return nil, dispatchErr(KindSchemaError, http.StatusBadRequest, err, "%s", se.Error())
		}
		return nil, dispatchErr(KindSchemaError, http.StatusBadRequest, err, "invalid request")
	}
	for _, warning := range req.Warnings {
		log.Printf("⚠️ [%s] %s", requestID, warning)
	}

	if !catalog.Supported(req.Model) {
		return nil, dispatchErr(KindSchemaError, http.StatusBadRequest, nil,
			"model: unknown model %q", req.Model)
	}

	projectID, err := d.Onboarder.EnsureOnboarded(ctx, cred.AccessToken)
	if err != nil {
		return nil, dispatchErr(KindOnboardError, http.StatusServiceUnavailable, err,
			"project onboarding failed: %v", err)
	}

	payload := translate.ToBackend(req, projectID, requestID)

	if req.Stream {
		resp, err := d.Backend.StreamGenerateContent(ctx, cred.AccessToken, payload)
		if err != nil {
			return nil, dispatchErr(KindBackendError, http.StatusBadGateway, err, "backend unreachable")
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, backendError(resp)
		}
		return &Result{Stream: translate.ReadStream(ctx, resp.Body), Request: req}, nil
	}

	resp, err := d.Backend.GenerateContent(ctx, cred.AccessToken, payload)
	if err != nil {
		return nil, dispatchErr(KindBackendError, http.StatusBadGateway, err, "backend unreachable")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, backendError(resp)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, dispatchErr(KindBackendError, http.StatusBadGateway, err, "reading backend response failed")
	}
	return &Result{Body: raw, Request: req}, nil
}

func classifyCredentialError(err error) *Error {
	var malformed *credstore.MalformedError
	switch {
	case errors.Is(err, credstore.ErrNotFound):
		return dispatchErr(KindCredentialsRequired, http.StatusUnauthorized, err,
			"no credentials available, complete the login flow first")
	case errors.Is(err, token.ErrReauthRequired):
		return dispatchErr(KindReauthRequired, http.StatusUnauthorized, err,
			"stored credentials were rejected, re-authentication required")
	case errors.As(err, &malformed):
		return dispatchErr(KindMalformedCredential, http.StatusInternalServerError, err,
			"stored credential is malformed: field %q %s", malformed.Field, malformed.Reason)
	default:
		// Transient refresh failure: the stored credential may still be
		// good, so do not demand re-authentication.
		return dispatchErr(KindBackendError, http.StatusServiceUnavailable, err,
			"credential refresh failed, try again")
	}
}

// backendError maps a non-200 upstream response, keeping the upstream
// status and a trimmed version of its error message.
func backendError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := gjson.GetBytes(raw, "error.message").String()
	if message == "" {
		message = fmt.Sprintf("backend returned status %d", resp.StatusCode)
	}
	log.Printf("❌ backend error %d: %s", resp.StatusCode, util.TruncateBytes(raw))

	return dispatchErr(KindBackendError, resp.StatusCode, nil, "%s", message)
}
