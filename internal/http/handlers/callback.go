package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"petdance/internal/providers/inference"
)

// Signature header names delivered alongside completion callbacks.
const (
	headerWebhookID        = "Webhook-Id"
	headerWebhookTimestamp = "Webhook-Timestamp"
	headerWebhookSignature = "Webhook-Signature"
)

// CompletionCallback is POST /v1/completion-callback. The endpoint is
// unauthenticated but signature-verified against the raw request bytes; the
// payload must not be re-serialized before verification. Once authenticity
// is established the endpoint always acknowledges 200 so the provider's
// retry mechanism is never tripped by internal failures, which are recorded
// on the job instead.
func (a *App) CompletionCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.error(w, http.StatusBadRequest, "invalid_argument", "unreadable body")
		return
	}

	if err := a.Verifier.Verify(
		body,
		r.Header.Get(headerWebhookID),
		r.Header.Get(headerWebhookTimestamp),
		r.Header.Get(headerWebhookSignature),
	); err != nil {
		a.Logger.Warn().Err(err).Msg("callback signature rejected")
		a.error(w, http.StatusUnauthorized, "unauthenticated", "invalid webhook signature")
		return
	}

	var payload inference.CallbackPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		a.error(w, http.StatusBadRequest, "invalid_argument", "malformed payload")
		return
	}
	if payload.ID == "" {
		a.error(w, http.StatusBadRequest, "invalid_argument", "missing prediction id")
		return
	}

	if err := a.Orchestrator.HandleCallback(r.Context(), payload); err != nil {
		a.Logger.Error().Err(err).Str("external_job_id", payload.ID).Msg("callback processing failed")
	}
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}
