package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/aeternacy/aeterngw/pkg/billing"
	"github.com/aeternacy/aeterngw/pkg/gateway/apierror"
)

// BillingHandler receives Stripe webhooks. Stripe authenticates with
// the payload signature, not a bearer key, so this route bypasses the
// normal auth middleware.
type BillingHandler struct {
	Webhook      *billing.Webhook
	MaxBodyBytes int64
	Logger       *slog.Logger
}

func (h BillingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, r, &apierror.Error{
			Type: apierror.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed",
		})
		return
	}

	maxBytes := h.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	if err != nil {
		writeAPIError(w, r, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "failed to read payload"})
		return
	}

	if err := h.Webhook.HandlePayload(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("stripe webhook rejected", "error", err)
		}
		writeAPIError(w, r, &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "webhook verification failed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"received": "true"})
}
