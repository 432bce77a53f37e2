package handlers

import (
	"log/slog"
	"net/http"

	"github.com/aeternacy/aeterngw/pkg/accounts"
	"github.com/aeternacy/aeterngw/pkg/gate"
	"github.com/aeternacy/aeterngw/pkg/gateway/apierror"
	"github.com/aeternacy/aeterngw/pkg/gateway/auth"
	"github.com/aeternacy/aeterngw/pkg/gateway/config"
)

// TokensHandler serves the token economy surface:
//
//	GET  /v1/tokens                 current state + usage counts
//	POST /v1/tokens/topup           direct purchase credit
//	POST /v1/tokens/free-animation  consume one free header animation
//	GET  /v1/tokens/history         recent journal entries
type TokensHandler struct {
	Config   config.Config
	Accounts *accounts.Service
	Usage    *gate.UsageCounter
	Logger   *slog.Logger
}

type topupRequest struct {
	Amount int `json:"amount"`
}

func (h TokensHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeAPIError(w, r, &apierror.Error{Type: apierror.ErrAuthentication, Message: "missing principal"})
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/v1/tokens":
		state := h.Accounts.State(r.Context(), p.Account)
		writeJSON(w, http.StatusOK, map[string]any{
			"tokens": state,
			"usage":  h.Usage.Snapshot(p.Account),
		})

	case r.Method == http.MethodGet && r.URL.Path == "/v1/tokens/history":
		txs, err := h.Accounts.History(r.Context(), p.Account, 100)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})

	case r.Method == http.MethodPost && r.URL.Path == "/v1/tokens/topup":
		var req topupRequest
		if err := decodeBody(r, h.Config.MaxBodyBytes, &req); err != nil {
			writeError(w, r, err)
			return
		}
		if req.Amount <= 0 {
			writeAPIError(w, r, &apierror.Error{
				Type:    apierror.ErrInvalidRequest,
				Message: "amount must be a positive integer",
				Param:   "amount",
			})
			return
		}
		if err := h.Accounts.AddTokens(r.Context(), p.Account, req.Amount); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tokens": h.Accounts.State(r.Context(), p.Account),
		})

	case r.Method == http.MethodPost && r.URL.Path == "/v1/tokens/free-animation":
		if err := h.Accounts.UseFreeHeaderAnimation(r.Context(), p.Account); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"tokens": h.Accounts.State(r.Context(), p.Account),
		})

	default:
		writeAPIError(w, r, &apierror.Error{
			Type:    apierror.ErrNotFound,
			Message: "unknown tokens endpoint",
		})
	}
}
