package handlers

import (
	"net/http"

	"github.com/aeternacy/aeterngw/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ReadyHandler struct {
	Lifecycle *lifecycle.Lifecycle
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Lifecycle.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
