package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aeternacy/aeterngw/pkg/gateway/apierror"
	"github.com/aeternacy/aeterngw/pkg/gateway/mw"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr, status := apierror.FromError(err, reqID)
	writeJSON(w, status, apierror.Envelope{Error: apiErr})
}

func writeAPIError(w http.ResponseWriter, r *http.Request, apiErr *apierror.Error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	apiErr.RequestID = reqID
	writeJSON(w, apierror.StatusFromType(apiErr.Type), apierror.Envelope{Error: apiErr})
}

// decodeBody strictly decodes a JSON request body with a size cap.
func decodeBody(r *http.Request, maxBytes int64, v any) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "failed to read request body"}
	}
	if int64(len(body)) > maxBytes {
		return &apierror.Error{Type: apierror.ErrInvalidRequest, Message: "request body too large"}
	}
	d := json.NewDecoder(bytes.NewReader(body))
	d.DisallowUnknownFields()
	if err := d.Decode(v); err != nil {
		return &apierror.Error{
			Type:    apierror.ErrInvalidRequest,
			Message: fmt.Sprintf("invalid request body: %v", err),
		}
	}
	return nil
}
