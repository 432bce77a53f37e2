package mw

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aeternacy/aeterngw/pkg/gateway/apierror"
	"github.com/aeternacy/aeterngw/pkg/gateway/auth"
	"github.com/aeternacy/aeterngw/pkg/gateway/config"
	"github.com/aeternacy/aeterngw/pkg/gateway/ratelimit"
)

type ctxKeyRequestID struct{}

func RequestIDFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKeyRequestID{}).(string)
	return id, ok && id != ""
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID{}, id)
}

func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if id == "" {
			id = "req_" + randHex(10)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}

func Auth(cfg config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID, _ := RequestIDFrom(r.Context())

		if cfg.AuthMode == config.AuthModeDisabled {
			p := &auth.Principal{Account: "local"}
			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
			return
		}

		token, ok := auth.ParseBearer(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, &apierror.Error{
				Type:      apierror.ErrAuthentication,
				Message:   "missing bearer token",
				Param:     "Authorization",
				RequestID: reqID,
			})
			return
		}
		account, ok := cfg.APIKeys[token]
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, &apierror.Error{
				Type:      apierror.ErrAuthentication,
				Message:   "invalid api key",
				RequestID: reqID,
			})
			return
		}
		p := &auth.Principal{APIKey: token, Account: account}
		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The voice WebSocket holds its own long-lived permit.
		if r.URL.Path == "/v1/voice" {
			next.ServeHTTP(w, r)
			return
		}

		account := ""
		if p, ok := auth.PrincipalFrom(r.Context()); ok {
			account = p.Account
		}
		decision := limiter.AcquireRequest(account, time.Now())
		if !decision.Allowed {
			reqID, _ := RequestIDFrom(r.Context())
			retryAfter := decision.RetryAfter
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSONError(w, http.StatusTooManyRequests, &apierror.Error{
				Type:      apierror.ErrRateLimit,
				Message:   "rate limit exceeded",
				RequestID: reqID,
			})
			return
		}
		defer decision.Permit.Release()
		next.ServeHTTP(w, r)
	})
}

func Recover(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if logger != nil {
					logger.Error("panic", "panic", v)
				}
				http.Error(w, "internal error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

type flusherStatusWriter struct {
	*statusWriter
}

func (w flusherStatusWriter) Flush() {
	w.ResponseWriter.(http.Flusher).Flush()
}

type hijackerStatusWriter struct {
	*statusWriter
}

func (w hijackerStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}

type flusherHijackerStatusWriter struct {
	*statusWriter
}

func (w flusherHijackerStatusWriter) Flush() {
	w.ResponseWriter.(http.Flusher).Flush()
}

func (w flusherHijackerStatusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return w.ResponseWriter.(http.Hijacker).Hijack()
}

// wrapStatus records the response status while advertising only the
// optional interfaces the underlying writer actually supports. The voice
// WebSocket upgrade depends on http.Hijacker surviving the wrap.
func wrapStatus(w http.ResponseWriter) (http.ResponseWriter, *statusWriter) {
	sw := &statusWriter{ResponseWriter: w, status: 200}
	_, canFlush := w.(http.Flusher)
	_, canHijack := w.(http.Hijacker)
	switch {
	case canFlush && canHijack:
		return flusherHijackerStatusWriter{sw}, sw
	case canFlush:
		return flusherStatusWriter{sw}, sw
	case canHijack:
		return hijackerStatusWriter{sw}, sw
	default:
		return sw, sw
	}
}

func AccessLog(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped, sw := wrapStatus(w)
		next.ServeHTTP(wrapped, r)
		if logger == nil {
			return
		}
		reqID, _ := RequestIDFrom(r.Context())
		logger.Info("request",
			"request_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand should not fail in practice; fall back to time-based entropy.
		return hex.EncodeToString([]byte(time.Now().Format("20060102150405.000000000")))
	}
	return hex.EncodeToString(b)
}

func writeJSONError(w http.ResponseWriter, status int, err *apierror.Error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: err})
}
