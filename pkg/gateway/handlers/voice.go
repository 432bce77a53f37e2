package handlers

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeternacy/aeterngw/pkg/ai"
	"github.com/aeternacy/aeterngw/pkg/gate"
	"github.com/aeternacy/aeterngw/pkg/gateway/apierror"
	"github.com/aeternacy/aeterngw/pkg/gateway/auth"
	"github.com/aeternacy/aeterngw/pkg/gateway/config"
	"github.com/aeternacy/aeterngw/pkg/gateway/lifecycle"
	"github.com/aeternacy/aeterngw/pkg/gateway/ratelimit"
	"github.com/aeternacy/aeterngw/pkg/gateway/voice/protocol"
	"github.com/aeternacy/aeterngw/pkg/gateway/voice/session"
	"github.com/aeternacy/aeterngw/pkg/gateway/voice/sessions"
)

const defaultVoiceSystemInstruction = "You are æternacy's gentle memory companion. " +
	"Help the person reflect on and preserve their memories. Speak warmly and briefly."

// VoiceHandler upgrades GET /v1/voice into a live voice session.
type VoiceHandler struct {
	Config    config.Config
	Dialer    ai.RealtimeDialer
	Gate      *gate.Gate
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
	Logger    *slog.Logger
}

func (h VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeAPIError(w, r, &apierror.Error{
			Type: apierror.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed",
		})
		return
	}
	if h.Lifecycle.IsDraining() {
		writeAPIError(w, r, &apierror.Error{
			Type: apierror.ErrOverloaded, Message: "gateway is draining", Code: "draining",
		})
		return
	}
	p, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		writeAPIError(w, r, &apierror.Error{Type: apierror.ErrAuthentication, Message: "missing principal"})
		return
	}
	if !h.originAllowed(r) {
		writeAPIError(w, r, &apierror.Error{
			Type: apierror.ErrPermission, Message: "origin is not allowed", Param: "Origin",
		})
		return
	}

	decision := h.Limiter.AcquireVoiceSession(p.Account, time.Now())
	if !decision.Allowed {
		writeAPIError(w, r, &apierror.Error{
			Type: apierror.ErrRateLimit, Message: "too many concurrent voice sessions",
		})
		return
	}
	defer decision.Permit.Release()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.VoiceMaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.VoiceMaxJSONMessageBytes)
	}

	hello, ok := h.readHello(conn)
	if !ok {
		return
	}

	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	system := strings.TrimSpace(hello.System)
	if system == "" {
		system = defaultVoiceSystemInstruction
	}

	// The session start is a token-costing action: the gate debits
	// before dialing and refunds if the realtime endpoint cannot be
	// reached. A session that opened and later failed stays spent.
	var upstream ai.RealtimeSession
	err = h.Gate.Run(r.Context(), p.Account, gate.FeatureVoiceSession, h.Config.CostVoiceSession, func(ctx context.Context) error {
		var dialErr error
		upstream, dialErr = h.Dialer.Connect(ctx, ai.RealtimeConfig{
			SystemInstruction: system,
			Voice:             hello.Voice,
		})
		return dialErr
	})
	if err != nil {
		h.writeWSError(conn, err)
		return
	}

	sessionID := "vs_" + randHexID(10)
	sess := session.New(sessionID, session.Config{
		PingInterval:       h.Config.VoicePingInterval,
		WriteTimeout:       h.Config.VoiceWriteTimeout,
		MaxSessionDuration: h.Config.VoiceMaxSessionDuration,
		MaxFrameBytes:      h.Config.VoiceMaxFrameBytes,
	}, conn, upstream, logger)

	unregister := h.Sessions.Register(sessionID, sessions.Handle{
		Stop: func() { _ = sess.Stop() },
	})
	defer unregister()

	logger.Info("voice session started", "session_id", sessionID, "account", p.Account)
	if err := sess.Run(r.Context()); err != nil {
		logger.Warn("voice session ended with error", "session_id", sessionID, "error", err)
		return
	}
	logger.Info("voice session ended", "session_id", sessionID, "turns", len(sess.History()))
}

// readHello enforces the handshake: first frame must be a valid hello
// within the handshake timeout.
func (h VoiceHandler) readHello(conn *websocket.Conn) (protocol.ClientHello, bool) {
	handshakeTimeout := h.Config.VoiceHandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSFrame(conn, protocol.ServerError{Type: "error", Code: "bad_request", Message: "failed to read hello", Fatal: true})
		return protocol.ClientHello{}, false
	}
	if messageType != websocket.TextMessage {
		h.writeWSFrame(conn, protocol.ServerError{Type: "error", Code: "bad_request", Message: "first frame must be hello", Fatal: true})
		return protocol.ClientHello{}, false
	}
	decoded, err := protocol.DecodeClientMessage(firstFrame)
	if err != nil {
		h.writeWSFrame(conn, protocol.ServerError{Type: "error", Code: "bad_request", Message: "invalid hello frame", Fatal: true})
		return protocol.ClientHello{}, false
	}
	hello, ok := decoded.(protocol.ClientHello)
	if !ok {
		h.writeWSFrame(conn, protocol.ServerError{Type: "error", Code: "bad_request", Message: "first frame must be hello", Fatal: true})
		return protocol.ClientHello{}, false
	}
	if err := hello.Validate(); err != nil {
		h.writeWSFrame(conn, protocol.ServerError{Type: "error", Code: "bad_request", Message: err.Error(), Fatal: true})
		return protocol.ClientHello{}, false
	}
	_ = conn.SetReadDeadline(time.Time{})
	return hello, true
}

func (h VoiceHandler) writeWSError(conn *websocket.Conn, err error) {
	apiErr, _ := apierror.FromError(err, "")
	h.writeWSFrame(conn, protocol.ServerError{
		Type:    "error",
		Code:    string(apiErr.Type),
		Message: apiErr.Message,
		Fatal:   true,
	})
}

func (h VoiceHandler) writeWSFrame(conn *websocket.Conn, frame any) {
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_ = conn.WriteMessage(websocket.TextMessage, protocol.Encode(frame))
}

func (h VoiceHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true // non-browser client
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func randHexID(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return hex.EncodeToString([]byte(time.Now().Format("150405.000000000")))
	}
	return hex.EncodeToString(b)
}
