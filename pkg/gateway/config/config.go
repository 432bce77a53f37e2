package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	// API key -> account ID. An edge layer normally terminates real
	// user auth; the gateway itself only needs a stable account handle.
	APIKeys map[string]string

	MaxBodyBytes int64

	// CORS
	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Token economy
	DefaultTier string
	PostgresDSN string // empty => in-memory store

	// Feature costs in Tokæn.
	CostVideoReflection int
	CostLivingSlideshow int
	CostMagazine        int
	CostChatReply       int
	CostSpeech          int
	CostVoiceSession    int

	// Gemini
	GeminiAPIKey string
	ChatModel    string
	TTSModel     string
	VideoModel   string
	LiveModel    string

	// Stripe
	StripeWebhookSecret string

	// Voice WebSocket session limits.
	VoiceMaxJSONMessageBytes int64
	VoiceMaxFrameBytes       int
	VoiceHandshakeTimeout    time.Duration
	VoiceMaxSessionDuration  time.Duration
	VoicePingInterval        time.Duration
	VoiceWriteTimeout        time.Duration
	VoiceSessionsPerAccount  int

	// In-memory limits (per account).
	LimitRPS   float64
	LimitBurst int

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:     envOr("AETERN_ADDR", ":8080"),
		AuthMode: AuthMode(envOr("AETERN_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:  make(map[string]string),

		MaxBodyBytes: envInt64Or("AETERN_MAX_BODY_BYTES", 1<<20), // 1 MiB

		CORSAllowedOrigins: make(map[string]struct{}),

		DefaultTier: envOr("AETERN_DEFAULT_TIER", "free"),
		PostgresDSN: envOr("AETERN_POSTGRES_DSN", ""),

		CostVideoReflection: envIntOr("AETERN_COST_VIDEO_REFLECTION", 600),
		CostLivingSlideshow: envIntOr("AETERN_COST_LIVING_SLIDESHOW", 400),
		CostMagazine:        envIntOr("AETERN_COST_MAGAZINE", 250),
		CostChatReply:       envIntOr("AETERN_COST_CHAT_REPLY", 5),
		CostSpeech:          envIntOr("AETERN_COST_SPEECH", 10),
		CostVoiceSession:    envIntOr("AETERN_COST_VOICE_SESSION", 50),

		GeminiAPIKey: envOr("AETERN_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
		ChatModel:    envOr("AETERN_CHAT_MODEL", ""),
		TTSModel:     envOr("AETERN_TTS_MODEL", ""),
		VideoModel:   envOr("AETERN_VIDEO_MODEL", ""),
		LiveModel:    envOr("AETERN_LIVE_MODEL", ""),

		StripeWebhookSecret: envOr("AETERN_STRIPE_WEBHOOK_SECRET", ""),

		VoiceMaxJSONMessageBytes: envInt64Or("AETERN_VOICE_MAX_JSON_BYTES", 256<<10),
		VoiceMaxFrameBytes:       envIntOr("AETERN_VOICE_MAX_FRAME_BYTES", 64<<10),
		VoiceHandshakeTimeout:    envDurOr("AETERN_VOICE_HANDSHAKE_TIMEOUT", 5*time.Second),
		VoiceMaxSessionDuration:  envDurOr("AETERN_VOICE_MAX_SESSION_DURATION", 30*time.Minute),
		VoicePingInterval:        envDurOr("AETERN_VOICE_PING_INTERVAL", 20*time.Second),
		VoiceWriteTimeout:        envDurOr("AETERN_VOICE_WRITE_TIMEOUT", 5*time.Second),
		VoiceSessionsPerAccount:  envIntOr("AETERN_VOICE_SESSIONS_PER_ACCOUNT", 1),

		LimitRPS:   envFloatOr("AETERN_LIMIT_RPS", 10),
		LimitBurst: envIntOr("AETERN_LIMIT_BURST", 20),

		ReadHeaderTimeout:   envDurOr("AETERN_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurOr("AETERN_READ_TIMEOUT", 60*time.Second),
		ShutdownGracePeriod: envDurOr("AETERN_SHUTDOWN_GRACE", 15*time.Second),
	}

	// AETERN_API_KEYS is a comma-separated list of key:account pairs.
	for _, entry := range strings.Split(os.Getenv("AETERN_API_KEYS"), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, account, ok := strings.Cut(entry, ":")
		key = strings.TrimSpace(key)
		account = strings.TrimSpace(account)
		if !ok || key == "" || account == "" {
			return Config{}, fmt.Errorf("AETERN_API_KEYS entry %q must be key:account", entry)
		}
		cfg.APIKeys[key] = account
	}

	for _, origin := range strings.Split(os.Getenv("AETERN_CORS_ALLOWED_ORIGINS"), ",") {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			cfg.CORSAllowedOrigins[origin] = struct{}{}
		}
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("AETERN_AUTH_MODE must be required or disabled, got %q", cfg.AuthMode)
	}
	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("AETERN_AUTH_MODE=required needs at least one AETERN_API_KEYS entry")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Or(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOr(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDurOr(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
