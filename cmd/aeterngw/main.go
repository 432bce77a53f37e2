// Command aeterngw runs the æternacy gateway: the token economy,
// confirmation-gated generation features, and live voice sessions.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/aeternacy/aeterngw/pkg/accounts"
	"github.com/aeternacy/aeterngw/pkg/ai/gemini"
	"github.com/aeternacy/aeterngw/pkg/billing"
	"github.com/aeternacy/aeterngw/pkg/gate"
	"github.com/aeternacy/aeterngw/pkg/gateway/config"
	"github.com/aeternacy/aeterngw/pkg/gateway/server"
	"github.com/aeternacy/aeterngw/pkg/notify"
	"github.com/aeternacy/aeterngw/pkg/store"
	"github.com/aeternacy/aeterngw/pkg/store/memory"
	"github.com/aeternacy/aeterngw/pkg/store/postgres"
	"github.com/aeternacy/aeterngw/pkg/tokens"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	_ = godotenv.Load() // allow .env for local runs

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.PostgresDSN != "" {
		pgStore, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		st = pgStore
		logger.Info("using postgres store")
	} else {
		st = memory.New()
		logger.Info("using in-memory store; token state will not survive a restart")
	}

	defaultTier, ok := tokens.ParseTier(cfg.DefaultTier)
	if !ok {
		defaultTier = tokens.TierFree
	}
	accountSvc := accounts.NewService(st, defaultTier, logger)

	aiClient, err := gemini.New(ctx, cfg.GeminiAPIKey, gemini.Options{
		ChatModel:  cfg.ChatModel,
		TTSModel:   cfg.TTSModel,
		VideoModel: cfg.VideoModel,
		LiveModel:  cfg.LiveModel,
	})
	if err != nil {
		return err
	}

	g := gate.New(accountSvc, gate.NewUsageCounter(), notify.LogNotifier{Logger: logger}, logger)

	deps := server.Deps{
		Accounts: accountSvc,
		Gate:     g,
		AI:       aiClient,
		Dialer:   aiClient,
	}
	if cfg.StripeWebhookSecret != "" {
		deps.Webhook = &billing.Webhook{
			Secret:   cfg.StripeWebhookSecret,
			Accounts: accountSvc,
			Logger:   logger,
		}
	}

	srv := server.New(cfg, deps, logger)
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "grace", cfg.ShutdownGracePeriod.String())
	srv.Lifecycle().SetDraining(true)
	srv.Sessions().StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := srv.Sessions().Wait(shutdownCtx); err != nil {
		logger.Warn("voice sessions did not drain in time", "error", err)
	}
	return httpSrv.Shutdown(shutdownCtx)
}
