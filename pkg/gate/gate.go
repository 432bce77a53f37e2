// Package gate implements the confirmation gate: the check-and-debit
// wrapper around every token-costing feature action.
package gate

import (
	"context"
	"log/slog"
	"time"

	"github.com/aeternacy/aeterngw/pkg/ai"
)

// Feature keys used for usage tracking and telemetry.
const (
	FeatureVideoReflection = "ai_video_reflection"
	FeatureLivingSlideshow = "living_slideshow"
	FeatureMagazine        = "magazine"
	FeatureChatReply       = "chat_reply"
	FeatureSpeech          = "speech"
	FeatureVoiceSession    = "voice_session"
)

// The third successful video reflection triggers a one-shot upsell
// nudge after a short delay.
const (
	reflectionNudgeAt = 3
	nudgeDelay        = 2500 * time.Millisecond
)

// NotificationKind distinguishes user-visible toast categories.
type NotificationKind string

const (
	NotifyError   NotificationKind = "error"
	NotifySuccess NotificationKind = "success"
	NotifyUpsell  NotificationKind = "upsell"
)

// Notification is a user-facing toast-style message.
type Notification struct {
	Kind    NotificationKind
	Feature string
	Message string
}

// Notifier delivers user-facing notifications. Implementations must be
// safe for concurrent use.
type Notifier interface {
	Notify(account string, n Notification)
}

// TokenBank is the slice of the account service the gate needs.
type TokenBank interface {
	Debit(ctx context.Context, account, feature string, cost int) error
	Refund(ctx context.Context, account, feature string, amount int)
}

// Gate intercepts feature invocations that cost Tokæn: it debits
// optimistically before the action runs and reconciles afterwards.
type Gate struct {
	bank     TokenBank
	usage    *UsageCounter
	notifier Notifier
	logger   *slog.Logger

	// after schedules the delayed nudge; swapped out in tests.
	after func(d time.Duration, f func())
}

func New(bank TokenBank, usage *UsageCounter, notifier Notifier, logger *slog.Logger) *Gate {
	if usage == nil {
		usage = NewUsageCounter()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		bank:     bank,
		usage:    usage,
		notifier: notifier,
		logger:   logger,
		after:    func(d time.Duration, f func()) { time.AfterFunc(d, f) },
	}
}

// Usage exposes the counter for read-side consumers.
func (g *Gate) Usage() *UsageCounter {
	return g.usage
}

// Run executes a token-costing action for an account:
//
//  1. Emits a token_preview telemetry event.
//  2. Atomically debits cost; on insufficient balance the action is
//     never invoked and no state changes.
//  3. Invokes the action and awaits settlement. Debit strictly precedes
//     the action; there is exactly one debit per invocation.
//  4. Success increments the feature usage counter; the third
//     successful video reflection schedules the delayed upsell nudge.
//  5. A safety-policy block forfeits the spend. Any other failure is
//     refunded in full with a "Tokæn returned" notification.
//
// The returned error is the action's own error (or the debit error);
// callers below the gate only need to fail to signal failure, they
// never touch tokens themselves.
func (g *Gate) Run(ctx context.Context, account, feature string, cost int, action func(ctx context.Context) error) error {
	g.logger.Info("token_preview", "account", account, "feature", feature, "cost", cost)

	if err := g.bank.Debit(ctx, account, feature, cost); err != nil {
		g.notify(account, Notification{
			Kind:    NotifyError,
			Feature: feature,
			Message: "Not enough Tokæn for this feature.",
		})
		return err
	}

	if err := action(ctx); err != nil {
		if ai.IsSafetyBlocked(err) {
			// The attempt consumed backend resources; the spend stands.
			g.logger.Warn("safety_block", "account", account, "feature", feature, "cost", cost)
			return err
		}
		g.bank.Refund(ctx, account, feature, cost)
		g.logger.Info("token_refund", "account", account, "feature", feature, "amount", cost)
		g.notify(account, Notification{
			Kind:    NotifySuccess,
			Feature: feature,
			Message: "Tokæn returned.",
		})
		return err
	}

	if n := g.usage.Increment(account, feature); feature == FeatureVideoReflection && n == reflectionNudgeAt {
		g.after(nudgeDelay, func() {
			g.notify(account, Notification{
				Kind:    NotifyUpsell,
				Feature: feature,
				Message: "Loving your reflections? Unlock more with the fæmily plan.",
			})
		})
	}
	return nil
}

func (g *Gate) notify(account string, n Notification) {
	if g.notifier != nil {
		g.notifier.Notify(account, n)
	}
}
