// Package notify provides the default notification sink. The gateway
// has no push channel to the client in this codepath, so notifications
// are structured log lines an edge layer can fan out later.
package notify

import (
	"log/slog"

	"github.com/aeternacy/aeterngw/pkg/gate"
)

type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(account string, note gate.Notification) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"account", account,
		"kind", string(note.Kind),
		"feature", note.Feature,
		"message", note.Message,
	)
}
