package notifier

import (
	"context"
	"log/slog"
)

// LogNotifier only logs the message. It is the default when no mail transport
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Send(ctx context.Context, address, subject, body string) bool {
	n.logger.Info("email notification", "to", address, "subject", subject, "body", body)
	return true
}
