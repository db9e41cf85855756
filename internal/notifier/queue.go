package notifier

import (
	"context"
	"log/slog"
	"time"
)

// EmailRoutingKey is the routing key used for queued emails.
const EmailRoutingKey = "email.send"

// Publisher is the part of the RabbitMQ producer the queue notifier needs.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) (string, error)
}

// EmailJob is the payload handed to the mail worker.
type EmailJob struct {
	To       string    `json:"to"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	QueuedAt time.Time `json:"queued_at"`
}

// QueueNotifier hands emails to a mail worker through a message broker.
// A successful Send means the broker accepted the message, not that it was delivered.
type QueueNotifier struct {
	publisher Publisher
	exchange  string
	logger    *slog.Logger
	now       func() time.Time
}

// NewQueueNotifier creates a QueueNotifier publishing to exchange.
func NewQueueNotifier(publisher Publisher, exchange string, logger *slog.Logger) *QueueNotifier {
	return &QueueNotifier{
		publisher: publisher,
		exchange:  exchange,
		logger:    logger,
		now:       time.Now,
	}
}

func (n *QueueNotifier) Send(ctx context.Context, address, subject, body string) bool {
	job := EmailJob{
		To:       address,
		Subject:  subject,
		Body:     body,
		QueuedAt: n.now().UTC(),
	}
	messageID, err := n.publisher.Publish(ctx, n.exchange, EmailRoutingKey, job)
	if err != nil {
		n.logger.Error("failed to queue email", "to", address, "subject", subject, "exchange", n.exchange, "error", err)
		return false
	}
	n.logger.Info("email queued", "to", address, "subject", subject, "message_id", messageID)
	return true
}
