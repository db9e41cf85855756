package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wneessen/go-mail"
)

// SMTPConfig holds the settings of the outgoing mail relay.
type SMTPConfig struct {
	Server   string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPNotifier sends plain-text email over SMTP with mandatory STARTTLS.
type SMTPNotifier struct {
	client *mail.Client
	from   string
	logger *slog.Logger
}

// NewSMTPNotifier validates cfg and prepares a mail client. No connection is
// opened until the first Send.
func NewSMTPNotifier(cfg SMTPConfig, logger *slog.Logger) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Server) == "" {
		return nil, fmt.Errorf("smtp server is not configured")
	}

	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = strings.TrimSpace(cfg.Username)
	}
	if from == "" {
		return nil, fmt.Errorf("smtp sender address is not configured")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Server, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client: %w", err)
	}

	return &SMTPNotifier{client: client, from: from, logger: logger}, nil
}

// Send delivers one message. Failures are logged and reported as false.
func (n *SMTPNotifier) Send(ctx context.Context, address, subject, body string) bool {
	msg := mail.NewMsg()
	if err := msg.From(n.from); err != nil {
		n.logger.Error("invalid sender address", "from", n.from, "error", err)
		return false
	}
	if err := msg.To(address); err != nil {
		n.logger.Warn("invalid recipient address", "to", address, "error", err)
		return false
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := n.client.DialAndSendWithContext(ctx, msg); err != nil {
		n.logger.Error("email sending failed", "to", address, "subject", subject, "error", err)
		return false
	}
	return true
}
