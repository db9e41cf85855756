package notifier

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExpiryWarningTemplate(t *testing.T) {
	msg := ExpiryWarning("Pro", 2)
	if msg.Subject != "Subscription Expiry Warning - Pro" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Your Pro subscription will expire in 2 days.") {
		t.Fatalf("unexpected body %q", msg.Body)
	}
	if !strings.Contains(ExpiryWarning("Basic", 1).Body, "expire in 1 day.") {
		t.Fatal("expected singular day for one day left")
	}
}

func TestExpiryNoticeTemplate(t *testing.T) {
	msg := ExpiryNotice("Pro")
	if msg.Subject != "Subscription Expired - Pro" {
		t.Fatalf("unexpected subject %q", msg.Subject)
	}
	if !strings.Contains(msg.Body, "Your Pro subscription has expired.") {
		t.Fatalf("unexpected body %q", msg.Body)
	}
}

type publisherStub struct {
	err        error
	exchange   string
	routingKey string
	body       any
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body any) (string, error) {
	p.exchange = exchange
	p.routingKey = routingKey
	p.body = body
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

func TestQueueNotifierPublishesEmailJob(t *testing.T) {
	pub := &publisherStub{}
	n := NewQueueNotifier(pub, "subscriptions.notifications", discardLogger())
	fixed := time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)
	n.now = func() time.Time { return fixed }

	if !n.Send(context.Background(), "user@example.com", "subject", "body") {
		t.Fatal("expected send to succeed")
	}
	if pub.exchange != "subscriptions.notifications" || pub.routingKey != EmailRoutingKey {
		t.Fatalf("unexpected routing %s/%s", pub.exchange, pub.routingKey)
	}
	job, ok := pub.body.(EmailJob)
	if !ok {
		t.Fatalf("expected EmailJob payload, got %T", pub.body)
	}
	if job.To != "user@example.com" || job.Subject != "subject" || job.Body != "body" || !job.QueuedAt.Equal(fixed) {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestQueueNotifierReportsFailureWithoutError(t *testing.T) {
	pub := &publisherStub{err: errors.New("channel closed")}
	n := NewQueueNotifier(pub, "x", discardLogger())
	if n.Send(context.Background(), "user@example.com", "s", "b") {
		t.Fatal("expected send to report failure")
	}
}

func TestNewSMTPNotifierValidatesConfig(t *testing.T) {
	if _, err := NewSMTPNotifier(SMTPConfig{Port: 587}, discardLogger()); err == nil {
		t.Fatal("expected error for missing server")
	}
	if _, err := NewSMTPNotifier(SMTPConfig{Server: "smtp.example.com", Port: 587}, discardLogger()); err == nil {
		t.Fatal("expected error for missing sender")
	}
	n, err := NewSMTPNotifier(SMTPConfig{Server: "smtp.example.com", Port: 587, Username: "noreply@example.com", Password: "secret"}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.from != "noreply@example.com" {
		t.Fatalf("expected sender to default to username, got %q", n.from)
	}
}

func TestSMTPNotifierRejectsMalformedRecipient(t *testing.T) {
	n, err := NewSMTPNotifier(SMTPConfig{Server: "smtp.example.com", Port: 587, From: "noreply@example.com"}, discardLogger())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Send(context.Background(), "not an address", "s", "b") {
		t.Fatal("expected malformed recipient to fail without dialing")
	}
}

func TestLogNotifierAlwaysSucceeds(t *testing.T) {
	if !SendMessage(context.Background(), NewLogNotifier(discardLogger()), "user@example.com", ExpiryNotice("Pro")) {
		t.Fatal("expected log notifier to succeed")
	}
}
