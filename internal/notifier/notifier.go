// Package notifier delivers subscription emails. Delivery is best effort:
// implementations log failures and report them through a boolean, never through
// an error or panic, so a failed email can not block a lifecycle transition.
package notifier

import (
	"context"
	"fmt"
)

// Notifier sends one message to one address and reports whether it was accepted.
type Notifier interface {
	Send(ctx context.Context, address, subject, body string) bool
}

// Message is a rendered email.
type Message struct {
	Subject string
	Body    string
}

// ExpiryWarning renders the notice sent while a subscription is inside the warning window.
func ExpiryWarning(planName string, daysLeft int) Message {
	return Message{
		Subject: fmt.Sprintf("Subscription Expiry Warning - %s", planName),
		Body: fmt.Sprintf("Dear Subscriber,\n\n"+
			"Your %s subscription will expire in %d %s.\n"+
			"Please renew your subscription to continue enjoying our services.\n\n"+
			"Thank you!\n", planName, daysLeft, pluralDays(daysLeft)),
	}
}

// ExpiryNotice renders the notice sent once when a subscription is deactivated.
func ExpiryNotice(planName string) Message {
	return Message{
		Subject: fmt.Sprintf("Subscription Expired - %s", planName),
		Body: fmt.Sprintf("Dear Subscriber,\n\n"+
			"Your %s subscription has expired.\n"+
			"Please renew your subscription to restore access to our services.\n\n"+
			"Thank you!\n", planName),
	}
}

func pluralDays(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}

// SendMessage is a convenience wrapper around n.Send for a rendered Message.
func SendMessage(ctx context.Context, n Notifier, address string, msg Message) bool {
	return n.Send(ctx, address, msg.Subject, msg.Body)
}
