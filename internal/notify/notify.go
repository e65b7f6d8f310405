// Package notify delivers best-effort operator notifications.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"courier-dispatch/internal/channel"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityAlert Severity = "alert"
	SeverityError Severity = "error"
)

// Notifier reports to operators. Delivery is fire-and-forget: failures are
// logged by the implementation and never surface to callers.
type Notifier interface {
	Notify(ctx context.Context, sev Severity, msg string)
}

type NotifierFunc func(ctx context.Context, sev Severity, msg string)

func (f NotifierFunc) Notify(ctx context.Context, sev Severity, msg string) { f(ctx, sev, msg) }

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(context.Context, Severity, string) {})

type fanout []Notifier

// Fanout notifies every non-nil notifier in order.
func Fanout(ns ...Notifier) Notifier {
	var f fanout
	for _, n := range ns {
		if n != nil {
			f = append(f, n)
		}
	}
	return f
}

func (f fanout) Notify(ctx context.Context, sev Severity, msg string) {
	for _, n := range f {
		n.Notify(ctx, sev, msg)
	}
}

// Admins messages every operator phone over the counterparty channel.
type Admins struct {
	sender channel.Sender
	phones []string
	logger *slog.Logger
}

func NewAdmins(sender channel.Sender, phones []string, logger *slog.Logger) (*Admins, error) {
	if sender == nil {
		return nil, errors.New("notify: sender must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Admins{sender: sender, phones: phones, logger: logger}, nil
}

func (a *Admins) Notify(ctx context.Context, sev Severity, msg string) {
	body := Frame(sev, msg)
	for _, phone := range a.phones {
		if _, err := a.sender.Send(ctx, phone, channel.Text(body)); err != nil {
			a.logger.Warn("failed to notify operator", "operator", phone, "severity", sev, "err", err)
		}
	}
}

// Frame prefixes msg with a marker operators can scan for.
func Frame(sev Severity, msg string) string {
	switch sev {
	case SeverityAlert:
		return "🟠 " + msg
	case SeverityError:
		return "🔴 " + msg
	default:
		return "🟢 " + msg
	}
}
