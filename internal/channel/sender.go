package channel

import (
	"context"
	"errors"
)

// ErrSendFailed marks a message the transport could not deliver.
var ErrSendFailed = errors.New("channel: send failed")

// Sender delivers content to a counterparty address and returns the
// transport message id replies will correlate against.
type Sender interface {
	Send(ctx context.Context, to string, content Content) (string, error)
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, to string, content Content) (string, error)

func (f SenderFunc) Send(ctx context.Context, to string, content Content) (string, error) {
	return f(ctx, to, content)
}
