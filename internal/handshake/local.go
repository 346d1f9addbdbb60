package handshake

import (
	"context"

	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/worker"
)

// Local is a Container for a page living in the worker host's process.
type Local struct {
	Registration *worker.Registration
	Client       *worker.Client
}

func (l Local) Waiting(context.Context) (bool, error) {
	return l.Registration.Waiting() != nil, nil
}

func (l Local) PostToWaiting(ctx context.Context, msg lifecycle.Message) error {
	return l.Registration.PostToWaiting(ctx, msg)
}

func (l Local) Next(ctx context.Context) (lifecycle.Notification, error) {
	return l.Client.Next(ctx)
}
