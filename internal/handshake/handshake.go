// Package handshake is the page half of the update protocol. It offers a
// waiting worker to the user, forwards the user's consent as SKIP_WAITING and
// reloads the page exactly once when control moves to the new worker.
package handshake

import (
	"context"
	"errors"
	"sync"

	perrors "github.com/jmgilman/go/errors"

	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/logger"
)

// Container is the page's view of its worker registration.
type Container interface {
	// Waiting reports whether a worker is installed and waiting.
	Waiting(ctx context.Context) (bool, error)
	// PostToWaiting sends msg to the waiting worker.
	PostToWaiting(ctx context.Context, msg lifecycle.Message) error
	// Next blocks for the next worker notification addressed to this page.
	Next(ctx context.Context) (lifecycle.Notification, error)
}

// Notifier shows and hides the update notice. OfferUpdate must not apply the
// update itself; the user answers through Coordinator.Accept.
type Notifier interface {
	OfferUpdate()
	Updating()
}

// Reloader reloads the page.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ReloadFunc adapts a function to Reloader.
type ReloadFunc func(ctx context.Context) error

func (f ReloadFunc) Reload(ctx context.Context) error { return f(ctx) }

// Coordinator holds the page-side handshake state.
type Coordinator struct {
	container Container
	notifier  Notifier
	reloader  Reloader

	mu              sync.Mutex
	offered         bool
	awaitingHandoff bool
}

// New builds a Coordinator.
func New(c Container, n Notifier, r Reloader) *Coordinator {
	return &Coordinator{container: c, notifier: n, reloader: r}
}

// Start checks for a worker that is already waiting, as on page load.
func (c *Coordinator) Start(ctx context.Context) error {
	return c.offerIfWaiting(ctx)
}

// Run starts the coordinator and handles notifications until ctx ends.
func (c *Coordinator) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		logger.Warnf("handshake: initial check: %v", err)
	}
	for {
		n, err := c.container.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if err := c.Handle(ctx, n); err != nil {
			logger.Errorf("handshake: %s: %v", n.Kind(), err)
		}
	}
}

// Handle reacts to one worker notification.
func (c *Coordinator) Handle(ctx context.Context, n lifecycle.Notification) error {
	switch n.(type) {
	case lifecycle.WaitingInstalled:
		return c.offerIfWaiting(ctx)
	case lifecycle.ControllerChanged:
		return c.controllerChanged(ctx)
	}
	return perrors.Newf(perrors.CodeInvalidInput, "unhandled notification %T", n)
}

func (c *Coordinator) offerIfWaiting(ctx context.Context) error {
	waiting, err := c.container.Waiting(ctx)
	if err != nil || !waiting {
		return err
	}
	c.mu.Lock()
	c.offered = true
	pending := c.awaitingHandoff
	c.mu.Unlock()
	if !pending {
		c.notifier.OfferUpdate()
	}
	return nil
}

// Accept is the user's consent to update. While a handoff is pending further
// calls do nothing. Accept returns false when there is nothing to apply.
func (c *Coordinator) Accept(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.awaitingHandoff {
		c.mu.Unlock()
		return true, nil
	}
	c.awaitingHandoff = true
	c.mu.Unlock()

	waiting, err := c.container.Waiting(ctx)
	if err == nil && waiting {
		c.notifier.Updating()
		err = c.container.PostToWaiting(ctx, lifecycle.Message{Type: lifecycle.SkipWaiting})
		if err == nil {
			return true, nil
		}
	}
	c.mu.Lock()
	c.awaitingHandoff = false
	c.offered = false
	c.mu.Unlock()
	return false, err
}

// controllerChanged reloads only when this page asked for the handoff.
func (c *Coordinator) controllerChanged(ctx context.Context) error {
	c.mu.Lock()
	requested := c.awaitingHandoff
	c.awaitingHandoff = false
	c.offered = false
	c.mu.Unlock()
	if !requested {
		logger.Debugf("handshake: controller changed without a request")
		return nil
	}
	logger.Infof("handshake: new worker in control, reloading")
	return c.reloader.Reload(ctx)
}

// Pending reports whether Accept was called and the handoff has not
// happened yet.
func (c *Coordinator) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaitingHandoff
}

// Offered reports whether an update notice is outstanding.
func (c *Coordinator) Offered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.offered
}
