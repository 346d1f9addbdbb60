package worker

import (
	"context"
	"strconv"

	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/logger"
)

// Client is an open page inside the scope. A client connected while a worker
// is active starts out controlled by it.
type Client struct {
	id  string
	reg *Registration
	box *mailbox

	// guarded by reg.mu
	controller *Worker
}

// Connect opens a page client.
func (r *Registration) Connect() *Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextClient++
	c := &Client{
		id:         "page-" + strconv.FormatUint(r.nextClient, 10),
		reg:        r,
		box:        newMailbox(),
		controller: r.active,
	}
	r.clients[c.id] = c
	return c
}

// Client looks up a connected client by id.
func (r *Registration) Client(id string) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.clients[id]
	return c, ok
}

// Disconnect closes c. When the active worker loses its last client a waiting
// worker takes over on its own.
func (r *Registration) Disconnect(ctx context.Context, c *Client) error {
	r.mu.Lock()
	if _, ok := r.clients[c.id]; !ok {
		r.mu.Unlock()
		return nil
	}
	delete(r.clients, c.id)
	w := r.waiting
	takeover := w != nil && r.active != nil && r.controlledByLocked(r.active) == 0
	r.mu.Unlock()

	if !takeover {
		return nil
	}
	logger.Infof("last client of the active worker left, activating worker %d", w.id)
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.activateLocked(ctx, w)
}

// ID identifies the client within its registration.
func (c *Client) ID() string { return c.id }

// Controller describes the worker controlling the page, or nil.
func (c *Client) Controller() *WorkerInfo {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	if c.controller == nil {
		return nil
	}
	w := c.controller
	return &WorkerInfo{ID: w.id, Generation: string(w.script.Generation), State: w.state}
}

// Next blocks until the next notification for this page.
func (c *Client) Next(ctx context.Context) (lifecycle.Notification, error) {
	return c.box.next(ctx)
}
