package control

import (
	"context"
	"encoding/json"
	"net"
	"time"

	perrors "github.com/jmgilman/go/errors"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/worker"
)

// DialTimeout bounds connecting to the socket.
const DialTimeout = 500 * time.Millisecond

// Client talks to a Server over a Unix socket, one connection per call.
type Client struct {
	socketPath string
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CodeUnavailable, "dial control socket")
	}
	defer conn.Close()
	// Unblock the read when ctx ends before the server answers.
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if err := json.NewEncoder(conn).Encode(&req); err != nil {
		return nil, err
	}
	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if !resp.OK {
		return nil, perrors.New(perrors.ErrorCode(resp.Code), resp.Error)
	}
	return &resp, nil
}

// Ping reports whether a server is listening.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, Request{Op: OpStatus})
	return err
}

func (c *Client) Status(ctx context.Context) (*worker.Status, error) {
	resp, err := c.do(ctx, Request{Op: OpStatus})
	if err != nil {
		return nil, err
	}
	return resp.Status, nil
}

// Connect opens a page session and returns it.
func (c *Client) Connect(ctx context.Context) (*Page, error) {
	resp, err := c.do(ctx, Request{Op: OpConnect})
	if err != nil {
		return nil, err
	}
	return &Page{c: c, id: resp.Client}, nil
}

// Match looks rawURL up across every partition, ignoring the query.
func (c *Client) Match(ctx context.Context, rawURL string) (*cache.Response, error) {
	resp, err := c.do(ctx, Request{Op: OpMatch, URL: rawURL})
	if err != nil {
		return nil, err
	}
	return resp.Entry, nil
}

func (c *Client) Stats(ctx context.Context) ([]cache.PartitionStats, error) {
	resp, err := c.do(ctx, Request{Op: OpStats})
	if err != nil {
		return nil, err
	}
	return resp.Partitions, nil
}

// Update asks the host to install the current manifest.
func (c *Client) Update(ctx context.Context) (*worker.WorkerInfo, error) {
	resp, err := c.do(ctx, Request{Op: OpUpdate})
	if err != nil {
		return nil, err
	}
	return resp.Worker, nil
}

// Page is one connected client of the registration.
type Page struct {
	c  *Client
	id string
}

func (p *Page) ID() string { return p.id }

func (p *Page) Waiting(ctx context.Context) (bool, error) {
	resp, err := p.c.do(ctx, Request{Op: OpWaiting, Client: p.id})
	if err != nil {
		return false, err
	}
	return resp.Waiting, nil
}

func (p *Page) PostToWaiting(ctx context.Context, msg lifecycle.Message) error {
	_, err := p.c.do(ctx, Request{Op: OpMessage, Client: p.id, Message: &msg})
	if perrors.GetCode(err) == perrors.CodeNotFound {
		return worker.ErrNoWaiting
	}
	return err
}

// Next long-polls until the host delivers a notification or ctx ends.
func (p *Page) Next(ctx context.Context) (lifecycle.Notification, error) {
	for {
		wait := DefaultWait
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < wait {
			wait = time.Until(deadline)
		}
		if wait <= 0 {
			return nil, context.DeadlineExceeded
		}
		resp, err := p.c.do(ctx, Request{Op: OpNext, Client: p.id, WaitMS: max(wait.Milliseconds(), 1)})
		if err != nil {
			return nil, err
		}
		if resp.Notification != nil {
			return resp.Notification.Unwrap()
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// Close ends the session.
func (p *Page) Close(ctx context.Context) error {
	_, err := p.c.do(ctx, Request{Op: OpDisconnect, Client: p.id})
	return err
}
