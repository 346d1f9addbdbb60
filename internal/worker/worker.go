package worker

import (
	"context"
	"net/http"
	"net/url"

	perrors "github.com/jmgilman/go/errors"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/logger"
	"github.com/leonardcser/flash-offline/internal/strategy"
)

// host is the registration side a worker calls back into.
type host interface {
	skipWaiting(ctx context.Context, w *Worker) error
	claim(ctx context.Context, w *Worker) error
}

// Worker is one running instance of a Script. Its lifecycle state is owned
// by the Registration that created it.
type Worker struct {
	id     uint64
	script Script
	scope  *url.URL
	caches cache.Storage
	net    strategy.Network
	engine *strategy.Engine
	host   host

	// guarded by the registration mutex
	state       lifecycle.State
	skipPending bool
}

// ID is unique per registration.
func (w *Worker) ID() uint64 { return w.id }

// Script returns the version this worker runs.
func (w *Worker) Script() Script { return w.script }

// Generation is shorthand for Script().Generation.
func (w *Worker) Generation() cache.Generation { return w.script.Generation }

// Dispatch handles one event. Unknown event types are rejected.
func (w *Worker) Dispatch(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case InstallEvent:
		return w.install(ctx)
	case ActivateEvent:
		return w.activate(ctx)
	case MessageEvent:
		return w.message(ctx, ev.Message)
	case *FetchEvent:
		resp, kind, err := w.engine.Respond(ctx, ev.Request)
		ev.Response, ev.Kind = resp, kind
		return err
	}
	return perrors.Newf(perrors.CodeInvalidInput, "worker %d: unhandled event %T", w.id, ev)
}

// PostMessage delivers a page message to the worker.
func (w *Worker) PostMessage(ctx context.Context, msg lifecycle.Message) error {
	return w.Dispatch(ctx, MessageEvent{Message: msg})
}

// install fetches the whole manifest and only then commits it in a single
// transaction, so a partial shell is never visible. Install ends in the
// waiting state: it never skips waiting on its own, a page has to consent
// through SKIP_WAITING unless no page is controlled at all.
func (w *Worker) install(ctx context.Context) error {
	entries := make(map[cache.Key]*cache.Response, len(w.script.Assets))
	for _, asset := range w.script.Assets {
		ref, err := url.Parse(asset)
		if err != nil {
			return perrors.Wrapf(err, perrors.CodeInvalidConfig, "precache %s", asset)
		}
		req := &strategy.Request{
			Method:      http.MethodGet,
			URL:         w.scope.ResolveReference(ref),
			Mode:        strategy.ModeSameOrigin,
			Destination: strategy.DestEmpty,
		}
		resp, err := w.net.Fetch(ctx, req)
		if err != nil {
			return perrors.Wrapf(err, perrors.CodeNetwork, "precache %s", asset)
		}
		if !resp.OK() {
			return perrors.Newf(perrors.CodeNetwork, "precache %s: status %d", asset, resp.Status)
		}
		entries[req.Key()] = resp
	}
	if err := w.caches.AddAll(w.script.ShellPartition(), entries); err != nil {
		return perrors.Wrapf(err, perrors.CodeDatabase, "commit %s", w.script.ShellPartition())
	}
	if err := w.caches.Open(w.script.RuntimePartition()); err != nil {
		return perrors.Wrapf(err, perrors.CodeDatabase, "open %s", w.script.RuntimePartition())
	}
	logger.Infof("worker %d installed %s (%d assets)", w.id, w.script.Generation, len(entries))
	return nil
}

// activate purges every partition of other generations, then claims clients.
// The purge must finish first or a stale partition could shadow a fresh one.
func (w *Worker) activate(ctx context.Context) error {
	deleted, err := w.caches.DeleteAllExcept(w.script.Generation.Owns)
	if err != nil {
		return err
	}
	if len(deleted) > 0 {
		logger.Infof("worker %d purged %v", w.id, deleted)
	}
	return w.host.claim(ctx, w)
}

func (w *Worker) message(ctx context.Context, msg lifecycle.Message) error {
	if !msg.Known() {
		logger.Debugf("worker %d ignoring message %q", w.id, msg.Type)
		return nil
	}
	switch msg.Type {
	case lifecycle.SkipWaiting:
		return w.host.skipWaiting(ctx, w)
	}
	return nil
}
