package strategy

import (
	"context"
	"net/url"
	"sync"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/logger"
)

// Config names the partitions and documents the engine works with.
type Config struct {
	// Origin is the origin of the app; requests to it are same-origin.
	Origin *url.URL
	// Runtime is the partition that receives opportunistic writes. It must
	// exist; the engine does not create it.
	Runtime string
	// RootDocument is served to failed navigations with no cached match.
	RootDocument *url.URL
	// OfflineDocument is the last navigation fallback.
	OfflineDocument *url.URL
}

// Engine executes the strategy chosen by Classify.
type Engine struct {
	caches cache.Storage
	net    Network
	cfg    Config
	bg     sync.WaitGroup
}

// NewEngine wires an engine over store and net.
func NewEngine(store cache.Storage, net Network, cfg Config) *Engine {
	return &Engine{caches: store, net: net, cfg: cfg}
}

// Respond classifies req and runs exactly one strategy. A Passthrough kind
// returns a nil response and the caller falls back to the plain network.
func (e *Engine) Respond(ctx context.Context, req *Request) (*cache.Response, Kind, error) {
	kind := Classify(req, e.cfg.Origin)
	var (
		resp *cache.Response
		err  error
	)
	switch kind {
	case NetworkFirst:
		resp, err = e.networkFirst(ctx, req)
	case CacheFirst:
		resp, err = e.cacheFirst(ctx, req)
	case StaleWhileRevalidate:
		resp, err = e.staleWhileRevalidate(ctx, req)
	case Passthrough:
		return nil, Passthrough, nil
	}
	logger.Debugf("%s %s -> %s", req.Method, req.URL, kind)
	return resp, kind, err
}

// Wait blocks until every detached revalidation has finished.
func (e *Engine) Wait() { e.bg.Wait() }

func (e *Engine) cacheFirst(ctx context.Context, req *Request) (*cache.Response, error) {
	if cached, ok := e.match(cache.AllPartitions, req.Key(), cache.MatchOptions{IgnoreQuery: true}); ok {
		return cached, nil
	}
	resp, err := e.net.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	e.put(req.Key(), resp)
	return resp, nil
}

func (e *Engine) staleWhileRevalidate(ctx context.Context, req *Request) (*cache.Response, error) {
	type result struct {
		resp *cache.Response
		err  error
	}
	// Buffered so the fetch goroutine never blocks once nobody is listening.
	done := make(chan result, 1)
	detached := context.WithoutCancel(ctx)

	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		resp, err := e.net.Fetch(detached, req)
		if err != nil {
			logger.Warnf("revalidate %s: %v", req.URL, err)
		} else {
			e.put(req.Key(), resp)
		}
		done <- result{resp: resp, err: err}
	}()

	if cached, ok := e.match(e.cfg.Runtime, req.Key(), cache.MatchOptions{}); ok {
		// The background fetch keeps running; whatever it returns is discarded.
		return cached, nil
	}

	select {
	case r := <-done:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) networkFirst(ctx context.Context, req *Request) (*cache.Response, error) {
	resp, netErr := e.net.Fetch(ctx, req)
	if netErr == nil {
		e.put(req.Key(), resp)
		return resp, nil
	}

	if cached, ok := e.match(e.cfg.Runtime, req.Key(), cache.MatchOptions{}); ok {
		return cached, nil
	}
	for _, doc := range []*url.URL{e.cfg.RootDocument, e.cfg.OfflineDocument} {
		if doc == nil {
			continue
		}
		if cached, ok := e.match(cache.AllPartitions, cache.KeyOf(doc), cache.MatchOptions{}); ok {
			logger.Infof("navigation %s offline, serving %s", req.URL, doc)
			return cached, nil
		}
	}
	return nil, netErr
}

// match treats a storage read failure as a miss; it is logged, not surfaced.
func (e *Engine) match(partition string, key cache.Key, opts cache.MatchOptions) (*cache.Response, bool) {
	resp, ok, err := e.caches.Match(partition, key, opts)
	if err != nil {
		logger.Warnf("cache match %s: %v", key, err)
		return nil, false
	}
	return resp, ok
}

// put writes resp to the runtime partition when it is eligible. Write
// failures are best effort. The partition is never recreated: once a newer
// generation has purged it, late fetches of this engine are dropped.
func (e *Engine) put(key cache.Key, resp *cache.Response) {
	if !cache.Eligible(resp) {
		return
	}
	ok, err := e.caches.PutIfPresent(e.cfg.Runtime, key, resp)
	switch {
	case err != nil:
		logger.Warnf("cache put %s: %v", key, err)
	case !ok:
		logger.Debugf("cache put %s: %s is gone", key, e.cfg.Runtime)
	}
}
