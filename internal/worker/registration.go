package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"sync"

	perrors "github.com/jmgilman/go/errors"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/logger"
	"github.com/leonardcser/flash-offline/internal/strategy"
)

// ErrNoWaiting is returned when a message targets a waiting worker that does
// not exist.
var ErrNoWaiting = perrors.New(perrors.CodeNotFound, "no waiting worker")

// Registration binds workers to a scope and enforces the lifecycle: at most
// one installing, one waiting and one active worker. Install and activate
// never overlap.
type Registration struct {
	scope  *url.URL
	origin *url.URL
	caches cache.Storage
	net    strategy.Network

	// lifecycle serializes install and activate.
	lifecycle sync.Mutex

	mu         sync.Mutex
	nextWorker uint64
	nextClient uint64
	installing *Worker
	waiting    *Worker
	active     *Worker
	workers    []*Worker
	clients    map[string]*Client
}

// NewRegistration creates an empty registration for scope. The scope's
// scheme and host define the app origin.
func NewRegistration(scope *url.URL, caches cache.Storage, net strategy.Network) *Registration {
	s := *scope
	if !strings.HasSuffix(s.Path, "/") {
		s.Path += "/"
	}
	return &Registration{
		scope:   &s,
		origin:  &url.URL{Scheme: s.Scheme, Host: s.Host},
		caches:  caches,
		net:     net,
		clients: make(map[string]*Client),
	}
}

// Scope is the URL prefix this registration controls.
func (r *Registration) Scope() *url.URL { return r.scope }

// InScope reports whether u is intercepted: any cross-origin URL, or a
// same-origin URL under the scope path.
func (r *Registration) InScope(u *url.URL) bool {
	if !strategy.SameOrigin(u, r.origin) {
		return true
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return strings.HasPrefix(path, r.scope.Path)
}

// Update installs script as a new worker unless the active or waiting worker
// already runs an identical script, in which case that worker is returned.
// A failed install leaves the current workers untouched.
func (r *Registration) Update(ctx context.Context, script Script) (*Worker, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	for _, cur := range []*Worker{r.waiting, r.active} {
		if cur != nil && cur.script.Fingerprint() == script.Fingerprint() {
			r.mu.Unlock()
			logger.Debugf("update: worker %d already runs %s", cur.id, script.Generation)
			return cur, nil
		}
	}
	w := r.newWorkerLocked(script)
	r.installing = w
	r.mu.Unlock()

	logger.Infof("worker %d installing %s", w.id, script.Generation)
	if err := w.Dispatch(ctx, InstallEvent{}); err != nil {
		r.mu.Lock()
		r.installing = nil
		w.state = lifecycle.Redundant
		r.mu.Unlock()
		logger.Errorf("worker %d install failed: %v", w.id, err)
		return nil, err
	}

	r.mu.Lock()
	r.installing = nil
	if old := r.waiting; old != nil {
		old.state = lifecycle.Redundant
		logger.Infof("worker %d replaced by %d while waiting", old.id, w.id)
	}
	w.state = lifecycle.Waiting
	r.waiting = w
	promote := r.active == nil || w.skipPending || r.controlledByLocked(r.active) == 0
	if !promote {
		n := lifecycle.WaitingInstalled{WorkerID: w.id, Generation: string(w.script.Generation)}
		for _, c := range r.clients {
			if c.controller != nil {
				c.box.push(n)
			}
		}
	}
	r.mu.Unlock()

	if !promote {
		logger.Infof("worker %d waiting", w.id)
		return w, nil
	}
	if err := r.activateLocked(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *Registration) newWorkerLocked(script Script) *Worker {
	r.nextWorker++
	w := &Worker{
		id:     r.nextWorker,
		script: script,
		scope:  r.scope,
		caches: r.caches,
		net:    r.net,
		host:   r,
		state:  lifecycle.Installing,
	}
	w.engine = strategy.NewEngine(r.caches, r.net, strategy.Config{
		Origin:          r.origin,
		Runtime:         script.RuntimePartition(),
		RootDocument:    r.resolve(script.RootDocument),
		OfflineDocument: r.resolve(script.OfflineDocument),
	})
	r.workers = append(r.workers, w)
	return w
}

func (r *Registration) resolve(ref string) *url.URL {
	if ref == "" {
		return nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return nil
	}
	return r.scope.ResolveReference(u)
}

// activateLocked promotes the waiting worker w. The caller holds r.lifecycle.
// A failed activation makes w redundant and keeps the old worker serving.
func (r *Registration) activateLocked(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	if r.waiting != w {
		r.mu.Unlock()
		return nil
	}
	w.state = lifecycle.Activating
	r.mu.Unlock()

	if err := w.Dispatch(ctx, ActivateEvent{}); err != nil {
		r.mu.Lock()
		w.state = lifecycle.Redundant
		r.waiting = nil
		r.mu.Unlock()
		logger.Errorf("worker %d activation aborted: %v", w.id, err)
		return fmt.Errorf("activate worker %d: %w", w.id, err)
	}

	r.mu.Lock()
	old := r.active
	if old != nil {
		old.state = lifecycle.Redundant
	}
	w.state = lifecycle.Active
	r.active = w
	r.waiting = nil
	if old != nil {
		r.moveClientsLocked(old, w)
	}
	r.mu.Unlock()
	logger.Infof("worker %d active (%s)", w.id, w.script.Generation)
	r.save(w)
	return nil
}

// save records w as the active script so a restarted host can serve its
// caches without the network. A failed save only costs that.
func (r *Registration) save(w *Worker) {
	data, err := json.Marshal(w.script)
	if err == nil {
		err = r.caches.SaveState(r.scope.String(), data)
	}
	if err != nil {
		logger.Warnf("worker %d: save registration: %v", w.id, err)
	}
}

// Restore makes the last activated script active again, as after a host
// restart. It is a no-op when a worker is already active, nothing was saved,
// or the saved shell partition is gone. Restore does not touch the network.
func (r *Registration) Restore(_ context.Context) (*Worker, error) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	if w := r.Active(); w != nil {
		return w, nil
	}

	data, ok, err := r.caches.LoadState(r.scope.String())
	if err != nil || !ok {
		return nil, err
	}
	var script Script
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, perrors.Wrapf(err, perrors.CodeDatabase, "decode registration of %s", r.scope)
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	names, err := r.caches.Partitions()
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, script.ShellPartition()) {
		logger.Warnf("saved generation %s has no shell partition, not restoring", script.Generation)
		return nil, nil
	}
	if err := r.caches.Open(script.RuntimePartition()); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	w := r.newWorkerLocked(script)
	w.state = lifecycle.Active
	r.active = w
	for _, c := range r.clients {
		if c.controller == nil {
			c.controller = w
		}
	}
	logger.Infof("worker %d restored %s", w.id, script.Generation)
	return w, nil
}

// moveClientsLocked hands every client of from over to to.
func (r *Registration) moveClientsLocked(from, to *Worker) {
	n := lifecycle.ControllerChanged{WorkerID: to.id, Generation: string(to.script.Generation)}
	for _, c := range r.clients {
		if c.controller == from {
			c.controller = to
			c.box.push(n)
		}
	}
}

func (r *Registration) controlledByLocked(w *Worker) int {
	n := 0
	for _, c := range r.clients {
		if c.controller == w {
			n++
		}
	}
	return n
}

func (r *Registration) skipWaiting(ctx context.Context, w *Worker) error {
	r.mu.Lock()
	if w.state == lifecycle.Installing {
		w.skipPending = true
		r.mu.Unlock()
		return nil
	}
	isWaiting := r.waiting == w
	r.mu.Unlock()
	if !isWaiting {
		return nil
	}
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	return r.activateLocked(ctx, w)
}

func (r *Registration) claim(_ context.Context, w *Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.state != lifecycle.Activating && w.state != lifecycle.Active {
		return perrors.Newf(perrors.CodeConflict, "worker %d cannot claim while %s", w.id, w.state)
	}
	n := lifecycle.ControllerChanged{WorkerID: w.id, Generation: string(w.script.Generation)}
	for _, c := range r.clients {
		if c.controller != w {
			c.controller = w
			c.box.push(n)
		}
	}
	return nil
}

// Waiting returns the waiting worker, if any.
func (r *Registration) Waiting() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.waiting
}

// Active returns the worker serving fetches, if any.
func (r *Registration) Active() *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// State reports the lifecycle state of w.
func (r *Registration) State(w *Worker) lifecycle.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return w.state
}

// PostToWaiting sends msg to the waiting worker.
func (r *Registration) PostToWaiting(ctx context.Context, msg lifecycle.Message) error {
	w := r.Waiting()
	if w == nil {
		return ErrNoWaiting
	}
	return w.PostMessage(ctx, msg)
}

// Fetch routes req to the active worker. Out-of-scope requests, and every
// request before the first activation, are Passthrough.
func (r *Registration) Fetch(ctx context.Context, req *strategy.Request) (*cache.Response, strategy.Kind, error) {
	w := r.Active()
	if w == nil || !r.InScope(req.URL) {
		return nil, strategy.Passthrough, nil
	}
	ev := &FetchEvent{Request: req}
	err := w.Dispatch(ctx, ev)
	return ev.Response, ev.Kind, err
}

// Wait drains background work of every worker this registration created.
func (r *Registration) Wait() {
	r.mu.Lock()
	workers := append([]*Worker(nil), r.workers...)
	r.mu.Unlock()
	for _, w := range workers {
		w.engine.Wait()
	}
}

// WorkerInfo describes one worker in a Status.
type WorkerInfo struct {
	ID         uint64          `json:"id"`
	Generation string          `json:"generation"`
	State      lifecycle.State `json:"state"`
}

// Status is a point-in-time view of the registration.
type Status struct {
	Scope      string      `json:"scope"`
	Installing *WorkerInfo `json:"installing,omitempty"`
	Waiting    *WorkerInfo `json:"waiting,omitempty"`
	Active     *WorkerInfo `json:"active,omitempty"`
	Clients    int         `json:"clients"`
}

// Status snapshots the registration.
func (r *Registration) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := func(w *Worker) *WorkerInfo {
		if w == nil {
			return nil
		}
		return &WorkerInfo{ID: w.id, Generation: string(w.script.Generation), State: w.state}
	}
	return Status{
		Scope:      r.scope.String(),
		Installing: info(r.installing),
		Waiting:    info(r.waiting),
		Active:     info(r.active),
		Clients:    len(r.clients),
	}
}
