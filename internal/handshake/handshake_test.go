package handshake

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/logger"
	"github.com/leonardcser/flash-offline/internal/strategy"
	"github.com/leonardcser/flash-offline/internal/worker"
)

func TestMain(m *testing.M) {
	logger.InitWriter(io.Discard)
	os.Exit(m.Run())
}

type notice struct {
	offers   atomic.Int32
	updating atomic.Int32
}

func (n *notice) OfferUpdate() { n.offers.Add(1) }
func (n *notice) Updating()    { n.updating.Add(1) }

type reloads struct{ n atomic.Int32 }

func (r *reloads) Reload(context.Context) error {
	r.n.Add(1)
	return nil
}

// countingContainer counts messages on the way to a real registration.
type countingContainer struct {
	Local
	posts atomic.Int32
}

func (c *countingContainer) PostToWaiting(ctx context.Context, msg lifecycle.Message) error {
	c.posts.Add(1)
	return c.Local.PostToWaiting(ctx, msg)
}

var static = strategy.NetworkFunc(func(_ context.Context, req *strategy.Request) (*cache.Response, error) {
	return &cache.Response{URL: req.URL.String(), Status: http.StatusOK, Body: []byte(req.URL.Path)}, nil
})

func script(gen string) worker.Script {
	return worker.Script{
		Generation:      cache.Generation(gen),
		Assets:          []string{"./", "./index.html", "./offline.html"},
		RootDocument:    "./index.html",
		OfflineDocument: "./offline.html",
	}
}

func newRegistration(t *testing.T) *worker.Registration {
	t.Helper()
	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.bbolt"), cache.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	scope, err := url.Parse("http://app.test/")
	require.NoError(t, err)
	reg := worker.NewRegistration(scope, store, static)
	t.Cleanup(reg.Wait)
	_, err = reg.Update(context.Background(), script("g1"))
	require.NoError(t, err)
	return reg
}

func TestAcceptTwiceReloadsOnce(t *testing.T) {
	reg := newRegistration(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container := &countingContainer{Local: Local{Registration: reg, Client: reg.Connect()}}
	ui, rl := &notice{}, &reloads{}
	coord := New(container, ui, rl)

	_, err := reg.Update(ctx, script("g2"))
	require.NoError(t, err)
	require.NoError(t, coord.Start(ctx))
	assert.Equal(t, int32(1), ui.offers.Load())

	ok, err := coord.Accept(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = coord.Accept(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// The mailbox now holds the install notice and the controller change.
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, coord.Run(ctx))
	}()

	require.Eventually(t, func() bool { return rl.n.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), container.posts.Load())
	assert.Equal(t, int32(1), ui.updating.Load())
	assert.Equal(t, "g2", reg.Status().Active.Generation)
	assert.False(t, coord.Pending())

	// Nothing else arrives: still exactly one reload.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), rl.n.Load())

	cancel()
	wg.Wait()
}

func TestControllerChangeFromElsewhereDoesNotReload(t *testing.T) {
	reg := newRegistration(t)
	ctx := context.Background()

	page := Local{Registration: reg, Client: reg.Connect()}
	ui, rl := &notice{}, &reloads{}
	coord := New(page, ui, rl)

	_, err := reg.Update(ctx, script("g2"))
	require.NoError(t, err)
	n, err := page.Next(ctx)
	require.NoError(t, err)
	require.NoError(t, coord.Handle(ctx, n))
	assert.Equal(t, int32(1), ui.offers.Load())

	// Another tab accepts.
	require.NoError(t, reg.PostToWaiting(ctx, lifecycle.Message{Type: lifecycle.SkipWaiting}))
	n, err = page.Next(ctx)
	require.NoError(t, err)
	require.IsType(t, lifecycle.ControllerChanged{}, n)
	require.NoError(t, coord.Handle(ctx, n))
	assert.Zero(t, rl.n.Load())
}

func TestDeclinedUpdateIsOfferedAgain(t *testing.T) {
	reg := newRegistration(t)
	ctx := context.Background()
	first := reg.Connect()
	_, err := reg.Update(ctx, script("g2"))
	require.NoError(t, err)

	ui := &notice{}
	coord := New(Local{Registration: reg, Client: first}, ui, &reloads{})
	require.NoError(t, coord.Start(ctx))
	assert.True(t, coord.Offered())

	// The page is reloaded without accepting: a fresh coordinator offers again.
	second := reg.Connect()
	require.NoError(t, reg.Disconnect(ctx, first))
	again := New(Local{Registration: reg, Client: second}, ui, &reloads{})
	require.NoError(t, again.Start(ctx))
	assert.Equal(t, int32(2), ui.offers.Load())
	assert.Equal(t, "g1", reg.Status().Active.Generation)
}

func TestAcceptWithoutWaitingWorker(t *testing.T) {
	reg := newRegistration(t)
	ctx := context.Background()
	ui := &notice{}
	coord := New(Local{Registration: reg, Client: reg.Connect()}, ui, &reloads{})

	ok, err := coord.Accept(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, coord.Pending())
	assert.Zero(t, ui.updating.Load())
}

type fakeContainer struct {
	waiting bool
	posts   int
	events  chan lifecycle.Notification
}

func (f *fakeContainer) Waiting(context.Context) (bool, error) { return f.waiting, nil }
func (f *fakeContainer) PostToWaiting(context.Context, lifecycle.Message) error {
	f.posts++
	return nil
}
func (f *fakeContainer) Next(ctx context.Context) (lifecycle.Notification, error) {
	select {
	case n := <-f.events:
		return n, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestReloadOnlyOncePerHandoff(t *testing.T) {
	fc := &fakeContainer{waiting: true}
	rl := &reloads{}
	coord := New(fc, &notice{}, rl)
	ctx := context.Background()

	_, err := coord.Accept(ctx)
	require.NoError(t, err)
	require.NoError(t, coord.Handle(ctx, lifecycle.ControllerChanged{WorkerID: 2}))
	require.NoError(t, coord.Handle(ctx, lifecycle.ControllerChanged{WorkerID: 3}))
	assert.Equal(t, int32(1), rl.n.Load())
	assert.Equal(t, 1, fc.posts)
}

func TestRunStopsOnCancel(t *testing.T) {
	fc := &fakeContainer{events: make(chan lifecycle.Notification)}
	coord := New(fc, &notice{}, &reloads{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, coord.Run(ctx))
}
