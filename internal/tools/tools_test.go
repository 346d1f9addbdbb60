package tools

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	perrors "github.com/jmgilman/go/errors"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/logger"
	"github.com/leonardcser/flash-offline/internal/web"
	"github.com/leonardcser/flash-offline/internal/worker"
)

func TestMain(m *testing.M) {
	logger.InitWriter(io.Discard)
	os.Exit(m.Run())
}

type fakeHost struct {
	status  worker.Status
	stats   []cache.PartitionStats
	entries map[string]*cache.Response
	updated *worker.WorkerInfo
	err     error
}

func (f *fakeHost) Status(context.Context) (*worker.Status, error) { return &f.status, f.err }
func (f *fakeHost) Stats(context.Context) ([]cache.PartitionStats, error) {
	return f.stats, f.err
}
func (f *fakeHost) Match(_ context.Context, rawURL string) (*cache.Response, error) {
	if e, ok := f.entries[rawURL]; ok {
		return e, nil
	}
	return nil, perrors.Newf(perrors.CodeNotFound, "%s is not cached", rawURL)
}
func (f *fakeHost) Update(context.Context) (*worker.WorkerInfo, error) { return f.updated, f.err }

type fakeUpdater struct {
	waiting, offered, pending bool
	accepts                   int
}

func (f *fakeUpdater) Accept(context.Context) (bool, error) {
	f.accepts++
	if !f.waiting {
		return false, nil
	}
	f.pending = true
	return true, nil
}
func (f *fakeUpdater) Offered() bool { return f.offered }
func (f *fakeUpdater) Pending() bool { return f.pending }

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestOfflineStatus(t *testing.T) {
	host := &fakeHost{
		status: worker.Status{
			Scope:   "http://127.0.0.1:5173/",
			Active:  &worker.WorkerInfo{ID: 1, Generation: "flash-games-v3", State: lifecycle.Active},
			Waiting: &worker.WorkerInfo{ID: 2, Generation: "flash-games-v4", State: lifecycle.Waiting},
			Clients: 1,
		},
		stats: []cache.PartitionStats{{Name: "flash-games-v3-shell", Entries: 17, Bytes: 2048}},
	}
	res, err := OfflineStatusHandler(host, &fakeUpdater{offered: true})(context.Background(), call(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	out := text(t, res)
	assert.Contains(t, out, "Active: worker 1, flash-games-v3")
	assert.Contains(t, out, "Waiting: worker 2, flash-games-v4")
	assert.Contains(t, out, "- flash-games-v3-shell: 17 entries, 2048 bytes")
	assert.Contains(t, out, "An update is ready")
}

func TestOfflineStatusWithoutWorker(t *testing.T) {
	host := &fakeHost{status: worker.Status{Scope: "http://127.0.0.1:5173/"}}
	res, err := OfflineStatusHandler(host, &fakeUpdater{})(context.Background(), call(nil))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "No active worker")
	assert.NotContains(t, out, "update is ready")
}

func TestOfflineStatusHostDown(t *testing.T) {
	host := &fakeHost{err: errors.New("dial control socket: connection refused")}
	res, err := OfflineStatusHandler(host, &fakeUpdater{})(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestApplyUpdate(t *testing.T) {
	u := &fakeUpdater{}
	h := ApplyUpdateHandler(u)

	res, err := h(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "No update is waiting.", text(t, res))

	u.waiting = true
	res, err = h(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Updating")
	assert.True(t, u.pending)
	assert.Equal(t, 2, u.accepts)
}

func TestCheckUpdate(t *testing.T) {
	host := &fakeHost{updated: &worker.WorkerInfo{ID: 3, Generation: "flash-games-v4", State: lifecycle.Waiting}}
	res, err := CheckUpdateHandler(host)(context.Background(), call(nil))
	require.NoError(t, err)
	assert.Equal(t, "Worker 3 (flash-games-v4) is waiting.", text(t, res))
}

func TestCacheInspect(t *testing.T) {
	host := &fakeHost{entries: map[string]*cache.Response{
		"http://app.test/offline.html": {
			URL:    "http://app.test/offline.html",
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"text/html"}},
			Body:   []byte(`<html><head><title>Offline</title></head><body><h1>No connection</h1><script>x()</script></body></html>`),
		},
		"http://app.test/assets/swf/MusicCatch2.swf": {
			URL:    "http://app.test/assets/swf/MusicCatch2.swf",
			Status: http.StatusOK,
			Header: http.Header{"Content-Type": {"application/x-shockwave-flash"}},
			Body:   []byte{'F', 'W', 'S'},
		},
	}}
	h := CacheInspectHandler(host)

	res, err := h(context.Background(), call(map[string]any{"url": "http://app.test/offline.html"}))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "# Offline")
	assert.Contains(t, out, "# No connection")
	assert.NotContains(t, out, "x()")

	res, err = h(context.Background(), call(map[string]any{"url": "http://app.test/assets/swf/MusicCatch2.swf"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "3 bytes")

	res, err = h(context.Background(), call(map[string]any{"url": "http://app.test/nope"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = h(context.Background(), call(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestManifestAudit(t *testing.T) {
	site := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, `<html><head><script src="./scripts/app.js"></script><link rel="stylesheet" href="./styles/main.css"></head></html>`)
		default:
			_, _ = io.WriteString(w, "")
		}
	}))
	defer site.Close()
	scope, err := url.Parse(site.URL + "/")
	require.NoError(t, err)

	assets := func() ([]string, error) { return []string{"./", "./scripts/app.js"}, nil }
	res, err := ManifestAuditHandler(web.Auditor{MaxDepth: 1}, scope, assets)(context.Background(), call(nil))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "Referenced but not precached")
	assert.Contains(t, out, site.URL+"/styles/main.css")
}
