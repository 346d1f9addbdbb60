package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/leonardcser/flash-offline/internal/config"
	"github.com/leonardcser/flash-offline/internal/control"
	"github.com/leonardcser/flash-offline/internal/handshake"
	"github.com/leonardcser/flash-offline/internal/logger"
	"github.com/leonardcser/flash-offline/internal/proxy"
	tools "github.com/leonardcser/flash-offline/internal/tools"
	"github.com/leonardcser/flash-offline/internal/web"
)

const proxyBinary = "flash-offline-proxy"

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	logger.Infof("Starting Flash Offline MCP server")
	cfg, err := config.Load()
	if err != nil {
		logger.Errorf("config: %v", err)
		panic(err)
	}
	logger.SetDebug(cfg.Debug)
	scope, err := cfg.ScopeURL()
	if err != nil {
		panic(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to the proxy; start it if needed, then connect.
	client := control.NewClient(cfg.Socket)
	logger.Infof("Attempting to connect to proxy at %s", cfg.Socket)
	if err := client.Ping(ctx); err != nil {
		logger.Warnf("Failed to connect to proxy: %v, attempting to start it", err)
		if startErr := startProxy(); startErr != nil {
			logger.Errorf("Failed to start proxy: %v", startErr)
		}
		// wait for socket to appear
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if err = client.Ping(ctx); err == nil {
				break
			}
			time.Sleep(200 * time.Millisecond)
		}
		if err != nil {
			logger.Errorf("Failed to connect to proxy after startup attempt: %v", err)
			panic(err)
		}
	}

	page, err := client.Connect(ctx)
	if err != nil {
		panic(err)
	}
	defer func() { _ = page.Close(context.Background()) }()
	logger.Infof("Connected to proxy as %s", page.ID())

	gateway := &gatewayPage{listen: cfg.Listen, path: scope.RequestURI()}
	coord := handshake.New(page, notices{}, handshake.ReloadFunc(gateway.reload))
	go func() {
		if err := coord.Run(ctx); err != nil {
			logger.Errorf("handshake stopped: %v", err)
		}
	}()

	s := server.NewMCPServer(
		"Flash Offline",
		"0.1.0",
		server.WithRecovery(),
		server.WithToolCapabilities(false),
	)

	toolStatus := mcp.NewTool("offline-status",
		mcp.WithDescription(multiline(
			"Reports the offline state of the game page",
			"\nFunctionality:",
			"- Shows the active, waiting and installing worker generations",
			"- Lists every cache partition with its entry count and size",
			"- Says whether an update is ready to apply",
		)),
	)
	s.AddTool(toolStatus, tools.OfflineStatusHandler(client, coord))

	toolApply := mcp.NewTool("apply-update",
		mcp.WithDescription(multiline(
			"Switches the page to the waiting version",
			"\nUsage notes:",
			"- Does nothing when no update is waiting",
			"- Calling it again while the switch is in progress has no effect",
			"- The page reloads exactly once when the new version takes control",
		)),
	)
	s.AddTool(toolApply, tools.ApplyUpdateHandler(coord))

	toolCheck := mcp.NewTool("check-update",
		mcp.WithDescription(multiline(
			"Installs the current manifest as a new version",
			"\nUsage notes:",
			"- An unchanged manifest is a no-op",
			"- A failed install keeps the current version serving",
		)),
	)
	s.AddTool(toolCheck, tools.CheckUpdateHandler(client))

	toolInspect := mcp.NewTool("cache-inspect",
		mcp.WithDescription(multiline(
			"Shows the cached copy of a URL",
			"\nUsage notes:",
			"- HTML is rendered as Markdown, binary entries report their size",
			"- The query string is ignored",
		)),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute URL of the cached request")),
	)
	s.AddTool(toolInspect, tools.CacheInspectHandler(client))

	toolAudit := mcp.NewTool("manifest-audit",
		mcp.WithDescription(multiline(
			"Crawls the app shell and compares referenced assets with the manifest",
			"\nUsage notes:",
			"- Reports same-origin assets that would be missing offline",
			"- Remember to bump the generation after changing the manifest",
		)),
	)
	manifestAssets := func() ([]string, error) {
		m, err := config.LoadManifest(cfg.Manifest)
		return m.Assets, err
	}
	s.AddTool(toolAudit, tools.ManifestAuditHandler(web.Auditor{Timeout: cfg.Timeout}, scope, manifestAssets))

	logger.Infof("Starting MCP server on stdio")
	if err := server.ServeStdio(s); err != nil {
		logger.Errorf("server error: %v", err)
	}
}

// multiline joins lines with newlines for tool descriptions.
func multiline(lines ...string) string { return strings.Join(lines, "\n") }

type notices struct{}

func (notices) OfferUpdate() { logger.Infof("A new version is ready") }
func (notices) Updating()    { logger.Infof("Updating to the waiting version") }

// gatewayPage locates the page behind the gateway.
type gatewayPage struct {
	listen string
	path   string
}

// reload fetches the page again so it is served by the new worker.
func (u *gatewayPage) reload(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+u.listen+u.path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/html")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	logger.Infof("Reloaded %s: %s (%s)", u.path, resp.Status, resp.Header.Get(proxy.StrategyHeader))
	return nil
}

func startProxy() error {
	// 1) Try proxy binary next to this server executable (works with absolute invocation)
	if exePath, err := os.Executable(); err == nil {
		sibling := filepath.Join(filepath.Dir(exePath), proxyBinary)
		if _, statErr := os.Stat(sibling); statErr == nil {
			return spawn(sibling)
		}
	}
	// 2) Try PATH binary
	if path, err := exec.LookPath(proxyBinary); err == nil {
		return spawn(path)
	}
	return exec.ErrNotFound
}

func spawn(path string) error {
	cmd := exec.Command(path)
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Env = os.Environ()
	return cmd.Start()
}
