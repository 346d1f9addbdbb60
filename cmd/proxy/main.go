package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/config"
	"github.com/leonardcser/flash-offline/internal/control"
	"github.com/leonardcser/flash-offline/internal/logger"
	"github.com/leonardcser/flash-offline/internal/proxy"
	"github.com/leonardcser/flash-offline/internal/web"
	"github.com/leonardcser/flash-offline/internal/worker"
)

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	if err := run(); err != nil {
		logger.Errorf("proxy: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.SetDebug(cfg.Debug)
	scope, err := cfg.ScopeURL()
	if err != nil {
		return err
	}
	loadScript := func() (worker.Script, error) {
		m, err := config.LoadManifest(cfg.Manifest)
		if err != nil {
			return worker.Script{}, err
		}
		return m.Script(), nil
	}

	_ = os.MkdirAll(filepath.Dir(cfg.DB), 0o755)
	store, err := cache.Open(cfg.DB, cache.Options{Timeout: time.Second})
	if err != nil {
		return err
	}
	defer store.Close()

	network := web.NewNetwork(scope, cfg.Timeout)
	reg := worker.NewRegistration(scope, store, network)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Ensure socket dir exists and remove stale socket
	_ = os.MkdirAll(filepath.Dir(cfg.Socket), 0o755)
	_ = os.Remove(cfg.Socket)
	l, err := net.Listen("unix", cfg.Socket)
	if err != nil {
		return err
	}
	defer l.Close()
	_ = os.Chmod(cfg.Socket, 0o600)
	go func() {
		if err := control.NewServer(reg, store, loadScript).Serve(ctx, l); err != nil {
			logger.Errorf("control: %v", err)
		}
	}()
	logger.Infof("control channel on %s", cfg.Socket)

	if w, err := reg.Restore(ctx); err != nil {
		logger.Warnf("restore registration: %v", err)
	} else if w != nil {
		logger.Infof("restored %s from %s", w.Generation(), cfg.DB)
	}
	// A failed first install leaves the gateway in passthrough mode, or on
	// the restored worker.
	update(ctx, reg, loadScript)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			logger.Infof("SIGHUP: reloading manifest")
			update(ctx, reg, loadScript)
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           proxy.New(reg, network, scope),
		ReadHeaderTimeout: 10 * time.Second,
	}
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	logger.Infof("gateway for %s listening on %s", scope, cfg.Listen)
	err = srv.ListenAndServe()

	// Handlers may still start revalidations until Shutdown returns.
	stop()
	<-shutdownDone
	reg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func update(ctx context.Context, reg *worker.Registration, loadScript func() (worker.Script, error)) {
	script, err := loadScript()
	if err != nil {
		logger.Errorf("manifest: %v", err)
		return
	}
	if _, err := reg.Update(ctx, script); err != nil {
		logger.Errorf("update to %s: %v", script.Generation, err)
	}
}
