package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/tabdesk/internal/api"
	"github.com/dgnsrekt/tabdesk/internal/browser"
	"github.com/dgnsrekt/tabdesk/internal/cdp"
	"github.com/dgnsrekt/tabdesk/internal/config"
	"github.com/dgnsrekt/tabdesk/internal/controller"
	"github.com/dgnsrekt/tabdesk/internal/idalloc"
	"github.com/dgnsrekt/tabdesk/internal/metrics"
	"github.com/dgnsrekt/tabdesk/internal/netutil"
	"github.com/dgnsrekt/tabdesk/internal/notify"
	"github.com/dgnsrekt/tabdesk/internal/relay"
	"github.com/dgnsrekt/tabdesk/internal/session"
	"github.com/dgnsrekt/tabdesk/internal/snapshot"
	"github.com/dgnsrekt/tabdesk/internal/storage"
	"github.com/dgnsrekt/tabdesk/internal/syncer"
	"github.com/dgnsrekt/tabdesk/internal/tabs"
	"github.com/dgnsrekt/tabdesk/internal/warmup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		_, _ = io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n")
		os.Exit(1)
	}

	slog.Info("tabdesk config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.GetCDPURL(),
		"data_dir", cfg.DataDir,
		"cache_dir", cfg.CacheDir,
		"max_tabs", cfg.MaxTabs,
		"autosave_schedule", cfg.AutosaveSchedule,
		"log_level", cfg.LogLevel,
		"log_file", cfg.LogFile,
	)

	if err := run(cfg); err != nil {
		slog.Error("tabdesk exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
			Headless:   cfg.Headless,
			Binary:     cfg.BrowserBinary,
		})
		if err := launcher.Launch(ctx); err != nil {
			return err
		}
		defer launcher.Stop()
	}

	client := cdp.NewClient(cfg.GetCDPURL(), cdp.NewTabRegistry())
	if err := client.Connect(ctx); err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	window, err := client.Window(ctx)
	if err != nil {
		return err
	}
	defer window.Close()

	cache, err := snapshot.NewStore(cfg.CacheDir)
	if err != nil {
		return err
	}
	sessions, err := session.NewStore(cfg.DataDir, session.Options{ContentTimeout: cfg.SessionContentTimeout})
	if err != nil {
		return err
	}
	m := metrics.NewMetrics()

	mgr := tabs.NewManager(idalloc.New(), client, window, tabs.Options{
		MaxTabs:      cfg.MaxTabs,
		ChromeHeight: cfg.ChromeHeight,
		Invalidator:  cache,
	})
	if cfg.EventJournal != "" {
		journal, err := storage.NewJournal(cfg.EventJournal, 10)
		if err != nil {
			return err
		}
		defer func() { _ = journal.Close() }()
		defer mgr.Subscribe(journal.Record)()
	}
	restoreSession(ctx, mgr, sessions)

	coord, err := syncer.New(mgr, sessions, cache, syncer.Options{
		BroadcastDebounce: cfg.BroadcastDebounce,
		AutosaveDebounce:  cfg.AutosaveDebounce,
		AutosaveSchedule:  cfg.AutosaveSchedule,
		Metrics:           m,
	})
	if err != nil {
		mgr.Destroy(ctx)
		return err
	}

	broker := relay.NewBroker()
	coord.AddObserver(broker)
	if cfg.SyncWebhook != "" {
		coord.AddObserver(notify.NewWebhook(cfg.SyncWebhook, nil))
		slog.Info("forwarding tab broadcasts", "webhook", cfg.SyncWebhook)
	}
	coord.Broadcast()

	warm := warmup.New(mgr, cache, warmup.Options{Stagger: cfg.WarmupStagger, Metrics: m})
	warm.Start(ctx)

	quit := make(chan struct{})
	svc := controller.NewService(controller.Deps{
		Tabs:     mgr,
		Saver:    coord,
		Sessions: sessions,
		Cache:    cache,
		Keymap:   cfg.Keymap,
		Quit:     func() { close(quit) },
	})

	ln, err := netutil.Listen(cfg.BindAddr, cfg.PortCandidates, cfg.PortAutoFallback)
	if err != nil {
		_ = coord.Shutdown(ctx)
		return err
	}
	bindAddr := ln.Addr().String()
	srv := &http.Server{Handler: api.NewServer(svc, api.Options{Broker: broker, Metrics: m.Handler()})}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("tabdesk listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var browserExited <-chan struct{}
	if launcher != nil {
		browserExited = launcher.Exited()
	}

	var runErr error
	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", "signal", sig.String())
	case <-quit:
		slog.Info("close-app requested, shutting down")
	case <-browserExited:
		slog.Info("browser window closed, shutting down")
	case runErr = <-serveErr:
		slog.Error("api server failed", "error", runErr)
	}

	// The final save and eviction complete before the process exits;
	// their failures are logged but do not change the exit status.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	warm.Stop()
	if err := coord.Shutdown(shutdownCtx); err != nil {
		slog.Error("tab shutdown incomplete", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("api shutdown failed", "error", err)
	}
	slog.Info("tabdesk stopped")
	return runErr
}

// restoreSession seeds the manager from the persisted session. A malformed
// file starts an empty session.
func restoreSession(ctx context.Context, mgr *tabs.Manager, sessions *session.Store) {
	entries, err := sessions.Load()
	if err != nil {
		slog.Warn("persisted session unreadable, starting empty", "path", sessions.Path(), "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	seeds := make([]tabs.Seed, 0, len(entries))
	for _, e := range entries {
		seeds = append(seeds, tabs.Seed{ID: e.ID, Title: e.Title, URL: e.URL, Content: e.Content, Active: e.IsActive})
	}
	n := mgr.Restore(ctx, seeds)
	slog.Info("session restored", "tabs", n, "persisted", len(entries))
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
