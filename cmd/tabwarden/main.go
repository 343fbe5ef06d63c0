// Entry point for the tabwarden daemon: attaches to a Chrome instance over
// CDP, tracks per-tab open times, and serves the control API (plus an
// optional MCP surface) until interrupted.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/tabwarden/host"
	"github.com/hazyhaar/tabwarden/store"
	"github.com/hazyhaar/tabwarden/warden"
)

const version = "0.1.0"

// bootstrapConfig is the optional YAML config file. Environment variables
// override it field by field.
type bootstrapConfig struct {
	Listen     string `yaml:"listen"`
	BrowserURL string `yaml:"browser_url"`
	SettingsDB string `yaml:"settings_db"`
	StateDB    string `yaml:"state_db"`
	AuthHash   string `yaml:"auth_hash"`
	LogLevel   string `yaml:"log_level"`
}

func loadBootstrap(path string) (bootstrapConfig, error) {
	cfg := bootstrapConfig{
		Listen:     ":8090",
		SettingsDB: "db/settings.db",
		StateDB:    "db/state.db",
		LogLevel:   "info",
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func main() {
	cfg, err := loadBootstrap(env("TABWARDEN_CONFIG", ""))
	if err != nil {
		slog.Error("bootstrap config", "error", err)
		os.Exit(1)
	}
	cfg.Listen = env("LISTEN", cfg.Listen)
	cfg.BrowserURL = env("BROWSER_URL", cfg.BrowserURL)
	cfg.SettingsDB = env("SETTINGS_DB", cfg.SettingsDB)
	cfg.StateDB = env("STATE_DB", cfg.StateDB)
	cfg.AuthHash = env("AUTH_HASH", cfg.AuthHash)
	mcpTransport := env("MCP_TRANSPORT", "")

	// Logging.
	var lvl slog.Level
	switch env("LOG_LEVEL", cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	// Signal context.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	settings, err := store.Open(cfg.SettingsDB, store.WithMkdirAll())
	if err != nil {
		slog.Error("settings store", "error", err)
		os.Exit(1)
	}
	defer settings.Close()

	state, err := store.Open(cfg.StateDB, store.WithMkdirAll())
	if err != nil {
		slog.Error("state store", "error", err)
		os.Exit(1)
	}
	defer state.Close()

	h := host.NewRodHost(host.RodConfig{
		RemoteURL: cfg.BrowserURL,
		Logger:    logger,
	})
	if err := h.Start(ctx); err != nil {
		slog.Error("attach to browser", "error", err)
		os.Exit(1)
	}
	defer h.Close()

	svc, err := warden.New(warden.Config{
		Settings: settings,
		State:    state,
		Host:     h,
		Logger:   logger,
	})
	if err != nil {
		slog.Error("warden", "error", err)
		os.Exit(1)
	}
	if err := svc.Start(ctx); err != nil {
		slog.Error("start warden", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	// Optional MCP surface over stdio.
	if mcpTransport == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{Name: "tabwarden", Version: version}, nil)
		svc.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
				slog.Error("mcp server", "error", err)
			}
		}()
		slog.Info("mcp serving on stdio")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           svc.Router(cfg.AuthHash),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("api listening", "addr", cfg.Listen, "auth", cfg.AuthHash != "")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
