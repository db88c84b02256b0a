package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cardauction/internal/api"
	"cardauction/internal/apiclient"
	"cardauction/internal/config"
	"cardauction/internal/store"
	"cardauction/web"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	addr := flag.String("addr", "", "listen address (overrides config)")
	apiURL := flag.String("api", "", "marketplace API base URL (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	corsOrigins := flag.String("cors", "", "comma-separated allowed CORS origins (empty = allow all for dev)")
	devTemplates := flag.Bool("dev", false, "reload templates from disk on every request")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		log.Fatalf("Invalid environment: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *apiURL != "" {
		cfg.APIBaseURL = *apiURL
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *corsOrigins != "" {
		cfg.CORSOrigins = config.SplitList(*corsOrigins)
	}
	if *devTemplates {
		cfg.DevTemplates = true
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, err := newLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Invalid log settings: %v", err)
	}
	slog.SetDefault(logger)

	st, err := store.New(cfg.DBPath, cfg.SessionSecret)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}

	templates, err := web.Templates()
	if err != nil {
		log.Fatalf("Failed to load embedded templates: %v", err)
	}
	if cfg.DevTemplates {
		templates = os.DirFS(cfg.TemplatesDir)
	}
	static, err := web.Static()
	if err != nil {
		log.Fatalf("Failed to load embedded assets: %v", err)
	}

	server, err := api.NewServer(api.Options{
		Client:          apiclient.New(cfg.APIBaseURL, cfg.RequestTimeout, logger),
		Store:           st,
		Templates:       templates,
		Static:          static,
		DevTemplates:    cfg.DevTemplates,
		CORSOrigins:     cfg.CORSOrigins,
		CookieName:      cfg.CookieName,
		CookieSecure:    cfg.CookieSecure,
		SessionTTL:      cfg.SessionTTL,
		SocketBaseURL:   cfg.SocketURL(),
		ReconnectDelay:  cfg.ReconnectDelay,
		PollInterval:    cfg.PollInterval,
		AssistantLimit:  cfg.AssistantLimit,
		AssistantWindow: cfg.AssistantWindow,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting web client",
			"addr", cfg.ListenAddr,
			"api", cfg.APIBaseURL,
			"socket", cfg.SocketURL(),
			"db", cfg.DBPath,
		)
		if len(cfg.CORSOrigins) > 0 {
			logger.Info("CORS restricted", "origins", cfg.CORSOrigins)
		}
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "err", err)
	}

	server.Shutdown()
	logger.Info("server goroutines stopped")

	if err := st.Close(); err != nil {
		logger.Error("database close error", "err", err)
	}
	logger.Info("shutdown complete")
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}
