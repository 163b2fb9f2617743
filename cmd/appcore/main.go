// Command appcore runs the session bootstrap engine for the abeely
// client: it reconciles the Supabase auth lifecycle into a single
// top-level app view and serves it, plus the UI commands, over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/abeely/appcore/internal/config"
	"github.com/abeely/appcore/internal/flags"
	"github.com/abeely/appcore/internal/httpapi"
	"github.com/abeely/appcore/internal/identity"
	"github.com/abeely/appcore/internal/session"
	"github.com/abeely/appcore/pkg/logger"
	"github.com/abeely/appcore/supabase/client"
)

func main() {
	configPath := flag.String("config", "config/appcore.yaml", "path to configuration file")
	route := flag.String("route", "", "deep link route the app was launched with (overrides config)")
	flag.Parse()

	if err := run(*configPath, *route); err != nil {
		fmt.Fprintf(os.Stderr, "appcore: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, route string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if route != "" {
		cfg.Bootstrap.Route = route
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
		Module: "appcore",
	})

	if cfg.Supabase.URL == "" || cfg.Supabase.AnonKey == "" {
		return fmt.Errorf("supabase url and anon key are required (config or SUPABASE_URL / SUPABASE_ANON_KEY)")
	}

	api, err := client.New(client.Config{
		URL:    cfg.Supabase.URL,
		APIKey: cfg.Supabase.AnonKey,
	})
	if err != nil {
		return fmt.Errorf("supabase client: %w", err)
	}
	realtime := client.NewRealtimeClient(cfg.Supabase.URL, cfg.Supabase.AnonKey)

	backend, err := identity.NewSupabaseBackend(identity.SupabaseOptions{
		Client:        api,
		Realtime:      realtime,
		SessionFile:   cfg.Supabase.SessionFile,
		ProfilesTable: cfg.Supabase.ProfilesTable,
		ProbeTable:    cfg.Supabase.ProbeTable,
		Log:           log.WithField("component", "identity"),
	})
	if err != nil {
		return fmt.Errorf("identity backend: %w", err)
	}
	defer backend.Close()

	durable, err := newDurableStore(cfg.Flags)
	if err != nil {
		return fmt.Errorf("flag store: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	controller := session.NewController(session.Options{
		Backend:         backend,
		Durable:         durable,
		Tab:             flags.NewMemoryStore(),
		Route:           cfg.Bootstrap.Route,
		RetryDelay:      cfg.Bootstrap.RetryDelay,
		SignOutDebounce: cfg.Bootstrap.SignOutDebounce,
		GraceWindow:     cfg.Bootstrap.GraceWindow,
		Log:             log.WithField("component", "session"),
		Metrics:         session.NewMetrics(registry),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	controller.Start(ctx)
	defer controller.Stop()
	if err := backend.Start(ctx); err != nil {
		return fmt.Errorf("identity backend start: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := httpapi.NewServer(addr, controller, registry, log.WithField("component", "httpapi"))

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func newDurableStore(cfg config.FlagsConfig) (flags.Store, error) {
	switch cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return flags.NewRedisStore(rdb, cfg.KeyPrefix), nil
	default:
		return flags.NewFileStore(cfg.File)
	}
}
