// Package run implements the autofleet run command: it loads the inventory,
// consumes the result channel into node state and serves the RPC socket.
package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"

	"autofleet/internal/bus"
	"autofleet/internal/dispatcher"
	"autofleet/internal/fleet"
	"autofleet/internal/inventory"
	"autofleet/internal/node"
	"autofleet/internal/rpc"
	"autofleet/internal/store"
	"autofleet/pkg/config"
	"autofleet/pkg/logger"
)

// Run starts the fleet dispatcher and blocks until a signal or the shutdown
// sentinel arrives.
func Run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := logger.Init(cfg.Log.Level, cfg.Log.Format)

	if cfg.Bus.SharedSecret == "CHANGE_ME" {
		return fmt.Errorf("shared_secret must be changed or left empty in config (not 'CHANGE_ME')")
	}

	poll, err := cfg.Bus.ParsePollInterval()
	if err != nil {
		return fmt.Errorf("parsing poll interval: %w", err)
	}
	expiryInterval, err := cfg.Cache.ParseExpiryInterval()
	if err != nil {
		return fmt.Errorf("parsing expiry interval: %w", err)
	}
	staleThreshold, err := cfg.Cache.ParseStaleThreshold()
	if err != nil {
		return fmt.Errorf("parsing stale threshold: %w", err)
	}

	// Ensure database and socket directories exist
	for _, p := range []string{cfg.Bus.Path, cfg.Cache.Path, cfg.RPC.Socket} {
		dir := filepath.Dir(p)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}

	fleetCtx, err := inventory.Load(cfg.Inventory.Path)
	if err != nil {
		return fmt.Errorf("loading inventory: %w", err)
	}

	registry := node.Default
	registry.SetLogger(log)
	if err := node.RegisterDefaults(registry); err != nil {
		return fmt.Errorf("registering node families: %w", err)
	}

	q, err := bus.Open(cfg.Bus.Path, bus.Options{
		Channel:      cfg.Bus.Channel,
		Secret:       cfg.Bus.SharedSecret,
		PollInterval: poll,
		Retain:       cfg.Bus.Retain,
	}, log)
	if err != nil {
		return fmt.Errorf("opening bus: %w", err)
	}
	defer q.Close()

	mq, err := q.With(cfg.Bus.MonitorChannel)
	if err != nil {
		return fmt.Errorf("opening monitor channel: %w", err)
	}

	db, err := store.New(cfg.Cache.Path, log)
	if err != nil {
		return fmt.Errorf("opening fact cache: %w", err)
	}
	defer db.Close()

	// Warm start from cached facts
	warmed, err := db.Restore(fleetCtx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to restore cached facts")
	}
	promoted := fleetCtx.PromoteAll(registry)
	writeINI(cfg.Inventory.INIPath, fleetCtx, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db.RunExpiry(ctx, expiryInterval, staleThreshold)

	results, err := dispatcher.New(q, dispatcher.NewFleetRouter(fleetCtx, log), log,
		dispatcher.WithPollInterval(poll),
		dispatcher.WithObserver(func(rec dispatcher.Record) {
			if module, _ := rec.Module(); module == "setup" {
				fleetCtx.PromoteAll(registry)
			}
			n, ok := fleetCtx.Lookup(rec.Host)
			if !ok {
				return
			}
			if err := db.Upsert(n); err != nil {
				log.Warn().Err(err).Str("host", rec.Host).Msg("Failed to cache node")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", q.Channel(), err)
	}

	watches := dispatcher.NewMonitorRouter(log)
	monitor, err := dispatcher.New(mq, watches, log, dispatcher.WithPollInterval(poll))
	if err != nil {
		results.Close()
		return fmt.Errorf("subscribing to %s: %w", mq.Channel(), err)
	}

	svc := rpc.NewService(q, fleetCtx, registry, log)
	svc.AddChannel(mq)
	svc.SetMonitor(watches)
	ln, err := rpc.StartServer(cfg.RPC.Socket, svc, log)
	if err != nil {
		results.Close()
		monitor.Close()
		return fmt.Errorf("starting RPC server: %w", err)
	}
	defer os.Remove(cfg.RPC.Socket)
	defer ln.Close()

	log.Info().
		Int("nodes", fleetCtx.All().Len()).
		Int("warmed", warmed).
		Int("promoted", promoted).
		Str("channel", q.Channel()).
		Msg("Starting autofleet")

	results.Start()
	monitor.Start()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case <-results.Done():
		log.Info().Msg("Result channel closed")
	}

	results.Close()
	monitor.Close()
	<-results.Done()
	<-monitor.Done()

	writeINI(cfg.Inventory.INIPath, fleetCtx, log)
	return nil
}

func writeINI(path string, ctx *fleet.Context, log zerolog.Logger) {
	if path == "" {
		return
	}
	if err := inventory.WriteINI(path, ctx.All()); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to write INI inventory")
		return
	}
	log.Debug().Str("path", path).Msg("INI inventory written")
}
