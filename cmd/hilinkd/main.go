package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hilinkd/hilinkd/internal/api"
	"github.com/hilinkd/hilinkd/internal/config"
	"github.com/hilinkd/hilinkd/internal/events"
	"github.com/hilinkd/hilinkd/internal/monitor"
	"github.com/hilinkd/hilinkd/internal/server"
	"github.com/hilinkd/hilinkd/internal/storage"
)

func main() {
	// Command line flags
	var configPath = flag.String("config", "configs/hilinkd.yaml", "Configuration file path")
	var validateOnly = flag.Bool("validate", false, "Validate the configuration and exit")
	var showConfig = flag.Bool("show-config", false, "Print the configuration summary and exit")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("config_path", *configPath).Msg("Failed to load configuration")
	}

	if cfg.Log.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		log.Warn().Str("level", cfg.Log.Level).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if *showConfig {
		cfg.PrintConfigSummary()
		return
	}

	if *validateOnly {
		cfg.PrintConfigSummary()
		fmt.Println("configuration ok")
		return
	}

	log.Info().
		Str("config_path", *configPath).
		Int("modems", len(cfg.EnabledModems())).
		Msg("hilinkd starting")

	// Storage
	store, err := openStore(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open storage")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare database schema")
	}

	var wg sync.WaitGroup
	var publishers events.Multi

	// Optional: NATS
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = events.Connect(cfg.NATS)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Str("url", cfg.NATS.URL).Msg("Connected to NATS")
			publishers = append(publishers, events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
		}
	}

	// Optional: MQTT
	if cfg.MQTT.Broker != "" {
		mp, err := events.DialMQTT(cfg.MQTT)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to MQTT broker, continuing without MQTT support")
		} else {
			log.Info().Str("broker", cfg.MQTT.Broker).Msg("Connected to MQTT broker")
			publishers = append(publishers, mp)
		}
	}
	defer publishers.Close()

	service := monitor.NewService(monitor.ServiceOptions{
		Source:          config.FileSource{Path: *configPath},
		Store:           store,
		Publisher:       publishers,
		Connector:       monitor.DialHiLink(cfg.Service.RequestTimeout),
		PollInterval:    cfg.Service.PollInterval,
		ReloadInterval:  cfg.Service.ReloadInterval,
		CleanupInterval: cfg.Service.CleanupInterval,
		Retention:       cfg.Service.Retention(),
	})

	serviceErr := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		serviceErr <- service.Run(ctx)
	}()

	if nc != nil && cfg.NATS.Commands {
		subscriber := server.NewNATSSubscriber(nc, service, cfg.NATS.SubjectPrefix, 3*cfg.Service.RequestTimeout)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("subject", subscriber.CommandSubject()).Msg("Starting NATS command subscriber")
			if err := subscriber.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("NATS command subscriber stopped")
			}
		}()
	}

	// REST API
	var apiServer *api.RESTServer
	if cfg.API.Enabled {
		apiServer = api.NewRESTServer(cfg, store, service)
		wg.Add(1)
		go func() {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
			if err := apiServer.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("REST API server failed")
				cancel()
			}
		}()
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Debug().Err(err).Msg("Failed to notify systemd")
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")
	case err := <-serviceErr:
		if err != nil {
			log.Error().Err(err).Msg("Monitor service failed")
		}
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()

	if apiServer != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
		}
		stop()
	}

	wg.Wait()
	log.Info().Msg("hilinkd stopped")
}

// openStore picks PostgreSQL when a DSN is configured and memory otherwise.
func openStore(cfg config.DatabaseConfig) (storage.Store, error) {
	if cfg.DSN == "" {
		log.Warn().Msg("No database configured, keeping samples and events in memory")
		return storage.NewMemoryStore(), nil
	}

	store, err := storage.NewPostgresStore(cfg.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	log.Info().Msg("Connected to database")
	return store, nil
}
