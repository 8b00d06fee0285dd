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

	"github.com/rs/zerolog"

	"github.com/motorwatch/motorwatch/internal/api"
	"github.com/motorwatch/motorwatch/internal/config"
	"github.com/motorwatch/motorwatch/internal/export"
	"github.com/motorwatch/motorwatch/internal/pipeline"
	"github.com/motorwatch/motorwatch/internal/poller"
	"github.com/motorwatch/motorwatch/internal/storage"
	"github.com/motorwatch/motorwatch/internal/ws"
	"github.com/motorwatch/motorwatch/pkg/models"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	plcURL := flag.String("plc-url", "", "register bridge endpoint to poll for PLC readings; leave empty to disable polling")
	flag.Parse()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
		log = log.Level(lvl)
	}

	log.Info().
		Int("http_port", cfg.Server.HTTPPort).
		Dur("esp_timeout", cfg.Sources.ESPTimeout).
		Dur("plc_timeout", cfg.Sources.PLCTimeout).
		Msg("motorwatch starting")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Store: Postgres when a database URL is configured, in-memory otherwise.
	var store storage.Store
	if url := cfg.Database.EffectiveURL(); url != "" {
		pg, err := storage.NewPostgres(ctx, url, log)
		if err != nil {
			log.Fatal().Err(err).Msg("connect postgres")
		}
		store = pg
		log.Info().Msg("using postgres store")
	} else {
		store = storage.NewMemory()
		log.Info().Msg("no database configured, using in-memory store")
	}
	defer store.Close()

	var exporter *export.Appender
	if cfg.Export.CSVPath != "" {
		exporter, err = export.NewAppender(cfg.Export.CSVPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Export.CSVPath).Msg("open csv export")
		}
		defer exporter.Close()
		log.Info().Str("path", cfg.Export.CSVPath).Msg("csv export enabled")
	}

	// The hub greets each new client with the current state so dashboards
	// render without waiting for the next reading.
	var coord *pipeline.Coordinator
	hub := ws.New(cfg.Server.BroadcastBuffer, func() []ws.Message {
		snap := coord.CurrentSnapshot()
		return []ws.Message{
			{Event: ws.TopicSensorUpdate, Data: snap.Reading},
			{Event: ws.TopicHealthUpdate, Data: snap.Health},
			{Event: ws.TopicRecommendations, Data: coord.Recommendations()},
			{Event: ws.TopicStatusUpdate, Data: snap.Sources},
		}
	}, log)
	go hub.Run(ctx)

	coord = pipeline.New(cfg, store, hub, exporter, log)
	go coord.Run(ctx)

	if *plcURL != "" {
		reader := &poller.HTTPReader{
			URL:    *plcURL,
			Client: &http.Client{Timeout: cfg.Sources.PollInterval},
		}
		p := poller.New(models.SourcePLC, reader, coord, cfg.Sources.PollInterval, log)
		go p.Run(ctx)
		log.Info().Str("url", *plcURL).Dur("interval", cfg.Sources.PollInterval).Msg("plc polling enabled")
	}

	// Hot-reload is best effort; a missing watcher never blocks startup.
	go func() {
		if err := config.Watch(ctx, log, *configPath, func(next *config.Config) {
			coord.ApplyConfig(next)
		}); err != nil {
			log.Warn().Err(err).Msg("config watch unavailable")
		}
	}()

	handler := api.New(coord, store, hub, cfg.Export.CSVPath, log)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info().Int("port", cfg.Server.HTTPPort).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server stopped")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("motorwatch shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx) //nolint:errcheck
}
