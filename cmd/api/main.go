package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/hibiken/asynq"

	"autocmx/internal/config"
	"autocmx/internal/db"
	httpSrv "autocmx/internal/http"
	"autocmx/internal/ingest"
	"autocmx/internal/logging"
	"autocmx/internal/migrations"
	"autocmx/internal/notify"
	"autocmx/internal/registry"
	"autocmx/internal/worker"
)

func main() {
	configPath := flag.String("config", os.Getenv("CMX_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: logging.Format(cfg.Log.Format)})

	if err := run(cfg, logger); err != nil {
		logger.Error("api terminated", "error", err)
		os.Exit(1)
	}
	logger.Info("api stopped cleanly")
}

func run(cfg config.Config, logger *slog.Logger) error {
	// Run embedded migrations (idempotent)
	if err := migrations.Run(cfg.Database.Driver, cfg.Database.DSN); err != nil {
		return err
	}

	dbase, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer dbase.Close()

	reg := registry.New(db.NewTests(dbase), cfg)
	clients := db.NewClients(dbase)

	var opts []ingest.Option
	if cfg.RedisAddr != "" {
		asq := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer asq.Close()
		opts = append(opts, ingest.WithArchiver(worker.NewEnqueuer(asq)))
		logger.Info("archiving posts through queue", "redis", cfg.RedisAddr)
	}
	if cfg.MQTT.Enabled() {
		n, err := notify.Connect(cfg.MQTT, logger)
		if err != nil {
			// notifications are optional; ingestion works without them
			logger.Error("mqtt notifications disabled", "error", err)
		} else {
			defer n.Close()
			opts = append(opts, ingest.WithNotifier(n))
		}
	}

	srv := httpSrv.NewServer(&httpSrv.Server{
		Tests:   reg,
		Clients: clients,
		Ingest:  ingest.NewService(reg, clients, logger, opts...),
		Logger:  logger,
		Config:  cfg,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	sdNotify(logger, daemon.SdNotifyReady)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutdown signal received, stopping")
	sdNotify(logger, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// sdNotify is a no-op outside systemd.
func sdNotify(logger *slog.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logger.Error("failed to notify systemd", "state", state, "error", err)
	} else if sent {
		logger.Debug("notified systemd", "state", state)
	}
}
