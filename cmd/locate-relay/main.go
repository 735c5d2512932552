package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/x-Ryan-x/SecureFindMyPhone/internal/config"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/dispatch"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/logs"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/registry"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/server"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/service"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/storage"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/storage/bolt"
	"github.com/x-Ryan-x/SecureFindMyPhone/internal/storage/jsonfile"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logs.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("relay stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	store, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	reg, err := registry.Open(ctx, store, logger)
	if err != nil {
		return err
	}

	transport, err := dispatch.NewTransport(ctx, cfg)
	if err != nil {
		return err
	}
	if cfg.Push.Transport == config.TransportLegacy && strings.TrimSpace(cfg.Push.ServerKey) == "" {
		logger.Warn("no FCM server key configured, pushes will fail until one is set")
	}
	dispatcher := dispatch.New(transport, cfg.Push.RequestTimeout, logger)

	authSvc := service.NewAuthService(cfg)
	deviceSvc := service.NewDeviceService(reg, dispatcher, logger)

	srv := server.New(cfg, deviceSvc, authSvc, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", cfg.HTTP.Addr,
			"transport", transport.Name(),
			"storage", cfg.Storage.Driver)
		errCh <- srv.Start()
	}()

	// graceful shutdown
	select {
	case err := <-errCh:
		return err
	case <-waitForSignal():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.WriteTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config, logger *slog.Logger) (storage.Store, error) {
	if cfg.Storage.Driver == config.DriverBolt {
		store, err := bolt.New(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store, err := jsonfile.New(cfg.Storage.Path, cfg.Storage.LocationPath, jsonfile.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return store, nil
}

func waitForSignal() <-chan os.Signal {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	return sigCh
}
