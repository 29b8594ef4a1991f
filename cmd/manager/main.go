package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/archive"
	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/league"
	"github.com/parityleague/backend/internal/logging"
	"github.com/parityleague/backend/internal/migrations"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/rpc"
	"github.com/parityleague/backend/internal/storage"
)

func main() {
	port := flag.String("port", "", "listen port (overrides APP_PORT)")
	configPath := flag.String("config", "", "JSON config overlay")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(2)
		}
	}
	if *port != "" {
		cfg.Port = *port
	}
	if cfg.Port == "" {
		cfg.Port = "8000"
	}

	log, err := logging.New(cfg.DataDir, string(models.RoleManager), league.ManagerID, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store := storage.New(cfg.DataDir)

	// The Postgres archive is optional; the JSON files under the data
	// directory remain authoritative.
	var arch *archive.Archive
	if cfg.DatabaseURL != "" {
		if os.Getenv("MIGRATE_ON_START") == "true" {
			if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
				log.Fatal("migrations failed", zap.Error(err))
			}
		}
		arch, err = archive.Connect(cfg.DatabaseURL, log)
		if err != nil {
			log.Fatal("archive connection failed", zap.Error(err))
		}
		defer arch.Close()
		log.Info("archive enabled")
	}

	svc, err := league.NewService(cfg, store, arch, log)
	if err != nil {
		log.Fatal("manager setup failed", zap.Error(err))
	}

	srv := rpc.NewServer(league.ManagerID, models.RoleManager, cfg.Environment, svc.TokenLookup, log)
	svc.Mount(srv)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(cfg.Port) }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("server failed", zap.Error(err))
		}
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Warn("shutdown incomplete", zap.Error(err))
		}
	}
}
