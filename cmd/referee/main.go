package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/logging"
	"github.com/parityleague/backend/internal/models"
	"github.com/parityleague/backend/internal/referee"
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
		cfg.Port = "8001"
	}

	// The manager assigns the real id at registration; logs are filed under
	// the process identity, which stays stable across restarts.
	logID := cfg.DisplayName
	if logID == "" {
		logID = "referee-" + cfg.Port
	}
	log, err := logging.New(cfg.DataDir, string(models.RoleReferee), logID, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	store := storage.New(cfg.DataDir)
	endpoint := "http://localhost:" + cfg.Port
	svc := referee.NewService(cfg, store, endpoint, log)

	srv := rpc.NewServer(logID, models.RoleReferee, cfg.Environment, nil, log)
	svc.Mount(srv)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(cfg.Port) }()

	// Register once the server is up; a referee that cannot register is
	// useless, so failure is fatal.
	regCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.AgentStartupTimeoutS*float64(time.Second)))
	err = svc.Register(regCtx)
	cancel()
	if err != nil {
		log.Error("registration failed", zap.Error(err))
		srv.Shutdown(context.Background())
		os.Exit(1)
	}

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
