package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/parityleague/backend/internal/config"
	"github.com/parityleague/backend/internal/dashboard"
	"github.com/parityleague/backend/internal/logging"
	"github.com/parityleague/backend/internal/orchestrator"
	"github.com/parityleague/backend/internal/redis"
	"github.com/parityleague/backend/internal/storage"
	"github.com/parityleague/backend/internal/ws"
)

func main() {
	agentsFile := flag.String("agents", "", "agents file (overrides AGENTS_FILE)")
	configPath := flag.String("config", "", "JSON config overlay")
	flag.Parse()

	cfg := config.Load()
	if *configPath != "" {
		if err := cfg.ApplyFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
			os.Exit(2)
		}
	}
	if *agentsFile != "" {
		cfg.AgentsFile = *agentsFile
	}

	log, err := logging.New(cfg.DataDir, "orchestrator", orchestrator.OrchestratorID, cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging setup failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// The control token is shared with the manager through its environment;
	// generate one per run unless the operator pinned it.
	if cfg.OrchestratorToken == "" {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			log.Fatal("token generation failed", zap.Error(err))
		}
		cfg.OrchestratorToken = "tok_ORCH01_" + hex.EncodeToString(buf)
	}

	specs, err := orchestrator.LoadSpecs(cfg.AgentsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}

	store := storage.New(cfg.DataDir)
	hub := ws.NewHub(log)

	var pub orchestrator.Publisher = hub
	if cfg.RedisURL != "" {
		rdb, err := redis.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis connection failed", zap.Error(err))
		}
		defer rdb.Close()
		pub = ws.NewMirror(rdb, hub, log)
		log.Info("redis event mirror enabled")
	}

	sup := orchestrator.NewSupervisor(cfg, specs, log)
	ctrl := orchestrator.NewController(cfg, pub, log)
	rec := orchestrator.NewRecovery(sup, ctrl, pub, log)
	mon := orchestrator.NewMonitor(sup, cfg, rec.Handle, log)

	dash := dashboard.NewServer(cfg, store, hub, mon, log)
	go func() {
		if err := dash.Run(cfg.DashboardPort); err != nil {
			log.Error("dashboard failed", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tailer := orchestrator.NewTailer(cfg.DataDir, pub, log)
	go tailer.Run(ctx)

	if err := sup.StartAll(ctx); err != nil {
		log.Error("startup failed", zap.Error(err))
		sup.StopAll()
		os.Exit(1)
	}
	for _, spec := range specs {
		if err := orchestrator.Verify(ctx, spec.Endpoint(), spec.Role); err != nil {
			log.Error("agent verification failed",
				zap.String("agent", spec.ID), zap.Error(err))
			sup.StopAll()
			os.Exit(1)
		}
	}
	log.Info("all agents verified", zap.Int("count", len(specs)))

	go mon.Run(ctx)

	exitCode := 0
	if err := runLeague(ctx, ctrl, log); err != nil {
		if ctx.Err() == nil {
			exitCode = 1
		}
	}

	log.Info("stopping agents")
	sup.StopAll()
	dash.Shutdown(context.Background())
	os.Exit(exitCode)
}

// runLeague drives one full tournament: quorum, start, watch to completion.
func runLeague(ctx context.Context, ctrl *orchestrator.Controller, log *zap.Logger) error {
	if err := ctrl.WaitForQuorum(ctx); err != nil {
		log.Error("quorum wait failed", zap.Error(err))
		return err
	}
	if err := ctrl.StartLeague(ctx); err != nil {
		log.Error("league start failed", zap.Error(err))
		return err
	}
	champion, err := ctrl.Watch(ctx)
	if err != nil {
		log.Error("league watch failed", zap.Error(err))
		return err
	}
	log.Info("tournament finished", zap.String("champion", champion))

	// Give the dashboard a moment to deliver the final events.
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
	}
	return nil
}
