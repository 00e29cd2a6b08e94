package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robbenti/nsdb/internal/api"
	"github.com/robbenti/nsdb/internal/cluster"
	"github.com/robbenti/nsdb/internal/config"
	"github.com/robbenti/nsdb/internal/guardian"
	"github.com/robbenti/nsdb/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Setup("info", "console")
		bootLog := logger.Get("main")
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format)
	log := logger.Get("main")
	if err := logger.SetComponentLevels(cfg.Log.Components); err != nil {
		log.Fatal().Err(err).Msg("Invalid log component levels")
	}
	log.Info().
		Str("node", cfg.Cluster.NodeID).
		Str("base_path", cfg.Index.BasePath).
		Msg("Starting NSDb node")

	view, err := cluster.NewStaticView(cfg.Cluster.NodeID, cfg.Cluster.Nodes)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build cluster view")
	}

	breaker := cluster.NewBreaker(5, 30*time.Second, log)
	remote := api.NewNodeClient(view, breaker, log)

	g, err := guardian.New(cfg, view, remote)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to start engine")
	}

	recoverCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	if err := g.RecoverCommitLog(recoverCtx); err != nil {
		cancel()
		g.Close()
		log.Fatal().Err(err).Msg("Commit log recovery failed")
	}
	cancel()

	server := api.NewServer(cfg, g)
	errCh := make(chan error, 1)
	go func() { errCh <- server.Listen() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("API server failed")
	}

	if err := server.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("Server shutdown failed")
	}
	g.Close()
	log.Info().Msg("Node stopped")
}
