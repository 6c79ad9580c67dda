package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"lp-hedge-bot/internal/alerts"
	"lp-hedge-bot/internal/chain"
	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/logging"
	"lp-hedge-bot/internal/metrics"
	"lp-hedge-bot/internal/orchestrator"

	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Orchestrator.SQLitePath), 0o755); err != nil {
		log.Error("failed to create data dir", zap.Error(err))
		os.Exit(1)
	}
	store, err := orchestrator.NewStore(cfg.Orchestrator.SQLitePath)
	if err != nil {
		log.Error("failed to open position store", zap.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	pool := chain.NewClient(cfg.Chain.PoolAPIURL, cfg.Chain.Timeout, log)
	hedgeCtl := orchestrator.NewHedgeClient(cfg.Orchestrator.HedgeEngineURL, cfg.Chain.Timeout)
	rebalCtl := orchestrator.NewRebalancerClient(cfg.Orchestrator.RebalancerURL, cfg.Chain.Timeout)
	tg := alerts.NewTelegram(cfg.Telegram, log)

	prom := metrics.NewPrometheus()
	service := orchestrator.NewService(store, pool, hedgeCtl, rebalCtl, tg, prom.Metrics, log)

	server := orchestrator.NewServer(cfg.Orchestrator.ListenAddr, store, service, pool, prom.Handler(), log)
	go func() {
		<-ctx.Done()
		if err := server.Shutdown(context.Background()); err != nil {
			log.Warn("server shutdown failed", zap.Error(err))
		}
	}()
	if err := server.Start(); err != nil {
		log.Error("server terminated", zap.Error(err))
		os.Exit(1)
	}
}
