package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"lp-hedge-bot/internal/chain"
	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/logging"
	"lp-hedge-bot/internal/metrics"
	"lp-hedge-bot/internal/rebalance"

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

	pool := chain.NewClient(cfg.Chain.PoolAPIURL, cfg.Chain.Timeout, log)
	wallet, err := chain.NewWallet(cfg.Chain.RPCURL, cfg.Chain.WalletAddress)
	if err != nil {
		log.Error("failed to connect to chain rpc", zap.Error(err))
		os.Exit(1)
	}
	defer wallet.Close()

	hedgeClient := rebalance.NewHedgeClient(cfg.Rebalance.HedgeEngineURL, cfg.Chain.Timeout)
	orch := rebalance.NewOrchestratorClient(cfg.Rebalance.OrchestratorURL, cfg.Rebalance.CallbackURL, cfg.Chain.Timeout)

	prom := metrics.NewPrometheus()
	machine := rebalance.NewMachine(cfg.Rebalance, pool, wallet, hedgeClient, orch, orch, prom.Metrics, log)
	worker := rebalance.NewWorker(machine, orch, cfg.Rebalance.TickInterval, log)
	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("rebalance worker terminated", zap.Error(err))
		}
	}()

	server := rebalance.NewServer(cfg.Rebalance.ListenAddr, pool, orch, prom.Handler(), log)
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
