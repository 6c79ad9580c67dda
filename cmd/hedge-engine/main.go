package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"lp-hedge-bot/internal/config"
	"lp-hedge-bot/internal/exchange"
	"lp-hedge-bot/internal/hedge"
	"lp-hedge-bot/internal/history"
	"lp-hedge-bot/internal/logging"
	"lp-hedge-bot/internal/metrics"
	"lp-hedge-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

const simulatorBalanceUSD = 1_000_000

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

	apiKey := strings.TrimSpace(os.Getenv("EXCHANGE_API_KEY"))
	apiSecret := strings.TrimSpace(os.Getenv("EXCHANGE_API_SECRET"))
	if apiKey == "" || apiSecret == "" {
		log.Error("EXCHANGE_API_KEY and EXCHANGE_API_SECRET are required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(filepath.Dir(cfg.Hedge.SQLitePath), 0o755); err != nil {
		log.Error("failed to create data dir", zap.Error(err))
		os.Exit(1)
	}
	cache, err := sqlite.New(cfg.Hedge.SQLitePath)
	if err != nil {
		log.Error("failed to open local store", zap.Error(err))
		os.Exit(1)
	}
	defer cache.Close()

	rest := exchange.NewREST(cfg.Exchange.BaseURL, apiKey, apiSecret, cfg.Exchange.Timeout, log)
	rules, err := rest.FetchRules(ctx)
	if err != nil {
		log.Error("failed to fetch exchange rules", zap.Error(err))
		os.Exit(1)
	}
	stream := exchange.NewPriceStream(cfg.Exchange.WSURL, cfg.Exchange.ReconnectDelay, cfg.Exchange.PingInterval, log)
	sim := exchange.NewSimulator(rest, simulatorBalanceUSD)

	hist, err := history.New(cfg.History, log)
	if err != nil {
		log.Error("failed to init history writer", zap.Error(err))
		os.Exit(1)
	}
	defer hist.Close()
	hist.Start(ctx)

	prom := metrics.NewPrometheus()
	engine := hedge.NewEngine(cfg.Hedge, hedge.Options{
		Real:    rest,
		Sim:     sim,
		Rules:   rules,
		Stream:  stream,
		Assets:  hedge.NewRebalancerClient(cfg.Hedge.RebalancerURL, cfg.Exchange.Timeout),
		Sink:    hedge.NewOrchestratorClient(cfg.Hedge.OrchestratorURL, cfg.Exchange.Timeout),
		Cache:   cache,
		History: hist,
		Metrics: prom.Metrics,
		FeeRate: cfg.Exchange.TakerFeeRate,
	}, log)
	if err := engine.Rebuild(ctx); err != nil {
		log.Warn("hedge table rebuild failed, starting empty", zap.Error(err))
	}

	go func() {
		if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("price stream terminated", zap.Error(err))
		}
	}()
	go func() {
		if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("adjustment loop terminated", zap.Error(err))
		}
	}()

	server := hedge.NewServer(cfg.Hedge.ListenAddr, engine, prom.Handler(), log)
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
