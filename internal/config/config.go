package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log          LoggingConfig      `yaml:"log"`
	Exchange     ExchangeConfig     `yaml:"exchange"`
	Chain        ChainConfig        `yaml:"chain"`
	Hedge        HedgeConfig        `yaml:"hedge"`
	Rebalance    RebalanceConfig    `yaml:"rebalance"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	History      HistoryConfig      `yaml:"history"`
	Telegram     TelegramConfig     `yaml:"telegram"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ExchangeConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	TakerFeeRate   float64       `yaml:"taker_fee_rate"`
}

type ChainConfig struct {
	PoolAPIURL    string        `yaml:"pool_api_url"`
	RPCURL        string        `yaml:"rpc_url"`
	Timeout       time.Duration `yaml:"timeout"`
	WalletAddress string        `yaml:"wallet_address"`
}

type HedgeConfig struct {
	ListenAddr        string        `yaml:"listen_addr"`
	AdjustInterval    time.Duration `yaml:"adjust_interval"`
	DeltaThresholdPct float64       `yaml:"delta_threshold_pct"`
	FillConfirmDelay  time.Duration `yaml:"fill_confirm_delay"`
	MinLegNotionalUSD float64       `yaml:"min_leg_notional_usd"`
	SQLitePath        string        `yaml:"sqlite_path"`
	RebalancerURL     string        `yaml:"rebalancer_url"`
	OrchestratorURL   string        `yaml:"orchestrator_url"`
}

type RebalanceConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	TickInterval    time.Duration `yaml:"tick_interval"`
	ConfirmDelay    time.Duration `yaml:"confirm_delay"`
	OrchestratorURL string        `yaml:"orchestrator_url"`
	HedgeEngineURL  string        `yaml:"hedge_engine_url"`
	CallbackURL     string        `yaml:"callback_url"`
}

type OrchestratorConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	SQLitePath     string `yaml:"sqlite_path"`
	RebalancerURL  string `yaml:"rebalancer_url"`
	HedgeEngineURL string `yaml:"hedge_engine_url"`
}

type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Exchange.Timeout == 0 {
		cfg.Exchange.Timeout = 10 * time.Second
	}
	if cfg.Exchange.ReconnectDelay == 0 {
		cfg.Exchange.ReconnectDelay = 3 * time.Second
	}
	if cfg.Exchange.PingInterval == 0 {
		cfg.Exchange.PingInterval = 30 * time.Second
	}
	if cfg.Exchange.TakerFeeRate == 0 {
		cfg.Exchange.TakerFeeRate = 0.0005
	}
	if cfg.Chain.Timeout == 0 {
		cfg.Chain.Timeout = 15 * time.Second
	}
	if cfg.Hedge.ListenAddr == "" {
		cfg.Hedge.ListenAddr = ":8083"
	}
	if cfg.Hedge.AdjustInterval == 0 {
		cfg.Hedge.AdjustInterval = 15 * time.Second
	}
	if cfg.Hedge.DeltaThresholdPct == 0 {
		cfg.Hedge.DeltaThresholdPct = 0.01
	}
	if cfg.Hedge.FillConfirmDelay == 0 {
		cfg.Hedge.FillConfirmDelay = 2 * time.Second
	}
	if cfg.Hedge.MinLegNotionalUSD == 0 {
		cfg.Hedge.MinLegNotionalUSD = 25
	}
	if cfg.Hedge.SQLitePath == "" {
		cfg.Hedge.SQLitePath = "data/hedge-engine.db"
	}
	if cfg.Rebalance.ListenAddr == "" {
		cfg.Rebalance.ListenAddr = ":8082"
	}
	if cfg.Rebalance.TickInterval == 0 {
		cfg.Rebalance.TickInterval = 30 * time.Second
	}
	if cfg.Rebalance.ConfirmDelay == 0 {
		cfg.Rebalance.ConfirmDelay = 15 * time.Minute
	}
	if cfg.Orchestrator.ListenAddr == "" {
		cfg.Orchestrator.ListenAddr = ":8081"
	}
	if cfg.Orchestrator.SQLitePath == "" {
		cfg.Orchestrator.SQLitePath = "data/positions.db"
	}
	if cfg.History.Schema == "" {
		cfg.History.Schema = "public"
	}
	if cfg.History.QueueSize == 0 {
		cfg.History.QueueSize = 256
	}
}

func validate(cfg *Config) error {
	if cfg.Hedge.DeltaThresholdPct < 0 || cfg.Hedge.DeltaThresholdPct >= 1 {
		return errors.New("hedge.delta_threshold_pct must be in [0, 1)")
	}
	if cfg.Exchange.TakerFeeRate < 0 {
		return errors.New("exchange.taker_fee_rate must be >= 0")
	}
	if cfg.History.Enabled && cfg.History.DSN == "" {
		return errors.New("history.dsn is required when history is enabled")
	}
	return nil
}
