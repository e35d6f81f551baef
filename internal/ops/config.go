package ops

import (
	"encoding/json"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"

	"main/internal/engine"
	"main/internal/risk"
	"main/internal/sched"
	"main/pkg/conn"
)

// FileConfig mirrors the JSON config layout. Secrets never live here;
// they come from the environment at resolve time.
type FileConfig struct {
	Engine   EngineConfig   `json:"engine"`
	Market   sched.Config   `json:"market"`
	Risk     risk.Config    `json:"risk"`
	Postgres PostgresConfig `json:"postgres"`
	Broker   BrokerConfig   `json:"broker"`
	Feed     FeedConfig     `json:"feed"`
}

// EngineConfig tunes the intent coordinator. Durations are milliseconds.
type EngineConfig struct {
	MaxAttempts    int `json:"maxAttempts"`
	BackoffBaseMs  int `json:"backoffBaseMs"`
	FailureCeiling int `json:"failureCeiling"`
	LockTTLMs      int `json:"lockTtlMs"`
	Workers        int `json:"workers"`
	QueueCapacity  int `json:"queueCapacity"`
}

// PostgresConfig describes the relational store connection. Password is
// resolved from PG_PASSWORD.
type PostgresConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Database string `json:"database"`
	SSLMode  string `json:"sslMode"`
}

// BrokerConfig selects and configures the order adapter. Credentials are
// resolved from BROKER_API_KEY / BROKER_SECRET.
type BrokerConfig struct {
	Kind      string `json:"kind"` // "rest" or "paper"
	BaseURL   string `json:"baseUrl"`
	TimeoutMs int    `json:"timeoutMs"`
}

// FeedConfig describes the market data websocket.
type FeedConfig struct {
	URL     string   `json:"url"`
	Symbols []string `json:"symbols"`
}

// BrokerSpec is the resolved broker selection with credentials attached.
type BrokerSpec struct {
	Kind    string
	BaseURL string
	Timeout time.Duration
	APIKey  string
	Secret  string
}

// Loaded is the resolved configuration ready for use.
type Loaded struct {
	Engine   engine.Config
	Market   sched.Config
	Risk     risk.Config
	Postgres conn.Option
	Broker   BrokerSpec
	Feed     FeedConfig
}

// Load reads a JSON config file, applies environment overrides and
// validates the result. A .env file next to the process is honored when
// present and silently skipped when not.
func Load(path string) (Loaded, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, errors.Wrap(err, "read config file").With("path", path)
	}

	var cfg FileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, errors.Wrap(err, "unmarshal config").With("path", path)
	}

	return Resolve(cfg)
}

// Resolve validates a FileConfig and binds secrets from the environment.
func Resolve(cfg FileConfig) (Loaded, error) {
	if err := validateMarket(cfg.Market); err != nil {
		return Loaded{}, err
	}

	broker, err := resolveBroker(cfg.Broker)
	if err != nil {
		return Loaded{}, err
	}

	if cfg.Broker.Kind == "rest" && cfg.Feed.URL == "" {
		return Loaded{}, errors.New("feed url is required with a rest broker")
	}

	return Loaded{
		Engine: engine.Config{
			MaxAttempts:    cfg.Engine.MaxAttempts,
			BackoffBase:    time.Duration(cfg.Engine.BackoffBaseMs) * time.Millisecond,
			FailureCeiling: cfg.Engine.FailureCeiling,
			LockTTL:        time.Duration(cfg.Engine.LockTTLMs) * time.Millisecond,
			Workers:        cfg.Engine.Workers,
			QueueCapacity:  cfg.Engine.QueueCapacity,
		},
		Market: cfg.Market,
		Risk:   cfg.Risk,
		Postgres: conn.Option{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			User:     cfg.Postgres.User,
			Password: os.Getenv("PG_PASSWORD"),
			Database: cfg.Postgres.Database,
			SSLMode:  cfg.Postgres.SSLMode,
		},
		Broker: broker,
		Feed:   cfg.Feed,
	}, nil
}

func validateMarket(cfg sched.Config) error {
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return errors.Wrap(err, "invalid market timezone").With("timezone", cfg.Timezone)
		}
	}
	if err := cfg.Hours.Validate(); err != nil {
		return errors.Wrap(err, "invalid market hours")
	}
	return nil
}

func resolveBroker(cfg BrokerConfig) (BrokerSpec, error) {
	switch cfg.Kind {
	case "", "paper":
		return BrokerSpec{Kind: "paper"}, nil
	case "rest":
	default:
		return BrokerSpec{}, errors.Errorf("unknown broker kind: %s", cfg.Kind)
	}

	if cfg.BaseURL == "" {
		return BrokerSpec{}, errors.New("broker baseUrl is required")
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return BrokerSpec{
		Kind:    "rest",
		BaseURL: cfg.BaseURL,
		Timeout: timeout,
		APIKey:  os.Getenv("BROKER_API_KEY"),
		Secret:  os.Getenv("BROKER_SECRET"),
	}, nil
}
