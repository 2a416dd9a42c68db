// Package config loads the raffle daemon configuration.
//
// Sources are applied in order: built-in defaults, the selected network
// profile, an optional YAML file, an optional .env file and finally RAFFLE_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/neoraffle/pkg/logger"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

// Config is the full daemon configuration.
type Config struct {
	Network string               `yaml:"network" env:"RAFFLE_NETWORK"`
	Raffle  RaffleConfig         `yaml:"raffle"`
	Keeper  KeeperConfig         `yaml:"keeper"`
	Oracle  OracleConfig         `yaml:"oracle"`
	Server  ServerConfig         `yaml:"server"`
	Auth    AuthConfig           `yaml:"auth"`
	Storage StorageConfig        `yaml:"storage"`
	Logging logger.LoggingConfig `yaml:"logging"`
}

// RaffleConfig holds the construction parameters of the raffle.
type RaffleConfig struct {
	// Address is the Neo N3 address of the account holding the pot.
	Address              string        `yaml:"address" env:"RAFFLE_ADDRESS"`
	EntranceFee          int64         `yaml:"entrance_fee" env:"RAFFLE_ENTRANCE_FEE"`
	Interval             time.Duration `yaml:"interval" env:"RAFFLE_INTERVAL"`
	KeyHash              string        `yaml:"key_hash" env:"RAFFLE_KEY_HASH"`
	SubscriptionID       uint64        `yaml:"subscription_id" env:"RAFFLE_SUBSCRIPTION_ID"`
	RequestConfirmations uint16        `yaml:"request_confirmations" env:"RAFFLE_REQUEST_CONFIRMATIONS"`
	CallbackGasLimit     uint32        `yaml:"callback_gas_limit" env:"RAFFLE_CALLBACK_GAS_LIMIT"`
}

// KeeperConfig controls the automation loop.
type KeeperConfig struct {
	Enabled  bool   `yaml:"enabled" env:"RAFFLE_KEEPER_ENABLED"`
	Schedule string `yaml:"schedule" env:"RAFFLE_KEEPER_SCHEDULE"`
}

// OracleConfig controls the local randomness coordinator.
type OracleConfig struct {
	AutoFulfill  bool          `yaml:"auto_fulfill" env:"RAFFLE_ORACLE_AUTO_FULFILL"`
	FulfillDelay time.Duration `yaml:"fulfill_delay" env:"RAFFLE_ORACLE_FULFILL_DELAY"`
	QueueSize    int           `yaml:"queue_size" env:"RAFFLE_ORACLE_QUEUE_SIZE"`
	SecretKey    string        `yaml:"secret_key" env:"RAFFLE_ORACLE_SECRET"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Host           string        `yaml:"host" env:"RAFFLE_HOST"`
	Port           int           `yaml:"port" env:"RAFFLE_PORT"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"RAFFLE_READ_TIMEOUT"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"RAFFLE_WRITE_TIMEOUT"`
	RateLimit      float64       `yaml:"rate_limit" env:"RAFFLE_RATE_LIMIT"`
	RateBurst      int           `yaml:"rate_burst" env:"RAFFLE_RATE_BURST"`
	EventBufferLen int           `yaml:"event_buffer" env:"RAFFLE_EVENT_BUFFER"`
	CORSOrigins    []string      `yaml:"cors_origins"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AuthConfig holds the shared secret used to verify service tokens.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"RAFFLE_JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"RAFFLE_TOKEN_TTL"`
}

// StorageConfig selects the snapshot backend.
type StorageConfig struct {
	Backend            string        `yaml:"backend" env:"RAFFLE_STORAGE"`
	DSN                string        `yaml:"dsn" env:"RAFFLE_DATABASE_URL"`
	RedisAddr          string        `yaml:"redis_addr" env:"RAFFLE_REDIS_ADDR"`
	RedisPassword      string        `yaml:"redis_password" env:"RAFFLE_REDIS_PASSWORD"`
	RedisDB            int           `yaml:"redis_db" env:"RAFFLE_REDIS_DB"`
	RedisKey           string        `yaml:"redis_key" env:"RAFFLE_REDIS_KEY"`
	CheckpointInterval time.Duration `yaml:"checkpoint_interval" env:"RAFFLE_CHECKPOINT_INTERVAL"`
}

// Default returns the built-in configuration. Raffle parameters left at zero
// are filled from the network profile by Resolve.
func Default() *Config {
	cfg := &Config{
		Network: NetworkLocalnet,
		Keeper: KeeperConfig{
			Enabled:  true,
			Schedule: "@every 10s",
		},
		Oracle: OracleConfig{
			AutoFulfill:  true,
			FulfillDelay: 2 * time.Second,
			QueueSize:    100,
		},
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
			RateLimit:      20,
			RateBurst:      40,
			EventBufferLen: 1000,
		},
		Auth: AuthConfig{
			TokenTTL: time.Hour,
		},
		Storage: StorageConfig{
			Backend:            StorageMemory,
			RedisAddr:          "localhost:6379",
			RedisKey:           "raffle:snapshot",
			CheckpointInterval: 30 * time.Second,
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
	return cfg
}

// Load reads path (optional) and envFile (optional), then overlays the
// process environment. Missing files are not errors.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to decode environment: %w", err)
	}

	if err := cfg.Resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Resolve fills unset raffle parameters from the selected network profile.
func (c *Config) Resolve() error {
	name := strings.ToLower(strings.TrimSpace(c.Network))
	profile, ok := Networks[name]
	if !ok {
		return fmt.Errorf("unknown network %q", c.Network)
	}
	c.Network = name
	c.Raffle = profile.Apply(c.Raffle)
	return nil
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Raffle.EntranceFee <= 0 {
		return errors.New("raffle.entrance_fee must be positive")
	}
	if c.Raffle.Interval <= 0 {
		return errors.New("raffle.interval must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Storage.Backend {
	case StorageMemory:
	case StoragePostgres:
		if c.Storage.DSN == "" {
			return errors.New("storage.dsn is required for postgres")
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for redis")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.CheckpointInterval < 0 {
		return errors.New("storage.checkpoint_interval must not be negative")
	}
	return nil
}
