package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Auction AuctionConfig `koanf:"auction"`
	Queue   QueueConfig   `koanf:"queue"`
	Cache   CacheConfig   `koanf:"cache"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// AuctionConfig tunes the auction engine and buyer client.
type AuctionConfig struct {
	// Extra time added to the longest participant ping timeout before the
	// auction deadline fires.
	SlackMs int `koanf:"slack_ms"`

	// POST retry cap including the first attempt.
	PostMaxAttempts int `koanf:"post_max_attempts"`

	// Pre-retry delays, in order, in milliseconds.
	PostBackoffMs []int `koanf:"post_backoff_ms"`

	// Cap on auction participants per lead.
	MaxParticipants int `koanf:"max_participants"`

	// Timezone boundary for the per-buyer daily POST counters.
	DailyCounterTimezone string `koanf:"daily_counter_timezone"`
}

type QueueConfig struct {
	WorkerCount int `koanf:"worker_count"`

	// Depth above which upstream submitters should shed load.
	HighWater int `koanf:"high_water"`

	// Per-job dequeue retries before dead-lettering.
	MaxAttempts int `koanf:"max_attempts"`

	// Max jobs retained on the dead-letter list.
	DeadletterCap int `koanf:"deadletter_cap"`

	// BRPOP poll timeout.
	PollTimeout time.Duration `koanf:"poll_timeout"`
}

type CacheConfig struct {
	EligibilityTTL time.Duration `koanf:"eligibility_ttl"`
}

// PostBackoff returns the configured backoff schedule as durations.
func (a AuctionConfig) PostBackoff() []time.Duration {
	out := make([]time.Duration, len(a.PostBackoffMs))
	for i, ms := range a.PostBackoffMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// Slack returns the auction deadline slack as a duration.
func (a AuctionConfig) Slack() time.Duration {
	return time.Duration(a.SlackMs) * time.Millisecond
}

// Load reads configuration from defaults, an optional YAML file, and
// LAX_-prefixed environment variables, in increasing precedence.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Auction: AuctionConfig{
			SlackMs:              500,
			PostMaxAttempts:      3,
			PostBackoffMs:        []int{500, 2000},
			MaxParticipants:      10,
			DailyCounterTimezone: "America/New_York",
		},
		Queue: QueueConfig{
			WorkerCount:   8,
			HighWater:     80,
			MaxAttempts:   3,
			DeadletterCap: 1000,
			PollTimeout:   5 * time.Second,
		},
		Cache: CacheConfig{
			EligibilityTTL: 60 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if configPath == "" {
		configPath = "configs/config.yaml"
	}
	_ = k.Load(file.Provider(configPath), yaml.Parser())

	if err := k.Load(env.Provider("LAX_", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// envKey maps LAX_SERVER_READ_TIMEOUT to "server.read_timeout". Only the
// section prefix becomes a path separator; underscores inside key names
// survive.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "LAX_"))
	for _, section := range []string{"server", "database", "redis", "auction", "queue", "cache"} {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}

func (c *Config) validate() error {
	if c.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue worker count must be at least 1")
	}
	if c.Auction.PostMaxAttempts < 1 {
		return fmt.Errorf("post max attempts must be at least 1")
	}
	if c.Queue.HighWater == 0 {
		c.Queue.HighWater = 10 * c.Queue.WorkerCount
	}
	if _, err := time.LoadLocation(c.Auction.DailyCounterTimezone); err != nil {
		return fmt.Errorf("invalid daily counter timezone %q: %w", c.Auction.DailyCounterTimezone, err)
	}
	return nil
}
