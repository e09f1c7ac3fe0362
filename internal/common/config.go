package common

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration.
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Redis       RedisConfig     `toml:"redis"`
	Sidecar     SidecarConfig   `toml:"sidecar"`
	Login       LoginConfig     `toml:"login"`
	Crawler     CrawlerConfig   `toml:"crawler"`
	Logging     LoggingConfig   `toml:"logging"`
}

// ServerConfig is the address the back-end RPC/event-bus HTTP server binds to.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// RedisConfig configures the shared connection pool used by the Credential
// Store and the Post Store.
type RedisConfig struct {
	Address      string        `toml:"address"`       // host:port
	Password     string        `toml:"password"`
	DB           int           `toml:"db"`
	Namespace    string        `toml:"namespace"`       // key prefix, e.g. "weiqr"
	PoolSize     int           `toml:"pool_size"`       // default 10
	MinIdleConns int           `toml:"min_idle_conns"`  // default 2
	OpTimeout    time.Duration `toml:"op_timeout"`      // default 5s
}

// SidecarConfig describes how to launch and reach the browser-automation
// sidecar subprocess.
type SidecarConfig struct {
	LauncherPath      string        `toml:"launcher_path"`       // path to the sidecar binary
	ControlURL        string        `toml:"control_url"`         // ws://host:port/control
	HealthURL         string        `toml:"health_url"`          // http://host:port/healthz
	HealthInterval    time.Duration `toml:"health_interval"`     // default 10s
	HealthMaxFailures int           `toml:"health_max_failures"` // default 3
	PingInterval      time.Duration `toml:"ping_interval"`       // default 10s
	PingMissThreshold int           `toml:"ping_miss_threshold"` // default 2
	MaxReconnects     int           `toml:"max_reconnects"`      // default 5
	ReconnectBackoffs []time.Duration `toml:"-"`                 // computed: 2,4,8,16,30s
}

// LoginConfig controls QR-login timing.
type LoginConfig struct {
	DefaultQRExpiry   time.Duration `toml:"default_qr_expiry"`   // default 180s, overridden by sidecar's expires_in
	ValidationTimeout time.Duration `toml:"validation_timeout"`  // default 10s
	CredentialTTL     time.Duration `toml:"credential_ttl"`      // default 30 * 24h
}

// CrawlerConfig controls the crawl engine's sharding, pacing, and retry policy.
type CrawlerConfig struct {
	PageCap            int           `toml:"page_cap"`             // upstream per-query page cap, default 50
	MinShardWidth      time.Duration `toml:"min_shard_width"`      // default 1h
	ForwardPollInterval time.Duration `toml:"forward_poll_interval"` // default 60s
	PacingMin          time.Duration `toml:"pacing_min"`           // default 1s
	PacingMax          time.Duration `toml:"pacing_max"`           // default 3s
	PageRetryMax       int           `toml:"page_retry_max"`       // default 3
	PageRetryJitterMin time.Duration `toml:"page_retry_jitter_min"` // default 2s
	PageRetryJitterMax time.Duration `toml:"page_retry_jitter_max"` // default 5s
	RateLimitPause     time.Duration `toml:"rate_limit_pause"`    // default 60s
	ProgressHz         float64       `toml:"progress_hz"`         // default 10
	PageFetchTimeout   time.Duration `toml:"page_fetch_timeout"`  // default 15s
}

// LoggingConfig mirrors the teacher's logging shape exactly.
type LoggingConfig struct {
	Level         string   `toml:"level"`           // "debug", "info", "warn", "error"
	Format        string   `toml:"format"`          // "json" or "text"
	Output        []string `toml:"output"`          // "stdout", "file"
	TimeFormat    string   `toml:"time_format"`     // default "15:04:05.000"
	MinEventLevel string   `toml:"min_event_level"` // minimum level forwarded as an Event Bus event
}

// Default returns a Config populated with the defaults called out above.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server:      ServerConfig{Host: "127.0.0.1", Port: 8787},
		Redis: RedisConfig{
			Address:      "127.0.0.1:6379",
			Namespace:    "weiqr",
			PoolSize:     10,
			MinIdleConns: 2,
			OpTimeout:    5 * time.Second,
		},
		Sidecar: SidecarConfig{
			LauncherPath:      "./weiqr-sidecar",
			ControlURL:        "ws://127.0.0.1:9222/control",
			HealthURL:         "http://127.0.0.1:9222/healthz",
			HealthInterval:    10 * time.Second,
			HealthMaxFailures: 3,
			PingInterval:      10 * time.Second,
			PingMissThreshold: 2,
			MaxReconnects:     5,
			ReconnectBackoffs: []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second},
		},
		Login: LoginConfig{
			DefaultQRExpiry:   180 * time.Second,
			ValidationTimeout: 10 * time.Second,
			CredentialTTL:     30 * 24 * time.Hour,
		},
		Crawler: CrawlerConfig{
			PageCap:             50,
			MinShardWidth:       time.Hour,
			ForwardPollInterval: 60 * time.Second,
			PacingMin:           time.Second,
			PacingMax:           3 * time.Second,
			PageRetryMax:        3,
			PageRetryJitterMin:  2 * time.Second,
			PageRetryJitterMax:  5 * time.Second,
			RateLimitPause:      60 * time.Second,
			ProgressHz:          10,
			PageFetchTimeout:    15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			Output:        []string{"stdout", "file"},
			TimeFormat:    "15:04:05.000",
			MinEventLevel: "info",
		},
	}
}

// Load reads defaults, then applies each TOML file in order (later files
// override earlier ones), then applies environment variable overrides.
// Mirrors the teacher's "defaults -> file1 -> file2 -> ... -> env" order.
func Load(paths []string) (*Config, error) {
	cfg := Default()

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if len(cfg.Sidecar.ReconnectBackoffs) == 0 {
		cfg.Sidecar.ReconnectBackoffs = []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 30 * time.Second}
	}

	return cfg, nil
}

// applyEnvOverrides applies the handful of environment variables called out
// in spec.md §6.5: connection string for the key-value store, sidecar
// launcher path, and log level.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WEIQR_REDIS_ADDR"); v != "" {
		cfg.Redis.Address = v
	}
	if v := os.Getenv("WEIQR_SIDECAR_LAUNCHER"); v != "" {
		cfg.Sidecar.LauncherPath = v
	}
	if v := os.Getenv("WEIQR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
