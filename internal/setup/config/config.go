package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// Current version of the config files.
const (
	CurrentCommonVersion  = 1
	CurrentManagerVersion = 1
	CurrentClusterVersion = 1
)

// Config represents the entire application configuration.
type Config struct {
	Common  CommonConfig  `koanf:"common"`
	Manager ManagerConfig `koanf:"manager"`
	Cluster ClusterConfig `koanf:"cluster"`
}

// CommonConfig contains configuration shared between the manager and clusters.
type CommonConfig struct {
	// Version of the common config.
	Version        int            `koanf:"version"`
	Debug          Debug          `koanf:"debug"`
	CircuitBreaker CircuitBreaker `koanf:"circuit_breaker"`
	Retry          Retry          `koanf:"retry"`
	PostgreSQL     PostgreSQL     `koanf:"postgresql"`
	Redis          Redis          `koanf:"redis"`
	Threads        Threads        `koanf:"threads"`
	IPC            IPC            `koanf:"ipc"`
	Sharding       Sharding       `koanf:"sharding"`
}

// ManagerConfig contains manager process specific configuration.
type ManagerConfig struct {
	// Version of the manager config.
	Version int `koanf:"version"`
	// Request timeout for external fetches in milliseconds.
	RequestTimeout int     `koanf:"request_timeout"`
	Cache          Cache   `koanf:"cache"`
	Watcher        Watcher `koanf:"watcher"`
}

// ClusterConfig contains cluster process specific configuration.
type ClusterConfig struct {
	// Version of the cluster config.
	Version int `koanf:"version"`
	// Discord bot token.
	Token string `koanf:"token"`
	// Heartbeat interval in seconds.
	HeartbeatInterval int `koanf:"heartbeat_interval"`
	// Embed accent color for post notifications.
	EmbedColor int `koanf:"embed_color"`
}

// Sharding describes the fleet topology. All processes must agree on these
// values for guild-to-cluster routing to be consistent.
type Sharding struct {
	// Total number of gateway shards across the fleet.
	TotalShards int `koanf:"total_shards"`
	// Total number of cluster processes.
	TotalClusters int `koanf:"total_clusters"`
}

// IPC contains the manager <-> cluster channel configuration.
type IPC struct {
	// Address the manager listens on and clusters dial.
	Addr string `koanf:"addr"`
}

// Cache contains data cache configuration.
type Cache struct {
	// Enable the in-memory guild cache.
	Enabled bool `koanf:"enabled"`
	// Sweep interval in seconds.
	SweepInterval int `koanf:"sweep_interval"`
	// Entries idle for longer than sweep_interval * stale_factor are evicted.
	StaleFactor int `koanf:"stale_factor"`
	// Durable store probe interval in seconds.
	ProbeInterval int `koanf:"probe_interval"`
}

// Watcher contains watch scheduler configuration.
type Watcher struct {
	// Poll cycle interval in seconds.
	Interval int `koanf:"interval"`
	// Accounts per poll batch.
	BatchSize int `koanf:"batch_size"`
	// Maximum concurrent poll batches.
	MaxWorkers int `koanf:"max_workers"`
	// Delay between account fetches inside a batch, in milliseconds.
	FetchDelay int `koanf:"fetch_delay"`
}

// Threads contains external fetch configuration.
type Threads struct {
	// TTL for cached fetch responses in seconds.
	CacheTTL int `koanf:"cache_ttl"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
}

// Retry contains retry configuration for external fetches.
type Retry struct {
	// Maximum retry attempts.
	MaxRetries uint64 `koanf:"max_retries"`
	// Initial delay between retries in milliseconds.
	Delay int `koanf:"delay"`
	// Maximum delay between retries in milliseconds.
	MaxDelay int `koanf:"max_delay"`
}

// CircuitBreaker contains circuit breaker configuration.
type CircuitBreaker struct {
	// Maximum requests allowed through while the circuit is half-open.
	MaxRequests uint32 `koanf:"max_requests"`
	// Cyclic period of the closed state in milliseconds.
	Interval int `koanf:"interval"`
	// Open state duration before becoming half-open, in milliseconds.
	Timeout int `koanf:"timeout"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	Host         string `koanf:"host"`
	Port         int    `koanf:"port"`
	User         string `koanf:"user"`
	Password     string `koanf:"password"`
	DBName       string `koanf:"db_name"`
	MaxOpenConns int    `koanf:"max_open_conns"`
	MaxIdleConns int    `koanf:"max_idle_conns"`
	// Connection max lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Connection max idle time in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

// LoadConfig loads the configuration from the config files.
// Returns the config, the directory it was loaded from, and any error.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configPaths := []string{
		".threadwatch",
		homeDir + "/.threadwatch/config",
		"/etc/threadwatch/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string

	configFiles := []string{"common", "manager", "cluster"}
	for _, configName := range configFiles {
		configLoaded := false

		for _, path := range configPaths {
			configPath := fmt.Sprintf("%s/%s.toml", path, configName)
			if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
				configLoaded = true

				if usedConfigPath == "" {
					usedConfigPath = path
				}

				break
			}
		}

		if !configLoaded {
			return nil, "", fmt.Errorf("%w: %s.toml", ErrConfigFileNotFound, configName)
		}
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateVersions(&config); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// validateVersions checks that every config file carries the version the
// binary was built against.
func validateVersions(config *Config) error {
	checks := []struct {
		name string
		got  int
		want int
	}{
		{"common", config.Common.Version, CurrentCommonVersion},
		{"manager", config.Manager.Version, CurrentManagerVersion},
		{"cluster", config.Cluster.Version, CurrentClusterVersion},
	}

	for _, c := range checks {
		if c.got == 0 {
			return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, c.name)
		}

		if c.got != c.want {
			return fmt.Errorf("%w: %s.toml has version %d, expected %d",
				ErrConfigVersionMismatch, c.name, c.got, c.want)
		}
	}

	return nil
}
