// Package config loads the correlator's process-wide environment
// configuration and its per-shard topology file, following the dependency
// pack's flat env-var-with-fallback style (see getEnv/getEnvInt below) plus
// a TOML shard list for the part env vars alone can't express cleanly.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the process-wide configuration, independent of which shards run
// in this process.
type Config struct {
	HTTPPort int
	Env      string

	RedisURL       string
	ArmoryMySQLDSN string
	ClickHouseDSN  string

	ArmoryCacheTTL time.Duration

	MirrorQueueSize     int
	MirrorBatchSize     int
	MirrorFlushInterval time.Duration

	AllowedOrigins []string

	ShardTopologyPath string
}

// Load reads process-wide configuration from the environment. It returns an
// error if a value with no sane default is missing.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort: getEnvInt("HTTP_PORT", 8080),
		Env:      getEnv("ENV", "development"),

		ArmoryCacheTTL: getEnvDuration("ARMORY_CACHE_TTL", 60*time.Second),

		MirrorQueueSize:     getEnvInt("MIRROR_QUEUE_SIZE", 5000),
		MirrorBatchSize:     getEnvInt("MIRROR_BATCH_SIZE", 500),
		MirrorFlushInterval: getEnvDuration("MIRROR_FLUSH_INTERVAL", time.Second),

		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	var err error
	if cfg.RedisURL, err = getEnvRequired("REDIS_URL"); err != nil {
		return nil, err
	}
	if cfg.ArmoryMySQLDSN, err = getEnvRequired("ARMORY_MYSQL_DSN"); err != nil {
		return nil, err
	}
	if cfg.ClickHouseDSN, err = getEnvRequired("CLICKHOUSE_URL"); err != nil {
		return nil, err
	}
	if cfg.ShardTopologyPath, err = getEnvRequired("SHARD_TOPOLOGY_FILE"); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ShardConfig describes one game server's correlator instance.
type ShardConfig struct {
	ID          uint32 `toml:"id"`
	PostgresURL string `toml:"postgres_url"`
}

type shardTopologyFile struct {
	Shard []ShardConfig `toml:"shard"`
}

// LoadShardTopology parses the TOML shard list at path, then applies any
// LCEC_SHARD_<ID>_PG_URL environment overrides on top — the same
// env-overrides-file precedence the rest of this package follows.
func LoadShardTopology(path string) ([]ShardConfig, error) {
	var file shardTopologyFile
	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("decode shard topology %s: %w", path, err)
	}
	if len(file.Shard) == 0 {
		return nil, fmt.Errorf("shard topology %s declares no shards", path)
	}

	for i := range file.Shard {
		s := &file.Shard[i]
		key := "LCEC_SHARD_" + strconv.FormatUint(uint64(s.ID), 10) + "_PG_URL"
		if override := os.Getenv(key); override != "" {
			s.PostgresURL = override
		}
		if s.PostgresURL == "" {
			return nil, fmt.Errorf("shard %d has no postgres_url (set it in %s or via %s)", s.ID, path, key)
		}
	}

	return file.Shard, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvRequired(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("missing required environment variable: %s", key)
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
