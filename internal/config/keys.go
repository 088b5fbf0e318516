package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "TUTOR_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.mcp_port", typ: kInt, env: "TUTOR_SERVER_MCP_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.MCPPort = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MCPPort },
	},
	{
		key: "storage.data_dir", typ: kString, env: "TUTOR_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "cache.version", typ: kString, env: "TUTOR_CACHE_VERSION",
		apply:   func(cfg *Config, v any) { cfg.Cache.Version = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Version },
	},
	{
		key: "cache.base_url", typ: kString, env: "TUTOR_CACHE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Cache.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.BaseURL },
	},
	{
		key: "cache.shell", typ: kString, env: "TUTOR_CACHE_SHELL",
		apply:   func(cfg *Config, v any) { cfg.Cache.Shell = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Shell },
	},
	{
		key: "cache.manifest", typ: kString, env: "TUTOR_CACHE_MANIFEST",
		apply:   func(cfg *Config, v any) { cfg.Cache.Manifest = v.(string) },
		extract: func(cfg Config) any { return cfg.Cache.Manifest },
	},
	{
		key: "sync.interval_seconds", typ: kInt, env: "TUTOR_SYNC_INTERVAL_SECONDS",
		apply:   func(cfg *Config, v any) { cfg.Sync.IntervalSeconds = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.IntervalSeconds },
	},
	{
		key: "sync.max_attempts", typ: kInt, env: "TUTOR_SYNC_MAX_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Sync.MaxAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Sync.MaxAttempts },
	},
	{
		key: "api.auth_token", typ: kString, env: "TUTOR_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.API.AuthToken = v.(string) },
		extract: func(cfg Config) any { return cfg.API.AuthToken },
	},
	{
		key: "log.level", typ: kString, env: "TUTOR_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

// applyBackend layers stored values over cfg. Secrets never touch the
// backend; they come from the environment only.
func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		val, ok, err := readBackendValue(b, s)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if ok {
			s.apply(cfg, val)
		}
	}
	return nil
}

func readBackendValue(b ConfigBackend, s keySpec) (any, bool, error) {
	if s.typ == kInt {
		return asAny(b.GetInt(s.key))
	}
	return asAny(b.GetString(s.key))
}

func asAny[T any](v T, ok bool, err error) (any, bool, error) {
	return v, ok, err
}

// applyEnvOverrides layers TUTOR_* env vars over cfg; env wins over the
// backend. An unparsable integer keeps the prior value and warns.
func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw, found := os.LookupEnv(s.env)
		if s.env == "" || !found || raw == "" {
			continue
		}
		if s.typ == kInt {
			n, err := strconv.Atoi(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] %s=%q is not an integer, ignoring: %v\n", s.env, raw, err)
				continue
			}
			s.apply(cfg, n)
			continue
		}
		s.apply(cfg, raw)
	}
}
