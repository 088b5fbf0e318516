package config

import (
	"reflect"
	"testing"
)

// memBackend is a test double for the ConfigBackend interface.
type memBackend struct {
	strings map[string]string
	ints    map[string]int
}

func (m memBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m memBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m memBackend) SetString(key, val string) error  { m.strings[key] = val; return nil }
func (m memBackend) SetInt(key string, val int) error { m.ints[key] = val; return nil }
func (m memBackend) Delete(key string) error          { return nil }

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(memBackend{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want 4000", cfg.Server.Port)
	}
	if cfg.Server.MCPPort != 4001 {
		t.Errorf("Server.MCPPort = %d, want 4001", cfg.Server.MCPPort)
	}
	if cfg.Cache.Version != "v1.0.0" {
		t.Errorf("Cache.Version = %q, want v1.0.0", cfg.Cache.Version)
	}
	if cfg.Cache.Shell != "/index.html" {
		t.Errorf("Cache.Shell = %q, want /index.html", cfg.Cache.Shell)
	}
	if cfg.Sync.IntervalSeconds != 30 {
		t.Errorf("Sync.IntervalSeconds = %d, want 30", cfg.Sync.IntervalSeconds)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Errorf("Sync.MaxAttempts = %d, want 5", cfg.Sync.MaxAttempts)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
	if cfg.API.AuthToken != "" {
		t.Errorf("API.AuthToken = %q, want empty", cfg.API.AuthToken)
	}
}

func TestBackendValues(t *testing.T) {
	b := memBackend{
		strings: map[string]string{
			"cache.version":  "v2.1.0",
			"cache.base_url": "https://tutor.example.com",
			"log.level":      "debug",
		},
		ints: map[string]int{
			"server.port":           5000,
			"sync.interval_seconds": 10,
		},
	}

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.Version != "v2.1.0" {
		t.Errorf("Cache.Version = %q", cfg.Cache.Version)
	}
	if cfg.Cache.BaseURL != "https://tutor.example.com" {
		t.Errorf("Cache.BaseURL = %q", cfg.Cache.BaseURL)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Sync.IntervalSeconds != 10 {
		t.Errorf("Sync.IntervalSeconds = %d", cfg.Sync.IntervalSeconds)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	b := memBackend{strings: map[string]string{"cache.version": "v1.5.0"}}

	t.Setenv("TUTOR_CACHE_VERSION", "v2.0.0")
	t.Setenv("TUTOR_SERVER_PORT", "6000")
	t.Setenv("TUTOR_API_TOKEN", "secret-token")

	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Cache.Version != "v2.0.0" {
		t.Errorf("Cache.Version = %q, want env value", cfg.Cache.Version)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.API.AuthToken != "secret-token" {
		t.Errorf("API.AuthToken = %q", cfg.API.AuthToken)
	}
}

func TestInvalidEnvIntKeepsDefault(t *testing.T) {
	t.Setenv("TUTOR_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(memBackend{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want default 4000", cfg.Server.Port)
	}
}

func TestManifestPaths(t *testing.T) {
	c := CacheConfig{Manifest: "/, /index.html ,/app.js,,"}
	got := c.ManifestPaths()
	want := []string{"/", "/index.html", "/app.js"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ManifestPaths() = %v, want %v", got, want)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.API.AuthToken = "super-secret"

	for _, info := range ShowAll(cfg) {
		if info.Key == "api.auth_token" {
			t.Error("secret key listed by ShowAll")
		}
		if info.Value == "super-secret" {
			t.Errorf("secret value leaked under key %s", info.Key)
		}
	}
}

func TestSetKeyRejectsSecret(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("api.auth_token", "value"); err == nil {
		t.Fatal("expected error when setting secret key")
	}
}

func TestSetKeyUnknown(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("no.such.key", "value"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestFileBackendRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("cache.version", "v3.0.0"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetKey("server.port", "7000"); err != nil {
		t.Fatalf("set: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.Version != "v3.0.0" {
		t.Errorf("Cache.Version = %q, want v3.0.0", cfg.Cache.Version)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
}
