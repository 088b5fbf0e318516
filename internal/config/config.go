package config

import "strings"

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Cache   CacheConfig
	Sync    SyncConfig
	API     APIConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
}

type StorageConfig struct {
	DataDir string
}

type CacheConfig struct {
	Version  string
	BaseURL  string
	Shell    string
	Manifest string // comma-separated root-relative paths
}

type SyncConfig struct {
	IntervalSeconds int
	MaxAttempts     int
}

type APIConfig struct {
	AuthToken string
}

type LogConfig struct {
	Level string
}

// ManifestPaths splits the configured manifest into individual paths.
func (c CacheConfig) ManifestPaths() []string {
	var paths []string
	for _, p := range strings.Split(c.Manifest, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			paths = append(paths, p)
		}
	}
	return paths
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4000,
			MCPPort: 4001,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Cache: CacheConfig{
			Version:  "v1.0.0",
			BaseURL:  "http://localhost:8080",
			Shell:    "/index.html",
			Manifest: "/,/index.html,/app.js,/styles.css,/manifest.json",
		},
		Sync: SyncConfig{
			IntervalSeconds: 30,
			MaxAttempts:     5,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend and environment
// variables.
//
// On macOS the backend is UserDefaults (domain: com.icttutor.app).
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/icttutor/config.json.
//
// Environment variables (TUTOR_*) override backend values on all platforms.
// The API auth token is secret and comes from TUTOR_API_TOKEN only; an empty
// token disables request authentication.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}
