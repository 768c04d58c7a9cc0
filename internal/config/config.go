// Package config loads the gateway's flat environment-variable
// configuration, optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/edgerun/inferedge/internal/apperr"
)

// Config holds every tunable named in the external interface. All
// fields have defaults; nothing is required.
type Config struct {
	Host                 string
	Port                 int
	ModelPath            string
	DBPath               string
	KeyPath              string
	PluginDir            string
	InferenceTimeout     time.Duration
	LLMThreads           int
	LogLevel             string
	LogFormat            string
}

// Load reads .env (if present) then the process environment, applying
// defaults, and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, apperr.Wrap(apperr.CodeConfig, "failed to load .env", err)
	}

	cfg := &Config{
		Host:      getString("HOST", "0.0.0.0"),
		Port:      getInt("PORT", 8080),
		ModelPath: getString("MODEL_PATH", "/opt/inferedge/model.gguf"),
		DBPath:    getString("DB_PATH", "/var/lib/inferedge/memory.db"),
		KeyPath:   getString("KEY_PATH", "/var/lib/inferedge/device.key"),
		PluginDir: getString("PLUGIN_DIR", "/opt/inferedge/plugins"),
		LogLevel:  getString("LOG_LEVEL", "info"),
		LogFormat: getString("LOG_FORMAT", "simple"),
	}

	timeoutSecs := getInt("INFERENCE_TIMEOUT_SECS", 300)
	cfg.InferenceTimeout = time.Duration(timeoutSecs) * time.Second

	if threads := getInt("LLM_THREADS", 0); threads > 0 {
		cfg.LLMThreads = threads
	} else {
		cfg.LLMThreads = runtime.NumCPU()
		if cfg.LLMThreads <= 0 {
			cfg.LLMThreads = 4
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.InferenceTimeout <= 0 {
		return apperr.New(apperr.CodeConfig, "INFERENCE_TIMEOUT_SECS must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return apperr.New(apperr.CodeConfig, fmt.Sprintf("PORT out of range: %d", c.Port))
	}
	if c.LLMThreads <= 0 {
		return apperr.New(apperr.CodeConfig, "LLM_THREADS must be positive")
	}
	return nil
}

// Addr returns the host:port listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
