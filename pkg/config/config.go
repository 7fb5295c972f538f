// Package config loads the memory engine's environment-driven
// configuration, grounded on the teacher's getEnv/masking pattern.
package config

import (
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the ambient configuration for a memoryctl process: where
// facts are persisted, which LLM backs extraction/consolidation, and
// how the background consolidation loop should behave.
type Config struct {
	CompletionsAPIURL string
	CompletionsAPIKey string
	CompletionsModel  string

	DBBackend string // "sqlite" or "postgres"
	DBPath    string // sqlite file path
	PostgresDSN string

	AgentID string

	BackgroundConsolidation bool
	ConsolidationInterval   time.Duration

	LogFormat string
	LogLevel  string

	ComponentLogLevels map[string]string
}

func getEnv(key, defaultValue string, printEnv bool) string {
	value := os.Getenv(key)
	if printEnv {
		if value == "" {
			log.Printf("ENV: %s = %s (default)", key, defaultValue)
		} else {
			displayValue := value
			if isSensitiveKey(key) {
				displayValue = maskSensitiveValue(value)
			}
			log.Printf("ENV: %s = %s", key, displayValue)
		}
	}
	if value == "" {
		return defaultValue
	}
	return value
}

// isSensitiveKey determines if an environment variable contains sensitive information.
func isSensitiveKey(key string) bool {
	sensitiveKeys := []string{"API_KEY", "TOKEN", "PASSWORD", "SECRET", "KEY", "AUTH", "DSN"}
	for _, sensitive := range sensitiveKeys {
		if len(key) >= len(sensitive) && key[len(key)-len(sensitive):] == sensitive {
			return true
		}
	}
	return false
}

// maskSensitiveValue masks sensitive values for logging.
func maskSensitiveValue(value string) string {
	l := len(value)
	if l <= 8 {
		return "***masked***"
	}
	if l <= 12 {
		return value[:1] + "***masked***" + value[l-1:]
	}
	return value[:4] + "***masked***" + value[l-4:]
}

func getEnvDuration(key string, defaultValue time.Duration, printEnv bool) time.Duration {
	raw := getEnv(key, defaultValue.String(), printEnv)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return defaultValue
	}
	return d
}

func getEnvBool(key string, defaultValue bool, printEnv bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	return raw == "true" || raw == "1"
}

// LoadConfigWithAutoDetection loads configuration with automatic
// printEnv detection, driven by DEBUG_CONFIG_PRINT=true.
func LoadConfigWithAutoDetection() (*Config, error) {
	printEnv := os.Getenv("DEBUG_CONFIG_PRINT") == "true"
	return LoadConfig(printEnv)
}

// LoadConfig reads the environment (after loading any local .env file)
// into a Config, applying typed defaults for everything unset.
func LoadConfig(printEnv bool) (*Config, error) {
	_ = godotenv.Load()

	if printEnv {
		log.Printf("Loading configuration with environment variable debugging enabled")
	}

	conf := &Config{
		CompletionsAPIURL: getEnv("COMPLETIONS_API_URL", "https://api.openai.com/v1", printEnv),
		CompletionsAPIKey: getEnv("COMPLETIONS_API_KEY", "", printEnv),
		CompletionsModel:  getEnv("COMPLETIONS_MODEL", "gpt-4.1-mini", printEnv),

		DBBackend:   getEnv("MEMORY_DB_BACKEND", "sqlite", printEnv),
		DBPath:      getEnv("MEMORY_DB_PATH", "./output/memory.db", printEnv),
		PostgresDSN: getEnv("MEMORY_POSTGRES_DSN", "", printEnv),

		AgentID: getEnv("MEMORY_AGENT_ID", "default", printEnv),

		BackgroundConsolidation: getEnvBool("MEMORY_BACKGROUND_CONSOLIDATION", false, printEnv),
		ConsolidationInterval:   getEnvDuration("MEMORY_CONSOLIDATION_INTERVAL", 30*time.Minute, printEnv),

		LogFormat: getEnv("LOG_FORMAT", "text", printEnv),
		LogLevel:  getEnv("LOG_LEVEL", "info", printEnv),

		ComponentLogLevels: make(map[string]string),
	}

	conf.LoadComponentLogLevels()

	return conf, nil
}

// LoadComponentLogLevels scans LOG_LEVEL_<COMPONENT> environment
// variables into the per-component override map.
func (c *Config) LoadComponentLogLevels() {
	if c.ComponentLogLevels == nil {
		c.ComponentLogLevels = make(map[string]string)
	}

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "LOG_LEVEL_") {
			continue
		}
		key, value, ok := strings.Cut(env, "=")
		if !ok {
			continue
		}
		componentID := strings.TrimPrefix(key, "LOG_LEVEL_")
		c.ComponentLogLevels[componentID] = value
	}
}

// GetComponentLogLevel returns the configured level for componentID,
// defaulting to "info" when unset.
func (c *Config) GetComponentLogLevel(componentID string) string {
	if level, exists := c.ComponentLogLevels[componentID]; exists {
		return level
	}
	return "info"
}
