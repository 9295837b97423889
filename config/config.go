// Package config provides configuration for the coordination core.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/corale/relay/internal/domain"
)

// Routing strategies.
const (
	StrategyRule     = "rule"
	StrategySemantic = "semantic"
	StrategyHybrid   = "hybrid"
)

// Config holds the coordinator configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Model capability
	ModelBaseURL  string
	ModelAPIKey   string
	SemanticModel string
	ModelTimeout  time.Duration

	// Routing
	RoutingStrategy    string
	FallbackCapability string
	MaxRoutingDepth    int

	// Approval gate
	ApprovalTimeout      time.Duration
	ApprovalPollInterval time.Duration

	// Memory / locking
	HistoryTTL time.Duration
	LockTTL    time.Duration

	// Cost accounting (per unit)
	InputUnitRate  float64
	OutputUnitRate float64

	// Guardrails
	GuardrailPolicyPath string
	MaxInputChars       int

	// Capability manifest
	CapabilitiesPath string

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:          getEnv("DATABASE_URL", "file:relay.db?cache=shared&mode=rwc"),
		ModelBaseURL:         getEnv("MODEL_BASE_URL", "http://localhost:4000"),
		ModelAPIKey:          getEnv("MODEL_API_KEY", ""),
		SemanticModel:        getEnv("SEMANTIC_MODEL", "gpt-4o-mini"),
		ModelTimeout:         time.Duration(getEnvInt("MODEL_TIMEOUT_MS", 60000)) * time.Millisecond,
		RoutingStrategy:      getEnv("ROUTING_STRATEGY", StrategyHybrid),
		FallbackCapability:   getEnv("FALLBACK_CAPABILITY", "general_agent"),
		MaxRoutingDepth:      getEnvInt("MAX_ROUTING_DEPTH", 3),
		ApprovalTimeout:      time.Duration(getEnvInt("APPROVAL_TIMEOUT_MS", 300000)) * time.Millisecond,
		ApprovalPollInterval: time.Duration(getEnvInt("APPROVAL_POLL_INTERVAL_MS", 500)) * time.Millisecond,
		HistoryTTL:           time.Duration(getEnvInt("HISTORY_TTL_MS", 1800000)) * time.Millisecond,
		LockTTL:              time.Duration(getEnvInt("LOCK_TTL_MS", 30000)) * time.Millisecond,
		InputUnitRate:        getEnvFloat("INPUT_UNIT_RATE", 0.000003),
		OutputUnitRate:       getEnvFloat("OUTPUT_UNIT_RATE", 0.000015),
		GuardrailPolicyPath:  getEnv("GUARDRAIL_POLICY_PATH", ""),
		MaxInputChars:        getEnvInt("MAX_INPUT_CHARS", 32000),
		CapabilitiesPath:     getEnv("CAPABILITIES_PATH", ""),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
	}
}

// Manifest is the YAML capability manifest loaded at startup.
type Manifest struct {
	Capabilities []domain.Capability `yaml:"capabilities"`
}

// LoadManifest reads a capability manifest from a YAML file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}
