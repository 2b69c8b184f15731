// Package config provides environment-variable configuration loading for
// entitysync, plus the single process-global settings object the core
// consults: the relationship recursion ceiling and the graph debug
// toggle. The logger sink is not part of it; it is corelog.Root.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvConfig loads configuration from environment variables under an
// optional prefix.
type EnvConfig struct {
	prefix string
}

// NewEnvConfig creates a loader for variables named <prefix>_<KEY>.
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{prefix: prefix}
}

func (ec *EnvConfig) GetString(key, defaultValue string) string {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value or panics. Reserved
// for process-startup configuration, never for request-path errors.
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(ec.buildKey(key)); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// Validator accumulates configuration validation failures.
type Validator struct {
	errors []string
}

func NewValidator() *Validator { return &Validator{} }

func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

func (v *Validator) IsValid() bool { return len(v.errors) == 0 }

func (v *Validator) Validate() error {
	if v.IsValid() {
		return nil
	}
	return fmt.Errorf("configuration validation failed: %s", strings.Join(v.errors, "; "))
}

// Global is the single process-wide configuration object named in the
// spec's external interfaces: the relationship controller's recursion
// ceiling and a debug-instrumentation toggle.
type Global struct {
	// GraphMaxDepth bounds every relationship controller build,
	// regardless of any per-path recursive(depth_limit(n)) override.
	GraphMaxDepth int
	// GraphDebug enables the per-identifier-set anomaly timing log
	// (§4.10); gated by a single opt-in environment toggle per §6.
	GraphDebug bool
}

const (
	defaultGraphMaxDepth = 10
	envPrefix            = "ENTITYSYNC"
)

// Load reads Global from ENTITYSYNC_-prefixed environment variables.
func Load() Global {
	env := NewEnvConfig(envPrefix)
	g := Global{
		GraphMaxDepth: env.GetInt("GRAPH_MAX_DEPTH", defaultGraphMaxDepth),
		GraphDebug:    env.GetBool("GRAPH_DEBUG", false),
	}
	if g.GraphMaxDepth <= 0 {
		g.GraphMaxDepth = defaultGraphMaxDepth
	}
	return g
}
