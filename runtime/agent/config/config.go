// Package config loads orchestration core settings from a config file,
// environment variables, and defaults, using Viper in the layered-precedence
// style the broader example corpus uses for service configuration (flags >
// env > file > default).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every setting the orchestration core needs to start.
type Config struct {
	// HTTPAddr is the address the observer HTTP server listens on.
	HTTPAddr string
	// StoreBackend selects "inmem" or "redis".
	StoreBackend string
	// RedisAddr is the Redis server address, used when StoreBackend is "redis".
	RedisAddr string
	// RedisPassword authenticates to Redis, if set.
	RedisPassword string
	// ModelProvider selects "anthropic" or "openai" for the default Planner
	// and LLM-backed Agent Runners.
	ModelProvider string
	// AnthropicAPIKey authenticates to the Anthropic API.
	AnthropicAPIKey string
	// OpenAIAPIKey authenticates to the OpenAI API.
	OpenAIAPIKey string
	// DefaultModel is the model identifier used when a task specifies none.
	DefaultModel string
	// CodeExecInterpreter is the executable used to run generated code for
	// the code_execution agent type.
	CodeExecInterpreter string
	// CodeExecTimeout bounds a single code execution.
	CodeExecTimeout time.Duration
	// MaxRecoveryAttempts is loaded but not passed to the Supervisor, which
	// uses its own supervisor.MaxRecoveryAttempts constant.
	MaxRecoveryAttempts int
	// MaxSubActionDepth is loaded but not passed to the sub-action runner,
	// which uses its own subaction.MaxDepth constant.
	MaxSubActionDepth int
}

// defaults seeds every setting with a safe out-of-the-box value before env
// vars, flags, or a config file override it.
func defaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("store.backend", "inmem")
	v.SetDefault("store.redis.addr", "localhost:6379")
	v.SetDefault("model.provider", "anthropic")
	v.SetDefault("model.default", "claude-sonnet-4-5")
	v.SetDefault("codeexec.interpreter", "python3")
	v.SetDefault("codeexec.timeout", "2m")
	v.SetDefault("recovery.max_attempts", 2)
	v.SetDefault("subaction.max_depth", 3)
}

// Load reads configuration from defaults, configPath (if non-empty), and
// environment variables prefixed ORCHESTRATOR_, in that ascending order of
// precedence (env overrides file, file overrides defaults, and Viper's
// explicit Set/flag binding, not used here, would override env).
func Load(configPath string) (Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("orchestrator")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}

	timeout, err := time.ParseDuration(v.GetString("codeexec.timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("config: parse codeexec.timeout: %w", err)
	}

	cfg := Config{
		HTTPAddr:            v.GetString("http.addr"),
		StoreBackend:        v.GetString("store.backend"),
		RedisAddr:           v.GetString("store.redis.addr"),
		RedisPassword:       v.GetString("store.redis.password"),
		ModelProvider:       v.GetString("model.provider"),
		AnthropicAPIKey:     v.GetString("model.anthropic_api_key"),
		OpenAIAPIKey:        v.GetString("model.openai_api_key"),
		DefaultModel:        v.GetString("model.default"),
		CodeExecInterpreter: v.GetString("codeexec.interpreter"),
		CodeExecTimeout:     timeout,
		MaxRecoveryAttempts: v.GetInt("recovery.max_attempts"),
		MaxSubActionDepth:   v.GetInt("subaction.max_depth"),
	}

	if cfg.StoreBackend != "inmem" && cfg.StoreBackend != "redis" {
		return Config{}, fmt.Errorf("config: unknown store.backend %q (want inmem or redis)", cfg.StoreBackend)
	}
	if cfg.ModelProvider != "anthropic" && cfg.ModelProvider != "openai" {
		return Config{}, fmt.Errorf("config: unknown model.provider %q (want anthropic or openai)", cfg.ModelProvider)
	}

	return cfg, nil
}
