// Package config loads the runtime's layered configuration: built-in
// defaults, a config.toml rooted at FAE_CONFIG_DIR (default ~/.fae), and
// environment variable overrides, in that priority order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

// Config is the runtime's full static configuration. Every field carries
// both a mapstructure tag (for viper's TOML/env decoding) and a matching
// json tag, since config.get/config.patch on the host command channel
// marshal/unmarshal this same struct as JSON.
type Config struct {
	Log       LogConfig       `mapstructure:"log" toml:"log" json:"log"`
	Dirs      DirsConfig      `mapstructure:"dirs" toml:"dirs" json:"dirs"`
	Providers ProvidersConfig `mapstructure:"providers" toml:"providers" json:"providers"`
	Agent     AgentConfig     `mapstructure:"agent" toml:"agent" json:"agent"`
	Tools     ToolsConfig     `mapstructure:"tools" toml:"tools" json:"tools"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" toml:"scheduler" json:"scheduler"`
	Memory    MemoryConfig    `mapstructure:"memory" toml:"memory" json:"memory"`
	Noise     NoiseConfig     `mapstructure:"noise" toml:"noise" json:"noise"`
	WebSearch WebSearchConfig `mapstructure:"web_search" toml:"web_search" json:"web_search"`
}

// LogConfig controls the zap logger's level/encoding.
type LogConfig struct {
	Level      string `mapstructure:"level" toml:"level" json:"level"`             // debug, info, warn, error
	Format     string `mapstructure:"format" toml:"format" json:"format"`           // json, console
	OutputPath string `mapstructure:"output_path" toml:"output_path" json:"output_path"` // stdout, stderr, or a directory for rotated log files
}

// DirsConfig names the host-owned directories the runtime reads and
// writes under. Data, ConfigDir and Cache each honour a dedicated
// FAE_DATA_DIR, FAE_CONFIG_DIR or FAE_CACHE_DIR variable, which takes
// priority over config.toml; Workspace has no such dedicated variable.
type DirsConfig struct {
	Data      string `mapstructure:"data" toml:"data" json:"data"`     // sessions, scheduler snapshot, memory db
	ConfigDir string `mapstructure:"config" toml:"config" json:"config"` // config.toml's own home
	Cache     string `mapstructure:"cache" toml:"cache" json:"cache"`   // transient/bash-tool scratch space
	Workspace string `mapstructure:"workspace" toml:"workspace" json:"workspace"`
}

// ProviderConfig is one configured LLM endpoint.
type ProviderConfig struct {
	Name    string `mapstructure:"name" toml:"name" json:"name"`
	Type    string `mapstructure:"type" toml:"type" json:"type"` // anthropic | openai | gemini
	BaseURL string `mapstructure:"base_url" toml:"base_url" json:"base_url"`
	APIKey  string `mapstructure:"api_key" toml:"api_key" json:"api_key"`
	Model   string `mapstructure:"model" toml:"model" json:"model"`
}

// ProvidersConfig lists providers in fallback priority order (primary
// first) plus the request defaults applied to every Send call.
type ProvidersConfig struct {
	List               []ProviderConfig `mapstructure:"list" toml:"list" json:"list"`
	TemperatureDefault float64          `mapstructure:"temperature_default" toml:"temperature_default" json:"temperature_default"`
	MaxTokensDefault   int              `mapstructure:"max_tokens_default" toml:"max_tokens_default" json:"max_tokens_default"`
	TimeoutMsDefault   int              `mapstructure:"timeout_ms_default" toml:"timeout_ms_default" json:"timeout_ms_default"`
}

// AgentConfig mirrors service.Config's fields so config.toml can
// override the agent loop's bounds without a code change.
type AgentConfig struct {
	MaxTurns            int `mapstructure:"max_turns" toml:"max_turns" json:"max_turns"`
	MaxToolCallsPerTurn int `mapstructure:"max_tool_calls_per_turn" toml:"max_tool_calls_per_turn" json:"max_tool_calls_per_turn"`
	RequestTimeoutSecs  int `mapstructure:"request_timeout_secs" toml:"request_timeout_secs" json:"request_timeout_secs"`
	ToolTimeoutSecs     int `mapstructure:"tool_timeout_secs" toml:"tool_timeout_secs" json:"tool_timeout_secs"`
	MaxAttempts         int `mapstructure:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	BaseDelayMs         int `mapstructure:"base_delay_ms" toml:"base_delay_ms" json:"base_delay_ms"`
	FailureThreshold    int `mapstructure:"failure_threshold" toml:"failure_threshold" json:"failure_threshold"`
	RecoveryTimeoutSecs int `mapstructure:"recovery_timeout_secs" toml:"recovery_timeout_secs" json:"recovery_timeout_secs"`
}

// ToolsConfig gates the bash tool's sandboxing posture.
type ToolsConfig struct {
	BashRestricted bool `mapstructure:"bash_restricted" toml:"bash_restricted" json:"bash_restricted"`
	Sandboxed      bool `mapstructure:"sandboxed" toml:"sandboxed" json:"sandboxed"`
}

// SchedulerConfig points at the scheduler's persisted snapshot file.
type SchedulerConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path" toml:"snapshot_path" json:"snapshot_path"`
}

// MemoryConfig points at the SQLite memory database and its backups.
type MemoryConfig struct {
	DatabasePath    string `mapstructure:"database_path" toml:"database_path" json:"database_path"`
	BackupDir       string `mapstructure:"backup_dir" toml:"backup_dir" json:"backup_dir"`
	KeepGenerations int    `mapstructure:"keep_generations" toml:"keep_generations" json:"keep_generations"`
}

// NoiseConfig seeds the proactive-delivery noise controller.
type NoiseConfig struct {
	DailyBudget    int `mapstructure:"daily_budget" toml:"daily_budget" json:"daily_budget"`
	CooldownSecs   int `mapstructure:"cooldown_secs" toml:"cooldown_secs" json:"cooldown_secs"`
	QuietStartHour int `mapstructure:"quiet_start_hour" toml:"quiet_start_hour" json:"quiet_start_hour"`
	QuietEndHour   int `mapstructure:"quiet_end_hour" toml:"quiet_end_hour" json:"quiet_end_hour"`
}

// WebSearchConfig points the web_search tool at a SearXNG instance.
type WebSearchConfig struct {
	Endpoint string `mapstructure:"endpoint" toml:"endpoint" json:"endpoint"`
}

// RequestTimeout returns the configured agent request timeout as a
// time.Duration.
func (a AgentConfig) RequestTimeout() time.Duration {
	return time.Duration(a.RequestTimeoutSecs) * time.Second
}

// Load reads defaults, then config.toml under the resolved config dir
// (FAE_CONFIG_DIR, default ~/.fae), then environment variable
// overrides (FAE_ prefix, e.g. FAE_LOG_LEVEL), in that priority order.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	configDir := resolveDir("FAE_CONFIG_DIR", filepath.Join(os.Getenv("HOME"), ".fae"))
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config.toml: %w", err)
		}
	}

	v.SetEnvPrefix("FAE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Dirs.ConfigDir = configDir
	cfg.Dirs.Data = resolveDir("FAE_DATA_DIR", cfg.Dirs.Data)
	cfg.Dirs.Cache = resolveDir("FAE_CACHE_DIR", cfg.Dirs.Cache)

	if cfg.Scheduler.SnapshotPath == "" {
		cfg.Scheduler.SnapshotPath = filepath.Join(cfg.Dirs.Data, "scheduler.json")
	}
	if cfg.Memory.DatabasePath == "" {
		cfg.Memory.DatabasePath = filepath.Join(cfg.Dirs.Data, "memory.db")
	}
	if cfg.Memory.BackupDir == "" {
		cfg.Memory.BackupDir = filepath.Join(cfg.Dirs.Data, "backups")
	}

	return &cfg, nil
}

// Save serializes cfg back to config.toml under its own ConfigDir,
// writing via a temp file + rename so a crash mid-write never corrupts
// the previous file (mirrors the scheduler snapshot's persistence
// pattern).
func Save(cfg *Config) error {
	if cfg.Dirs.ConfigDir == "" {
		return fmt.Errorf("save config: config dir is unset")
	}
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config.toml: %w", err)
	}

	path := filepath.Join(cfg.Dirs.ConfigDir, "config.toml")
	if err := os.MkdirAll(cfg.Dirs.ConfigDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return atomicWriteFile(path, data)
}

// atomicWriteFile writes data to a temp file alongside path and renames
// it into place.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// knownProviderTypes is the closed set of adapters this build ships;
// see internal/infrastructure/llm/{anthropic,openai,gemini}.
var knownProviderTypes = map[string]bool{"anthropic": true, "openai": true, "gemini": true}

// ValidateProvidersPatch checks that every provider entry a
// config.patch touches has a non-empty name, a model id, and a type
// this build actually has an adapter for, so a patch can never point
// the agent loop at an undefined provider or model.
func ValidateProvidersPatch(patch *ProvidersConfig) error {
	if patch == nil {
		return nil
	}
	for _, p := range patch.List {
		if p.Name == "" {
			return fmt.Errorf("provider patch entry missing name")
		}
		if p.Model == "" {
			return fmt.Errorf("provider %q missing model id", p.Name)
		}
		if !knownProviderTypes[p.Type] {
			return fmt.Errorf("provider %q has unknown type %q", p.Name, p.Type)
		}
	}
	return nil
}

// resolveDir returns the env var's value if set, falling back to
// fallback.
func resolveDir(envVar, fallback string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	return fallback
}

func setDefaults(v *viper.Viper) {
	home := os.Getenv("HOME")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stderr")

	v.SetDefault("dirs.data", filepath.Join(home, ".fae", "data"))
	v.SetDefault("dirs.cache", filepath.Join(home, ".fae", "cache"))
	v.SetDefault("dirs.workspace", home)

	v.SetDefault("providers.temperature_default", 0.7)
	v.SetDefault("providers.max_tokens_default", 4096)
	v.SetDefault("providers.timeout_ms_default", 60000)

	v.SetDefault("agent.max_turns", 15)
	v.SetDefault("agent.max_tool_calls_per_turn", 5)
	v.SetDefault("agent.request_timeout_secs", 60)
	v.SetDefault("agent.tool_timeout_secs", 30)
	v.SetDefault("agent.max_attempts", 3)
	v.SetDefault("agent.base_delay_ms", 500)
	v.SetDefault("agent.failure_threshold", 5)
	v.SetDefault("agent.recovery_timeout_secs", 30)

	v.SetDefault("tools.bash_restricted", true)
	v.SetDefault("tools.sandboxed", true)

	v.SetDefault("memory.keep_generations", 7)

	v.SetDefault("noise.daily_budget", 5)
	v.SetDefault("noise.cooldown_secs", 300)
	v.SetDefault("noise.quiet_start_hour", 23)
	v.SetDefault("noise.quiet_end_hour", 7)

	v.SetDefault("web_search.endpoint", "http://localhost:8888")
}
