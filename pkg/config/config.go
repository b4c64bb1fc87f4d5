package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pario-ai/tutorgate/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all tutorgate configuration.
type Config struct {
	Storage   StorageConfig    `yaml:"storage"`
	Logging   LoggingConfig    `yaml:"logging"`
	Providers []ProviderConfig `yaml:"providers"`
	Router    RouterConfig     `yaml:"router"`
	Cache     CacheConfig      `yaml:"cache"`
	Budget    BudgetConfig     `yaml:"budget"`
	Cost      CostConfig       `yaml:"cost"`
	Gateway   GatewayConfig    `yaml:"gateway"`
	Director  DirectorConfig   `yaml:"director"`
	Tutor     TutorConfig      `yaml:"tutor"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// StorageConfig selects the key-value backend shared by the cache and ledgers.
// Backend is "file" (default), "sqlite", "memory" or "redis".
type StorageConfig struct {
	Backend string      `yaml:"backend"`
	Dir     string      `yaml:"dir"`
	DBPath  string      `yaml:"db_path"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig points at a redis server.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig controls the logrus logger.
type LoggingConfig struct {
	Level  string        `yaml:"level"`
	Format string        `yaml:"format"` // "text" or "json"
	Output string        `yaml:"output"` // "stdout", "stderr" or "file"
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig controls log rotation when Output is "file".
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSize    int    `yaml:"max_size"` // megabytes
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"` // days
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai", "anthropic" or "deepseek"; it defaults to Name.
type ProviderConfig struct {
	Name      string  `yaml:"name"`
	Type      string  `yaml:"type"`
	URL       string  `yaml:"url"`
	APIKey    string  `yaml:"api_key"`
	RateLimit float64 `yaml:"rate_limit"` // requests per second, 0 disables pacing
	Burst     int     `yaml:"burst"`
}

// RouteTarget identifies a specific provider and model.
type RouteTarget struct {
	Provider string  `yaml:"provider"`
	Model    string  `yaml:"model"`
	Weight   float64 `yaml:"weight,omitempty"`
}

// RouterConfig defines the subject/tier routing policy.
type RouterConfig struct {
	STEMSubjects []string      `yaml:"stem_subjects"`
	PaidSTEM     RouteTarget   `yaml:"paid_stem"`
	PaidOther    RouteTarget   `yaml:"paid_other"`
	FreeSTEM     RouteTarget   `yaml:"free_stem"`
	FreeOther    []RouteTarget `yaml:"free_other"`
	Seed         int64         `yaml:"seed"` // 0 seeds from the clock
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// BudgetConfig controls the token ledger.
type BudgetConfig struct {
	DailyTokens    int64   `yaml:"daily_tokens"`
	UserTokens     int64   `yaml:"user_tokens"`
	AlertThreshold float64 `yaml:"alert_threshold"`
}

// ModelPricing defines per-1K token costs for a model as decimal strings.
type ModelPricing struct {
	Model       string `yaml:"model"`
	Input       string `yaml:"input_per_1k"`
	CachedInput string `yaml:"cached_input_per_1k"`
	Output      string `yaml:"output_per_1k"`
}

// CostConfig controls the cost ledger.
type CostConfig struct {
	Enabled       bool               `yaml:"enabled"`
	DailyLimitUSD string             `yaml:"daily_limit_usd"`
	DefaultModel  string             `yaml:"default_model"`
	RetentionDays int                `yaml:"retention_days"`
	Pricing       []ModelPricing     `yaml:"pricing"`
	Weights       map[string]float64 `yaml:"weights"`
}

// GatewayConfig controls ordinary answer calls.
type GatewayConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	Attempts     int           `yaml:"attempts"`
	BackoffBase  time.Duration `yaml:"backoff_base"`
	SystemPrompt string        `yaml:"system_prompt"`
}

// DirectorConfig controls teacher selection.
type DirectorConfig struct {
	Name          string        `yaml:"name"`
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	Temperature   float64       `yaml:"temperature"`
	MaxTokens     int           `yaml:"max_tokens"`
	Attempts      int           `yaml:"attempts"`
	BaseTimeout   time.Duration `yaml:"base_timeout"`
	BackoffBase   time.Duration `yaml:"backoff_base"`
	ProfilePath   string        `yaml:"profile_path"`
	HistoryDBPath string        `yaml:"history_db_path"`
	RetentionDays int           `yaml:"retention_days"`
}

// TutorConfig controls the personas and the free-tier front door.
type TutorConfig struct {
	School              string               `yaml:"school"`
	FreeTierEnabled     bool                 `yaml:"free_tier_enabled"`
	FreeQuestionsPerDay int                  `yaml:"free_questions_per_day"`
	MaxFreeUsers        int                  `yaml:"max_free_users"`
	DefaultPersona      models.PersonaConfig `yaml:"default_persona"`
	Personas            []models.PersonaSpec `yaml:"personas"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend: "file",
			Dir:     ".",
			DBPath:  "tutorgate.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Router: RouterConfig{
			STEMSubjects: []string{
				"Matematica", "Matematica_si_Explorarea_mediului",
				"Stiinte_ale_naturii", "Educatie_civica",
			},
			PaidSTEM:  RouteTarget{Provider: "anthropic", Model: "claude-4.5-sonnet"},
			PaidOther: RouteTarget{Provider: "openai", Model: "gpt-5"},
			FreeSTEM:  RouteTarget{Provider: "deepseek", Model: "deepseek-chat"},
			FreeOther: []RouteTarget{
				{Provider: "openai", Model: "gpt-5-nano", Weight: 0.75},
				{Provider: "openai", Model: "gpt-4.1-nano", Weight: 0.25},
			},
		},
		Cache: CacheConfig{
			Enabled: true,
			TTL:     time.Hour,
		},
		Budget: BudgetConfig{
			DailyTokens:    50000,
			UserTokens:     5000,
			AlertThreshold: 0.8,
		},
		Cost: CostConfig{
			Enabled:       true,
			DailyLimitUSD: "5.00",
			DefaultModel:  "gpt-5-nano",
			RetentionDays: 30,
			Pricing: []ModelPricing{
				{Model: "gpt-5-nano", Input: "0.05", CachedInput: "0.005", Output: "0.40"},
				{Model: "gpt-4.1-nano", Input: "0.10", CachedInput: "0.025", Output: "0.40"},
				{Model: "deepseek-chat", Input: "0.28", CachedInput: "0.028", Output: "0.42"},
			},
			Weights: map[string]float64{
				"gpt-5-nano":    0.50,
				"gpt-4.1-nano":  0.25,
				"deepseek-chat": 0.25,
			},
		},
		Gateway: GatewayConfig{
			Timeout:      30 * time.Second,
			Attempts:     3,
			BackoffBase:  time.Second,
			SystemPrompt: "Esti un profesor prietenos si empatic care ajuta elevii sa invete.",
		},
		Director: DirectorConfig{
			Name:          "Director",
			Provider:      "openai",
			Model:         "gpt-5",
			Temperature:   0.3,
			MaxTokens:     200,
			Attempts:      3,
			BaseTimeout:   5 * time.Second,
			BackoffBase:   time.Second,
			RetentionDays: 90,
		},
		Tutor: TutorConfig{
			School:              "Scoala_Normala",
			FreeTierEnabled:     true,
			FreeQuestionsPerDay: 5,
			MaxFreeUsers:        10,
			DefaultPersona: models.PersonaConfig{
				Temperature:   0.7,
				MaxTokens:     400,
				Model:         "gpt-5-nano",
				Personality:   "prietenos",
				TeachingStyle: "interactiv",
			},
		},
		Metrics: MetricsConfig{
			Listen: ":9090",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// Provider returns the provider config with the given name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
