package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store          StoreConfig      `yaml:"store" mapstructure:"store"`
	Graph          DatabaseConfig   `yaml:"graph" mapstructure:"graph"`
	Content        DatabaseConfig   `yaml:"content" mapstructure:"content"`
	LLM            LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Anthropic      AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI         OpenAIConfig     `yaml:"openai" mapstructure:"openai"`
	Pricing        PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Bundle         BundleConfig     `yaml:"bundle" mapstructure:"bundle"`
	Synthesis      SynthesisConfig  `yaml:"synthesis" mapstructure:"synthesis"`
	Validation     ValidationConfig `yaml:"validation" mapstructure:"validation"`
	Resolver       ResolverConfig   `yaml:"resolver" mapstructure:"resolver"`
	Gates          GatesConfig      `yaml:"gates" mapstructure:"gates"`
	WriteBack      WriteBackConfig  `yaml:"write_back" mapstructure:"write_back"`
	NATS           NATSConfig       `yaml:"nats" mapstructure:"nats"`
	Temporal       TemporalConfig   `yaml:"temporal" mapstructure:"temporal"`
	Server         ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring     MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log            LogConfig        `yaml:"log" mapstructure:"log"`
	VocabularyPath string           `yaml:"vocabulary_path" mapstructure:"vocabulary_path"`
}

// StoreConfig configures the job store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=sqlite postgres"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns" validate:"gte=0"`
}

// DatabaseConfig points at an external Postgres database. An empty URL
// falls back to store.database_url.
type DatabaseConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// LLMConfig selects the provider used by both synthesis passes.
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic openai"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	PassAModel string `yaml:"pass_a_model" mapstructure:"pass_a_model"`
	PassBModel string `yaml:"pass_b_model" mapstructure:"pass_b_model"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key        string `yaml:"key" mapstructure:"key"`
	BaseURL    string `yaml:"base_url" mapstructure:"base_url"`
	PassAModel string `yaml:"pass_a_model" mapstructure:"pass_a_model"`
	PassBModel string `yaml:"pass_b_model" mapstructure:"pass_b_model"`
}

// PricingConfig holds per-provider pricing rates keyed by model.
type PricingConfig struct {
	Anthropic map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelPricing `yaml:"openai" mapstructure:"openai"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// BundleConfig configures source bundle assembly.
type BundleConfig struct {
	MinEngagement      int     `yaml:"min_engagement" mapstructure:"min_engagement" validate:"gte=0"`
	MinApprovalRatio   float64 `yaml:"min_approval_ratio" mapstructure:"min_approval_ratio" validate:"gte=0,lte=1"`
	MaxCommunityOther  int     `yaml:"max_community_other" mapstructure:"max_community_other" validate:"gt=0"`
	MaxLongForm        int     `yaml:"max_long_form" mapstructure:"max_long_form" validate:"gt=0"`
	LongFormCharBudget int     `yaml:"long_form_char_budget" mapstructure:"long_form_char_budget" validate:"gt=0"`
	SoftTokenCeiling   int     `yaml:"soft_token_ceiling" mapstructure:"soft_token_ceiling" validate:"gt=0"`
	HardTokenCeiling   int     `yaml:"hard_token_ceiling" mapstructure:"hard_token_ceiling" validate:"gtefield=SoftTokenCeiling"`
	AmplificationShare float64 `yaml:"amplification_share" mapstructure:"amplification_share" validate:"gt=0,lte=1"`
}

// SynthesisConfig configures the two LLM passes.
type SynthesisConfig struct {
	PassBBatchSize       int     `yaml:"pass_b_batch_size" mapstructure:"pass_b_batch_size" validate:"gt=0"`
	PassBTopSnippets     int     `yaml:"pass_b_top_snippets" mapstructure:"pass_b_top_snippets" validate:"gte=0"`
	PassBSnippetBudget   int     `yaml:"pass_b_snippet_char_budget" mapstructure:"pass_b_snippet_char_budget" validate:"gt=0"`
	MaxTokensPassA       int     `yaml:"max_tokens_pass_a" mapstructure:"max_tokens_pass_a" validate:"gt=0"`
	MaxTokensPassB       int     `yaml:"max_tokens_pass_b" mapstructure:"max_tokens_pass_b" validate:"gt=0"`
	Temperature          float64 `yaml:"temperature" mapstructure:"temperature" validate:"gte=0,lte=1"`
	CallTimeoutSecs      int     `yaml:"call_timeout_secs" mapstructure:"call_timeout_secs" validate:"gt=0"`
	MaxAttempts          int     `yaml:"max_attempts" mapstructure:"max_attempts" validate:"gt=0"`
	InitialBackoffMillis int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" validate:"gt=0"`
	MaxBackoffSecs       int     `yaml:"max_backoff_secs" mapstructure:"max_backoff_secs" validate:"gt=0"`
	RequestsPerMinute    int     `yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"gte=0"`
}

// ValidationConfig configures the validation gate thresholds.
type ValidationConfig struct {
	MinVenuesForStats      int     `yaml:"min_venues_for_stats" mapstructure:"min_venues_for_stats" validate:"gte=1"`
	HighConfidence         float64 `yaml:"high_confidence" mapstructure:"high_confidence" validate:"gt=0,lte=1"`
	OverConfidenceShare    float64 `yaml:"over_confidence_share" mapstructure:"over_confidence_share" validate:"gt=0,lte=1"`
	TagConcentrationShare  float64 `yaml:"tag_concentration_share" mapstructure:"tag_concentration_share" validate:"gt=0,lte=1"`
	BackgroundOnlyShare    float64 `yaml:"background_only_share" mapstructure:"background_only_share" validate:"gt=0,lte=1"`
	BaselineDeviation      float64 `yaml:"baseline_deviation" mapstructure:"baseline_deviation" validate:"gt=0,lte=1"`
	BaselineDeviationShare float64 `yaml:"baseline_deviation_share" mapstructure:"baseline_deviation_share" validate:"gt=0,lte=1"`
}

// ResolverConfig configures venue name resolution.
type ResolverConfig struct {
	FuzzyThreshold     float64 `yaml:"fuzzy_threshold" mapstructure:"fuzzy_threshold" validate:"gt=0,lte=1"`
	MinSubstringLength int     `yaml:"min_substring_length" mapstructure:"min_substring_length" validate:"gte=1"`
}

// GatesConfig configures the pre-run budget, cooldown and breaker gates.
type GatesConfig struct {
	DailyCostCeiling float64 `yaml:"daily_cost_ceiling" mapstructure:"daily_cost_ceiling" validate:"gt=0"`
	CooldownHours    int     `yaml:"cooldown_hours" mapstructure:"cooldown_hours" validate:"gte=0"`
	BreakerWindow    int     `yaml:"breaker_window" mapstructure:"breaker_window" validate:"gte=1"`
}

// WriteBackConfig configures knowledge-graph write-back.
type WriteBackConfig struct {
	BatchSize   int     `yaml:"batch_size" mapstructure:"batch_size" validate:"gt=0"`
	ReviewDelta float64 `yaml:"review_delta" mapstructure:"review_delta" validate:"gt=0,lte=1"`
}

// NATSConfig configures job event publishing. An empty URL disables it.
type NATSConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Subject string `yaml:"subject" mapstructure:"subject"`
}

// TemporalConfig configures the sweep worker.
type TemporalConfig struct {
	HostPort  string `yaml:"host_port" mapstructure:"host_port"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	TaskQueue string `yaml:"task_queue" mapstructure:"task_queue"`
}

// ServerConfig configures the read-only admin server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"gt=0,lt=65536"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures the background alert checker.
type MonitoringConfig struct {
	Enabled                  bool    `yaml:"enabled" mapstructure:"enabled"`
	CheckIntervalSecs        int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"gte=0"`
	LookbackWindowHours      int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours" validate:"gt=0"`
	FailureRateThreshold     float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold" validate:"gte=0,lte=1"`
	CostThresholdUSD         float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd" validate:"gte=0"`
	ConflictBacklogThreshold int     `yaml:"conflict_backlog_threshold" mapstructure:"conflict_backlog_threshold" validate:"gte=0"`
	RepeatIntervalMins       int     `yaml:"repeat_interval_mins" mapstructure:"repeat_interval_mins" validate:"gte=0"`
	WebhookURL               string  `yaml:"webhook_url" mapstructure:"webhook_url" validate:"omitempty,url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"oneof=json console"`
}

// GraphURL returns the knowledge graph connection string.
func (c *Config) GraphURL() string {
	if c.Graph.DatabaseURL != "" {
		return c.Graph.DatabaseURL
	}
	return c.Store.DatabaseURL
}

// ContentURL returns the content store connection string.
func (c *Config) ContentURL() string {
	if c.Content.DatabaseURL != "" {
		return c.Content.DatabaseURL
	}
	return c.GraphURL()
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VENUE_RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: validate")
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "venue-research.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("graph.database_url", "")
	v.SetDefault("content.database_url", "")
	v.SetDefault("vocabulary_path", "")

	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.pass_a_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.pass_b_model", "claude-haiku-4-5-20251001")
	v.SetDefault("openai.key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.pass_a_model", "gpt-4o")
	v.SetDefault("openai.pass_b_model", "gpt-4o-mini")

	v.SetDefault("bundle.min_engagement", 5)
	v.SetDefault("bundle.min_approval_ratio", 0.70)
	v.SetDefault("bundle.max_community_other", 40)
	v.SetDefault("bundle.max_long_form", 12)
	v.SetDefault("bundle.long_form_char_budget", 3000)
	v.SetDefault("bundle.soft_token_ceiling", 35000)
	v.SetDefault("bundle.hard_token_ceiling", 40000)
	v.SetDefault("bundle.amplification_share", 0.40)

	v.SetDefault("synthesis.pass_b_batch_size", 50)
	v.SetDefault("synthesis.pass_b_top_snippets", 5)
	v.SetDefault("synthesis.pass_b_snippet_char_budget", 40000)
	v.SetDefault("synthesis.max_tokens_pass_a", 4096)
	v.SetDefault("synthesis.max_tokens_pass_b", 8192)
	v.SetDefault("synthesis.temperature", 0.2)
	v.SetDefault("synthesis.call_timeout_secs", 120)
	v.SetDefault("synthesis.max_attempts", 4)
	v.SetDefault("synthesis.initial_backoff_ms", 1000)
	v.SetDefault("synthesis.max_backoff_secs", 30)
	v.SetDefault("synthesis.requests_per_minute", 30)

	v.SetDefault("validation.min_venues_for_stats", 1)
	v.SetDefault("validation.high_confidence", 0.85)
	v.SetDefault("validation.over_confidence_share", 0.80)
	v.SetDefault("validation.tag_concentration_share", 0.70)
	v.SetDefault("validation.background_only_share", 0.60)
	v.SetDefault("validation.baseline_deviation", 0.30)
	v.SetDefault("validation.baseline_deviation_share", 0.50)

	v.SetDefault("resolver.fuzzy_threshold", 0.85)
	v.SetDefault("resolver.min_substring_length", 4)

	v.SetDefault("gates.daily_cost_ceiling", 25.0)
	v.SetDefault("gates.cooldown_hours", 168)
	v.SetDefault("gates.breaker_window", 3)

	v.SetDefault("write_back.batch_size", 25)
	v.SetDefault("write_back.review_delta", 0.30)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.subject", "research.job.finished")

	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "venue-research")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", false)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.cost_threshold_usd", 50.0)
	v.SetDefault("monitoring.conflict_backlog_threshold", 200)
	v.SetDefault("monitoring.repeat_interval_mins", 60)
	v.SetDefault("monitoring.webhook_url", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

var validate = validator.New()

// Validate checks that the settings a command needs are present. Range
// constraints are enforced by Load; this covers per-mode requirements.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "research":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
		if c.GraphURL() == "" || (c.Store.Driver == "sqlite" && c.Graph.DatabaseURL == "") {
			errs = append(errs, "graph.database_url is required")
		}
		switch c.LLM.Provider {
		case "anthropic":
			if c.Anthropic.Key == "" {
				errs = append(errs, "anthropic.key is required")
			}
		case "openai":
			if c.OpenAI.Key == "" {
				errs = append(errs, "openai.key is required")
			}
		default:
			errs = append(errs, fmt.Sprintf("llm.provider %q is not supported", c.LLM.Provider))
		}
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0 and <= 65535")
		}
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "worker":
		if c.Temporal.HostPort == "" {
			errs = append(errs, "temporal.host_port is required")
		}
		if c.Temporal.TaskQueue == "" {
			errs = append(errs, "temporal.task_queue is required")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
