package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/bundle"
	"github.com/sells-group/venue-research/internal/config"
	"github.com/sells-group/venue-research/internal/content"
	"github.com/sells-group/venue-research/internal/cost"
	"github.com/sells-group/venue-research/internal/db"
	"github.com/sells-group/venue-research/internal/events"
	"github.com/sells-group/venue-research/internal/graph"
	"github.com/sells-group/venue-research/internal/metrics"
	"github.com/sells-group/venue-research/internal/research"
	"github.com/sells-group/venue-research/internal/resilience"
	"github.com/sells-group/venue-research/internal/resolve"
	"github.com/sells-group/venue-research/internal/store"
	"github.com/sells-group/venue-research/internal/synthesis"
	"github.com/sells-group/venue-research/internal/validation"
	"github.com/sells-group/venue-research/internal/vocabulary"
	anthropicpkg "github.com/sells-group/venue-research/pkg/anthropic"
	"github.com/sells-group/venue-research/pkg/llm"
	openaipkg "github.com/sells-group/venue-research/pkg/openai"
)

// pipelineEnv holds the store, database pools and orchestrator needed by
// the research, worker and sweep commands.
type pipelineEnv struct {
	Store        store.Store
	GraphPool    *pgxpool.Pool
	ContentPool  *pgxpool.Pool // nil when content shares the graph pool
	Events       events.Publisher
	Metrics      *metrics.Metrics
	Orchestrator *research.Orchestrator
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Events != nil {
		if err := pe.Events.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if pe.ContentPool != nil {
		pe.ContentPool.Close()
	}
	if pe.GraphPool != nil {
		pe.GraphPool.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline opens the store and databases, builds the LLM provider and
// wires the orchestrator. reg receives the pipeline metrics. Callers should
// defer env.Close().
func initPipeline(ctx context.Context, reg prometheus.Registerer) (*pipelineEnv, error) {
	if err := cfg.Validate("research"); err != nil {
		return nil, err
	}

	env := &pipelineEnv{Metrics: metrics.New(reg)}
	fail := func(err error) (*pipelineEnv, error) {
		env.Close()
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return fail(err)
	}
	env.Store = st

	poolCfg := &db.PoolConfig{MaxConns: cfg.Store.MaxConns}
	env.GraphPool, err = db.Connect(ctx, cfg.GraphURL(), poolCfg)
	if err != nil {
		return fail(eris.Wrap(err, "connect knowledge graph"))
	}
	contentPool := env.GraphPool
	if cfg.ContentURL() != cfg.GraphURL() {
		env.ContentPool, err = db.Connect(ctx, cfg.ContentURL(), poolCfg)
		if err != nil {
			return fail(eris.Wrap(err, "connect content store"))
		}
		contentPool = env.ContentPool
	}

	env.Events = events.Nop{}
	if cfg.NATS.URL != "" {
		pub, err := events.NewNATS(cfg.NATS.URL, cfg.NATS.Subject)
		if err != nil {
			return fail(err)
		}
		env.Events = pub
		zap.L().Info("job events enabled", zap.String("subject", cfg.NATS.Subject))
	} else {
		zap.L().Debug("VENUE_RESEARCH_NATS_URL not set, job events disabled")
	}

	vocab, err := vocabulary.Load(cfg.VocabularyPath)
	if err != nil {
		return fail(err)
	}

	provider, passA, passB, err := initProvider(cfg)
	if err != nil {
		return fail(err)
	}

	g := graph.NewPostgres(env.GraphPool)
	costs := cost.NewCalculator(ratesFromConfig(cfg.Pricing))
	engine := synthesis.NewEngine(provider, costs, synthesisConfig(cfg, passA, passB))

	env.Orchestrator = research.New(research.Deps{
		Store:      st,
		Graph:      g,
		Writer:     g,
		Assembler:  bundle.NewAssembler(content.NewPostgres(contentPool), bundleConfig(cfg.Bundle)),
		Engine:     engine,
		Validator:  validation.New(validationConfig(cfg.Validation)),
		Resolver:   resolve.New(g, resolve.Config{FuzzyThreshold: cfg.Resolver.FuzzyThreshold, MinSubstringLength: cfg.Resolver.MinSubstringLength}),
		Vocabulary: vocab,
		Metrics:    env.Metrics,
		Events:     env.Events,
	}, researchConfig(cfg))

	zap.L().Info("pipeline ready",
		zap.String("provider", provider.Name()),
		zap.String("pass_a_model", passA),
		zap.String("pass_b_model", passB),
		zap.Int("vocabulary", vocab.Len()),
	)
	return env, nil
}

// initProvider builds the configured LLM provider and returns the model
// names for both passes.
func initProvider(c *config.Config) (llm.Provider, string, string, error) {
	switch c.LLM.Provider {
	case "anthropic":
		return anthropicpkg.NewProvider(anthropicpkg.NewClient(c.Anthropic.Key)),
			c.Anthropic.PassAModel, c.Anthropic.PassBModel, nil
	case "openai":
		return openaipkg.NewProvider(openaipkg.NewClient(c.OpenAI.Key, c.OpenAI.BaseURL)),
			c.OpenAI.PassAModel, c.OpenAI.PassBModel, nil
	default:
		return nil, "", "", eris.Errorf("unsupported llm provider: %s", c.LLM.Provider)
	}
}

func ratesFromConfig(p config.PricingConfig) cost.Rates {
	convert := func(in map[string]config.ModelPricing) map[string]cost.ModelRate {
		out := make(map[string]cost.ModelRate, len(in))
		for model, r := range in {
			out[model] = cost.ModelRate{
				Input:         r.Input,
				Output:        r.Output,
				CacheWriteMul: r.CacheWriteMul,
				CacheReadMul:  r.CacheReadMul,
			}
		}
		return out
	}
	return cost.Rates{Anthropic: convert(p.Anthropic), OpenAI: convert(p.OpenAI)}
}

func synthesisConfig(c *config.Config, passA, passB string) synthesis.Config {
	s := c.Synthesis
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = s.MaxAttempts
	retry.InitialBackoff = time.Duration(s.InitialBackoffMillis) * time.Millisecond
	retry.MaxBackoff = time.Duration(s.MaxBackoffSecs) * time.Second

	return synthesis.Config{
		PassAModel:        passA,
		PassBModel:        passB,
		BatchSize:         s.PassBBatchSize,
		TopSnippets:       s.PassBTopSnippets,
		SnippetCharBudget: s.PassBSnippetBudget,
		MaxTokensPassA:    s.MaxTokensPassA,
		MaxTokensPassB:    s.MaxTokensPassB,
		Temperature:       s.Temperature,
		CallTimeout:       time.Duration(s.CallTimeoutSecs) * time.Second,
		Retry:             retry,
		RequestsPerMinute: s.RequestsPerMinute,
	}
}

func bundleConfig(b config.BundleConfig) bundle.Config {
	return bundle.Config{
		MinEngagement:      b.MinEngagement,
		MinApprovalRatio:   b.MinApprovalRatio,
		MaxCommunityOther:  b.MaxCommunityOther,
		MaxLongForm:        b.MaxLongForm,
		LongFormCharBudget: b.LongFormCharBudget,
		SoftTokenCeiling:   b.SoftTokenCeiling,
		HardTokenCeiling:   b.HardTokenCeiling,
		AmplificationShare: b.AmplificationShare,
	}
}

func validationConfig(v config.ValidationConfig) validation.Config {
	return validation.Config{
		MinVenuesForStats:      v.MinVenuesForStats,
		HighConfidence:         v.HighConfidence,
		OverConfidenceShare:    v.OverConfidenceShare,
		TagConcentrationShare:  v.TagConcentrationShare,
		BackgroundOnlyShare:    v.BackgroundOnlyShare,
		BaselineDeviation:      v.BaselineDeviation,
		BaselineDeviationShare: v.BaselineDeviationShare,
	}
}

func researchConfig(c *config.Config) research.Config {
	return research.Config{
		DailyCostCeiling:   c.Gates.DailyCostCeiling,
		Cooldown:           time.Duration(c.Gates.CooldownHours) * time.Hour,
		BreakerWindow:      c.Gates.BreakerWindow,
		WriteBackBatchSize: c.WriteBack.BatchSize,
		ReviewDelta:        c.WriteBack.ReviewDelta,
	}
}
