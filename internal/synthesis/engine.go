// Package synthesis runs the two LLM passes over an assembled bundle: Pass A
// characterizes the place, Pass B scores venues in fixed-size batches.
package synthesis

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/venue-research/internal/bundle"
	"github.com/sells-group/venue-research/internal/cost"
	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/resilience"
	"github.com/sells-group/venue-research/internal/vocabulary"
	"github.com/sells-group/venue-research/pkg/llm"
)

// Config controls both passes.
type Config struct {
	PassAModel        string
	PassBModel        string
	BatchSize         int
	TopSnippets       int
	SnippetCharBudget int
	MaxTokensPassA    int
	MaxTokensPassB    int
	Temperature       float64
	CallTimeout       time.Duration
	Retry             resilience.RetryConfig
	RequestsPerMinute int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.TopSnippets < 0 {
		c.TopSnippets = 0
	}
	if c.SnippetCharBudget <= 0 {
		c.SnippetCharBudget = 40000
	}
	if c.MaxTokensPassA <= 0 {
		c.MaxTokensPassA = 4096
	}
	if c.MaxTokensPassB <= 0 {
		c.MaxTokensPassB = 8192
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 120 * time.Second
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = 4
	}
	return c
}

// UsageFunc receives the usage of every completed LLM call as it happens.
type UsageFunc func(ctx context.Context, u model.TokenUsage)

// PassAResult is the outcome of Pass A. Usage is set even when parsing fails.
type PassAResult struct {
	Parsed     model.CitySynthesis
	Usage      model.TokenUsage
	Redactions map[string]int
}

// PassBResult is the outcome of Pass B across all batches. On error it holds
// whatever completed before the failure.
type PassBResult struct {
	Venues     []model.VenueSignal
	Usage      model.TokenUsage
	Calls      int
	Redactions map[string]int
	// Missing lists requested names the model did not return verbatim.
	Missing []string
	// Extra lists returned names outside the request. Their signals are
	// still in Venues.
	Extra []string
}

// Engine runs LLM calls with pacing, per-call timeouts and retries.
type Engine struct {
	provider llm.Provider
	costs    *cost.Calculator
	cfg      Config
	limiter  *rate.Limiter
}

// NewEngine creates an Engine. A zero RequestsPerMinute disables pacing.
func NewEngine(provider llm.Provider, costs *cost.Calculator, cfg Config) *Engine {
	cfg = cfg.withDefaults()
	e := &Engine{provider: provider, costs: costs, cfg: cfg}
	if cfg.RequestsPerMinute > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), 1)
	}
	return e
}

// RunPassA produces the city synthesis for a bundle.
func (e *Engine) RunPassA(ctx context.Context, b *bundle.Bundle, onUsage UsageFunc) (*PassAResult, error) {
	user, redactions := buildPassAUser(b)
	res := &PassAResult{Redactions: redactions}
	if total := RedactionTotal(redactions); total > 0 {
		zap.L().Warn("synthesis: redacted injection phrases",
			zap.String("place", b.Place.ID),
			zap.String("pass", "pass_a"),
			zap.Int("count", total),
		)
	}

	resp, usage, err := e.call(ctx, "pass_a", llm.Request{
		Model:       e.cfg.PassAModel,
		System:      passASystem,
		User:        user,
		MaxTokens:   e.cfg.MaxTokensPassA,
		Temperature: &e.cfg.Temperature,
	}, onUsage)
	res.Usage = usage
	if err != nil {
		return res, err
	}

	parsed, err := ParsePassA(resp.Text)
	if err != nil {
		return res, err
	}
	res.Parsed = parsed
	return res, nil
}

// RunPassB scores venueNames in sequential batches against the Pass A
// synthesis and the snippets that mention each batch.
func (e *Engine) RunPassB(
	ctx context.Context,
	b *bundle.Bundle,
	passA model.CitySynthesis,
	venueNames []string,
	vocab *vocabulary.Vocabulary,
	onUsage UsageFunc,
) (*PassBResult, error) {
	res := &PassBResult{Redactions: make(map[string]int)}
	names := DedupeNames(venueNames)
	if len(names) == 0 {
		return res, nil
	}

	seen := make(map[string]bool, len(names))
	system := PassBSystem(vocab)
	batches := Batches(names, e.cfg.BatchSize)
	log := zap.L().With(zap.String("place", b.Place.ID), zap.Int("batches", len(batches)))

	for i, batch := range batches {
		snippets := Snippets(b, batch, e.cfg.TopSnippets, e.cfg.SnippetCharBudget)
		user, redactions := buildPassBUser(b.Place.Name, passA, batch, snippets)
		for k, n := range redactions {
			res.Redactions[k] += n
		}

		resp, usage, err := e.call(ctx, "pass_b", llm.Request{
			Model:       e.cfg.PassBModel,
			System:      system,
			User:        user,
			MaxTokens:   e.cfg.MaxTokensPassB,
			Temperature: &e.cfg.Temperature,
			CacheSystem: true,
		}, onUsage)
		res.Usage.Add(usage)
		res.Calls++
		if err != nil {
			return res, eris.Wrapf(err, "synthesis: pass_b batch %d/%d", i+1, len(batches))
		}

		venues, err := ParsePassB(resp.Text, vocab)
		if err != nil {
			return res, err
		}
		kept, extra, missing := collectBatch(batch, venues, seen)
		res.Venues = append(res.Venues, kept...)
		res.Extra = append(res.Extra, extra...)
		res.Missing = append(res.Missing, missing...)

		log.Debug("synthesis: pass_b batch done",
			zap.Int("batch", i+1),
			zap.Int("names", len(batch)),
			zap.Int("snippets", len(snippets)),
			zap.Int("venues", len(kept)),
			zap.Int("extra", len(extra)),
			zap.Int("missing", len(missing)),
		)
	}

	if len(res.Missing) > 0 || len(res.Extra) > 0 {
		log.Warn("synthesis: pass_b names differ from request",
			zap.Int("missing", len(res.Missing)),
			zap.Strings("extra", res.Extra),
		)
	}
	return res, nil
}

// call makes one logical LLM call with retries. Only the successful attempt
// reports usage.
func (e *Engine) call(ctx context.Context, phase string, req llm.Request, onUsage UsageFunc) (*llm.Response, model.TokenUsage, error) {
	retry := e.cfg.Retry
	retry.ShouldRetry = llm.IsRetryable
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(e.provider.Name(), phase)
	}

	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*llm.Response, error) {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
		defer cancel()
		return e.provider.Complete(callCtx, req)
	})
	if err != nil {
		return nil, model.TokenUsage{}, eris.Wrapf(err, "synthesis: %s call", phase)
	}

	usage := model.TokenUsage{
		InputTokens:         resp.Usage.InputTokens,
		OutputTokens:        resp.Usage.OutputTokens,
		CacheCreationTokens: resp.Usage.CacheWriteTokens,
		CacheReadTokens:     resp.Usage.CacheReadTokens,
	}
	if e.costs != nil {
		usage.Cost = e.costs.Usage(e.provider.Name(), req.Model, resp.Usage)
	}
	usage.LogCost(zap.L(), "cost attribution",
		zap.String("phase", phase),
		zap.String("provider", e.provider.Name()),
		zap.String("model", req.Model),
	)
	if onUsage != nil {
		onUsage(ctx, usage)
	}
	return resp, usage, nil
}

// DedupeNames trims names and drops blanks and case-insensitive duplicates,
// keeping the first spelling.
func DedupeNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		key := strings.ToLower(n)
		if n == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, n)
	}
	return out
}

// Batches splits names into consecutive chunks of at most size.
func Batches(names []string, size int) [][]string {
	if size <= 0 {
		size = 50
	}
	var out [][]string
	for start := 0; start < len(names); start += size {
		end := min(start+size, len(names))
		out = append(out, names[start:end])
	}
	return out
}

// collectBatch keeps one signal per venue name across the whole pass.
// Names matching a requested name take the requested spelling; any other
// name is kept as returned and left for the resolver. missing lists
// requested names with no signal of the same spelling.
func collectBatch(batch []string, venues []model.VenueSignal, seen map[string]bool) (kept []model.VenueSignal, extra, missing []string) {
	requested := make(map[string]string, len(batch))
	for _, n := range batch {
		requested[strings.ToLower(n)] = n
	}
	got := make(map[string]bool, len(venues))
	for _, v := range venues {
		key := strings.ToLower(strings.TrimSpace(v.Name))
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		if name, ok := requested[key]; ok {
			got[key] = true
			v.Name = name
		} else {
			extra = append(extra, v.Name)
		}
		kept = append(kept, v)
	}
	for _, n := range batch {
		if !got[strings.ToLower(n)] {
			missing = append(missing, n)
		}
	}
	return kept, extra, missing
}
