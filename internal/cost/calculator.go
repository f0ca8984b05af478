package cost

import (
	"github.com/sells-group/venue-research/pkg/llm"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    map[string]ModelRate `yaml:"openai" mapstructure:"openai"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Models missing
// from rates fall back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	def := DefaultRates()
	merged := Rates{
		Anthropic: mergeRates(def.Anthropic, rates.Anthropic),
		OpenAI:    mergeRates(def.OpenAI, rates.OpenAI),
	}
	return &Calculator{rates: merged}
}

func mergeRates(base, override map[string]ModelRate) map[string]ModelRate {
	out := make(map[string]ModelRate, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output, cacheWrite, cacheRead int) float64 {
	return tokenCost(c.rates.Anthropic, model, input, output, cacheWrite, cacheRead)
}

// OpenAI computes the cost for an OpenAI chat completion.
func (c *Calculator) OpenAI(model string, input, output, cacheRead int) float64 {
	return tokenCost(c.rates.OpenAI, model, input, output, 0, cacheRead)
}

// Usage prices a provider response. Unknown providers or models cost 0.
func (c *Calculator) Usage(provider, model string, u llm.Usage) float64 {
	switch provider {
	case "anthropic":
		return c.Claude(model, u.InputTokens, u.OutputTokens, u.CacheWriteTokens, u.CacheReadTokens)
	case "openai":
		return c.OpenAI(model, u.InputTokens, u.OutputTokens, u.CacheReadTokens)
	default:
		return 0
	}
}

func tokenCost(rates map[string]ModelRate, model string, input, output, cacheWrite, cacheRead int) float64 {
	rate, ok := rates[model]
	if !ok {
		return 0
	}

	inCost := (float64(input) / 1e6) * rate.Input
	outCost := (float64(output) / 1e6) * rate.Output
	cwCost := (float64(cacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul
	crCost := (float64(cacheRead) / 1e6) * rate.Input * rate.CacheReadMul

	return inCost + outCost + cwCost + crCost
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001": {
				Input: 1.00, Output: 5.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-sonnet-4-5-20250929": {
				Input: 3.00, Output: 15.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
			"claude-opus-4-6": {
				Input: 15.00, Output: 75.00,
				CacheWriteMul: 1.25, CacheReadMul: 0.1,
			},
		},
		OpenAI: map[string]ModelRate{
			"gpt-4o":      {Input: 2.50, Output: 10.00, CacheReadMul: 0.5},
			"gpt-4o-mini": {Input: 0.15, Output: 0.60, CacheReadMul: 0.5},
		},
	}
}
