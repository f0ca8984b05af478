package model

import "go.uber.org/zap"

// TokenUsage tracks token consumption and its cost.
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	Cost                float64 `json:"cost"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
	t.CacheCreationTokens += other.CacheCreationTokens
	t.CacheReadTokens += other.CacheReadTokens
	t.Cost += other.Cost
}

// Total returns input plus output tokens.
func (t TokenUsage) Total() int {
	return t.InputTokens + t.OutputTokens
}

// LogCost logs token usage and cost with structured zap fields.
func (t TokenUsage) LogCost(log *zap.Logger, msg string, fields ...zap.Field) {
	log.Info(msg, append(fields,
		zap.Int("input_tokens", t.InputTokens),
		zap.Int("output_tokens", t.OutputTokens),
		zap.Int("cache_write_tokens", t.CacheCreationTokens),
		zap.Int("cache_read_tokens", t.CacheReadTokens),
		zap.Float64("estimated_cost_usd", t.Cost),
	)...)
}
