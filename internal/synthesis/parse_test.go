package synthesis

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/vocabulary"
)

const validPassA = `{
  "neighborhood_characterization": "Steep, historic, lively at night.",
  "temporal_patterns": ["busy after 22:00"],
  "decline_flags": [],
  "overcrowding_flags": ["cruise days"],
  "amplification_flags": [],
  "divergence_signals": [{"topic": "Bairro Alto", "sources": "quiet", "background": "party district"}],
  "confidence": 0.7
}`

func TestCleanJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, cleanJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("```\n{\"a\":1}```"))
	assert.Equal(t, `{"a":1}`, cleanJSON("Here you go: {\"a\":1} hope it helps"))
	assert.Equal(t, `[1,2]`, cleanJSON("  [1,2]  "))
	assert.Equal(t, "no json", cleanJSON("no json"))
}

func TestParsePassA(t *testing.T) {
	got, err := ParsePassA("```json\n" + validPassA + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Steep, historic, lively at night.", got.NeighborhoodCharacterization)
	assert.Equal(t, []string{"cruise days"}, got.OvercrowdingFlags)
	assert.Equal(t, []string{}, got.DeclineFlags)
	require.Len(t, got.DivergenceSignals, 1)
	assert.Equal(t, "party district", got.DivergenceSignals[0].Background)
	assert.InDelta(t, 0.7, got.Confidence, 1e-9)
}

func TestParsePassA_NullListsBecomeEmpty(t *testing.T) {
	got, err := ParsePassA(`{"neighborhood_characterization":"x","temporal_patterns":null,"decline_flags":null,
		"overcrowding_flags":null,"amplification_flags":null,"divergence_signals":null,"confidence":0}`)
	require.NoError(t, err)
	assert.NotNil(t, got.TemporalPatterns)
	assert.NotNil(t, got.DivergenceSignals)
}

func TestParsePassA_Errors(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		reason string
	}{
		{"malformed", `{"neighborhood_characterization": `, "malformed JSON"},
		{"missing keys", `{"neighborhood_characterization":"x","confidence":0.5}`, "missing keys: temporal_patterns"},
		{"confidence high", `{"neighborhood_characterization":"x","temporal_patterns":[],"decline_flags":[],"overcrowding_flags":[],"amplification_flags":[],"divergence_signals":[],"confidence":1.2}`, "outside [0,1]"},
		{"confidence negative", `{"neighborhood_characterization":"x","temporal_patterns":[],"decline_flags":[],"overcrowding_flags":[],"amplification_flags":[],"divergence_signals":[],"confidence":-0.1}`, "outside [0,1]"},
		{"wrong type", `{"neighborhood_characterization":"x","temporal_patterns":"often","decline_flags":[],"overcrowding_flags":[],"amplification_flags":[],"divergence_signals":[],"confidence":0.5}`, "wrong field types"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePassA(tt.in)
			require.Error(t, err)
			var oe *OutputError
			require.True(t, errors.As(err, &oe))
			assert.Equal(t, "pass_a", oe.Pass)
			assert.Contains(t, oe.Reason, tt.reason)
		})
	}
}

func TestParsePassB(t *testing.T) {
	vocab := vocabulary.New([]string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "scenic"})
	in := `{"venues": [
	  {"name": " Time Out Market ", "tags": ["a","b","c","d","e","f","g","h","i","bogus"], "tourist_score": 1.4,
	   "confidence": -0.2, "knowledge_source": "Mystery", "source_amplification_suspected": true},
	  {"name": "Ramiro", "tags": ["Scenic"], "tourist_score": 0.3, "confidence": 0.8, "knowledge_source": "grounded-in-sources"},
	  {"name": "", "tags": [], "tourist_score": 0.5, "confidence": 0.5, "knowledge_source": "both"},
	  {"name": "No Numbers"}
	]}`

	got, err := ParsePassB(in, vocab)
	require.NoError(t, err)
	require.Len(t, got, 3)

	first := got[0]
	assert.Equal(t, "Time Out Market", first.Name)
	assert.Equal(t, []string{"a", "b", "c", "d", "e", "f", "g", "h"}, first.Tags)
	assert.Equal(t, 1.0, first.TouristScore)
	assert.Equal(t, 0.0, first.Confidence)
	assert.Equal(t, model.KnowledgeNeither, first.KnowledgeSource)
	assert.True(t, first.AmplificationSuspected)

	assert.Equal(t, []string{"scenic"}, got[1].Tags)
	assert.Equal(t, model.KnowledgeGrounded, got[1].KnowledgeSource)

	assert.Equal(t, 0.0, got[2].TouristScore)
	assert.Equal(t, model.KnowledgeNeither, got[2].KnowledgeSource)
}

func TestParsePassB_BareArray(t *testing.T) {
	got, err := ParsePassB(`[{"name":"X","tourist_score":0.2,"confidence":0.4,"knowledge_source":"both"}]`, vocabulary.Default())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.KnowledgeBoth, got[0].KnowledgeSource)
	assert.Empty(t, got[0].Tags)
}

func TestParsePassB_Errors(t *testing.T) {
	for _, in := range []string{`{"venues": [`, `{"results": []}`, `not json at all`} {
		_, err := ParsePassB(in, vocabulary.Default())
		var oe *OutputError
		require.True(t, errors.As(err, &oe), in)
		assert.Equal(t, "pass_b", oe.Pass)
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1))
	assert.Equal(t, 1.0, Clamp(2))
	assert.Equal(t, 0.25, Clamp(0.25))
}
