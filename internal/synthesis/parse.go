package synthesis

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/vocabulary"
)

// MaxTags caps the tags kept per venue.
const MaxTags = 8

// OutputError reports model output that does not meet the JSON contract.
// It is a content failure, not a transport failure, and is never retried.
type OutputError struct {
	Pass   string
	Reason string
	Raw    string
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("synthesis: %s output: %s", e.Pass, e.Reason)
}

var passAKeys = []string{
	"neighborhood_characterization",
	"temporal_patterns",
	"decline_flags",
	"overcrowding_flags",
	"amplification_flags",
	"divergence_signals",
	"confidence",
}

// cleanJSON strips an optional Markdown code fence and any prose around
// the outermost JSON value.
func cleanJSON(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return s
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return s[start:]
	}
	return s[start : end+1]
}

// ParsePassA decodes and checks a Pass A response.
func ParsePassA(text string) (model.CitySynthesis, error) {
	raw := cleanJSON(text)
	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return model.CitySynthesis{}, &OutputError{Pass: "pass_a", Reason: "malformed JSON: " + err.Error(), Raw: text}
	}
	var missing []string
	for _, k := range passAKeys {
		if _, ok := keys[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return model.CitySynthesis{}, &OutputError{
			Pass: "pass_a", Reason: "missing keys: " + strings.Join(missing, ", "), Raw: text,
		}
	}

	var out model.CitySynthesis
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return model.CitySynthesis{}, &OutputError{Pass: "pass_a", Reason: "wrong field types: " + err.Error(), Raw: text}
	}
	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
		return model.CitySynthesis{}, &OutputError{
			Pass: "pass_a", Reason: fmt.Sprintf("confidence %v outside [0,1]", out.Confidence), Raw: text,
		}
	}
	out.TemporalPatterns = nonNil(out.TemporalPatterns)
	out.DeclineFlags = nonNil(out.DeclineFlags)
	out.OvercrowdingFlags = nonNil(out.OvercrowdingFlags)
	out.AmplificationFlags = nonNil(out.AmplificationFlags)
	if out.DivergenceSignals == nil {
		out.DivergenceSignals = []model.DivergenceSignal{}
	}
	return out, nil
}

type rawVenue struct {
	Name                   string   `json:"name"`
	Tags                   []string `json:"tags"`
	TouristScore           *float64 `json:"tourist_score"`
	TemporalNote           string   `json:"temporal_note"`
	AmplificationSuspected bool     `json:"source_amplification_suspected"`
	LocalTouristConflict   bool     `json:"local_tourist_conflict"`
	Confidence             *float64 `json:"confidence"`
	KnowledgeSource        string   `json:"knowledge_source"`
}

// ParsePassB decodes one batch response. Accepts {"venues": [...]} or a bare
// array. Numerics are clamped to [0,1], tags are filtered against vocab and
// capped, and unknown knowledge sources become "neither". Entries without a
// name are dropped.
func ParsePassB(text string, vocab *vocabulary.Vocabulary) ([]model.VenueSignal, error) {
	raw := cleanJSON(text)

	var venues []rawVenue
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &venues); err != nil {
			return nil, &OutputError{Pass: "pass_b", Reason: "malformed JSON: " + err.Error(), Raw: text}
		}
	} else {
		var wrapper struct {
			Venues *[]rawVenue `json:"venues"`
		}
		if err := json.Unmarshal([]byte(raw), &wrapper); err != nil {
			return nil, &OutputError{Pass: "pass_b", Reason: "malformed JSON: " + err.Error(), Raw: text}
		}
		if wrapper.Venues == nil {
			return nil, &OutputError{Pass: "pass_b", Reason: "missing key: venues", Raw: text}
		}
		venues = *wrapper.Venues
	}

	out := make([]model.VenueSignal, 0, len(venues))
	unnamed := 0
	for _, v := range venues {
		name := strings.TrimSpace(v.Name)
		if name == "" {
			unnamed++
			continue
		}
		tags := vocab.Filter(v.Tags)
		if len(tags) > MaxTags {
			tags = tags[:MaxTags]
		}
		out = append(out, model.VenueSignal{
			Name:                   name,
			Tags:                   tags,
			TouristScore:           clampPtr(v.TouristScore),
			TemporalNote:           strings.TrimSpace(v.TemporalNote),
			AmplificationSuspected: v.AmplificationSuspected,
			LocalTouristConflict:   v.LocalTouristConflict,
			Confidence:             clampPtr(v.Confidence),
			KnowledgeSource:        model.ParseKnowledgeSource(strings.ToLower(strings.TrimSpace(v.KnowledgeSource))),
		})
	}
	if unnamed > 0 {
		zap.L().Warn("synthesis: pass_b entries without a name ignored", zap.Int("count", unnamed))
	}
	return out, nil
}

// Clamp maps v into [0,1]; NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func clampPtr(v *float64) float64 {
	if v == nil {
		return 0
	}
	return Clamp(*v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
