package synthesis

import "regexp"

// RedactedMarker replaces every matched injection phrase.
const RedactedMarker = "[redacted]"

type redaction struct {
	class string
	re    *regexp.Regexp
}

// Patterns are matched case-insensitively against raw source text before it
// is wrapped in data delimiters.
var redactions = []redaction{
	{"ignore_instructions", regexp.MustCompile(`(?i)\b(?:ignore|forget)\s+(?:all\s+|any\s+)?(?:of\s+)?(?:the\s+|your\s+)?(?:previous|prior|above|earlier|preceding)\s+(?:instructions|prompts|directions|rules)\b`)},
	{"disregard_instructions", regexp.MustCompile(`(?i)\bdisregard\b[^.\n]{0,60}?\binstructions\b`)},
	{"set_field", regexp.MustCompile(`(?i)\bset\s+(?:the\s+|all\s+)?(?:[a-z]+_[a-z_]+|tourist\s+score|score|scores|confidence|tags?|rating|field)\s+(?:to|=)\s*["']?[\w.\-]+["']?`)},
	{"role_override", regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(?:a|an|the|my)?\s*[^.\n]{0,60}`)},
	{"act_as", regexp.MustCompile(`(?i)\bact\s+as\s+(?:a|an|the|if|my)\b[^.\n]{0,60}`)},
	{"role_prefix", regexp.MustCompile(`(?im)^[ \t]*(?:system|assistant)[ \t]*:`)},
	{"new_instructions", regexp.MustCompile(`(?i)\bnew\s+instructions\s*:`)},
	{"delimiter_escape", regexp.MustCompile(`(?i)<\s*/?\s*source_data\b[^>]*>`)},
}

// Redact replaces known prompt-injection phrases in text and returns the
// cleaned text with the number of replacements per class.
func Redact(text string) (string, map[string]int) {
	var counts map[string]int
	for _, r := range redactions {
		n := 0
		text = r.re.ReplaceAllStringFunc(text, func(string) string {
			n++
			return RedactedMarker
		})
		if n > 0 {
			if counts == nil {
				counts = make(map[string]int)
			}
			counts[r.class] += n
		}
	}
	return text, counts
}

// RedactionTotal sums per-class counts.
func RedactionTotal(counts map[string]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}
