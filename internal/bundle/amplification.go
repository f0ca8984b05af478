package bundle

import (
	"sort"
	"strings"
	"unicode"
)

const (
	minPhraseWords        = 2
	maxPhraseWords        = 4
	minAmplificationDocs  = 3
	maxAmplificationFlags = 20
)

// AmplificationSuspects returns capitalized multi-word phrases that appear in
// more than share of the documents. Such phrases often come from one listicle
// copied across many sites. The place name itself is never flagged, and a
// phrase is dropped when a longer phrase containing it has the same count.
func AmplificationSuspects(docs []Item, placeName string, share float64) []string {
	if len(docs) < minAmplificationDocs {
		return nil
	}
	place := strings.ToLower(strings.TrimSpace(placeName))

	counts := make(map[string]int)
	for _, d := range docs {
		for p := range phrases(d.Text) {
			counts[p]++
		}
	}

	threshold := share * float64(len(docs))
	var hits []string
	for p, n := range counts {
		if float64(n) <= threshold || strings.ToLower(p) == place {
			continue
		}
		hits = append(hits, p)
	}

	kept := make([]string, 0, len(hits))
	for _, p := range hits {
		subsumed := false
		for _, q := range hits {
			if len(q) > len(p) && counts[q] == counts[p] && strings.Contains(" "+q+" ", " "+p+" ") {
				subsumed = true
				break
			}
		}
		if !subsumed {
			kept = append(kept, p)
		}
	}

	sort.Slice(kept, func(i, j int) bool {
		if counts[kept[i]] != counts[kept[j]] {
			return counts[kept[i]] > counts[kept[j]]
		}
		return kept[i] < kept[j]
	})
	if len(kept) > maxAmplificationFlags {
		kept = kept[:maxAmplificationFlags]
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

// phrases returns the distinct runs of 2 to 4 consecutive capitalized words
// in text. Runs are broken by lowercase words and sentence punctuation.
func phrases(text string) map[string]bool {
	out := make(map[string]bool)
	var run []string
	flush := func() {
		for size := minPhraseWords; size <= maxPhraseWords; size++ {
			for i := 0; i+size <= len(run); i++ {
				out[strings.Join(run[i:i+size], " ")] = true
			}
		}
		run = run[:0]
	}

	for _, field := range strings.Fields(text) {
		word := strings.TrimFunc(field, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" || !isCapitalized(word) {
			flush()
			continue
		}
		run = append(run, word)
		if endsClause(field) {
			flush()
		}
	}
	flush()
	return out
}

func isCapitalized(word string) bool {
	for _, r := range word {
		return unicode.IsUpper(r)
	}
	return false
}

func endsClause(field string) bool {
	last := field[len(field)-1]
	return strings.IndexByte(".,;:!?)\"", last) >= 0
}
