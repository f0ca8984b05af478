// Package vocabulary holds the closed set of vibe tags venue signals may carry.
package vocabulary

import (
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// defaultTags is used when no vocabulary file is configured.
var defaultTags = []string{
	"hidden-gem",
	"scenic",
	"lively",
	"quiet",
	"romantic",
	"family-friendly",
	"touristy",
	"local-favorite",
	"historic",
	"trendy",
	"upscale",
	"budget",
	"late-night",
	"brunch",
	"live-music",
	"outdoor-seating",
	"waterfront",
	"cozy",
	"crowded",
	"artsy",
	"authentic",
	"instagrammable",
	"seasonal",
	"declining",
}

// Vocabulary is an immutable set of allowed tags.
type Vocabulary struct {
	tags []string
	set  map[string]bool
}

type file struct {
	Tags []string `yaml:"tags"`
}

// New builds a vocabulary from tags. Tags are lowercased and trimmed;
// blanks and duplicates are dropped.
func New(tags []string) *Vocabulary {
	v := &Vocabulary{set: make(map[string]bool, len(tags))}
	for _, t := range tags {
		t = normalize(t)
		if t == "" || v.set[t] {
			continue
		}
		v.set[t] = true
		v.tags = append(v.tags, t)
	}
	sort.Strings(v.tags)
	return v
}

// Default returns the built-in vocabulary.
func Default() *Vocabulary {
	return New(defaultTags)
}

// Load reads a YAML vocabulary file of the form `tags: [a, b]`. An empty path
// returns the default vocabulary.
func Load(path string) (*Vocabulary, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "vocabulary: read %s", path)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "vocabulary: parse %s", path)
	}
	v := New(f.Tags)
	if v.Len() == 0 {
		return nil, eris.Errorf("vocabulary: %s defines no tags", path)
	}
	return v, nil
}

// Contains reports whether tag is in the vocabulary.
func (v *Vocabulary) Contains(tag string) bool {
	return v.set[normalize(tag)]
}

// Filter keeps only known tags, normalized and deduplicated, in input order.
func (v *Vocabulary) Filter(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = normalize(t)
		if !v.set[t] || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Tags returns the sorted tag list.
func (v *Vocabulary) Tags() []string {
	out := make([]string, len(v.tags))
	copy(out, v.tags)
	return out
}

// Len is the number of tags.
func (v *Vocabulary) Len() int { return len(v.tags) }

func normalize(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
