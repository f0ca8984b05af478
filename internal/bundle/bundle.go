// Package bundle assembles the filtered, ranked and budgeted set of source
// documents that feeds the synthesis passes for one place.
package bundle

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/content"
	"github.com/sells-group/venue-research/internal/model"
)

// Config controls filtering and budgeting. Zero values take the defaults
// from DefaultConfig.
type Config struct {
	MinEngagement      int
	MinApprovalRatio   float64
	MaxCommunityOther  int
	MaxLongForm        int
	LongFormCharBudget int
	SoftTokenCeiling   int
	HardTokenCeiling   int
	AmplificationShare float64
}

// DefaultConfig returns the standard assembly limits.
func DefaultConfig() Config {
	return Config{
		MinEngagement:      5,
		MinApprovalRatio:   0.70,
		MaxCommunityOther:  40,
		MaxLongForm:        12,
		LongFormCharBudget: 3000,
		SoftTokenCeiling:   35000,
		HardTokenCeiling:   40000,
		AmplificationShare: 0.40,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MinEngagement <= 0 {
		c.MinEngagement = d.MinEngagement
	}
	if c.MinApprovalRatio <= 0 {
		c.MinApprovalRatio = d.MinApprovalRatio
	}
	if c.MaxCommunityOther <= 0 {
		c.MaxCommunityOther = d.MaxCommunityOther
	}
	if c.MaxLongForm <= 0 {
		c.MaxLongForm = d.MaxLongForm
	}
	if c.LongFormCharBudget <= 0 {
		c.LongFormCharBudget = d.LongFormCharBudget
	}
	if c.SoftTokenCeiling <= 0 {
		c.SoftTokenCeiling = d.SoftTokenCeiling
	}
	if c.HardTokenCeiling <= 0 {
		c.HardTokenCeiling = d.HardTokenCeiling
	}
	if c.AmplificationShare <= 0 {
		c.AmplificationShare = d.AmplificationShare
	}
	return c
}

// Item is one document as it will be shown to the model.
type Item struct {
	Record  model.ContentRecord `json:"record"`
	Text    string              `json:"text"`
	Quality float64             `json:"quality"`
}

// Bundle is the assembled input for one place.
type Bundle struct {
	Place                 model.Place `json:"place"`
	CommunityVerified     []Item      `json:"community_verified"`
	CommunityOther        []Item      `json:"community_other"`
	LongForm              []Item      `json:"long_form"`
	Structural            []Item      `json:"structural"`
	AmplificationSuspects []string    `json:"amplification_suspects"`
	EstimatedTokens       int         `json:"estimated_tokens"`
	DroppedForBudget      int         `json:"dropped_for_budget"`
	OverHardCeiling       bool        `json:"over_hard_ceiling"`
	AssembledAt           time.Time   `json:"assembled_at"`
}

// Documents returns every kept item: verified community, other community,
// long-form, then structural.
func (b *Bundle) Documents() []Item {
	out := make([]Item, 0, len(b.CommunityVerified)+len(b.CommunityOther)+len(b.LongForm)+len(b.Structural))
	out = append(out, b.CommunityVerified...)
	out = append(out, b.CommunityOther...)
	out = append(out, b.LongForm...)
	out = append(out, b.Structural...)
	return out
}

// Empty reports whether the bundle has no documents at all.
func (b *Bundle) Empty() bool {
	return len(b.CommunityVerified)+len(b.CommunityOther)+len(b.LongForm)+len(b.Structural) == 0
}

// EstimateTokens approximates token count as characters / 4.
func EstimateTokens(chars int) int {
	return chars / 4
}

func (b *Bundle) tokens() int {
	chars := 0
	for _, it := range b.Documents() {
		chars += len([]rune(it.Text))
	}
	return EstimateTokens(chars)
}

// Assembler builds bundles from a content reader.
type Assembler struct {
	reader    content.Reader
	cfg       Config
	converter *md.Converter
	now       func() time.Time
}

// NewAssembler creates an Assembler.
func NewAssembler(reader content.Reader, cfg Config) *Assembler {
	return &Assembler{
		reader:    reader,
		cfg:       cfg.withDefaults(),
		converter: md.NewConverter("", true, nil),
		now:       time.Now,
	}
}

// Assemble reads every source kind for place and returns the bundle. A place
// with no content still yields a valid, empty bundle.
func (a *Assembler) Assemble(ctx context.Context, place model.Place) (*Bundle, error) {
	log := zap.L().With(zap.String("place", place.ID))
	now := a.now().UTC()

	raw := make(map[model.SourceKind][]model.ContentRecord, len(model.SourceKinds))
	for _, kind := range model.SourceKinds {
		recs, err := a.reader.Read(ctx, place, kind)
		if err != nil {
			return nil, eris.Wrapf(err, "bundle: read %s", kind)
		}
		raw[kind] = recs
	}

	b := &Bundle{Place: place, AssembledAt: now}
	b.CommunityVerified, b.CommunityOther = a.community(raw[model.SourceCommunity], now)
	b.LongForm = a.longForm(raw[model.SourceLongForm])
	b.Structural = a.structural(raw[model.SourceStructural])

	a.enforceBudget(b)
	b.AmplificationSuspects = AmplificationSuspects(b.Documents(), place.Name, a.cfg.AmplificationShare)

	log.Info("bundle: assembled",
		zap.Int("community_verified", len(b.CommunityVerified)),
		zap.Int("community_other", len(b.CommunityOther)),
		zap.Int("long_form", len(b.LongForm)),
		zap.Int("structural", len(b.Structural)),
		zap.Int("estimated_tokens", b.EstimatedTokens),
		zap.Int("dropped_for_budget", b.DroppedForBudget),
		zap.Int("amplification_suspects", len(b.AmplificationSuspects)),
	)
	if b.OverHardCeiling {
		log.Warn("bundle: over hard token ceiling after trimming community content",
			zap.Int("estimated_tokens", b.EstimatedTokens),
			zap.Int("hard_ceiling", a.cfg.HardTokenCeiling),
		)
	}
	return b, nil
}

func (a *Assembler) community(recs []model.ContentRecord, now time.Time) (verified, other []Item) {
	for _, r := range recs {
		it := Item{Record: r, Text: itemText(r.Title, r.Body), Quality: Quality(r, now)}
		if r.VerifiedLocal {
			verified = append(verified, it)
			continue
		}
		if r.Engagement < a.cfg.MinEngagement || r.ApprovalRatio < a.cfg.MinApprovalRatio {
			continue
		}
		other = append(other, it)
	}
	sortByQuality(verified)
	sortByQuality(other)
	if len(other) > a.cfg.MaxCommunityOther {
		other = other[:a.cfg.MaxCommunityOther]
	}
	return verified, other
}

func (a *Assembler) longForm(recs []model.ContentRecord) []Item {
	sorted := make([]model.ContentRecord, len(recs))
	copy(sorted, recs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].PublishedAt.Equal(sorted[j].PublishedAt) {
			return sorted[i].PublishedAt.After(sorted[j].PublishedAt)
		}
		return sorted[i].ID < sorted[j].ID
	})
	if len(sorted) > a.cfg.MaxLongForm {
		sorted = sorted[:a.cfg.MaxLongForm]
	}

	out := make([]Item, 0, len(sorted))
	for _, r := range sorted {
		body := a.toText(r)
		out = append(out, Item{Record: r, Text: truncateRunes(itemText(r.Title, body), a.cfg.LongFormCharBudget)})
	}
	return out
}

func (a *Assembler) structural(recs []model.ContentRecord) []Item {
	out := make([]Item, 0, len(recs))
	for _, r := range recs {
		out = append(out, Item{Record: r, Text: itemText(r.Title, a.toText(r))})
	}
	return out
}

// toText converts HTML bodies to Markdown. A conversion failure falls back
// to the raw body.
func (a *Assembler) toText(r model.ContentRecord) string {
	if !strings.EqualFold(r.Format, "html") {
		return r.Body
	}
	out, err := a.converter.ConvertString(r.Body)
	if err != nil {
		zap.L().Debug("bundle: html conversion failed", zap.String("record", r.ID), zap.Error(err))
		return r.Body
	}
	return strings.TrimSpace(out)
}

// enforceBudget drops the lowest-ranked unverified community items until the
// estimate is under the soft ceiling, then verified items until it is under
// the hard ceiling.
func (a *Assembler) enforceBudget(b *Bundle) {
	tokens := b.tokens()
	for tokens > a.cfg.SoftTokenCeiling && len(b.CommunityOther) > 0 {
		b.CommunityOther = b.CommunityOther[:len(b.CommunityOther)-1]
		b.DroppedForBudget++
		tokens = b.tokens()
	}
	for tokens > a.cfg.HardTokenCeiling && len(b.CommunityVerified) > 0 {
		b.CommunityVerified = b.CommunityVerified[:len(b.CommunityVerified)-1]
		b.DroppedForBudget++
		tokens = b.tokens()
	}
	b.EstimatedTokens = tokens
	b.OverHardCeiling = tokens > a.cfg.HardTokenCeiling
}

// Quality ranks a community record by engagement, approval, discussion
// depth and recency (half-life of one year).
func Quality(r model.ContentRecord, now time.Time) float64 {
	eng := math.Log1p(math.Max(0, float64(r.Engagement)))
	comments := math.Min(float64(r.CommentCount), 20)
	if comments < 0 {
		comments = 0
	}
	ageDays := 0.0
	if !r.PublishedAt.IsZero() && now.After(r.PublishedAt) {
		ageDays = now.Sub(r.PublishedAt).Hours() / 24
	}
	return eng * r.ApprovalRatio * (1 + 0.1*comments) * math.Pow(0.5, ageDays/365)
}

func sortByQuality(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Quality != items[j].Quality {
			return items[i].Quality > items[j].Quality
		}
		return items[i].Record.ID < items[j].Record.ID
	})
}

func itemText(title, body string) string {
	title = strings.TrimSpace(title)
	body = strings.TrimSpace(body)
	if title == "" {
		return body
	}
	if body == "" {
		return title
	}
	return title + "\n" + body
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
