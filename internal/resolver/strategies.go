package resolver

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/textmatch"
)

const (
	exactConfidence      = 1.0
	fuzzyWordThreshold   = 0.70
	fuzzyMinMatchPct     = 0.50
	fuzzyNameWeight      = 0.85
	fuzzyCategoryScore   = 0.85
	aliasConfidence      = 0.80
	deviceConfidence     = 0.85
	timeRangeConfidence  = 0.90
	retrievalConfidence  = 0.90
	defaultRetrievalConf = 0.50
)

// Input is the per-call view shared by every strategy.
type Input struct {
	Text     string
	Words    []string
	Snapshot *catalog.Snapshot
}

func newInput(text string, snap *catalog.Snapshot) *Input {
	normalized := textmatch.Normalize(text)
	return &Input{Text: normalized, Words: strings.Fields(normalized), Snapshot: snap}
}

// Strategy is one stage of the audit cascade.
type Strategy interface {
	Name() string
	Apply(in *Input) (Result, bool)
}

// DefaultStrategies returns the cascade in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		auditIDStrategy{patterns: auditIDPatterns},
		exactNameStrategy{},
		exactCategoryStrategy{},
		fuzzyNameStrategy{threshold: fuzzyWordThreshold, minMatch: fuzzyMinMatchPct, weight: fuzzyNameWeight},
		fuzzyCategoryStrategy{threshold: fuzzyWordThreshold, confidence: fuzzyCategoryScore},
	}
}

var auditIDPatterns = compileAll(
	`\baudit\s+(?:id\s+)?(\d+)\b`,
	`\bid\s+(\d+)\b`,
	`\bexecute\s+(?:audit\s+)?(\d+)\b`,
	`\brun\s+(?:audit\s+)?(\d+)\b`,
	`\bstart\s+(?:audit\s+)?(\d+)\b`,
	`\blaunch\s+(?:audit\s+)?(\d+)\b`,
	`\b(\d+)(?:st|nd|rd|th)?\s*audit\b`,
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

type auditIDStrategy struct {
	patterns []*regexp.Regexp
}

func (auditIDStrategy) Name() string { return "audit_id" }

func (s auditIDStrategy) Apply(in *Input) (Result, bool) {
	for _, re := range s.patterns {
		for _, m := range re.FindAllStringSubmatch(in.Text, -1) {
			id, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			if audit, ok := in.Snapshot.LookupByID(id); ok {
				return specific(audit, exactConfidence), true
			}
		}
	}
	return Result{}, false
}

type exactNameStrategy struct{}

func (exactNameStrategy) Name() string { return "exact_name" }

func (exactNameStrategy) Apply(in *Input) (Result, bool) {
	for _, e := range in.Snapshot.AuditEntries() {
		if textmatch.ContainsPhrase(in.Text, e.Key) {
			return specific(e.Audit, exactConfidence), true
		}
	}
	return Result{}, false
}

type exactCategoryStrategy struct{}

func (exactCategoryStrategy) Name() string { return "exact_category" }

func (exactCategoryStrategy) Apply(in *Input) (Result, bool) {
	for _, c := range in.Snapshot.Categories() {
		if textmatch.ContainsPhrase(in.Text, c.Key) {
			return clarification(c.Label, in.Snapshot.ByCategory(c.Label), exactConfidence), true
		}
	}
	return Result{}, false
}

// fuzzyNameStrategy scores every audit by the share of its name words that
// have a similar word in the text. The whole catalog is scanned and only a
// strictly better score replaces the current best.
type fuzzyNameStrategy struct {
	threshold float64
	minMatch  float64
	weight    float64
}

func (fuzzyNameStrategy) Name() string { return "fuzzy_name" }

func (s fuzzyNameStrategy) Apply(in *Input) (Result, bool) {
	if len(in.Words) == 0 {
		return Result{}, false
	}

	bestIdx, bestPct := -1, 0.0
	entries := in.Snapshot.AuditEntries()
	for i, e := range entries {
		if len(e.Words) == 0 {
			continue
		}
		hits := 0
		for _, aw := range e.Words {
			if anySimilar(aw, in.Words, s.threshold) {
				hits++
			}
		}
		pct := float64(hits) / float64(len(e.Words))
		if pct >= s.minMatch && pct > bestPct {
			bestIdx, bestPct = i, pct
		}
	}

	if bestIdx < 0 {
		return Result{}, false
	}
	return specific(entries[bestIdx].Audit, s.weight*bestPct), true
}

type fuzzyCategoryStrategy struct {
	threshold  float64
	confidence float64
}

func (fuzzyCategoryStrategy) Name() string { return "fuzzy_category" }

func (s fuzzyCategoryStrategy) Apply(in *Input) (Result, bool) {
	for _, c := range in.Snapshot.Categories() {
		if c.Key == "" {
			continue
		}
		if anySimilar(c.Key, in.Words, s.threshold) {
			return clarification(c.Label, in.Snapshot.ByCategory(c.Label), s.confidence), true
		}
	}
	return Result{}, false
}

func anySimilar(word string, candidates []string, threshold float64) bool {
	for _, c := range candidates {
		if textmatch.Similarity(word, c) >= threshold {
			return true
		}
	}
	return false
}
