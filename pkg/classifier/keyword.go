package classifier

import (
	"context"
	"regexp"
	"sort"

	"github.com/andrew/rag-engine/pkg/models"
)

// KeywordClassifier scores each domain by case-insensitive, word-boundary
// keyword matches. It is pure and deterministic: the same text always yields
// the same classification, which keeps fallback behavior reproducible.
type KeywordClassifier struct {
	domains  []string // sorted, so ties resolve deterministically
	patterns map[string][]*regexp.Regexp
	sizes    map[string]int
}

// NewKeywordClassifier compiles the keyword table into matchers
func NewKeywordClassifier(sets KeywordSets) *KeywordClassifier {
	c := &KeywordClassifier{
		patterns: make(map[string][]*regexp.Regexp, len(sets)),
		sizes:    make(map[string]int, len(sets)),
	}
	for domain, keywords := range sets {
		c.domains = append(c.domains, domain)
		for _, kw := range keywords {
			c.patterns[domain] = append(c.patterns[domain],
				regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
		}
		c.sizes[domain] = len(keywords)
	}
	sort.Strings(c.domains)
	return c
}

// Classify never fails; when no keyword matches it returns the "general"
// domain with zero confidence.
func (c *KeywordClassifier) Classify(_ context.Context, text string) (models.Classification, error) {
	bestDomain := ""
	bestScore := 0
	for _, domain := range c.domains {
		score := 0
		for _, re := range c.patterns[domain] {
			score += len(re.FindAllStringIndex(text, -1))
		}
		if score > bestScore {
			bestDomain = domain
			bestScore = score
		}
	}

	if bestScore == 0 {
		return models.Classification{
			Domain:     models.DomainGeneral,
			Confidence: 0,
			Method:     models.MethodKeywordFallback,
		}, nil
	}

	confidence := float64(bestScore) / float64(c.sizes[bestDomain])
	if confidence > 1 {
		confidence = 1
	}
	return models.Classification{
		Domain:     bestDomain,
		Confidence: confidence,
		Method:     models.MethodKeywordFallback,
	}, nil
}

func sortStrings(s []string) {
	sort.Strings(s)
}
