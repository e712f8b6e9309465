// Package classifier assigns coarse domain labels to queries and document
// chunks. A model-backed classifier is composed with a deterministic keyword
// classifier through a fallback wrapper; the keyword path is total and is the
// same function whether invoked directly or as a fallback.
package classifier

import (
	"context"
	"log/slog"

	"github.com/andrew/rag-engine/pkg/models"
)

// Classifier assigns a domain label to a piece of text
type Classifier interface {
	Classify(ctx context.Context, text string) (models.Classification, error)
}

// KeywordSets maps a domain label to the keywords associated with it
type KeywordSets map[string][]string

// DefaultKeywordSets returns the built-in domain keyword table
func DefaultKeywordSets() KeywordSets {
	return KeywordSets{
		"law":        {"section", "penal", "act", "statute", "court", "clause", "amendment"},
		"chemistry":  {"reaction", "compound", "molecule", "acid", "solvent", "catalyst"},
		"finance":    {"revenue", "dividend", "interest", "loan", "equity", "portfolio"},
		"medicine":   {"diagnosis", "symptom", "dosage", "treatment", "patient", "clinical"},
		"technology": {"server", "protocol", "database", "software", "network", "api"},
	}
}

// Domains returns the label set in sorted order, with "general" appended
func (k KeywordSets) Domains() []string {
	labels := make([]string, 0, len(k)+1)
	for d := range k {
		labels = append(labels, d)
	}
	sortStrings(labels)
	return append(labels, models.DomainGeneral)
}

type fallbackClassifier struct {
	primary  Classifier
	fallback Classifier
	logger   *slog.Logger
}

// WithFallback composes two classifiers: the fallback runs whenever the
// primary returns an error. The fallback is expected to be total.
func WithFallback(primary, fallback Classifier) Classifier {
	return &fallbackClassifier{
		primary:  primary,
		fallback: fallback,
		logger:   slog.Default().With("component", "classifier"),
	}
}

func (c *fallbackClassifier) Classify(ctx context.Context, text string) (models.Classification, error) {
	result, err := c.primary.Classify(ctx, text)
	if err == nil {
		return result, nil
	}
	c.logger.Warn("primary classifier failed, using fallback", "error", err)
	return c.fallback.Classify(ctx, text)
}
