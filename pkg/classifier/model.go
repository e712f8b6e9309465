package classifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/andrew/rag-engine/pkg/llm"
	"github.com/andrew/rag-engine/pkg/models"
)

// Completer is the slice of the completion client the model classifier needs
type Completer interface {
	Complete(ctx context.Context, messages []models.Message, config llm.ModelConfig) (string, error)
}

// ModelClassifier asks the completion service to pick one label from a fixed
// set. Any failure, timeout or out-of-set answer is an error so the caller's
// fallback can take over.
type ModelClassifier struct {
	client  Completer
	labels  []string
	timeout time.Duration
}

// NewModelClassifier creates a model-backed classifier over the label set
// derived from the keyword table.
func NewModelClassifier(client Completer, sets KeywordSets, timeout time.Duration) *ModelClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ModelClassifier{
		client:  client,
		labels:  sets.Domains(),
		timeout: timeout,
	}
}

// Classify sends the text with the fixed label set through a constrained prompt
func (c *ModelClassifier) Classify(ctx context.Context, text string) (models.Classification, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	prompt := fmt.Sprintf(
		"Classify the text into exactly one of these domains: %s.\nReply with the domain followed by a confidence between 0 and 1, for example: law 0.9\n\nText: %s",
		strings.Join(c.labels, ", "), text)

	out, err := c.client.Complete(ctx, []models.Message{
		{Role: models.RoleUser, Content: prompt},
	}, llm.ModelConfig{Temperature: 0, MaxTokens: 16})
	if err != nil {
		return models.Classification{}, fmt.Errorf("model classification failed: %w", err)
	}

	domain, confidence, err := c.parse(out)
	if err != nil {
		return models.Classification{}, err
	}
	return models.Classification{
		Domain:     domain,
		Confidence: confidence,
		Method:     models.MethodModel,
	}, nil
}

func (c *ModelClassifier) parse(out string) (string, float64, error) {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(out)))
	if len(fields) == 0 {
		return "", 0, fmt.Errorf("empty classification response")
	}

	label := strings.Trim(fields[0], ".,:")
	valid := false
	for _, l := range c.labels {
		if label == l {
			valid = true
			break
		}
	}
	if !valid {
		return "", 0, fmt.Errorf("label %q outside the fixed set", label)
	}

	confidence := 1.0
	if len(fields) > 1 {
		if v, err := strconv.ParseFloat(fields[1], 64); err == nil && v >= 0 && v <= 1 {
			confidence = v
		}
	}
	return label, confidence, nil
}
