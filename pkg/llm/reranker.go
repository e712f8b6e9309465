package llm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/andrew/rag-engine/pkg/models"
)

const rerankInstruction = "Rate how relevant the passage is to the question on a scale from 0 to 10. Reply with a single number and nothing else."

// OllamaReranker scores (query, passage) pairs with a constrained completion
// call, standing in for a dedicated cross-encoder model.
type OllamaReranker struct {
	client Client
}

// NewOllamaReranker creates a reranker on top of an existing client
func NewOllamaReranker(client Client) *OllamaReranker {
	return &OllamaReranker{client: client}
}

// Score returns a relevance score in [0,1]; higher is more relevant
func (r *OllamaReranker) Score(ctx context.Context, query, passage string) (float64, error) {
	prompt := fmt.Sprintf("%s\n\nQuestion: %s\n\nPassage: %s", rerankInstruction, query, passage)
	out, err := r.client.Complete(ctx, promptMessages(prompt), ModelConfig{Temperature: 0, MaxTokens: 8})
	if err != nil {
		return 0, fmt.Errorf("rerank call failed: %w", err)
	}
	return parseRerankScore(out)
}

func promptMessages(prompt string) []models.Message {
	return []models.Message{{Role: models.RoleUser, Content: prompt}}
}

func parseRerankScore(out string) (float64, error) {
	fields := strings.Fields(strings.TrimSpace(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("empty rerank response")
	}
	raw, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "."), 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable rerank response %q: %w", out, err)
	}
	score := raw / 10
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, nil
}
