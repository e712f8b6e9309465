package llm

import (
	"context"

	"github.com/andrew/rag-engine/pkg/models"
)

// Client is the interface for the completion, embedding and summarization
// services backing the engine. Implementations are opaque remote services;
// every call carries an explicit timeout and bounded retry.
type Client interface {
	// Complete runs the conversation through the model and returns the full answer
	Complete(ctx context.Context, messages []models.Message, config ModelConfig) (string, error)

	// CompleteStream returns a channel of tokens as the model produces them.
	// The channel is closed when the stream ends; a failed stream delivers a
	// final Token carrying the error after any tokens already produced.
	CompleteStream(ctx context.Context, messages []models.Message, config ModelConfig) (<-chan Token, error)

	// EmbedText converts text into a vector; deterministic for identical input
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// Summarize folds the given messages into a single short text
	Summarize(ctx context.Context, messages []models.Message) (string, error)

	// Close releases resources used by the client
	Close() error
}

// Token is one unit of a streamed completion
type Token struct {
	Content string
	Err     error
}

// ModelConfig holds configuration parameters for model generation
type ModelConfig struct {
	Temperature   float32
	TopP          float32
	MaxTokens     int
	StopSequences []string
}

// DefaultModelConfig returns a default configuration
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Temperature: 0.7,
		TopP:        0.9,
		MaxTokens:   2048,
	}
}
