package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ollama/ollama/api"

	"github.com/andrew/rag-engine/pkg/models"
)

// OllamaConfig holds connection and retry settings for the Ollama backend
type OllamaConfig struct {
	BaseURL        string
	Model          string
	EmbeddingModel string
	SummaryModel   string
	RequestTimeout time.Duration
	EmbedTimeout   time.Duration
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxEmbedChars  int
}

// DefaultOllamaConfig returns the default Ollama settings
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		BaseURL:        "http://localhost:11434",
		Model:          "llama3",
		EmbeddingModel: "llama3",
		RequestTimeout: 2 * time.Minute,
		EmbedTimeout:   10 * time.Second,
		MaxAttempts:    2,
		BaseDelay:      200 * time.Millisecond,
		MaxEmbedChars:  2048,
	}
}

// OllamaClient talks to a local or remote Ollama server
type OllamaClient struct {
	client *api.Client
	cfg    OllamaConfig
}

// NewOllamaClient creates a client for the given Ollama server
func NewOllamaClient(cfg OllamaConfig) (*OllamaClient, error) {
	def := DefaultOllamaConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = cfg.Model
	}
	if cfg.SummaryModel == "" {
		cfg.SummaryModel = cfg.Model
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = def.EmbedTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxEmbedChars <= 0 {
		cfg.MaxEmbedChars = def.MaxEmbedChars
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL %q: %w", cfg.BaseURL, err)
	}

	return &OllamaClient{
		client: api.NewClient(base, &http.Client{}),
		cfg:    cfg,
	}, nil
}

// Complete runs the conversation through the model and returns the full answer
func (c *OllamaClient) Complete(ctx context.Context, messages []models.Message, config ModelConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := c.chatRequest(messages, config, false)

	var answer strings.Builder
	err := backoff.Retry(func() error {
		answer.Reset()
		return c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			answer.WriteString(resp.Message.Content)
			return nil
		})
	}, c.newBackOff(ctx))
	if err != nil {
		return "", fmt.Errorf("ollama chat failed: %w", err)
	}
	return answer.String(), nil
}

// CompleteStream streams tokens as the model produces them. The request is
// retried only while no token has been delivered; once the caller has seen
// output, a failure is reported on the channel instead.
func (c *OllamaClient) CompleteStream(ctx context.Context, messages []models.Message, config ModelConfig) (<-chan Token, error) {
	req := c.chatRequest(messages, config, true)
	out := make(chan Token, 32)

	go func() {
		defer close(out)
		streamCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		delivered := false
		err := backoff.Retry(func() error {
			err := c.client.Chat(streamCtx, req, func(resp api.ChatResponse) error {
				if resp.Message.Content != "" {
					delivered = true
					out <- Token{Content: resp.Message.Content}
				}
				return nil
			})
			if err != nil && delivered {
				// Mid-stream failure: retrying would replay tokens.
				return backoff.Permanent(err)
			}
			return err
		}, c.newBackOff(streamCtx))
		if err != nil {
			out <- Token{Err: fmt.Errorf("ollama stream failed: %w", err)}
		}
	}()

	return out, nil
}

// EmbedText converts text into a vector. Oversized text is truncated before
// the call; embedding models reject very long prompts.
func (c *OllamaClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if len(text) > c.cfg.MaxEmbedChars {
		text = text[:c.cfg.MaxEmbedChars]
	}

	req := &api.EmbeddingRequest{
		Model:  c.cfg.EmbeddingModel,
		Prompt: text,
	}

	var embedding []float64
	err := backoff.Retry(func() error {
		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.EmbedTimeout)
		defer cancel()
		resp, err := c.client.Embeddings(reqCtx, req)
		if err != nil {
			return err
		}
		embedding = resp.Embedding
		return nil
	}, c.newBackOff(ctx))
	if err != nil {
		return nil, fmt.Errorf("ollama embedding failed: %w", err)
	}

	vector := make([]float32, len(embedding))
	for i, v := range embedding {
		vector[i] = float32(v)
	}
	return vector, nil
}

// Summarize folds the given messages into a single short text
func (c *OllamaClient) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		transcript.WriteString(string(m.Role))
		transcript.WriteString(": ")
		transcript.WriteString(m.Content)
		transcript.WriteString("\n")
	}

	prompt := []models.Message{
		{Role: models.RoleSystem, Content: "Condense the following conversation into a short factual summary. Keep names, numbers and decisions. Reply with the summary only."},
		{Role: models.RoleUser, Content: transcript.String()},
	}

	cfg := ModelConfig{Temperature: 0, MaxTokens: 512}
	summary, err := c.completeWithModel(ctx, c.cfg.SummaryModel, prompt, cfg)
	if err != nil {
		return "", fmt.Errorf("summarization failed: %w", err)
	}
	return strings.TrimSpace(summary), nil
}

// Close releases resources used by the client
func (c *OllamaClient) Close() error {
	return nil
}

func (c *OllamaClient) completeWithModel(ctx context.Context, model string, messages []models.Message, config ModelConfig) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req := c.chatRequest(messages, config, false)
	req.Model = model

	var answer strings.Builder
	err := backoff.Retry(func() error {
		answer.Reset()
		return c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
			answer.WriteString(resp.Message.Content)
			return nil
		})
	}, c.newBackOff(ctx))
	if err != nil {
		return "", err
	}
	return answer.String(), nil
}

func (c *OllamaClient) chatRequest(messages []models.Message, config ModelConfig, stream bool) *api.ChatRequest {
	apiMessages := make([]api.Message, len(messages))
	for i, m := range messages {
		apiMessages[i] = api.Message{Role: string(m.Role), Content: m.Content}
	}

	options := map[string]any{
		"temperature": config.Temperature,
		"top_p":       config.TopP,
	}
	if config.MaxTokens > 0 {
		options["num_predict"] = config.MaxTokens
	}
	if len(config.StopSequences) > 0 {
		options["stop"] = config.StopSequences
	}

	return &api.ChatRequest{
		Model:    c.cfg.Model,
		Messages: apiMessages,
		Options:  options,
		Stream:   &stream,
	}
}

func (c *OllamaClient) newBackOff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BaseDelay
	return backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxAttempts-1)), ctx)
}
