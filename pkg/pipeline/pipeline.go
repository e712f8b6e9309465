// Package pipeline wires classification, caching, retrieval, context
// assembly and completion into a single request/response or request/stream
// flow.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/andrew/rag-engine/pkg/cache"
	"github.com/andrew/rag-engine/pkg/cache/embedcache"
	"github.com/andrew/rag-engine/pkg/cache/respcache"
	"github.com/andrew/rag-engine/pkg/classifier"
	"github.com/andrew/rag-engine/pkg/llm"
	"github.com/andrew/rag-engine/pkg/models"
	"github.com/andrew/rag-engine/pkg/vector"
)

const defaultSystemPrompt = "You are a careful assistant. Answer using only the provided context. If the context does not contain the answer, say so."

// Retriever is the slice of the retrieval service the pipeline needs
type Retriever interface {
	Retrieve(ctx context.Context, query string, filter *vector.Filter, k int) ([]models.CandidatePassage, error)
}

// ContextBuilder assembles the prompt context under a byte budget
type ContextBuilder interface {
	Build(ctx context.Context, passages []models.CandidatePassage, history []models.Message, budgetBytes int) models.ContextBundle
}

// Request is one query through the pipeline
type Request struct {
	Query        string
	DomainFilter string   // explicit domain scope; overrides classification
	DocumentIDs  []string // optional document scope
	SessionID    string   // empty for stateless queries
	History      []models.Message
	TopK         int
}

// Event is one item of a streamed answer: token events while the model
// produces output, then a single final event carrying the assembled result.
// A failed stream delivers the partial result with Incomplete set and Err
// describing the failure.
type Event struct {
	Token string
	Final *models.AnswerResult
	Err   error
}

// Config holds pipeline tuning knobs
type Config struct {
	TopK              int
	PromptBudgetBytes int
	Workers           int // bound on concurrently served queries
	SystemPrompt      string
	// MinRouteConfidence is the classification confidence below which the
	// domain label is not used to scope retrieval
	MinRouteConfidence float64
	Model              llm.ModelConfig
}

// DefaultConfig returns the default pipeline settings
func DefaultConfig() Config {
	return Config{
		TopK:               5,
		PromptBudgetBytes:  12 * 1024,
		Workers:            8,
		SystemPrompt:       defaultSystemPrompt,
		MinRouteConfidence: 0.2,
		Model:              llm.DefaultModelConfig(),
	}
}

// StoreStats is the per-store cache introspection snapshot
type StoreStats struct {
	Responses  cache.Stats      `json:"responses"`
	Embeddings embedcache.Stats `json:"embeddings"`
}

// Pipeline is the query orchestrator. Stores are injected at construction
// and shared across all queries; lifecycle is tied to application startup
// and shutdown rather than hidden globals.
type Pipeline struct {
	classifier classifier.Classifier
	retriever  Retriever
	builder    ContextBuilder
	client     llm.Client
	responses  *respcache.Cache
	embeddings *embedcache.Cache
	cfg        Config
	sem        chan struct{}
	logger     *slog.Logger
}

// New creates a Pipeline over the given collaborators
func New(cls classifier.Classifier, retriever Retriever, builder ContextBuilder, client llm.Client,
	responses *respcache.Cache, embeddings *embedcache.Cache, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.PromptBudgetBytes <= 0 {
		cfg.PromptBudgetBytes = def.PromptBudgetBytes
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = def.SystemPrompt
	}
	if cfg.MinRouteConfidence <= 0 {
		cfg.MinRouteConfidence = def.MinRouteConfidence
	}
	if cfg.Model.MaxTokens == 0 {
		cfg.Model = def.Model
	}
	return &Pipeline{
		classifier: cls,
		retriever:  retriever,
		builder:    builder,
		client:     client,
		responses:  responses,
		embeddings: embeddings,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.Workers),
		logger:     slog.Default().With("component", "pipeline"),
	}
}

// Answer runs the full flow and returns the complete answer
func (p *Pipeline) Answer(ctx context.Context, req Request) (models.AnswerResult, error) {
	if err := p.acquire(ctx); err != nil {
		return models.AnswerResult{}, err
	}
	defer p.release()

	classification, filters := p.route(ctx, req)

	if cached, ok := p.responses.Lookup(req.Query, filters, req.SessionID); ok {
		return cached, nil
	}

	passages, bundle, err := p.gather(ctx, req, filters)
	if err != nil {
		return models.AnswerResult{}, err
	}

	answer, err := p.client.Complete(ctx, p.promptMessages(req.Query, bundle), p.cfg.Model)
	if err != nil {
		return models.AnswerResult{}, generationError(err)
	}

	result := models.AnswerResult{
		Answer:         answer,
		Sources:        passages,
		Classification: classification,
	}
	p.responses.Store(req.Query, filters, req.SessionID, result)
	return result, nil
}

// AnswerStream runs the full flow, delivering tokens as they arrive. The
// returned channel is closed after the final event. A cache hit yields a
// single final event with no token events. If the caller stops reading or
// cancels ctx mid-stream, accumulation and caching still complete; only the
// provider can cancel the underlying completion.
func (p *Pipeline) AnswerStream(ctx context.Context, req Request) (<-chan Event, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, err
	}

	classification, filters := p.route(ctx, req)

	if cached, ok := p.responses.Lookup(req.Query, filters, req.SessionID); ok {
		p.release()
		out := make(chan Event, 1)
		out <- Event{Final: &cached}
		close(out)
		return out, nil
	}

	passages, bundle, err := p.gather(ctx, req, filters)
	if err != nil {
		p.release()
		return nil, err
	}

	// Detach from caller cancellation: a disconnected caller does not waste
	// the completion, the accumulated answer still lands in the cache.
	streamCtx := context.WithoutCancel(ctx)
	tokens, err := p.client.CompleteStream(streamCtx, p.promptMessages(req.Query, bundle), p.cfg.Model)
	if err != nil {
		p.release()
		return nil, generationError(err)
	}

	out := make(chan Event, 32)
	go func() {
		defer p.release()
		defer close(out)

		var accumulated strings.Builder
		var streamErr error
		for token := range tokens {
			if token.Err != nil {
				streamErr = token.Err
				break
			}
			accumulated.WriteString(token.Content)
			p.emit(ctx, out, Event{Token: token.Content})
		}

		result := models.AnswerResult{
			Answer:         accumulated.String(),
			Sources:        passages,
			Classification: classification,
			Incomplete:     streamErr != nil,
		}
		if streamErr != nil {
			p.emit(ctx, out, Event{Final: &result, Err: generationError(streamErr)})
			return
		}
		p.responses.Store(req.Query, filters, req.SessionID, result)
		p.emit(ctx, out, Event{Final: &result})
	}()

	return out, nil
}

// InvalidateResponses drops every cached answer. Wired as the invalidation
// hook for the document-ingestion collaborator: any change to the document
// set makes cached answers untrustworthy.
func (p *Pipeline) InvalidateResponses() int {
	n := p.responses.InvalidateAll()
	p.logger.Info("response cache invalidated", "entries", n)
	return n
}

// Stats returns per-store cache counters
func (p *Pipeline) Stats() StoreStats {
	return StoreStats{
		Responses:  p.responses.Stats(),
		Embeddings: p.embeddings.Stats(),
	}
}

// route classifies the query and resolves the retrieval filters that also
// key the response cache.
func (p *Pipeline) route(ctx context.Context, req Request) (models.Classification, respcache.Filters) {
	classification, err := p.classifier.Classify(ctx, req.Query)
	if err != nil {
		// The composed classifier is total; this is belt and braces.
		classification = models.Classification{Domain: models.DomainGeneral, Method: models.MethodKeywordFallback}
	}

	domain := req.DomainFilter
	if domain == "" && classification.Domain != models.DomainGeneral &&
		classification.Confidence >= p.cfg.MinRouteConfidence {
		domain = classification.Domain
	}
	return classification, respcache.Filters{Domain: domain, DocumentIDs: req.DocumentIDs}
}

func (p *Pipeline) gather(ctx context.Context, req Request, filters respcache.Filters) ([]models.CandidatePassage, models.ContextBundle, error) {
	var filter *vector.Filter
	if filters.Domain != "" || len(filters.DocumentIDs) > 0 {
		filter = &vector.Filter{Domain: filters.Domain, DocumentIDs: filters.DocumentIDs}
	}

	topK := req.TopK
	if topK <= 0 {
		topK = p.cfg.TopK
	}

	passages, err := p.retriever.Retrieve(ctx, req.Query, filter, topK)
	if err != nil {
		return nil, models.ContextBundle{}, retrievalError(err)
	}

	bundle := p.builder.Build(ctx, passages, req.History, p.cfg.PromptBudgetBytes)
	return bundle.Passages, bundle, nil
}

// promptMessages assembles the completion input: system instructions, the
// retrieved content, an optional history summary, the surviving turns and
// finally the user's question.
func (p *Pipeline) promptMessages(query string, bundle models.ContextBundle) []models.Message {
	messages := []models.Message{{Role: models.RoleSystem, Content: p.cfg.SystemPrompt}}

	if len(bundle.Passages) > 0 {
		var content strings.Builder
		content.WriteString("CONTENT:\n")
		for _, passage := range bundle.Passages {
			content.WriteString(fmt.Sprintf("# SOURCE: %s", passage.DocumentID))
			if passage.Section != "" {
				content.WriteString(" / " + passage.Section)
			}
			if passage.Page > 0 {
				content.WriteString(fmt.Sprintf(" (page %d)", passage.Page))
			}
			content.WriteString("\n\n")
			content.WriteString(passage.Text)
			content.WriteString("\n\n")
		}
		messages = append(messages, models.Message{Role: models.RoleSystem, Content: content.String()})
	}

	if bundle.Summary != "" {
		messages = append(messages, models.Message{
			Role:    models.RoleSystem,
			Content: "Summary of the earlier conversation: " + bundle.Summary,
		})
	}

	for _, m := range bundle.HistoryMessages {
		if m.Role != models.RoleSystem {
			messages = append(messages, m)
		}
	}

	return append(messages, models.Message{Role: models.RoleUser, Content: query})
}

func (p *Pipeline) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case p.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) release() {
	<-p.sem
}

// emit forwards an event without blocking on a departed caller
func (p *Pipeline) emit(ctx context.Context, out chan<- Event, ev Event) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
