package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/rag-engine/pkg/cache/embedcache"
	"github.com/andrew/rag-engine/pkg/cache/respcache"
	"github.com/andrew/rag-engine/pkg/classifier"
	"github.com/andrew/rag-engine/pkg/contextwin"
	"github.com/andrew/rag-engine/pkg/llm"
	"github.com/andrew/rag-engine/pkg/models"
	"github.com/andrew/rag-engine/pkg/vector"
)

type fakeRetriever struct {
	passages   []models.CandidatePassage
	err        error
	calls      int
	lastFilter *vector.Filter
}

func (f *fakeRetriever) Retrieve(ctx context.Context, query string, filter *vector.Filter, k int) ([]models.CandidatePassage, error) {
	f.calls++
	f.lastFilter = filter
	return f.passages, f.err
}

type fakeClient struct {
	answer        string
	completeErr   error
	completeCalls int
	streamTokens  []string
	streamErr     error
	lastMessages  []models.Message
}

func (f *fakeClient) Complete(ctx context.Context, messages []models.Message, config llm.ModelConfig) (string, error) {
	f.completeCalls++
	f.lastMessages = messages
	return f.answer, f.completeErr
}

func (f *fakeClient) CompleteStream(ctx context.Context, messages []models.Message, config llm.ModelConfig) (<-chan llm.Token, error) {
	f.lastMessages = messages
	out := make(chan llm.Token, len(f.streamTokens)+1)
	for _, t := range f.streamTokens {
		out <- llm.Token{Content: t}
	}
	if f.streamErr != nil {
		out <- llm.Token{Err: f.streamErr}
	}
	close(out)
	return out, nil
}

func (f *fakeClient) EmbedText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1}, nil
}

func (f *fakeClient) Summarize(ctx context.Context, messages []models.Message) (string, error) {
	return "summary", nil
}

func (f *fakeClient) Close() error { return nil }

type testPipeline struct {
	p         *Pipeline
	retriever *fakeRetriever
	client    *fakeClient
}

func newTestPipeline(t *testing.T, cfg Config) *testPipeline {
	t.Helper()

	retriever := &fakeRetriever{passages: []models.CandidatePassage{
		{ChunkID: "c1", DocumentID: "d1", Text: "Section 304 deals with unlawful assembly."},
	}}
	client := &fakeClient{answer: "It deals with unlawful assembly.", streamTokens: []string{"It deals ", "with unlawful ", "assembly."}}

	responses := respcache.New(respcache.Config{})
	t.Cleanup(responses.Close)
	embeddings := embedcache.New(embedcache.Config{})
	t.Cleanup(embeddings.Close)

	cls := classifier.NewKeywordClassifier(classifier.DefaultKeywordSets())
	builder := contextwin.New(client, contextwin.DefaultRecentTurns)

	return &testPipeline{
		p:         New(cls, retriever, builder, client, responses, embeddings, cfg),
		retriever: retriever,
		client:    client,
	}
}

func TestAnswerFullFlow(t *testing.T) {
	tp := newTestPipeline(t, Config{})

	result, err := tp.p.Answer(context.Background(), Request{Query: "What is Section 304 of the penal act?"})
	require.NoError(t, err)

	assert.Equal(t, "It deals with unlawful assembly.", result.Answer)
	require.Len(t, result.Sources, 1)
	assert.Equal(t, "c1", result.Sources[0].ChunkID)
	assert.Equal(t, "law", result.Classification.Domain)
	assert.False(t, result.CacheHit)
	require.NotNil(t, tp.retriever.lastFilter, "classified domain scopes retrieval")
	assert.Equal(t, "law", tp.retriever.lastFilter.Domain)
}

func TestAnswerCacheHitShortCircuits(t *testing.T) {
	tp := newTestPipeline(t, Config{})
	req := Request{Query: "What is Section 304?"}

	first, err := tp.p.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := tp.p.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Answer, second.Answer)

	assert.Equal(t, 1, tp.client.completeCalls, "a hit bypasses the completion call")
	assert.Equal(t, 1, tp.retriever.calls, "a hit bypasses retrieval")
}

func TestExplicitDomainFilterChangesCacheKey(t *testing.T) {
	tp := newTestPipeline(t, Config{})

	_, err := tp.p.Answer(context.Background(), Request{Query: "question", DomainFilter: "law"})
	require.NoError(t, err)
	_, err = tp.p.Answer(context.Background(), Request{Query: "question", DomainFilter: "chemistry"})
	require.NoError(t, err)

	assert.Equal(t, 2, tp.client.completeCalls, "different filters must not share cache entries")
}

func TestRetrievalFailureSurfacesAsQueryError(t *testing.T) {
	tp := newTestPipeline(t, Config{})
	tp.retriever.err = errors.New("index unreachable")

	_, err := tp.p.Answer(context.Background(), Request{Query: "anything"})
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, ErrKindRetrieval, qe.Kind)
}

func TestGenerationFailureSurfacesAsQueryError(t *testing.T) {
	tp := newTestPipeline(t, Config{})
	tp.client.completeErr = errors.New("model offline")

	_, err := tp.p.Answer(context.Background(), Request{Query: "anything"})
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, ErrKindGeneration, qe.Kind)
}

func TestAnswerStreamDeliversTokensThenFinal(t *testing.T) {
	tp := newTestPipeline(t, Config{})

	events, err := tp.p.AnswerStream(context.Background(), Request{Query: "What is Section 304?"})
	require.NoError(t, err)

	var tokens []string
	var final *models.AnswerResult
	for ev := range events {
		if ev.Final != nil {
			final = ev.Final
			continue
		}
		tokens = append(tokens, ev.Token)
	}

	assert.Equal(t, []string{"It deals ", "with unlawful ", "assembly."}, tokens)
	require.NotNil(t, final)
	assert.Equal(t, "It deals with unlawful assembly.", final.Answer)
	assert.False(t, final.Incomplete)

	// The accumulated stream landed in the response cache.
	cached, err := tp.p.Answer(context.Background(), Request{Query: "What is Section 304?"})
	require.NoError(t, err)
	assert.True(t, cached.CacheHit)
	assert.Equal(t, final.Answer, cached.Answer)
}

func TestAnswerStreamFailureKeepsPartialMarkedIncomplete(t *testing.T) {
	tp := newTestPipeline(t, Config{})
	tp.client.streamTokens = []string{"partial "}
	tp.client.streamErr = errors.New("stream cut")

	events, err := tp.p.AnswerStream(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	var final *models.AnswerResult
	var finalErr error
	for ev := range events {
		if ev.Final != nil {
			final = ev.Final
			finalErr = ev.Err
		}
	}

	require.NotNil(t, final)
	assert.True(t, final.Incomplete)
	assert.Equal(t, "partial ", final.Answer, "partial tokens are preserved, not discarded")
	var qe *QueryError
	require.ErrorAs(t, finalErr, &qe)
	assert.Equal(t, ErrKindGeneration, qe.Kind)

	// Incomplete answers are not cached.
	result, err := tp.p.Answer(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
}

func TestInvalidateResponsesForcesRecomputation(t *testing.T) {
	tp := newTestPipeline(t, Config{})
	req := Request{Query: "q"}

	_, err := tp.p.Answer(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, tp.p.InvalidateResponses())

	_, err = tp.p.Answer(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 2, tp.client.completeCalls)
}

func TestStatsReportsBothStores(t *testing.T) {
	tp := newTestPipeline(t, Config{})

	_, err := tp.p.Answer(context.Background(), Request{Query: "q"})
	require.NoError(t, err)
	_, err = tp.p.Answer(context.Background(), Request{Query: "q"})
	require.NoError(t, err)

	stats := tp.p.Stats()
	assert.Equal(t, uint64(1), stats.Responses.Hits)
	assert.Equal(t, uint64(1), stats.Responses.Misses)
}

func TestAcquireRespectsCancelledContext(t *testing.T) {
	tp := newTestPipeline(t, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tp.p.Answer(ctx, Request{Query: "q"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPromptIncludesContextAndQuery(t *testing.T) {
	tp := newTestPipeline(t, Config{SystemPrompt: "sys"})

	_, err := tp.p.Answer(context.Background(), Request{
		Query:   "the question",
		History: []models.Message{{Role: models.RoleUser, Content: "earlier turn"}},
	})
	require.NoError(t, err)

	msgs := tp.client.lastMessages
	require.NotEmpty(t, msgs)
	assert.Equal(t, "sys", msgs[0].Content)
	assert.Contains(t, msgs[1].Content, "Section 304 deals with unlawful assembly.")
	assert.Equal(t, "the question", msgs[len(msgs)-1].Content)
}
