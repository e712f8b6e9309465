package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/rag-engine/pkg/cache/embedcache"
	"github.com/andrew/rag-engine/pkg/vector"
)

type fakeStore struct {
	matches []vector.Match
	err     error
	lastK   int
}

func (f *fakeStore) Upsert(ctx context.Context, records []vector.Record) error { return nil }
func (f *fakeStore) Delete(ctx context.Context, ids []string) error            { return nil }
func (f *fakeStore) Close() error                                              { return nil }
func (f *fakeStore) Search(ctx context.Context, v []float32, k int, filter *vector.Filter) ([]vector.Match, error) {
	f.lastK = k
	return f.matches, f.err
}

type fakeReranker struct {
	scores map[string]float64
	err    error
}

func (f *fakeReranker) Score(ctx context.Context, query, passage string) (float64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.scores[passage], nil
}

func stubEmbed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func newService(t *testing.T, store vector.Store, reranker Reranker, cfg Config) *Service {
	t.Helper()
	ec := embedcache.New(embedcache.Config{})
	t.Cleanup(ec.Close)
	return New(store, ec, stubEmbed, reranker, cfg)
}

func baseTime() time.Time {
	return time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
}

func match(id string, score float64, text string, ingested time.Time, chunkIndex int) vector.Match {
	return vector.Match{
		ID:    id,
		Score: score,
		Payload: vector.Payload{
			Text:       text,
			DocumentID: "doc-" + id,
			ChunkIndex: chunkIndex,
			IngestedAt: ingested,
		},
	}
}

func TestRetrieveOrdersByCombinedScore(t *testing.T) {
	store := &fakeStore{matches: []vector.Match{
		match("a", 0.9, "completely unrelated text", baseTime(), 0),
		match("b", 0.5, "the penal code section on assembly", baseTime(), 0),
		match("c", 0.1, "another unrelated passage", baseTime(), 0),
	}}
	svc := newService(t, store, nil, Config{})

	got, err := svc.Retrieve(context.Background(), "penal code section", nil, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// "a" wins on vector score alone; "b" beats "c" via keyword overlap.
	assert.Equal(t, "a", got[0].ChunkID)
	assert.Equal(t, "b", got[1].ChunkID)
	assert.Equal(t, "c", got[2].ChunkID)
	assert.Greater(t, got[1].KeywordScore, got[2].KeywordScore)
}

func TestRetrieveOverfetchesAndTruncates(t *testing.T) {
	var matches []vector.Match
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		matches = append(matches, match(id, 0.5, "text "+id, baseTime(), 0))
	}
	store := &fakeStore{matches: matches}
	svc := newService(t, store, nil, Config{})

	got, err := svc.Retrieve(context.Background(), "text", nil, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 6, store.lastK, "fetches k * overfetch factor")
}

func TestRankingInvariantUnderVectorScoreRescaling(t *testing.T) {
	mk := func(scale float64) []string {
		store := &fakeStore{matches: []vector.Match{
			match("a", 0.8*scale, "alpha beta", baseTime(), 0),
			match("b", 0.6*scale, "penal section code", baseTime(), 0),
			match("c", 0.4*scale, "gamma delta", baseTime(), 0),
			match("d", 0.2*scale, "epsilon zeta", baseTime(), 0),
		}}
		svc := newService(t, store, nil, Config{})
		got, err := svc.Retrieve(context.Background(), "penal section", nil, 4)
		require.NoError(t, err)
		ids := make([]string, len(got))
		for i, p := range got {
			ids[i] = p.ChunkID
		}
		return ids
	}

	assert.Equal(t, mk(1), mk(100), "multiplying vector scores by a positive constant must not reorder")
}

func TestRerankerReordersTopCandidates(t *testing.T) {
	store := &fakeStore{matches: []vector.Match{
		match("a", 0.9, "passage one", baseTime(), 0),
		match("b", 0.8, "passage two", baseTime(), 0),
	}}
	reranker := &fakeReranker{scores: map[string]float64{
		"passage one": 0.2,
		"passage two": 0.9,
	}}
	svc := newService(t, store, reranker, Config{})

	got, err := svc.Retrieve(context.Background(), "query", nil, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ChunkID)
	require.NotNil(t, got[0].RerankScore)
	assert.InDelta(t, 0.9, *got[0].RerankScore, 1e-9)
}

func TestRerankerFailureFallsBackToCombinedOrder(t *testing.T) {
	store := &fakeStore{matches: []vector.Match{
		match("a", 0.9, "passage one", baseTime(), 0),
		match("b", 0.8, "passage two", baseTime(), 0),
	}}
	svc := newService(t, store, &fakeReranker{err: errors.New("model offline")}, Config{})

	got, err := svc.Retrieve(context.Background(), "query", nil, 2)
	require.NoError(t, err, "reranking failure must never fail the query")
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ChunkID)
	assert.Nil(t, got[0].RerankScore)
}

func TestVectorSearchErrorSurfaces(t *testing.T) {
	store := &fakeStore{err: errors.New("index unreachable")}
	svc := newService(t, store, nil, Config{})

	_, err := svc.Retrieve(context.Background(), "query", nil, 3)
	assert.Error(t, err)
}

func TestTieBreakByIngestionRecencyThenChunkIndex(t *testing.T) {
	older := baseTime()
	newer := baseTime().Add(time.Hour)
	store := &fakeStore{matches: []vector.Match{
		match("old", 0.5, "same text", older, 0),
		match("new-1", 0.5, "same text", newer, 1),
		match("new-0", 0.5, "same text", newer, 0),
	}}
	svc := newService(t, store, nil, Config{})

	got, err := svc.Retrieve(context.Background(), "unrelated query", nil, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"new-0", "new-1", "old"}, []string{got[0].ChunkID, got[1].ChunkID, got[2].ChunkID})
}

func TestRetrieveIsDeterministic(t *testing.T) {
	store := &fakeStore{matches: []vector.Match{
		match("a", 0.5, "penal", baseTime(), 2),
		match("b", 0.5, "penal", baseTime(), 1),
		match("c", 0.5, "penal", baseTime(), 3),
	}}
	svc := newService(t, store, nil, Config{})

	first, err := svc.Retrieve(context.Background(), "penal", nil, 3)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := svc.Retrieve(context.Background(), "penal", nil, 3)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestWeightsRenormalize(t *testing.T) {
	svc := newService(t, &fakeStore{}, nil, Config{VectorWeight: 7, KeywordWeight: 3})
	assert.InDelta(t, 0.7, svc.cfg.VectorWeight, 1e-9)
	assert.InDelta(t, 0.3, svc.cfg.KeywordWeight, 1e-9)
}
