package vector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedStore(t *testing.T) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	err := s.Upsert(context.Background(), []Record{
		{ID: "a", Vector: []float32{1, 0}, Payload: Payload{DocumentID: "d1", Domain: "law", Text: "section text"}},
		{ID: "b", Vector: []float32{0, 1}, Payload: Payload{DocumentID: "d2", Domain: "chemistry", Text: "reaction text"}},
		{ID: "c", Vector: []float32{0.9, 0.1}, Payload: Payload{DocumentID: "d1", Domain: "law", Text: "penal text"}},
	})
	require.NoError(t, err)
	return s
}

func TestMemorySearchOrdersByCosineSimilarity(t *testing.T) {
	s := seedStore(t)

	matches, err := s.Search(context.Background(), []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].ID)
	assert.Equal(t, "c", matches[1].ID)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestMemorySearchDomainFilter(t *testing.T) {
	s := seedStore(t)

	matches, err := s.Search(context.Background(), []float32{1, 1}, 10, &Filter{Domain: "chemistry"})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestMemorySearchDocumentScope(t *testing.T) {
	s := seedStore(t)

	matches, err := s.Search(context.Background(), []float32{1, 1}, 10, &Filter{DocumentIDs: []string{"d2"}})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "d2", matches[0].Payload.DocumentID)
}

func TestMemoryDelete(t *testing.T) {
	s := seedStore(t)

	require.NoError(t, s.Delete(context.Background(), []string{"a", "c"}))
	matches, err := s.Search(context.Background(), []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "b", matches[0].ID)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, cosineSimilarity([]float32{1}, []float32{1, 2}), "mismatched dimensions")
	assert.Zero(t, cosineSimilarity(nil, nil))
}

func TestPayloadCodecRoundTrip(t *testing.T) {
	in := Payload{
		Text:       "some text",
		DocumentID: "doc-1",
		Domain:     "law",
		Page:       4,
		Section:    "s2",
		ChunkIndex: 7,
		IngestedAt: time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	out := decodePayload(encodePayload(in))
	assert.Equal(t, in, out)
}
