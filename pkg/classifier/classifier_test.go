package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrew/rag-engine/pkg/llm"
	"github.com/andrew/rag-engine/pkg/models"
)

type fakeCompleter struct {
	response string
	err      error
	calls    int
}

func (f *fakeCompleter) Complete(ctx context.Context, messages []models.Message, config llm.ModelConfig) (string, error) {
	f.calls++
	return f.response, f.err
}

func TestKeywordClassifierSection304Scenario(t *testing.T) {
	c := NewKeywordClassifier(KeywordSets{"law": {"section", "penal", "act"}})

	got, err := c.Classify(context.Background(), "What is Section 304?")
	require.NoError(t, err)
	assert.Equal(t, "law", got.Domain)
	assert.Equal(t, models.MethodKeywordFallback, got.Method)
	assert.Greater(t, got.Confidence, 0.0)
}

func TestKeywordClassifierIsDeterministic(t *testing.T) {
	c := NewKeywordClassifier(DefaultKeywordSets())

	first, err := c.Classify(context.Background(), "the reaction produced an acid compound")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		got, err := c.Classify(context.Background(), "the reaction produced an acid compound")
		require.NoError(t, err)
		assert.Equal(t, first, got)
	}
	assert.Equal(t, "chemistry", first.Domain)
}

func TestKeywordClassifierNoMatchReturnsGeneral(t *testing.T) {
	c := NewKeywordClassifier(DefaultKeywordSets())

	got, err := c.Classify(context.Background(), "hello there")
	require.NoError(t, err)
	assert.Equal(t, models.DomainGeneral, got.Domain)
	assert.Equal(t, 0.0, got.Confidence)
}

func TestKeywordClassifierWordBoundary(t *testing.T) {
	c := NewKeywordClassifier(KeywordSets{"law": {"act"}})

	got, err := c.Classify(context.Background(), "the actor reacted to factual data")
	require.NoError(t, err)
	assert.Equal(t, models.DomainGeneral, got.Domain, "substrings must not match")

	got, err = c.Classify(context.Background(), "the Act of 1923")
	require.NoError(t, err)
	assert.Equal(t, "law", got.Domain, "matching is case-insensitive")
}

func TestModelClassifierParsesConstrainedReply(t *testing.T) {
	fc := &fakeCompleter{response: "law 0.85"}
	c := NewModelClassifier(fc, DefaultKeywordSets(), time.Second)

	got, err := c.Classify(context.Background(), "What is Section 304?")
	require.NoError(t, err)
	assert.Equal(t, "law", got.Domain)
	assert.InDelta(t, 0.85, got.Confidence, 1e-9)
	assert.Equal(t, models.MethodModel, got.Method)
}

func TestModelClassifierRejectsLabelOutsideSet(t *testing.T) {
	fc := &fakeCompleter{response: "astrology 0.9"}
	c := NewModelClassifier(fc, DefaultKeywordSets(), time.Second)

	_, err := c.Classify(context.Background(), "anything")
	assert.Error(t, err)
}

func TestFallbackUsedWhenModelFails(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("connection refused")}
	model := NewModelClassifier(fc, DefaultKeywordSets(), time.Second)
	keyword := NewKeywordClassifier(DefaultKeywordSets())
	c := WithFallback(model, keyword)

	got, err := c.Classify(context.Background(), "What is Section 304 of the penal code?")
	require.NoError(t, err)
	assert.Equal(t, "law", got.Domain)
	assert.Equal(t, models.MethodKeywordFallback, got.Method)
}

func TestFallbackMatchesDirectKeywordResult(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("timeout")}
	keyword := NewKeywordClassifier(DefaultKeywordSets())
	composed := WithFallback(NewModelClassifier(fc, DefaultKeywordSets(), time.Second), keyword)

	text := "portfolio dividend revenue"
	direct, err := keyword.Classify(context.Background(), text)
	require.NoError(t, err)
	viaFallback, err := composed.Classify(context.Background(), text)
	require.NoError(t, err)
	assert.Equal(t, direct, viaFallback)
}
