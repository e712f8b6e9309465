package embedcache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingCompute(calls *int, vector []float32) ComputeFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		*calls++
		return vector, nil
	}
}

func TestGetOrComputeCallsComputeOncePerText(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	calls := 0
	fn := countingCompute(&calls, []float32{0.1, 0.2})

	for i := 0; i < 5; i++ {
		vec, err := c.GetOrCompute(context.Background(), "the quick brown fox", fn)
		require.NoError(t, err)
		assert.Equal(t, []float32{0.1, 0.2}, vec)
	}

	assert.Equal(t, 1, calls)
	st := c.Stats()
	assert.Equal(t, uint64(4), st.ExactHits)
	assert.Equal(t, uint64(1), st.Misses)
}

func TestSimilarTextReusesCachedVector(t *testing.T) {
	c := New(Config{SimilarityThreshold: 0.8})
	defer c.Close()

	calls := 0
	fn := countingCompute(&calls, []float32{1, 2, 3})

	_, err := c.GetOrCompute(context.Background(), "the quick brown fox jumps over the lazy dog", fn)
	require.NoError(t, err)

	// Whitespace and case variants share the same token set.
	vec, err := c.GetOrCompute(context.Background(), "The  quick   BROWN fox jumps over the lazy dog", fn)
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "similarity hit must not call computeFn")
	assert.Equal(t, []float32{1, 2, 3}, vec)

	st := c.Stats()
	assert.Equal(t, uint64(1), st.SimilarityHits)
	assert.InDelta(t, 0.5, st.HitRate, 1e-9)
}

func TestDissimilarTextComputesFresh(t *testing.T) {
	c := New(Config{})
	defer c.Close()

	calls := 0
	fn := countingCompute(&calls, []float32{1})

	_, err := c.GetOrCompute(context.Background(), "maritime navigation charts", fn)
	require.NoError(t, err)
	_, err = c.GetOrCompute(context.Background(), "chemical reaction kinetics", fn)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestThresholdOneDisablesApproximateReuse(t *testing.T) {
	c := New(Config{SimilarityThreshold: 1.0})
	defer c.Close()

	calls := 0
	fn := countingCompute(&calls, []float32{1})

	_, err := c.GetOrCompute(context.Background(), "alpha beta gamma delta epsilon", fn)
	require.NoError(t, err)
	// Four of five tokens shared: below a 1.0 threshold.
	_, err = c.GetOrCompute(context.Background(), "alpha beta gamma delta zeta", fn)
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestHashTextIsStable(t *testing.T) {
	assert.Equal(t, HashText("abc"), HashText("abc"))
	assert.NotEqual(t, HashText("abc"), HashText("abd"))
}

func TestOverlapCoefficient(t *testing.T) {
	a := tokenSet("one two three four")
	b := tokenSet("one two three four")
	assert.InDelta(t, 1.0, overlapCoefficient(a, b), 1e-9)

	c := tokenSet("one two")
	assert.InDelta(t, 1.0, overlapCoefficient(a, c), 1e-9, "subset overlaps fully against the smaller set")

	d := tokenSet("five six seven")
	assert.InDelta(t, 0.0, overlapCoefficient(a, d), 1e-9)
}
