// Package retrieval implements hybrid search: dense vector similarity merged
// with a sparse keyword score, optionally reordered by a cross-encoder
// reranker.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/andrew/rag-engine/pkg/cache/embedcache"
	"github.com/andrew/rag-engine/pkg/models"
	"github.com/andrew/rag-engine/pkg/vector"
)

// Reranker computes a second-pass relevance score for a (query, passage)
// pair; higher is more relevant.
type Reranker interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

// Config contains configuration for the retrieval service
type Config struct {
	// OverfetchFactor multiplies k for the nearest-neighbor fetch so the
	// keyword score and reranker have room to reorder
	OverfetchFactor int

	// VectorWeight and KeywordWeight combine the normalized component scores.
	// Defaults 0.7/0.3; tuned empirically, not derived.
	VectorWeight  float64
	KeywordWeight float64
}

// DefaultConfig returns the default retrieval settings
func DefaultConfig() Config {
	return Config{
		OverfetchFactor: 3,
		VectorWeight:    0.7,
		KeywordWeight:   0.3,
	}
}

// Service retrieves and ranks candidate passages for a query
type Service struct {
	store      vector.Store
	embeddings *embedcache.Cache
	embedFn    embedcache.ComputeFunc
	reranker   Reranker
	cfg        Config
	logger     *slog.Logger
}

// New creates a retrieval service. reranker may be nil.
func New(store vector.Store, embeddings *embedcache.Cache, embedFn embedcache.ComputeFunc, reranker Reranker, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = def.OverfetchFactor
	}
	if cfg.VectorWeight <= 0 && cfg.KeywordWeight <= 0 {
		cfg.VectorWeight = def.VectorWeight
		cfg.KeywordWeight = def.KeywordWeight
	}
	if sum := cfg.VectorWeight + cfg.KeywordWeight; sum > 0 && sum != 1 {
		cfg.VectorWeight /= sum
		cfg.KeywordWeight /= sum
	}
	return &Service{
		store:      store,
		embeddings: embeddings,
		embedFn:    embedFn,
		reranker:   reranker,
		cfg:        cfg,
		logger:     slog.Default().With("component", "retrieval"),
	}
}

// Retrieve returns the top k passages for the query, ordered by relevance.
// Each passage carries its component scores for source attribution. Reranker
// failure degrades to combined-score ordering and never fails the call.
func (s *Service) Retrieve(ctx context.Context, query string, filter *vector.Filter, k int) ([]models.CandidatePassage, error) {
	if k <= 0 {
		k = 5
	}

	queryVector, err := s.embeddings.GetOrCompute(ctx, query, s.embedFn)
	if err != nil {
		return nil, fmt.Errorf("query embedding failed: %w", err)
	}

	matches, err := s.store.Search(ctx, queryVector, k*s.cfg.OverfetchFactor, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}

	queryTerms := termSet(query)
	candidates := make([]models.CandidatePassage, len(matches))
	for i, m := range matches {
		candidates[i] = models.CandidatePassage{
			ChunkID:      m.ID,
			DocumentID:   m.Payload.DocumentID,
			Text:         m.Payload.Text,
			VectorScore:  m.Score,
			KeywordScore: keywordScore(queryTerms, m.Payload.Text),
			Domain:       m.Payload.Domain,
			Page:         m.Payload.Page,
			Section:      m.Payload.Section,
			ChunkIndex:   m.Payload.ChunkIndex,
			IngestedAt:   m.Payload.IngestedAt,
		}
	}

	s.combine(candidates)

	ranked := s.rerank(ctx, query, candidates, k)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

// combine min-max normalizes both component scores over the candidate set
// and stores the weighted sum. Min-max scaling makes the final ordering
// invariant under monotonic rescaling of either component.
func (s *Service) combine(candidates []models.CandidatePassage) {
	normVec := minMax(candidates, func(p models.CandidatePassage) float64 { return p.VectorScore })
	normKey := minMax(candidates, func(p models.CandidatePassage) float64 { return p.KeywordScore })
	for i := range candidates {
		candidates[i].CombinedScore = s.cfg.VectorWeight*normVec[i] + s.cfg.KeywordWeight*normKey[i]
	}
	sortPassages(candidates, func(p models.CandidatePassage) float64 { return p.CombinedScore })
}

// rerank scores the top min(2k, n) candidates with the cross-encoder and
// orders them by that score. Any reranker error abandons reranking for the
// whole call.
func (s *Service) rerank(ctx context.Context, query string, candidates []models.CandidatePassage, k int) []models.CandidatePassage {
	if s.reranker == nil {
		return candidates
	}

	n := 2 * k
	if n > len(candidates) {
		n = len(candidates)
	}
	head := candidates[:n]

	scores := make([]float64, n)
	for i := range head {
		score, err := s.reranker.Score(ctx, query, head[i].Text)
		if err != nil {
			s.logger.Warn("reranker unavailable, keeping combined-score order", "error", err)
			return candidates
		}
		scores[i] = score
	}

	reranked := make([]models.CandidatePassage, n)
	copy(reranked, head)
	for i := range reranked {
		score := scores[i]
		reranked[i].RerankScore = &score
	}
	sortPassages(reranked, func(p models.CandidatePassage) float64 { return *p.RerankScore })
	return reranked
}

// sortPassages orders by score descending with the deterministic tie-break:
// newer ingestion first, then chunk index ascending, then chunk id.
func sortPassages(passages []models.CandidatePassage, score func(models.CandidatePassage) float64) {
	sort.SliceStable(passages, func(i, j int) bool {
		si, sj := score(passages[i]), score(passages[j])
		if si != sj {
			return si > sj
		}
		if !passages[i].IngestedAt.Equal(passages[j].IngestedAt) {
			return passages[i].IngestedAt.After(passages[j].IngestedAt)
		}
		if passages[i].ChunkIndex != passages[j].ChunkIndex {
			return passages[i].ChunkIndex < passages[j].ChunkIndex
		}
		return passages[i].ChunkID < passages[j].ChunkID
	})
}

func minMax(candidates []models.CandidatePassage, value func(models.CandidatePassage) float64) []float64 {
	lo, hi := value(candidates[0]), value(candidates[0])
	for _, c := range candidates[1:] {
		v := value(c)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	out := make([]float64, len(candidates))
	if hi == lo {
		// Constant component: contributes nothing to the ordering.
		return out
	}
	for i, c := range candidates {
		out[i] = (value(c) - lo) / (hi - lo)
	}
	return out
}

var termRe = regexp.MustCompile(`\p{L}+|\p{N}+`)

func termSet(s string) map[string]struct{} {
	terms := termRe.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		set[t] = struct{}{}
	}
	return set
}

// keywordScore is the fraction of query terms present in the passage:
// monotonic in term overlap and already in [0,1] before normalization.
func keywordScore(queryTerms map[string]struct{}, text string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	present := make(map[string]struct{})
	for _, t := range termRe.FindAllString(strings.ToLower(text), -1) {
		if _, ok := queryTerms[t]; ok {
			present[t] = struct{}{}
		}
	}
	return float64(len(present)) / float64(len(queryTerms))
}
