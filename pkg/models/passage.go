package models

import "time"

// CandidatePassage represents a document chunk that matched a query, carrying
// every component score so callers can attribute and debug the final ranking.
type CandidatePassage struct {
	ChunkID       string    `json:"chunk_id"`
	DocumentID    string    `json:"document_id"`
	Text          string    `json:"text"`
	VectorScore   float64   `json:"vector_score"`
	KeywordScore  float64   `json:"keyword_score"`
	CombinedScore float64   `json:"combined_score"`
	RerankScore   *float64  `json:"rerank_score,omitempty"`
	Domain        string    `json:"domain,omitempty"`
	Page          int       `json:"page,omitempty"`
	Section       string    `json:"section,omitempty"`
	ChunkIndex    int       `json:"chunk_index"`
	IngestedAt    time.Time `json:"ingested_at"`
}
