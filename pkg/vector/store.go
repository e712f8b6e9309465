package vector

import (
	"context"
	"time"
)

// Payload carries the retrieval metadata stored alongside each vector
type Payload struct {
	Text       string    `json:"text"`
	DocumentID string    `json:"document_id"`
	Domain     string    `json:"domain,omitempty"`
	Page       int       `json:"page,omitempty"`
	Section    string    `json:"section,omitempty"`
	ChunkIndex int       `json:"chunk_index"`
	IngestedAt time.Time `json:"ingested_at"`
}

// Record is a stored chunk vector with its payload
type Record struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Match is a nearest-neighbor search result; Score is cosine similarity
type Match struct {
	ID      string
	Score   float64
	Payload Payload
}

// Filter restricts a search to a domain and/or a document scope
type Filter struct {
	Domain      string
	DocumentIDs []string
}

// Store defines the interface for vector index operations
type Store interface {
	// Upsert inserts or updates vectors in the index
	Upsert(ctx context.Context, records []Record) error

	// Search finds the k nearest neighbors of the query vector, restricted by
	// filter when non-nil
	Search(ctx context.Context, vector []float32, k int, filter *Filter) ([]Match, error)

	// Delete removes vectors from the index
	Delete(ctx context.Context, ids []string) error

	// Close releases resources used by the store
	Close() error
}
