package models

import "time"

// Document represents a source document that can be indexed for retrieval
type Document struct {
	ID          string            `json:"id"`
	Content     string            `json:"content"`
	Metadata    map[string]string `json:"metadata"`
	Source      string            `json:"source"`
	Domain      string            `json:"domain,omitempty"`
	Created     time.Time         `json:"created"`
	LastUpdated time.Time         `json:"last_updated"`
}

// Chunk represents a smaller piece of a document that can be vectorized
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Content    string            `json:"content"`
	Index      int               `json:"index"`
	Domain     string            `json:"domain,omitempty"`
	Page       int               `json:"page,omitempty"`
	Section    string            `json:"section,omitempty"`
	Metadata   map[string]string `json:"metadata"`
	Embedding  []float32         `json:"embedding,omitempty"`
	IngestedAt time.Time         `json:"ingested_at"`
}
