package models

// ClassificationMethod identifies which classifier produced a result
type ClassificationMethod string

const (
	// MethodModel means the label came from the model-backed classifier
	MethodModel ClassificationMethod = "model"
	// MethodKeywordFallback means the deterministic keyword classifier was used
	MethodKeywordFallback ClassificationMethod = "keyword-fallback"
)

// DomainGeneral is returned when no domain keyword matches the text
const DomainGeneral = "general"

// Classification assigns a domain label to a query or a document chunk
type Classification struct {
	Domain     string               `json:"domain"`
	Confidence float64              `json:"confidence"`
	Method     ClassificationMethod `json:"method"`
}
