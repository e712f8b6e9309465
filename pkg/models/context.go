package models

// ContextBundle is the assembled input for a completion call: ranked passages,
// recent conversation turns and an optional summary of older ones, all fitting
// under a byte budget.
type ContextBundle struct {
	Passages        []CandidatePassage `json:"passages"`
	HistoryMessages []Message          `json:"history_messages"`
	Summary         string             `json:"summary,omitempty"`
	TotalSizeBytes  int                `json:"total_size_bytes"`
	Truncated       bool               `json:"truncated"`
}

// AnswerResult is the final response to a query
type AnswerResult struct {
	Answer         string             `json:"answer"`
	Sources        []CandidatePassage `json:"sources,omitempty"`
	Classification Classification     `json:"classification"`
	CacheHit       bool               `json:"cache_hit"`
	Incomplete     bool               `json:"incomplete,omitempty"`
}
