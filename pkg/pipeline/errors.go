package pipeline

import "fmt"

// ErrorKind labels the failure classes that surface to callers. Everything
// else (classification, reranking, cache sizing, budget overflow) degrades
// inside the pipeline and is never surfaced.
type ErrorKind string

const (
	// ErrKindRetrieval means the vector index failed after retries
	ErrKindRetrieval ErrorKind = "retrieval"
	// ErrKindGeneration means the completion service failed after retries
	ErrKindGeneration ErrorKind = "generation"
)

// QueryError is the structured error returned to callers
type QueryError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *QueryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

func retrievalError(err error) *QueryError {
	return &QueryError{Kind: ErrKindRetrieval, Message: "could not retrieve relevant passages", Err: err}
}

func generationError(err error) *QueryError {
	return &QueryError{Kind: ErrKindGeneration, Message: "could not generate an answer", Err: err}
}
