// Package external contains the outbound clients the harness depends on:
// the chat LLM used for generation, judging and severity assignment, the
// BERT similarity endpoint, and the Text Analytics for Health entity
// linker. Every client applies rate limiting, bounded retries and a
// circuit breaker; the cascade itself never talks to the network.
package external

import (
	"context"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// ChatRequest is a single chat completion request.
type ChatRequest struct {
	// Deployment overrides the client's default model deployment.
	Deployment  string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
	// JSONSchema, when set, asks the endpoint for schema-constrained JSON
	// output.
	JSONSchema map[string]interface{}
}

// ChatLLM generates text from a prompt.
type ChatLLM interface {
	Complete(ctx context.Context, req ChatRequest) (string, error)
}

// SimilarityScorer returns a semantic similarity in [0,1] for a pair of
// diagnosis strings.
type SimilarityScorer interface {
	Score(ctx context.Context, textA, textB string) (float64, error)
	WarmUp(ctx context.Context) error
}

// ExtractionResult is the entity-linker output for one input text.
type ExtractionResult struct {
	Text           string
	NormalizedText string
	Codes          domain.MedicalCodes
}

// EntityLinker extracts standardized medical codes from diagnosis text.
type EntityLinker interface {
	Extract(ctx context.Context, texts []string) ([]ExtractionResult, error)
}
