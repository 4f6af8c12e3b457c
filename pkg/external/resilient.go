package external

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// newBreaker builds the circuit breaker settings shared by all outbound
// clients: trip after 3+ requests with a 60% failure ratio.
func newBreaker(name string, logger *logrus.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state change")
		},
	})
}

// ResilientChatLLM wraps a ChatLLM with a circuit breaker.
type ResilientChatLLM struct {
	inner   ChatLLM
	breaker *gobreaker.CircuitBreaker
}

// NewResilientChatLLM creates a breaker-protected chat client.
func NewResilientChatLLM(inner ChatLLM, name string, logger *logrus.Logger) *ResilientChatLLM {
	return &ResilientChatLLM{inner: inner, breaker: newBreaker(name, logger)}
}

// Complete implements ChatLLM.
func (r *ResilientChatLLM) Complete(ctx context.Context, req ChatRequest) (string, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Complete(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// ResilientSimilarityScorer wraps a SimilarityScorer with a circuit breaker.
type ResilientSimilarityScorer struct {
	inner   SimilarityScorer
	breaker *gobreaker.CircuitBreaker
}

// NewResilientSimilarityScorer creates a breaker-protected similarity client.
func NewResilientSimilarityScorer(inner SimilarityScorer, logger *logrus.Logger) *ResilientSimilarityScorer {
	return &ResilientSimilarityScorer{inner: inner, breaker: newBreaker("bert", logger)}
}

// Score implements SimilarityScorer.
func (r *ResilientSimilarityScorer) Score(ctx context.Context, textA, textB string) (float64, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Score(ctx, textA, textB)
	})
	if err != nil {
		return 0, err
	}
	return result.(float64), nil
}

// WarmUp implements SimilarityScorer; warm-up bypasses the breaker so a
// single cold-start failure cannot trip it before the run begins.
func (r *ResilientSimilarityScorer) WarmUp(ctx context.Context) error {
	return r.inner.WarmUp(ctx)
}

// ResilientEntityLinker wraps an EntityLinker with a circuit breaker.
type ResilientEntityLinker struct {
	inner   EntityLinker
	breaker *gobreaker.CircuitBreaker
}

// NewResilientEntityLinker creates a breaker-protected entity linker.
func NewResilientEntityLinker(inner EntityLinker, logger *logrus.Logger) *ResilientEntityLinker {
	return &ResilientEntityLinker{inner: inner, breaker: newBreaker("text-analytics", logger)}
}

// Extract implements EntityLinker.
func (r *ResilientEntityLinker) Extract(ctx context.Context, texts []string) ([]ExtractionResult, error) {
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.inner.Extract(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return result.([]ExtractionResult), nil
}
