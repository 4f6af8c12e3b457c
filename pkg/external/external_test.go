package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestChatClient_Complete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("api-key"))
		assert.Contains(t, r.URL.Path, "/openai/deployments/gpt-4o/chat/completions")

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "hello"}, "finish_reason": "stop"},
			},
		})
	}))
	defer server.Close()

	client := NewChatClient(domain.LLMConfig{
		Endpoint:   server.URL,
		APIKey:     "test-key",
		APIVersion: "2024-02-15-preview",
		Deployment: "gpt-4o",
		Timeout:    5 * time.Second,
		RateLimit:  100,
	}, testLogger())

	content, err := client.Complete(context.Background(), ChatRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", content)
}

func TestChatClient_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "recovered"}},
			},
		})
	}))
	defer server.Close()

	client := NewChatClient(domain.LLMConfig{
		Endpoint:   server.URL,
		Deployment: "gpt-4o",
		Timeout:    5 * time.Second,
		RateLimit:  100,
		RetryCount: 3,
	}, testLogger())
	client.retryCfg.InitialDelay = time.Millisecond

	content, err := client.Complete(context.Background(), ChatRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestChatClient_DoesNotRetryClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewChatClient(domain.LLMConfig{
		Endpoint:   server.URL,
		Deployment: "gpt-4o",
		Timeout:    5 * time.Second,
		RateLimit:  100,
		RetryCount: 3,
	}, testLogger())
	client.retryCfg.InitialDelay = time.Millisecond

	_, err := client.Complete(context.Background(), ChatRequest{Prompt: "hi"})
	require.Error(t, err)
	var statusErr *StatusError
	assert.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusBadRequest, statusErr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestBERTClient_Score(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/similarity", r.URL.Path)
		var req similarityRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(similarityResponse{Similarity: 0.9321})
	}))
	defer server.Close()

	client := NewBERTClient(domain.SimilarityConfig{
		Endpoint:  server.URL,
		Timeout:   5 * time.Second,
		RateLimit: 100,
	}, testLogger())

	score, err := client.Score(context.Background(), "Pneumonia", "Bronchopneumonia")
	require.NoError(t, err)
	assert.InDelta(t, 0.9321, score, 1e-9)
}

func TestBERTClient_RejectsOutOfRangeScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(similarityResponse{Similarity: 1.7})
	}))
	defer server.Close()

	client := NewBERTClient(domain.SimilarityConfig{
		Endpoint:  server.URL,
		Timeout:   5 * time.Second,
		RateLimit: 100,
	}, testLogger())

	_, err := client.Score(context.Background(), "a", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of range")
}

func TestTextAnalyticsClient_Extract(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/text/analytics/v3.1/entities/health", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))

		fmt.Fprint(w, `{
			"documents": [
				{
					"id": "0",
					"entities": [
						{
							"text": "pneumonia",
							"category": "Diagnosis",
							"confidenceScore": 0.99,
							"name": "Pneumonia",
							"links": [
								{"name": "ICD10CM", "entityId": "J18.9"},
								{"name": "SNOMEDCT_US", "entityId": "233604007"},
								{"name": "ICD10CM", "entityId": "J18.9"},
								{"name": "MSH", "entityId": "D011014"}
							]
						}
					]
				},
				{"id": "1", "entities": []}
			],
			"errors": []
		}`)
	}))
	defer server.Close()

	client := NewTextAnalyticsClient(domain.TextAnalyticsConfig{
		Endpoint:  server.URL,
		APIKey:    "secret",
		Timeout:   5 * time.Second,
		RateLimit: 100,
		BatchSize: 5,
	}, testLogger())

	results, err := client.Extract(context.Background(), []string{"pneumonia", "unknown thing"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "pneumonia", results[0].Text)
	assert.Equal(t, "Pneumonia", results[0].NormalizedText)
	assert.Equal(t, []string{"J18.9"}, results[0].Codes.ICD10)
	assert.Equal(t, []string{"233604007"}, results[0].Codes.SNOMED)

	// Unmatched documents fall back to the raw text with empty codes.
	assert.Equal(t, "unknown thing", results[1].NormalizedText)
	assert.True(t, results[1].Codes.IsEmpty())
}

func TestClassifySource(t *testing.T) {
	tests := []struct {
		source string
		system domain.CodeSystem
		ok     bool
	}{
		{"ICD10CM", domain.SystemICD10, true},
		{"icd-10-cm", domain.SystemICD10, true},
		{"SNOMEDCT_US", domain.SystemSNOMED, true},
		{"SCT", domain.SystemSNOMED, true},
		{"OMIM", domain.SystemOMIM, true},
		{"ORPHANET", domain.SystemOrpha, true},
		{"MSH", "", false},
		{"UMLS", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			system, ok := classifySource(tt.source)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.system, system)
			}
		})
	}
}

type stubLLM struct {
	response string
	err      error
	lastReq  ChatRequest
}

func (s *stubLLM) Complete(_ context.Context, req ChatRequest) (string, error) {
	s.lastReq = req
	return s.response, s.err
}

func TestJudge_Rank(t *testing.T) {
	tests := []struct {
		name     string
		response string
		err      error
		want     int
	}{
		{"picks candidate", "2", nil, 2},
		{"none", "0", nil, 0},
		{"whitespace", " 3 \n", nil, 3},
		{"out of range", "9", nil, 0},
		{"negative", "-1", nil, 0},
		{"unparseable", "the second one", nil, 0},
	}

	candidates := []string{"Bronchitis", "Pneumonia", "Asthma", "COPD", "Tuberculosis"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &stubLLM{response: tt.response, err: tt.err}
			judge := NewJudge(llm, domain.LLMConfig{Deployment: "gpt-4o"}, testLogger())

			got, err := judge.Rank(context.Background(), "Pneumonia", candidates)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJudge_PropagatesLLMError(t *testing.T) {
	llm := &stubLLM{err: errors.New("unreachable")}
	judge := NewJudge(llm, domain.LLMConfig{Deployment: "gpt-4o"}, testLogger())

	_, err := judge.Rank(context.Background(), "Pneumonia", []string{"Bronchitis"})
	assert.Error(t, err)
}

func TestJudge_EmptyCandidates(t *testing.T) {
	judge := NewJudge(&stubLLM{response: "1"}, domain.LLMConfig{}, testLogger())
	got, err := judge.Rank(context.Background(), "Pneumonia", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, got)
}

func TestSimilarityCache_MemoryTier(t *testing.T) {
	cache, err := NewSimilarityCache(domain.CacheConfig{MemorySize: 16}, testLogger())
	require.NoError(t, err)

	ctx := context.Background()
	_, ok := cache.Get(ctx, "a", "b")
	assert.False(t, ok)

	cache.Set(ctx, "a", "b", 0.8412)
	score, ok := cache.Get(ctx, "a", "b")
	require.True(t, ok)
	assert.InDelta(t, 0.8412, score, 1e-9)

	// Ordered pairs: (b, a) is a distinct key.
	_, ok = cache.Get(ctx, "b", "a")
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len())
}

func TestResilientChatLLM_OpensAfterFailures(t *testing.T) {
	llm := &stubLLM{err: errors.New("down")}
	resilient := NewResilientChatLLM(llm, "llm", testLogger())

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := resilient.Complete(ctx, ChatRequest{Prompt: "hi"})
		require.Error(t, err)
	}

	// Breaker is now open: the inner client is no longer reached.
	llm.err = nil
	llm.response = "back"
	_, err := resilient.Complete(ctx, ChatRequest{Prompt: "hi"})
	assert.Error(t, err)
}
