package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/pkg/retry"
)

// BERTClient scores semantic similarity of diagnosis text pairs against a
// hosted embedding endpoint.
type BERTClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	log        *logrus.Logger
	warmedUp   bool
}

// NewBERTClient creates a new similarity client.
func NewBERTClient(config domain.SimilarityConfig, logger *logrus.Logger) *BERTClient {
	rl := config.RateLimit
	if rl <= 0 {
		rl = 1
	}
	retryCfg := retry.DefaultConfig()
	if config.RetryCount > 0 {
		retryCfg.MaxAttempts = config.RetryCount
	}
	retryCfg.Retryable = IsRetryable

	return &BERTClient{
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		apiKey:     config.APIKey,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rl), rl),
		retryCfg:   retryCfg,
		log:        logger,
	}
}

type similarityRequest struct {
	TextA string `json:"text_a"`
	TextB string `json:"text_b"`
}

type similarityResponse struct {
	Similarity float64 `json:"similarity"`
}

// Score returns the similarity in [0,1] for a pair of texts.
func (c *BERTClient) Score(ctx context.Context, textA, textB string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(similarityRequest{TextA: textA, TextB: textB})
	if err != nil {
		return 0, fmt.Errorf("marshaling similarity request: %w", err)
	}

	var score float64
	err = retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/similarity", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating similarity request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing similarity request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading similarity response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Status: resp.StatusCode, Body: string(body)}
		}

		var parsed similarityResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return fmt.Errorf("parsing similarity response: %w", err)
		}
		if parsed.Similarity < 0 || parsed.Similarity > 1 {
			return fmt.Errorf("similarity %v out of range", parsed.Similarity)
		}

		score = parsed.Similarity
		return nil
	})
	if err != nil {
		return 0, err
	}
	return score, nil
}

// WarmUp pings the endpoint once so that cold-start latency is paid before
// the scoring loop begins. Failure is logged, not fatal: the first real
// score call will retry.
func (c *BERTClient) WarmUp(ctx context.Context) error {
	if c.warmedUp {
		return nil
	}
	if _, err := c.Score(ctx, "pneumonia", "pneumonia"); err != nil {
		c.log.WithError(err).Warn("BERT endpoint warm-up failed")
		return err
	}
	c.warmedUp = true
	c.log.Info("BERT endpoint warmed up")
	return nil
}
