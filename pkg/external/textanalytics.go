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

// TextAnalyticsClient extracts healthcare entities and their standardized
// codes (ICD-10, SNOMED, OMIM, ORPHA) from diagnosis text via a Text
// Analytics for Health-style endpoint.
type TextAnalyticsClient struct {
	endpoint   string
	apiKey     string
	batchSize  int
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	log        *logrus.Logger
}

// NewTextAnalyticsClient creates a new entity-linking client.
func NewTextAnalyticsClient(config domain.TextAnalyticsConfig, logger *logrus.Logger) *TextAnalyticsClient {
	rl := config.RateLimit
	if rl <= 0 {
		rl = 1
	}
	batch := config.BatchSize
	if batch <= 0 || batch > 5 {
		// The service caps healthcare batches at 5 documents.
		batch = 5
	}
	retryCfg := retry.DefaultConfig()
	if config.RetryCount > 0 {
		retryCfg.MaxAttempts = config.RetryCount
	}
	retryCfg.Retryable = IsRetryable

	return &TextAnalyticsClient{
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		apiKey:     config.APIKey,
		batchSize:  batch,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rl), rl),
		retryCfg:   retryCfg,
		log:        logger,
	}
}

type healthcareDocument struct {
	ID       string `json:"id"`
	Language string `json:"language"`
	Text     string `json:"text"`
}

type healthcareRequest struct {
	Documents []healthcareDocument `json:"documents"`
}

type healthcareResponse struct {
	Documents []struct {
		ID       string `json:"id"`
		Entities []struct {
			Text            string  `json:"text"`
			Category        string  `json:"category"`
			ConfidenceScore float64 `json:"confidenceScore"`
			Name            string  `json:"name"`
			DataSources     []struct {
				Name     string `json:"name"`
				EntityID string `json:"entityId"`
			} `json:"links"`
		} `json:"entities"`
	} `json:"documents"`
	Errors []struct {
		ID    string `json:"id"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	} `json:"errors"`
}

// Extract annotates each input text with medical codes. Per-document
// failures degrade to empty code sets so the cascade can still fall through
// to semantic matching; only transport-level failures are returned as
// errors.
func (c *TextAnalyticsClient) Extract(ctx context.Context, texts []string) ([]ExtractionResult, error) {
	results := make([]ExtractionResult, 0, len(texts))

	for start := 0; start < len(texts); start += c.batchSize {
		end := start + c.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := c.extractBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}

	return results, nil
}

func (c *TextAnalyticsClient) extractBatch(ctx context.Context, texts []string) ([]ExtractionResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	docs := make([]healthcareDocument, len(texts))
	for i, text := range texts {
		docs[i] = healthcareDocument{ID: fmt.Sprintf("%d", i), Language: "en", Text: text}
	}

	payload, err := json.Marshal(healthcareRequest{Documents: docs})
	if err != nil {
		return nil, fmt.Errorf("marshaling healthcare request: %w", err)
	}

	var parsed healthcareResponse
	err = retry.Do(ctx, c.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.endpoint+"/text/analytics/v3.1/entities/health", bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating healthcare request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing healthcare request: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading healthcare response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Status: resp.StatusCode, Body: string(body)}
		}

		parsed = healthcareResponse{}
		return json.Unmarshal(body, &parsed)
	})
	if err != nil {
		return nil, err
	}

	byID := make(map[string]ExtractionResult, len(texts))
	for _, doc := range parsed.Documents {
		result := ExtractionResult{}
		for _, entity := range doc.Entities {
			// The first linked entity name becomes the normalized text.
			if result.NormalizedText == "" && entity.Name != "" {
				result.NormalizedText = entity.Name
			}
			for _, source := range entity.DataSources {
				system, ok := classifySource(source.Name)
				if !ok {
					continue
				}
				result.Codes.Add(system, source.EntityID)
			}
		}
		byID[doc.ID] = result
	}
	for _, docErr := range parsed.Errors {
		c.log.WithFields(logrus.Fields{
			"document": docErr.ID,
			"error":    docErr.Error.Message,
		}).Warn("Healthcare entity extraction failed for document")
	}

	out := make([]ExtractionResult, len(texts))
	for i, text := range texts {
		result := byID[fmt.Sprintf("%d", i)]
		result.Text = text
		if result.NormalizedText == "" {
			result.NormalizedText = text
		}
		out[i] = result
	}
	return out, nil
}

// classifySource maps a data-source name to one of the four supported code
// systems by substring, following the service's source naming.
func classifySource(name string) (domain.CodeSystem, bool) {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "icd10") || strings.Contains(lower, "icd-10"):
		return domain.SystemICD10, true
	case strings.Contains(lower, "snomed") || strings.Contains(lower, "sct"):
		return domain.SystemSNOMED, true
	case strings.Contains(lower, "omim"):
		return domain.SystemOMIM, true
	case strings.Contains(lower, "orpha") || strings.Contains(lower, "orphanet"):
		return domain.SystemOrpha, true
	}
	return "", false
}
