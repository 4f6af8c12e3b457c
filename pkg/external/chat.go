package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/pkg/retry"
)

// ChatClient talks to an Azure OpenAI-style chat completions endpoint.
type ChatClient struct {
	endpoint   string
	apiKey     string
	apiVersion string
	deployment string
	httpClient *http.Client
	limiter    *rate.Limiter
	retryCfg   retry.Config
	log        *logrus.Logger
}

// NewChatClient creates a new chat completions client.
func NewChatClient(config domain.LLMConfig, logger *logrus.Logger) *ChatClient {
	rl := config.RateLimit
	if rl <= 0 {
		rl = 1
	}
	retryCfg := retry.DefaultConfig()
	if config.RetryCount > 0 {
		retryCfg.MaxAttempts = config.RetryCount
	}
	retryCfg.Retryable = IsRetryable

	return &ChatClient{
		endpoint:   strings.TrimRight(config.Endpoint, "/"),
		apiKey:     config.APIKey,
		apiVersion: config.APIVersion,
		deployment: config.Deployment,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(rl), rl),
		retryCfg:   retryCfg,
		log:        logger,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Messages       []chatMessage          `json:"messages"`
	Temperature    float64                `json:"temperature"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	ResponseFormat map[string]interface{} `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat completion request and returns the raw text of
// the first choice.
func (c *ChatClient) Complete(ctx context.Context, req ChatRequest) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", err
	}

	deployment := req.Deployment
	if deployment == "" {
		deployment = c.deployment
	}

	endpoint := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?%s",
		c.endpoint, url.PathEscape(deployment),
		url.Values{"api-version": {c.apiVersion}}.Encode())

	var messages []chatMessage
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body := chatCompletionRequest{
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONSchema != nil {
		body.ResponseFormat = map[string]interface{}{
			"type": "json_schema",
			"json_schema": map[string]interface{}{
				"name":   "response",
				"schema": req.JSONSchema,
				"strict": true,
			},
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling chat request: %w", err)
	}

	var content string
	err = retry.Do(ctx, c.retryCfg, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating chat request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("api-key", c.apiKey)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("executing chat request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading chat response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &StatusError{Status: resp.StatusCode, Body: string(respBody)}
		}

		var parsed chatCompletionResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return fmt.Errorf("parsing chat response: %w", err)
		}
		if parsed.Error != nil {
			return fmt.Errorf("chat endpoint error %s: %s", parsed.Error.Code, parsed.Error.Message)
		}
		if len(parsed.Choices) == 0 {
			return fmt.Errorf("chat response contained no choices")
		}

		content = parsed.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		c.log.WithError(err).WithField("deployment", deployment).Warn("Chat completion failed")
		return "", err
	}

	return content, nil
}
