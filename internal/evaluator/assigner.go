package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/pkg/external"
)

const defaultSeverityPrompt = `You are a medical severity rater. For each diagnosis below, assign a severity from S0 (benign, self-limiting) to S10 (immediately life-threatening).

Diagnoses:
%s

Respond with a JSON object: {"assignments": [{"diagnosis": "<name>", "severity": "S<n>"}, ...]}, one entry per diagnosis, in the same order.`

var severitySchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"assignments": map[string]interface{}{
			"type": "array",
			"items": map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"diagnosis": map[string]interface{}{"type": "string"},
					"severity":  map[string]interface{}{"type": "string", "pattern": "^S(10|[0-9])$"},
				},
				"required":             []string{"diagnosis", "severity"},
				"additionalProperties": false,
			},
		},
	},
	"required":             []string{"assignments"},
	"additionalProperties": false,
}

// SeverityAssigner resolves severities for diagnosis texts through batched
// LLM calls, memoizing per normalized text. The cache is write-once: a text
// is never re-assigned within a run.
type SeverityAssigner struct {
	llm    external.ChatLLM
	cfg    domain.SeverityConfig
	prompt string
	log    *logrus.Logger

	mu    sync.RWMutex
	cache map[string]domain.Severity
}

// NewSeverityAssigner creates an assigner. prompt overrides the built-in
// template when non-empty; it must contain one %s verb for the diagnosis
// list.
func NewSeverityAssigner(llm external.ChatLLM, cfg domain.SeverityConfig, prompt string, logger *logrus.Logger) *SeverityAssigner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if prompt == "" {
		prompt = defaultSeverityPrompt
	}
	return &SeverityAssigner{
		llm:    llm,
		cfg:    cfg,
		prompt: prompt,
		log:    logger,
		cache:  make(map[string]domain.Severity),
	}
}

// Lookup returns the cached severity for a text, defaulting to S5.
func (a *SeverityAssigner) Lookup(text string) domain.Severity {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if sev, ok := a.cache[text]; ok {
		return sev
	}
	return domain.DefaultSeverity
}

// AssignAll resolves severities for every unique text not already cached,
// in deterministic batches. Unassignable texts (batch error, missing or
// invalid response entries) default to S5 and are cached as such so they are
// not retried.
func (a *SeverityAssigner) AssignAll(ctx context.Context, texts []string) error {
	pending := a.uniquePending(texts)
	if len(pending) == 0 {
		return nil
	}
	a.log.WithField("count", len(pending)).Info("Assigning severities in batch")

	var firstErr error
	for start := 0; start < len(pending); start += a.cfg.BatchSize {
		end := start + a.cfg.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		if err := a.assignBatch(ctx, pending[start:end]); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			a.log.WithError(err).Warn("Severity batch failed, defaulting batch to S5")
			a.storeDefaults(pending[start:end])
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}

func (a *SeverityAssigner) uniquePending(texts []string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	seen := make(map[string]struct{}, len(texts))
	pending := make([]string, 0, len(texts))
	for _, text := range texts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		if _, ok := a.cache[text]; ok {
			continue
		}
		pending = append(pending, text)
	}
	sort.Strings(pending)
	return pending
}

type severityAssignment struct {
	Diagnosis string `json:"diagnosis"`
	Severity  string `json:"severity"`
}

type severityBatchResponse struct {
	Assignments []severityAssignment `json:"assignments"`
}

func (a *SeverityAssigner) assignBatch(ctx context.Context, batch []string) error {
	var list strings.Builder
	for i, text := range batch {
		fmt.Fprintf(&list, "%d. %s\n", i+1, text)
	}

	raw, err := a.llm.Complete(ctx, external.ChatRequest{
		Prompt:     fmt.Sprintf(a.prompt, strings.TrimRight(list.String(), "\n")),
		JSONSchema: severitySchema,
		MaxTokens:  4096,
	})
	if err != nil {
		return fmt.Errorf("severity batch call: %w", err)
	}

	var parsed severityBatchResponse
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return fmt.Errorf("parsing severity batch response: %w", err)
	}

	assigned := make(map[string]domain.Severity, len(parsed.Assignments))
	for _, entry := range parsed.Assignments {
		sev, err := domain.ParseSeverity(entry.Severity)
		if err != nil {
			a.log.WithFields(logrus.Fields{
				"diagnosis": entry.Diagnosis,
				"severity":  entry.Severity,
			}).Warn("Invalid severity in batch response, defaulting to S5")
			sev = domain.DefaultSeverity
		}
		assigned[strings.TrimSpace(entry.Diagnosis)] = sev
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, text := range batch {
		if _, ok := a.cache[text]; ok {
			continue
		}
		if sev, ok := assigned[text]; ok {
			a.cache[text] = sev
		} else {
			a.log.WithField("diagnosis", text).Warn("Severity missing from batch response, defaulting to S5")
			a.cache[text] = domain.DefaultSeverity
		}
	}
	return nil
}

func (a *SeverityAssigner) storeDefaults(batch []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, text := range batch {
		if _, ok := a.cache[text]; !ok {
			a.cache[text] = domain.DefaultSeverity
		}
	}
}
