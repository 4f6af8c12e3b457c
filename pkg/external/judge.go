package external

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// Judge asks the LLM which candidate diagnosis is most clinically
// interchangeable with a reference diagnosis. It returns the 1-based index
// into the candidate list, or 0 for "none".
type Judge struct {
	llm        ChatLLM
	deployment string
	log        *logrus.Logger
}

// NewJudge creates the LLM tie-breaker.
func NewJudge(llm ChatLLM, config domain.LLMConfig, logger *logrus.Logger) *Judge {
	deployment := config.JudgeDeployment
	if deployment == "" {
		deployment = config.Deployment
	}
	return &Judge{llm: llm, deployment: deployment, log: logger}
}

const judgePromptTemplate = `You are a medical expert evaluating diagnostic similarity.

Reference diagnosis: %s

Differential diagnosis options:
%s

Which of the differential diagnosis options is most clinically similar or interchangeable with the reference diagnosis? Consider:
- Clinical presentation overlap
- Pathophysiology similarity
- Treatment approach similarity
- Differential diagnosis overlap

Respond with ONLY the number (1-%d) of the most similar option. If none are clinically similar, respond with "0".

Answer:`

// Rank returns the judge's choice among candidates, 0 for "none". An
// unparseable or out-of-range answer degrades to 0 rather than an error:
// the caller falls back to embedding-only acceptance logic.
func (j *Judge) Rank(ctx context.Context, reference string, candidates []string) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	var options strings.Builder
	for i, candidate := range candidates {
		fmt.Fprintf(&options, "%d. %s\n", i+1, candidate)
	}

	prompt := fmt.Sprintf(judgePromptTemplate, reference, strings.TrimRight(options.String(), "\n"), len(candidates))

	response, err := j.llm.Complete(ctx, ChatRequest{
		Deployment:  j.deployment,
		Prompt:      prompt,
		Temperature: 0.1,
		MaxTokens:   10,
	})
	if err != nil {
		return 0, err
	}

	answer := strings.TrimSpace(response)
	var position int
	if _, err := fmt.Sscanf(answer, "%d", &position); err != nil {
		j.log.WithField("answer", answer).Warn("Judge returned unparseable answer")
		return 0, nil
	}
	if position < 0 || position > len(candidates) {
		j.log.WithField("position", position).Warn("Judge returned out-of-range position")
		return 0, nil
	}
	return position, nil
}
