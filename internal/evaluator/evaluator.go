// Package evaluator drives the per-case evaluation loop and the surrounding
// run pipeline: match resolution across all GDX entries, batched severity
// assignment, and severity-distance scoring.
package evaluator

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// MatchResolver is the cascade contract consumed per (GDX, DDX-list) pair.
type MatchResolver interface {
	Resolve(ctx context.Context, gdx domain.Diagnosis, ddxList []domain.Diagnosis) domain.GDXTrace
}

// CaseEvaluator reduces all GDX entries of a case to a single best
// resolution while retaining every per-GDX trace.
type CaseEvaluator struct {
	resolver MatchResolver
	log      *logrus.Logger
}

// NewCaseEvaluator creates a case evaluator.
func NewCaseEvaluator(resolver MatchResolver, logger *logrus.Logger) *CaseEvaluator {
	return &CaseEvaluator{resolver: resolver, log: logger}
}

// Evaluate resolves every GDX of the case in declared order and keeps the
// best outcome: a new SUCCESS replaces the running best only at a strictly
// lower position, so the first GDX to reach the minimum wins ties.
func (e *CaseEvaluator) Evaluate(ctx context.Context, c domain.Case) domain.CaseResult {
	result := domain.CaseResult{
		CaseID: c.ID,
		Traces: make([]domain.GDXTrace, 0, len(c.GDX)),
		Scores: make([]float64, len(c.DDX)),
	}

	for gdxIdx, gdx := range c.GDX {
		if gdx.Text() == "" {
			e.log.WithFields(logrus.Fields{
				"case_id":   c.ID,
				"gdx_index": gdxIdx + 1,
			}).Warn("Skipping GDX entry with no text")
			continue
		}

		trace := e.resolver.Resolve(ctx, gdx, c.DDX)
		result.Traces = append(result.Traces, trace)
		mergeScores(result.Scores, trace)

		if trace.Outcome.Status != domain.StatusSuccess {
			continue
		}
		if result.Resolution == nil || trace.Outcome.Position < result.Resolution.Position {
			ddxName := ""
			if pos := trace.Outcome.Position; pos >= 1 && pos <= len(c.DDX) {
				ddxName = c.DDX[pos-1].Name
			}
			result.Resolution = &domain.Resolution{
				Position: trace.Outcome.Position,
				Method:   trace.Outcome.Method,
				Value:    trace.Outcome.Value,
				GDXIndex: gdxIdx + 1,
				GDXName:  gdx.Name,
				DDXName:  ddxName,
			}
		}
	}

	result.Matched = result.Resolution != nil
	if result.Matched {
		e.log.WithFields(logrus.Fields{
			"case_id":  c.ID,
			"method":   result.Resolution.Method,
			"position": result.Resolution.Position,
		}).Debug("Case resolved")
	} else {
		e.log.WithField("case_id", c.ID).Debug("Case rejected, no GDX matched")
	}
	return result
}

// mergeScores folds one GDX trace into the case's unified per-DDX score
// vector: 1.0 at coded match positions, the raw best similarity per
// position wherever the semantic family ran. Semantic and judge matches
// keep the raw similarity, so a judge rescue below the match threshold does
// not count as a ranking hit. Each slot keeps the maximum across GDX
// entries.
func mergeScores(scores []float64, trace domain.GDXTrace) {
	for _, bs := range trace.Semantic.BERTScores {
		if i := bs.Position - 1; i >= 0 && i < len(scores) && bs.Score > scores[i] {
			scores[i] = bs.Score
		}
	}
	out := trace.Outcome
	if out.Status != domain.StatusSuccess {
		return
	}
	i := out.Position - 1
	if i < 0 || i >= len(scores) {
		return
	}
	if out.Method.IsCoded() {
		scores[i] = 1.0
	}
}
