package evaluator

import (
	"context"
	"testing"

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

// scriptedResolver returns a canned trace per GDX name.
type scriptedResolver struct {
	traces map[string]domain.GDXTrace
}

func (s *scriptedResolver) Resolve(_ context.Context, gdx domain.Diagnosis, _ []domain.Diagnosis) domain.GDXTrace {
	if trace, ok := s.traces[gdx.Name]; ok {
		trace.GDX = gdx
		return trace
	}
	return domain.GDXTrace{GDX: gdx, Outcome: domain.MatchOutcome{Status: domain.StatusFailed}}
}

func successTrace(method domain.MatchMethod, position int) domain.GDXTrace {
	return domain.GDXTrace{
		Outcome: domain.MatchOutcome{
			Status:   domain.StatusSuccess,
			Method:   method,
			Position: position,
		},
	}
}

func TestEvaluate_KeepsStrictlyLowerPosition(t *testing.T) {
	resolver := &scriptedResolver{traces: map[string]domain.GDXTrace{
		"gdx-a": successTrace(domain.MethodICD10Exact, 3),
		"gdx-b": successTrace(domain.MethodSNOMEDMatch, 1),
	}}
	c := domain.Case{
		ID:  "case-1",
		GDX: []domain.Diagnosis{domain.NewDiagnosis("gdx-a"), domain.NewDiagnosis("gdx-b")},
		DDX: []domain.Diagnosis{domain.NewDiagnosis("d1"), domain.NewDiagnosis("d2"), domain.NewDiagnosis("d3")},
	}

	result := NewCaseEvaluator(resolver, testLogger()).Evaluate(context.Background(), c)

	require.True(t, result.Matched)
	assert.Equal(t, 1, result.Resolution.Position)
	assert.Equal(t, domain.MethodSNOMEDMatch, result.Resolution.Method)
	assert.Equal(t, 2, result.Resolution.GDXIndex)
	assert.Equal(t, "d1", result.Resolution.DDXName)
	assert.Len(t, result.Traces, 2)
}

func TestEvaluate_TieKeepsFirstGDX(t *testing.T) {
	resolver := &scriptedResolver{traces: map[string]domain.GDXTrace{
		"gdx-a": successTrace(domain.MethodICD10Exact, 2),
		"gdx-b": successTrace(domain.MethodSNOMEDMatch, 2),
	}}
	c := domain.Case{
		ID:  "case-1",
		GDX: []domain.Diagnosis{domain.NewDiagnosis("gdx-a"), domain.NewDiagnosis("gdx-b")},
		DDX: []domain.Diagnosis{domain.NewDiagnosis("d1"), domain.NewDiagnosis("d2")},
	}

	result := NewCaseEvaluator(resolver, testLogger()).Evaluate(context.Background(), c)

	require.True(t, result.Matched)
	assert.Equal(t, 1, result.Resolution.GDXIndex)
	assert.Equal(t, domain.MethodICD10Exact, result.Resolution.Method)
}

func TestEvaluate_NoMatchIsRejected(t *testing.T) {
	resolver := &scriptedResolver{}
	c := domain.Case{
		ID:  "case-1",
		GDX: []domain.Diagnosis{domain.NewDiagnosis("gdx-a")},
		DDX: []domain.Diagnosis{domain.NewDiagnosis("d1")},
	}

	result := NewCaseEvaluator(resolver, testLogger()).Evaluate(context.Background(), c)

	assert.False(t, result.Matched)
	assert.Nil(t, result.Resolution)
	assert.Len(t, result.Traces, 1)
}

func TestEvaluate_SkipsNamelessGDX(t *testing.T) {
	resolver := &scriptedResolver{traces: map[string]domain.GDXTrace{
		"gdx-b": successTrace(domain.MethodSNOMEDMatch, 1),
	}}
	c := domain.Case{
		ID:  "case-1",
		GDX: []domain.Diagnosis{{}, domain.NewDiagnosis("gdx-b")},
		DDX: []domain.Diagnosis{domain.NewDiagnosis("d1")},
	}

	result := NewCaseEvaluator(resolver, testLogger()).Evaluate(context.Background(), c)

	require.True(t, result.Matched)
	// The skipped entry leaves no trace but index bookkeeping still counts it.
	assert.Equal(t, 2, result.Resolution.GDXIndex)
	assert.Len(t, result.Traces, 1)
}

func TestEvaluate_UnifiedScoreVector(t *testing.T) {
	semantic := domain.GDXTrace{
		Semantic: domain.SemanticCheck{
			Status: domain.StatusSuccess,
			BERTScores: []domain.BERTScore{
				{Position: 1, Score: 0.55},
				{Position: 2, Score: 0.85},
			},
		},
		Outcome: domain.MatchOutcome{
			Status:   domain.StatusSuccess,
			Method:   domain.MethodBERTMatch,
			Position: 2,
		},
	}
	coded := successTrace(domain.MethodSNOMEDMatch, 3)

	resolver := &scriptedResolver{traces: map[string]domain.GDXTrace{
		"gdx-a": semantic,
		"gdx-b": coded,
	}}
	c := domain.Case{
		ID:  "case-1",
		GDX: []domain.Diagnosis{domain.NewDiagnosis("gdx-a"), domain.NewDiagnosis("gdx-b")},
		DDX: []domain.Diagnosis{domain.NewDiagnosis("d1"), domain.NewDiagnosis("d2"), domain.NewDiagnosis("d3")},
	}

	result := NewCaseEvaluator(resolver, testLogger()).Evaluate(context.Background(), c)

	// Semantic positions carry their raw similarity, the coded match 1.0.
	assert.InDelta(t, 0.55, result.Scores[0], 1e-9)
	assert.InDelta(t, 0.85, result.Scores[1], 1e-9)
	assert.InDelta(t, 1.0, result.Scores[2], 1e-9)
}

func TestEvaluate_JudgeRescueKeepsRawSimilarity(t *testing.T) {
	rescue := domain.GDXTrace{
		Semantic: domain.SemanticCheck{
			Status: domain.StatusSuccess,
			BERTScores: []domain.BERTScore{
				{Position: 1, Score: 0.65},
			},
		},
		Outcome: domain.MatchOutcome{
			Status:   domain.StatusSuccess,
			Method:   domain.MethodLLMJudgment,
			Position: 1,
		},
	}
	resolver := &scriptedResolver{traces: map[string]domain.GDXTrace{
		"gdx-a": rescue,
	}}
	c := domain.Case{
		ID:  "case-1",
		GDX: []domain.Diagnosis{domain.NewDiagnosis("gdx-a")},
		DDX: []domain.Diagnosis{domain.NewDiagnosis("d1")},
	}

	result := NewCaseEvaluator(resolver, testLogger()).Evaluate(context.Background(), c)

	require.True(t, result.Matched)
	assert.Equal(t, domain.MethodLLMJudgment, result.Resolution.Method)
	// A judge rescue below the match threshold resolves the case but its
	// score stays the raw similarity, so it is not a ranking hit.
	assert.InDelta(t, 0.65, result.Scores[0], 1e-9)
}

func sev(name, s string) domain.Diagnosis {
	d := domain.NewDiagnosis(name)
	d.Severity = domain.Severity(s)
	return d
}

func TestScoreSeverity_ScenarioC(t *testing.T) {
	gdx := sev("Sepsis", "S8")
	ddx := []domain.Diagnosis{sev("d1", "S2"), sev("d2", "S9"), sev("d3", "S5")}

	result := ScoreSeverity(gdx, ddx)
	require.NotNil(t, result)

	// max_distance = 8; normalized = [0.75, 0.125, 0.375].
	assert.InDelta(t, 0.4167, result.FinalScore, 1e-9)
	assert.Equal(t, 2, result.Optimist.N)
	assert.InDelta(t, 0.5625, result.Optimist.Score, 1e-9)
	assert.Equal(t, 1, result.Pessimist.N)
	assert.InDelta(t, 0.125, result.Pessimist.Score, 1e-9)
	assert.Equal(t, domain.Severity("S8"), result.GDXSeverity)
}

func TestScoreSeverity_ExtremesClampMaxDistance(t *testing.T) {
	t.Run("S0 anchor", func(t *testing.T) {
		// sev 0: max_distance = 10, no clamp needed.
		result := ScoreSeverity(sev("g", "S0"), []domain.Diagnosis{sev("d", "S10")})
		require.NotNil(t, result)
		assert.InDelta(t, 1.0, result.FinalScore, 1e-9)
	})
	t.Run("S10 anchor", func(t *testing.T) {
		result := ScoreSeverity(sev("g", "S10"), []domain.Diagnosis{sev("d", "S0")})
		require.NotNil(t, result)
		assert.InDelta(t, 1.0, result.FinalScore, 1e-9)
	})
}

func TestScoreSeverity_PartitionCompleteness(t *testing.T) {
	gdx := sev("g", "S5")
	ddx := []domain.Diagnosis{
		sev("d1", "S1"), sev("d2", "S5"), sev("d3", "S9"),
		sev("d4", "S5"), sev("d5", "S3"),
	}

	result := ScoreSeverity(gdx, ddx)
	require.NotNil(t, result)

	neutral := len(ddx) - result.Optimist.N - result.Pessimist.N
	assert.Equal(t, 2, result.Optimist.N)
	assert.Equal(t, 1, result.Pessimist.N)
	assert.Equal(t, 2, neutral)

	// final = unweighted mean over all entries, not mean of bucket means.
	var sum float64
	for _, entry := range result.Entries {
		sum += entry.Score
	}
	assert.InDelta(t, sum/float64(len(ddx)), result.FinalScore, 1e-4)
}

func TestScoreSeverity_DefaultsMissingToS5(t *testing.T) {
	gdx := domain.NewDiagnosis("g")
	ddx := []domain.Diagnosis{domain.NewDiagnosis("d1"), sev("d2", "S7")}

	result := ScoreSeverity(gdx, ddx)
	require.NotNil(t, result)

	assert.Equal(t, domain.DefaultSeverity, result.GDXSeverity)
	assert.Equal(t, domain.DefaultSeverity, result.Entries[0].Severity)
	// anchor S5, max_distance 5: d1 → 0, d2 → 2/5.
	assert.InDelta(t, 0.2, result.FinalScore, 1e-9)
}

func TestScoreSeverity_EmptyDDX(t *testing.T) {
	assert.Nil(t, ScoreSeverity(sev("g", "S5"), nil))
}

func TestAnchorGDX(t *testing.T) {
	c := domain.Case{GDX: []domain.Diagnosis{sev("a", "S3"), sev("b", "S9")}}

	t.Run("winning gdx", func(t *testing.T) {
		result := domain.CaseResult{Resolution: &domain.Resolution{GDXIndex: 1}}
		anchor, ok := anchorGDX(c, result)
		require.True(t, ok)
		assert.Equal(t, "a", anchor.Name)
	})

	t.Run("no match falls back to highest severity", func(t *testing.T) {
		anchor, ok := anchorGDX(c, domain.CaseResult{})
		require.True(t, ok)
		assert.Equal(t, "b", anchor.Name)
	})

	t.Run("no gdx at all", func(t *testing.T) {
		_, ok := anchorGDX(domain.Case{}, domain.CaseResult{})
		assert.False(t, ok)
	})
}
