package evaluator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/pkg/external"
)

func pipelineConfig() domain.Config {
	return domain.Config{
		Run:      domain.RunConfig{MaxWorkers: 2},
		Severity: domain.SeverityConfig{Enabled: true, BatchSize: 50},
		Metrics:  domain.MetricsConfig{MatchThreshold: 0.8},
	}
}

func twoCases() []domain.Case {
	return []domain.Case{
		{
			ID:  "case-1",
			GDX: []domain.Diagnosis{domain.NewDiagnosis("gdx-a")},
			DDX: []domain.Diagnosis{domain.NewDiagnosis("d1"), domain.NewDiagnosis("d2")},
		},
		{
			ID:  "case-2",
			GDX: []domain.Diagnosis{domain.NewDiagnosis("gdx-miss")},
			DDX: []domain.Diagnosis{domain.NewDiagnosis("d3")},
		},
	}
}

func TestPipeline_Run(t *testing.T) {
	resolver := &scriptedResolver{traces: map[string]domain.GDXTrace{
		"gdx-a": successTrace(domain.MethodSNOMEDMatch, 1),
	}}
	assignerLLM := &scriptedLLM{assign: map[string]string{
		"gdx-a": "S8", "gdx-miss": "S5", "d1": "S2", "d2": "S9", "d3": "S5",
	}}
	assigner := NewSeverityAssigner(assignerLLM, domain.SeverityConfig{BatchSize: 50}, "", testLogger())

	p := NewPipeline(pipelineConfig(), NewCaseEvaluator(resolver, testLogger()), testLogger(),
		WithSeverity(assigner))

	out, err := p.Run(context.Background(), twoCases())
	require.NoError(t, err)

	assert.NotEmpty(t, out.RunID)
	assert.False(t, out.Interrupted)
	require.Len(t, out.Results, 2)

	assert.True(t, out.Results[0].Matched)
	assert.Equal(t, 1, out.Results[0].Resolution.Position)
	assert.False(t, out.Results[1].Matched)

	// Severity scored against the matched GDX anchor (S8, max_distance 8).
	require.NotNil(t, out.Results[0].Severity)
	assert.Equal(t, domain.Severity("S8"), out.Results[0].Severity.GDXSeverity)
	assert.InDelta(t, 0.4375, out.Results[0].Severity.FinalScore, 1e-9)

	assert.Equal(t, 2, out.Summary.TotalCases)
	assert.Equal(t, 1, out.Summary.MatchedCases)
	assert.InDelta(t, 1.0, out.Summary.Ranking.TopK["top1"], 1e-9)
}

func TestPipeline_GenerationAndExtraction(t *testing.T) {
	resolver := &scriptedResolver{traces: map[string]domain.GDXTrace{
		"gdx-a": successTrace(domain.MethodICD10Exact, 1),
	}}
	genLLM := &scriptedRawLLM{response: `["Pneumonia", "Bronchitis"]`}
	linker := &stubLinker{results: map[string]external.ExtractionResult{
		"Pneumonia": {
			Text:           "Pneumonia",
			NormalizedText: "Pneumonia",
			Codes:          domain.MedicalCodes{ICD10: []string{"J18.9"}},
		},
	}}

	cfg := pipelineConfig()
	cfg.Run.GenerateDDX = true
	cfg.Run.ExtractCodes = true
	cfg.Severity.Enabled = false

	cases := []domain.Case{{
		ID:          "case-1",
		Description: "fever, productive cough, crackles on auscultation",
		GDX:         []domain.Diagnosis{domain.NewDiagnosis("gdx-a")},
	}}

	p := NewPipeline(cfg, NewCaseEvaluator(resolver, testLogger()), testLogger(),
		WithGenerator(genLLM, ""), WithCodeExtraction(linker))

	out, err := p.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.True(t, out.Results[0].Matched)
	assert.Equal(t, []string{"Pneumonia", "Bronchitis"}, linker.requested)
}

func TestPipeline_GenerationFailureAnnotatesCase(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Run.GenerateDDX = true
	cfg.Severity.Enabled = false
	genLLM := &scriptedRawLLM{response: "I cannot provide diagnoses."}

	cases := []domain.Case{{
		ID:  "case-1",
		GDX: []domain.Diagnosis{domain.NewDiagnosis("gdx-a")},
	}}

	p := NewPipeline(cfg, NewCaseEvaluator(&scriptedResolver{}, testLogger()), testLogger(),
		WithGenerator(genLLM, ""))

	out, err := p.Run(context.Background(), cases)
	require.NoError(t, err)
	require.Len(t, out.Results, 1)
	assert.False(t, out.Results[0].Matched)
	assert.Contains(t, out.Results[0].Err, "ddx generation")
	assert.Equal(t, 1, out.Summary.ErroredCases)
}

func TestPipeline_CancelledRunKeepsNothingInFlight(t *testing.T) {
	cfg := pipelineConfig()
	cfg.Severity.Enabled = false

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline(cfg, NewCaseEvaluator(&scriptedResolver{}, testLogger()), testLogger())
	out, err := p.Run(ctx, twoCases())
	require.NoError(t, err)

	assert.True(t, out.Interrupted)
	assert.Empty(t, out.Results)
}

func TestWriteReports(t *testing.T) {
	resolver := &scriptedResolver{traces: map[string]domain.GDXTrace{
		"gdx-a": successTrace(domain.MethodSNOMEDMatch, 1),
	}}
	cfg := pipelineConfig()
	cfg.Severity.Enabled = false

	p := NewPipeline(cfg, NewCaseEvaluator(resolver, testLogger()), testLogger())
	out, err := p.Run(context.Background(), twoCases())
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, WriteReports(dir, out, testLogger()))

	raw, err := os.ReadFile(filepath.Join(dir, "summary.json"))
	require.NoError(t, err)
	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, out.RunID, summary["run_id"])

	for _, name := range []string{"evaluation_details.json", "ddx_analysis.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err)
	}
}

// scriptedRawLLM returns a fixed raw response, used for the generation
// phase where the prompt embeds the case description.
type scriptedRawLLM struct {
	response string
	err      error
}

func (s *scriptedRawLLM) Complete(_ context.Context, _ external.ChatRequest) (string, error) {
	return s.response, s.err
}

type stubLinker struct {
	results   map[string]external.ExtractionResult
	requested []string
}

func (s *stubLinker) Extract(_ context.Context, texts []string) ([]external.ExtractionResult, error) {
	s.requested = texts
	out := make([]external.ExtractionResult, 0, len(texts))
	for _, text := range texts {
		if r, ok := s.results[text]; ok {
			out = append(out, r)
		} else {
			out = append(out, external.ExtractionResult{Text: text, NormalizedText: text})
		}
	}
	return out, nil
}
