package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/internal/metrics"
	"github.com/foundation29org/dxgpt-bench-lab/internal/parse"
	"github.com/foundation29org/dxgpt-bench-lab/internal/progress"
	"github.com/foundation29org/dxgpt-bench-lab/pkg/external"
)

const defaultDDXPrompt = `You are a clinical decision support assistant. Given the patient presentation below, produce a ranked differential diagnosis of the 5 most likely conditions, most likely first.

Patient presentation:
%s

Respond with a JSON list of diagnosis names, most likely first.`

// RunOutput is everything one evaluation run produced.
type RunOutput struct {
	RunID       string              `json:"run_id"`
	Experiment  string              `json:"experiment"`
	StartedAt   time.Time           `json:"started_at"`
	FinishedAt  time.Time           `json:"finished_at"`
	Interrupted bool                `json:"interrupted"`
	Results     []domain.CaseResult `json:"results"`
	Summary     metrics.Summary     `json:"summary"`
}

// Pipeline runs the evaluation phases over a dataset: optional DDX
// generation and code extraction, concurrent match resolution, batched
// severity assignment, then aggregation. A cancelled run still aggregates
// and reports every case completed before the interrupt.
type Pipeline struct {
	cfg       domain.Config
	evaluator *CaseEvaluator
	assigner  *SeverityAssigner
	llm       external.ChatLLM
	linker    external.EntityLinker
	scorer    external.SimilarityScorer
	observer  progress.Observer
	log       *logrus.Logger
	ddxPrompt string
}

// PipelineOption customizes optional collaborators.
type PipelineOption func(*Pipeline)

// WithGenerator enables the DDX generation phase. prompt overrides the
// built-in template when non-empty; it must contain one %s verb for the
// case description.
func WithGenerator(llm external.ChatLLM, prompt string) PipelineOption {
	return func(p *Pipeline) {
		p.llm = llm
		if prompt != "" {
			p.ddxPrompt = prompt
		}
	}
}

// WithCodeExtraction enables the code-extraction phase.
func WithCodeExtraction(linker external.EntityLinker) PipelineOption {
	return func(p *Pipeline) { p.linker = linker }
}

// WithSeverity enables the severity phase.
func WithSeverity(assigner *SeverityAssigner) PipelineOption {
	return func(p *Pipeline) { p.assigner = assigner }
}

// WithWarmUp warms the similarity endpoint before the resolve phase.
func WithWarmUp(scorer external.SimilarityScorer) PipelineOption {
	return func(p *Pipeline) { p.scorer = scorer }
}

// WithObserver attaches a progress observer.
func WithObserver(observer progress.Observer) PipelineOption {
	return func(p *Pipeline) { p.observer = observer }
}

// NewPipeline assembles a pipeline around the case evaluator.
func NewPipeline(cfg domain.Config, evaluator *CaseEvaluator, logger *logrus.Logger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		cfg:       cfg,
		evaluator: evaluator,
		observer:  progress.NewLogObserver(logger),
		log:       logger,
		ddxPrompt: defaultDDXPrompt,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes all phases over the dataset.
func (p *Pipeline) Run(ctx context.Context, cases []domain.Case) (*RunOutput, error) {
	out := &RunOutput{
		RunID:      uuid.NewString(),
		Experiment: p.cfg.Run.ExperimentName,
		StartedAt:  time.Now().UTC(),
	}
	p.log.WithFields(logrus.Fields{
		"run_id": out.RunID,
		"cases":  len(cases),
	}).Info("Starting evaluation run")

	caseErrs := make([]string, len(cases))

	if p.cfg.Run.GenerateDDX && p.llm != nil {
		p.generatePhase(ctx, out.RunID, cases, caseErrs)
	}
	if p.cfg.Run.ExtractCodes && p.linker != nil {
		p.extractPhase(ctx, out.RunID, cases)
	}
	if p.scorer != nil {
		// Cold-start latency is paid once, not under the worker pool.
		_ = p.scorer.WarmUp(ctx)
	}

	results, interrupted := p.resolvePhase(ctx, out.RunID, cases, caseErrs)
	out.Interrupted = interrupted

	if p.cfg.Severity.Enabled && p.assigner != nil && !interrupted {
		p.severityPhase(ctx, out.RunID, cases, results)
	}

	out.Results = assembleResults(results)
	out.Summary = metrics.Summarize(out.Results, p.cfg.Metrics.MatchThreshold)
	out.FinishedAt = time.Now().UTC()

	p.publish(progress.Event{
		RunID:     out.RunID,
		Phase:     progress.PhaseMetrics,
		Completed: len(out.Results),
		Total:     len(cases),
		Message:   "Run complete",
	})
	p.log.WithFields(logrus.Fields{
		"run_id":      out.RunID,
		"matched":     out.Summary.MatchedCases,
		"total":       out.Summary.TotalCases,
		"interrupted": interrupted,
	}).Info("Evaluation run finished")
	return out, nil
}

// generatePhase fills DDX lists for cases that arrived without one.
func (p *Pipeline) generatePhase(ctx context.Context, runID string, cases []domain.Case, caseErrs []string) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers())

	for i := range cases {
		if len(cases[i].DDX) > 0 {
			continue
		}
		i := i
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			names, err := p.generateDDX(gctx, cases[i])
			if err != nil {
				caseErrs[i] = fmt.Sprintf("ddx generation: %v", err)
				p.log.WithError(err).WithField("case_id", cases[i].ID).Warn("DDX generation failed")
				return nil
			}
			for _, name := range names {
				cases[i].DDX = append(cases[i].DDX, domain.NewDiagnosis(name))
			}
			p.publish(progress.Event{
				RunID: runID, Phase: progress.PhaseGenerate, CaseID: cases[i].ID,
				Total: len(cases), Message: "DDX generated",
			})
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) generateDDX(ctx context.Context, c domain.Case) ([]string, error) {
	raw, err := p.llm.Complete(ctx, external.ChatRequest{
		Prompt:      fmt.Sprintf(p.ddxPrompt, c.Description),
		Temperature: p.cfg.LLM.Temperature,
		MaxTokens:   p.cfg.LLM.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return parse.DDXList(raw)
}

// extractPhase annotates every unique DDX text with medical codes. An
// extraction failure leaves the affected diagnoses code-free; the cascade
// falls through to the semantic family for those.
func (p *Pipeline) extractPhase(ctx context.Context, runID string, cases []domain.Case) {
	unique := make([]string, 0)
	seen := make(map[string]struct{})
	for i := range cases {
		for _, ddx := range cases[i].DDX {
			if _, ok := seen[ddx.Name]; ok || ddx.Name == "" || !ddx.Codes.IsEmpty() {
				continue
			}
			seen[ddx.Name] = struct{}{}
			unique = append(unique, ddx.Name)
		}
	}
	if len(unique) == 0 {
		return
	}

	extracted, err := p.linker.Extract(ctx, unique)
	if err != nil {
		p.log.WithError(err).Warn("Code extraction failed, continuing without codes")
		return
	}
	byText := make(map[string]external.ExtractionResult, len(extracted))
	for _, result := range extracted {
		byText[result.Text] = result
	}

	annotated := 0
	for i := range cases {
		for j := range cases[i].DDX {
			ddx := &cases[i].DDX[j]
			result, ok := byText[ddx.Name]
			if !ok {
				continue
			}
			if result.NormalizedText != "" {
				ddx.NormalizedText = result.NormalizedText
			}
			if ddx.Codes.IsEmpty() {
				ddx.Codes = result.Codes
			}
			annotated++
		}
	}
	p.publish(progress.Event{
		RunID: runID, Phase: progress.PhaseExtract,
		Completed: annotated, Total: len(unique),
		Message: "Medical codes extracted",
	})
}

// resolvePhase runs the case evaluator over the bounded worker pool. Cases
// whose evaluation finished before a cancellation are kept; in-flight and
// unstarted cases are dropped from the run.
func (p *Pipeline) resolvePhase(ctx context.Context, runID string, cases []domain.Case, caseErrs []string) ([]*domain.CaseResult, bool) {
	results := make([]*domain.CaseResult, len(cases))
	var completed int64
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(p.workers())
	for i := range cases {
		i := i
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if caseErrs[i] != "" {
				results[i] = &domain.CaseResult{CaseID: cases[i].ID, Err: caseErrs[i]}
				return nil
			}

			result := p.evaluator.Evaluate(ctx, cases[i])
			if ctx.Err() != nil {
				// Cancelled mid-resolution: the trace is unreliable.
				return nil
			}
			results[i] = &result

			mu.Lock()
			completed++
			n := completed
			mu.Unlock()
			p.publish(progress.Event{
				RunID: runID, Phase: progress.PhaseResolve, CaseID: cases[i].ID,
				Completed: int(n), Total: len(cases),
				Message: "Case resolved",
			})
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err() != nil
}

// severityPhase assigns severities to every unassigned diagnosis text in
// one batched pass, then scores each completed case against its anchor GDX.
func (p *Pipeline) severityPhase(ctx context.Context, runID string, cases []domain.Case, results []*domain.CaseResult) {
	var texts []string
	for i := range cases {
		if results[i] == nil || results[i].Err != "" {
			continue
		}
		for _, ddx := range cases[i].DDX {
			if ddx.Severity == "" {
				texts = append(texts, ddx.Text())
			}
		}
		for _, gdx := range cases[i].GDX {
			if gdx.Severity == "" {
				texts = append(texts, gdx.Text())
			}
		}
	}
	if err := p.assigner.AssignAll(ctx, texts); err != nil {
		p.log.WithError(err).Warn("Severity assignment incomplete, unassigned texts default to S5")
	}
	if ctx.Err() != nil {
		return
	}

	scored := 0
	for i := range cases {
		if results[i] == nil || results[i].Err != "" {
			continue
		}
		anchor, ok := anchorGDX(cases[i], *results[i])
		if !ok {
			continue
		}
		if anchor.Severity == "" {
			anchor.Severity = p.assigner.Lookup(anchor.Text())
		}
		ddxList := make([]domain.Diagnosis, len(cases[i].DDX))
		copy(ddxList, cases[i].DDX)
		for j := range ddxList {
			if ddxList[j].Severity == "" {
				ddxList[j].Severity = p.assigner.Lookup(ddxList[j].Text())
			}
		}
		results[i].Severity = ScoreSeverity(anchor, ddxList)
		scored++
	}
	p.publish(progress.Event{
		RunID: runID, Phase: progress.PhaseSeverity,
		Completed: scored, Total: len(cases),
		Message: "Severity scoring complete",
	})
}

func (p *Pipeline) workers() int {
	if p.cfg.Run.MaxWorkers > 0 {
		return p.cfg.Run.MaxWorkers
	}
	return 3
}

func (p *Pipeline) publish(event progress.Event) {
	if p.observer != nil {
		p.observer.Publish(progress.Stamp(event))
	}
}

func assembleResults(results []*domain.CaseResult) []domain.CaseResult {
	out := make([]domain.CaseResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}
