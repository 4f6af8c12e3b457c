// Package resolver implements the diagnostic match-resolution cascade: the
// strict-precedence pipeline that decides whether and where a candidate
// diagnosis counts as a hit against a ground-truth diagnosis.
//
// Four match families run in fixed order, each short-circuiting the rest:
//
//  1. SNOMED exact code identity
//  2. OMIM / ORPHA exact code identity
//  3. ICD-10 taxonomic relationship (exact, child, parent, sibling)
//  4. semantic similarity with LLM tie-breaker
//
// Family order and the scan order inside each family are part of the
// contract: they determine which position a tied match reports, which feeds
// directly into the ranking metrics.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// CodeOracle answers ICD-10 hierarchy queries. Parents returns the ancestor
// chain in immediate-to-root order. Implementations return
// domain.ErrNotFound for codes missing from the taxonomy.
type CodeOracle interface {
	Parents(ctx context.Context, code string) ([]string, error)
	Children(ctx context.Context, code string) ([]string, error)
	Siblings(ctx context.Context, code string) ([]string, error)
}

// SimilarityOracle scores the semantic similarity of two diagnosis texts
// in [0,1].
type SimilarityOracle interface {
	Score(ctx context.Context, textA, textB string) (float64, error)
}

// SimilarityCache is the write-once pair cache shared across concurrent case
// evaluations. A nil cache disables caching.
type SimilarityCache interface {
	Get(ctx context.Context, textA, textB string) (float64, bool)
	Set(ctx context.Context, textA, textB string, score float64)
}

// Judge adjudicates between semantic candidates: given a reference text and
// up to a handful of candidate texts, it returns the 1-based index of the
// most clinically interchangeable candidate, or 0 for none.
type Judge interface {
	Rank(ctx context.Context, reference string, candidates []string) (int, error)
}

// Resolver runs the cascade for one (GDX, DDX-list) pair at a time. It is
// stateless apart from its collaborators and safe for concurrent use.
type Resolver struct {
	oracle CodeOracle
	scorer SimilarityOracle
	cache  SimilarityCache
	judge  Judge
	cfg    domain.EvaluatorConfig
	log    *logrus.Logger
}

// New creates a resolver. cache may be nil.
func New(oracle CodeOracle, scorer SimilarityOracle, cache SimilarityCache, judge Judge, cfg domain.EvaluatorConfig, logger *logrus.Logger) *Resolver {
	if cfg.JudgeCandidates <= 0 {
		cfg.JudgeCandidates = 5
	}
	return &Resolver{
		oracle: oracle,
		scorer: scorer,
		cache:  cache,
		judge:  judge,
		cfg:    cfg,
		log:    logger,
	}
}

const (
	skippedAfterSNOMED = "SKIPPED: SNOMED match found first"
	skippedAfterCoded  = "SKIPPED: exact code match found first"
	skippedAfterICD10  = "SKIPPED: ICD-10 match found first"
)

// Resolve runs the full cascade and returns the per-GDX audit trace,
// including every family's status. Oracle failures degrade the affected
// family to FAILED and the cascade continues.
func (r *Resolver) Resolve(ctx context.Context, gdx domain.Diagnosis, ddxList []domain.Diagnosis) domain.GDXTrace {
	trace := domain.GDXTrace{
		GDX:      gdx,
		SNOMED:   domain.FamilyCheck{Status: domain.StatusPending},
		RareCode: domain.FamilyCheck{Status: domain.StatusPending},
		ICD10:    domain.FamilyCheck{Status: domain.StatusPending},
		Semantic: domain.SemanticCheck{Status: domain.StatusPending},
		Outcome:  domain.MatchOutcome{Status: domain.StatusFailed},
	}

	if outcome, ok := r.checkSNOMED(gdx, ddxList, &trace.SNOMED); ok {
		trace.Outcome = outcome
		trace.RareCode = domain.FamilyCheck{Status: domain.StatusSkipped, Details: skippedAfterSNOMED}
		trace.ICD10 = domain.FamilyCheck{Status: domain.StatusSkipped, Details: skippedAfterSNOMED}
		trace.Semantic = domain.SemanticCheck{Status: domain.StatusSkipped, Details: skippedAfterSNOMED}
		return trace
	}

	if outcome, ok := r.checkRareCodes(gdx, ddxList, &trace.RareCode); ok {
		trace.Outcome = outcome
		trace.ICD10 = domain.FamilyCheck{Status: domain.StatusSkipped, Details: skippedAfterCoded}
		trace.Semantic = domain.SemanticCheck{Status: domain.StatusSkipped, Details: skippedAfterCoded}
		return trace
	}

	if outcome, ok := r.checkICD10(ctx, gdx, ddxList, &trace.ICD10); ok {
		trace.Outcome = outcome
		trace.Semantic = domain.SemanticCheck{Status: domain.StatusSkipped, Details: skippedAfterICD10}
		return trace
	}

	if outcome, ok := r.checkSemantic(ctx, gdx, ddxList, &trace.Semantic); ok {
		trace.Outcome = outcome
	}
	return trace
}

// checkSNOMED scans DDX positions left to right; within a position every GDX
// SNOMED code is tried against every DDX SNOMED code. The first hit is by
// construction the lowest-position hit.
func (r *Resolver) checkSNOMED(gdx domain.Diagnosis, ddxList []domain.Diagnosis, check *domain.FamilyCheck) (domain.MatchOutcome, bool) {
	if len(gdx.Codes.SNOMED) == 0 {
		check.Status = domain.StatusSkipped
		check.Details = "SKIPPED: GDX has no SNOMED codes"
		return domain.MatchOutcome{}, false
	}

	for i, ddx := range ddxList {
		for _, gdxCode := range gdx.Codes.SNOMED {
			for _, ddxCode := range ddx.Codes.SNOMED {
				if gdxCode == ddxCode {
					pos := i + 1
					check.Status = domain.StatusSuccess
					check.Details = fmt.Sprintf("SUCCESS: Found match with DDX at P%d (code: %s)", pos, gdxCode)
					return domain.MatchOutcome{
						Status:   domain.StatusSuccess,
						Method:   domain.MethodSNOMEDMatch,
						Position: pos,
						Value:    gdxCode,
					}, true
				}
			}
		}
	}

	check.Status = domain.StatusFailed
	check.Details = "FAILED: No SNOMED code match found"
	return domain.MatchOutcome{}, false
}

// checkRareCodes intersects the OMIM then ORPHA code sets per DDX position.
// A hit in either system is an exact identity match, same confidence as an
// ICD-10 exact hit.
func (r *Resolver) checkRareCodes(gdx domain.Diagnosis, ddxList []domain.Diagnosis, check *domain.FamilyCheck) (domain.MatchOutcome, bool) {
	if len(gdx.Codes.OMIM) == 0 && len(gdx.Codes.Orpha) == 0 {
		check.Status = domain.StatusSkipped
		check.Details = "SKIPPED: GDX has no OMIM or ORPHA codes"
		return domain.MatchOutcome{}, false
	}

	systems := []struct {
		system domain.CodeSystem
		method domain.MatchMethod
	}{
		{domain.SystemOMIM, domain.MethodOMIMMatch},
		{domain.SystemOrpha, domain.MethodOrphaMatch},
	}

	for i, ddx := range ddxList {
		for _, sys := range systems {
			for _, gdxCode := range gdx.Codes.Codes(sys.system) {
				for _, ddxCode := range ddx.Codes.Codes(sys.system) {
					if gdxCode == ddxCode {
						pos := i + 1
						check.Status = domain.StatusSuccess
						check.Details = fmt.Sprintf("SUCCESS: Found %s match with DDX at P%d (code: %s)", sys.system, pos, gdxCode)
						return domain.MatchOutcome{
							Status:   domain.StatusSuccess,
							Method:   sys.method,
							Position: pos,
							Value:    gdxCode,
						}, true
					}
				}
			}
		}
	}

	check.Status = domain.StatusFailed
	check.Details = "FAILED: No OMIM or ORPHA code match found"
	return domain.MatchOutcome{}, false
}

// checkICD10 is GDX-code-major: for each GDX ICD-10 code, each sub-strategy
// (exact, child, parent, sibling) scans every DDX position before the next
// sub-strategy runs, and all sub-strategies for a GDX code run before the
// next GDX code is tried.
func (r *Resolver) checkICD10(ctx context.Context, gdx domain.Diagnosis, ddxList []domain.Diagnosis, check *domain.FamilyCheck) (domain.MatchOutcome, bool) {
	if len(gdx.Codes.ICD10) == 0 {
		check.Status = domain.StatusSkipped
		check.Details = "SKIPPED: GDX has no ICD-10 codes"
		return domain.MatchOutcome{}, false
	}

	for _, gdxCode := range gdx.Codes.ICD10 {
		// Exact.
		for i, ddx := range ddxList {
			for _, ddxCode := range ddx.Codes.ICD10 {
				if gdxCode == ddxCode {
					return r.icd10Hit(check, domain.MethodICD10Exact, i+1, gdxCode,
						fmt.Sprintf("SUCCESS: Exact ICD-10 match at P%d (code: %s)", i+1, gdxCode)), true
				}
			}
		}

		// Child: the DDX code is a descendant of the GDX code.
		for i, ddx := range ddxList {
			for _, ddxCode := range ddx.Codes.ICD10 {
				ok, err := r.isAncestor(ctx, gdxCode, ddxCode)
				if err != nil {
					check.Status = domain.StatusFailed
					check.Details = fmt.Sprintf("FAILED: ICD-10 hierarchy lookup error: %v", err)
					return domain.MatchOutcome{}, false
				}
				if ok {
					return r.icd10Hit(check, domain.MethodICD10Child, i+1, gdxCode+"->"+ddxCode,
						fmt.Sprintf("SUCCESS: DDX at P%d is a child of GDX code %s (code: %s)", i+1, gdxCode, ddxCode)), true
				}
			}
		}

		// Parent: the DDX code is an ancestor of the GDX code.
		if r.cfg.EnableICD10ParentSearch {
			for i, ddx := range ddxList {
				for _, ddxCode := range ddx.Codes.ICD10 {
					ok, err := r.isAncestor(ctx, ddxCode, gdxCode)
					if err != nil {
						check.Status = domain.StatusFailed
						check.Details = fmt.Sprintf("FAILED: ICD-10 hierarchy lookup error: %v", err)
						return domain.MatchOutcome{}, false
					}
					if ok {
						return r.icd10Hit(check, domain.MethodICD10Parent, i+1, gdxCode+"->"+ddxCode,
							fmt.Sprintf("SUCCESS: DDX at P%d is a parent of GDX code %s (code: %s)", i+1, gdxCode, ddxCode)), true
					}
				}
			}
		}

		// Sibling: shared immediate parent, parent not a chapter/range.
		if r.cfg.EnableICD10SiblingSearch {
			siblings, err := r.oracle.Siblings(ctx, gdxCode)
			if err != nil && !isNotFound(err) {
				check.Status = domain.StatusFailed
				check.Details = fmt.Sprintf("FAILED: ICD-10 hierarchy lookup error: %v", err)
				return domain.MatchOutcome{}, false
			}
			if len(siblings) > 0 {
				siblingSet := make(map[string]struct{}, len(siblings))
				for _, s := range siblings {
					siblingSet[s] = struct{}{}
				}
				for i, ddx := range ddxList {
					for _, ddxCode := range ddx.Codes.ICD10 {
						if _, ok := siblingSet[ddxCode]; ok {
							return r.icd10Hit(check, domain.MethodICD10Sibling, i+1, gdxCode+"~"+ddxCode,
								fmt.Sprintf("SUCCESS: DDX at P%d is a sibling of GDX code %s (code: %s)", i+1, gdxCode, ddxCode)), true
						}
					}
				}
			}
		}
	}

	check.Status = domain.StatusFailed
	check.Details = "FAILED: No ICD-10 relationship found"
	return domain.MatchOutcome{}, false
}

func (r *Resolver) icd10Hit(check *domain.FamilyCheck, method domain.MatchMethod, pos int, value, details string) domain.MatchOutcome {
	check.Status = domain.StatusSuccess
	check.Details = details
	return domain.MatchOutcome{
		Status:   domain.StatusSuccess,
		Method:   method,
		Position: pos,
		Value:    value,
	}
}

// isAncestor reports whether ancestor appears in descendant's parent chain.
// Codes missing from the taxonomy are treated as having no ancestors.
func (r *Resolver) isAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	parents, err := r.oracle.Parents(ctx, descendant)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	for _, p := range parents {
		if p == ancestor {
			return true, nil
		}
	}
	return false, nil
}

// checkSemantic runs the embedding fallback: per-position best similarity
// over the deduplicated name/normalized-text pairings, then autoconfirm or
// judge adjudication. Judge failures degrade to "no judge answer" rather
// than failing the family.
func (r *Resolver) checkSemantic(ctx context.Context, gdx domain.Diagnosis, ddxList []domain.Diagnosis, check *domain.SemanticCheck) (domain.MatchOutcome, bool) {
	gdxTexts := gdx.TextVariants()
	if gdx.Text() == "" {
		check.Status = domain.StatusFailed
		check.Details = "FAILED: GDX has no text to compare"
		return domain.MatchOutcome{}, false
	}

	var (
		best     *domain.BERTScore
		scoreErr error
	)
	for i, ddx := range ddxList {
		if ddx.Text() == "" {
			continue
		}
		posBest := -1.0
		for _, pair := range dedupePairs(gdxTexts, ddx.TextVariants()) {
			score, err := r.pairScore(ctx, pair[0], pair[1])
			if err != nil {
				scoreErr = err
				continue
			}
			if score > posBest {
				posBest = score
			}
		}
		if posBest < 0 {
			continue
		}
		entry := domain.BERTScore{Position: i + 1, Score: round4(posBest)}
		check.BERTScores = append(check.BERTScores, entry)
		// Strictly greater keeps the leftmost position on ties.
		if best == nil || posBest > best.Score {
			b := domain.BERTScore{Position: i + 1, Score: posBest}
			best = &b
		}
	}

	if best == nil {
		check.Status = domain.StatusFailed
		if scoreErr != nil {
			check.Details = fmt.Sprintf("FAILED: similarity oracle error: %v", scoreErr)
		} else {
			check.Details = "FAILED: no DDX text available for comparison"
		}
		return domain.MatchOutcome{}, false
	}

	rounded := domain.BERTScore{Position: best.Position, Score: round4(best.Score)}
	check.BERTBest = &rounded

	if scoreErr != nil {
		// A partial oracle failure stays in the trace even when the
		// surviving positions decide the family.
		defer func() {
			check.Details = fmt.Sprintf("%s [similarity oracle error on some pairs: %v]", check.Details, scoreErr)
		}()
	}

	if best.Score >= r.cfg.AutoconfirmThreshold {
		check.Status = domain.StatusSuccess
		check.Details = fmt.Sprintf("SUCCESS: BERT autoconfirm at P%d (score: %.4f)", best.Position, best.Score)
		return domain.MatchOutcome{
			Status:   domain.StatusSuccess,
			Method:   domain.MethodBERTAutoconfirm,
			Position: best.Position,
			Value:    fmt.Sprintf("%.4f", best.Score),
		}, true
	}

	judgePos := r.askJudge(ctx, gdx, ddxList, check)

	accepted := best.Score >= r.cfg.AcceptanceThreshold
	switch {
	case accepted && judgePos > 0 && best.Position <= judgePos:
		check.Status = domain.StatusSuccess
		check.Details = fmt.Sprintf("SUCCESS: BERT match at P%d (score: %.4f, judge agreed at P%d or later)", best.Position, best.Score, judgePos)
		return domain.MatchOutcome{
			Status:   domain.StatusSuccess,
			Method:   domain.MethodBERTMatch,
			Position: best.Position,
			Value:    fmt.Sprintf("%.4f", best.Score),
		}, true
	case judgePos > 0:
		check.Status = domain.StatusSuccess
		check.Details = fmt.Sprintf("SUCCESS: LLM judgment selected P%d (best BERT: %.4f at P%d)", judgePos, best.Score, best.Position)
		return domain.MatchOutcome{
			Status:   domain.StatusSuccess,
			Method:   domain.MethodLLMJudgment,
			Position: judgePos,
			Value:    fmt.Sprintf("judge=P%d", judgePos),
		}, true
	case accepted:
		check.Status = domain.StatusSuccess
		check.Details = fmt.Sprintf("SUCCESS: BERT match at P%d (score: %.4f, no judge selection)", best.Position, best.Score)
		return domain.MatchOutcome{
			Status:   domain.StatusSuccess,
			Method:   domain.MethodBERTMatch,
			Position: best.Position,
			Value:    fmt.Sprintf("%.4f", best.Score),
		}, true
	}

	check.Status = domain.StatusFailed
	check.Details = fmt.Sprintf("FAILED: best score %.4f below acceptance threshold and judge found no match", best.Score)
	return domain.MatchOutcome{}, false
}

// askJudge ranks the first JudgeCandidates DDX texts. Any judge error is
// recovered as "none" so the embedding-only decision logic still runs.
func (r *Resolver) askJudge(ctx context.Context, gdx domain.Diagnosis, ddxList []domain.Diagnosis, check *domain.SemanticCheck) int {
	limit := r.cfg.JudgeCandidates
	if limit > len(ddxList) {
		limit = len(ddxList)
	}
	candidates := make([]string, 0, limit)
	for _, ddx := range ddxList[:limit] {
		candidates = append(candidates, ddx.Text())
	}
	if len(candidates) == 0 {
		return 0
	}

	pos, err := r.judge.Rank(ctx, gdx.Text(), candidates)
	if err != nil {
		r.log.WithError(err).WithField("gdx", gdx.Name).Warn("Judge call failed, treating as no selection")
		check.Judgment = &domain.LLMJudgment{Position: 0, Raw: err.Error()}
		return 0
	}
	check.Judgment = &domain.LLMJudgment{Position: pos}
	return pos
}

// pairScore consults the shared cache before the oracle.
func (r *Resolver) pairScore(ctx context.Context, textA, textB string) (float64, error) {
	if textA == textB {
		return 1.0, nil
	}
	if r.cache != nil {
		if score, ok := r.cache.Get(ctx, textA, textB); ok {
			return score, nil
		}
	}
	score, err := r.scorer.Score(ctx, textA, textB)
	if err != nil {
		return 0, err
	}
	if r.cache != nil {
		r.cache.Set(ctx, textA, textB, score)
	}
	return score, nil
}

// dedupePairs builds the cross product of the two text sets with duplicate
// pairs removed, order preserved.
func dedupePairs(gdxTexts, ddxTexts []string) [][2]string {
	seen := make(map[[2]string]struct{}, len(gdxTexts)*len(ddxTexts))
	pairs := make([][2]string, 0, len(gdxTexts)*len(ddxTexts))
	for _, g := range gdxTexts {
		for _, d := range ddxTexts {
			key := [2]string{g, d}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			pairs = append(pairs, key)
		}
	}
	return pairs
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
