package domain

import "fmt"

// FamilyCheck records the outcome of one family of the match-resolution
// cascade for a single GDX. Families skipped because an earlier family
// succeeded, or because the GDX carries no codes for that family, are
// recorded as SKIPPED rather than FAILED.
type FamilyCheck struct {
	Status  MatchStatus `json:"status"`
	Details string      `json:"details"`
}

// BERTScore is the best similarity score observed for one DDX position.
type BERTScore struct {
	Position int     `json:"position"`
	Score    float64 `json:"score"`
}

// LLMJudgment is the tie-breaker verdict: the 1-based position the judge
// selected, or 0 for "no clinically interchangeable candidate".
type LLMJudgment struct {
	Position int    `json:"position"`
	Raw      string `json:"raw,omitempty"`
}

// SemanticCheck records the semantic-fallback family, including the full
// per-position score list for audit.
type SemanticCheck struct {
	Status     MatchStatus  `json:"status"`
	Details    string       `json:"details"`
	BERTScores []BERTScore  `json:"bert_scores"`
	BERTBest   *BERTScore   `json:"bert_best,omitempty"`
	Judgment   *LLMJudgment `json:"llm_judgment,omitempty"`
}

// MatchOutcome is the resolver result for one (GDX, DDX-list) pair.
type MatchOutcome struct {
	Status MatchStatus `json:"status"`
	// Method and Position are set only on SUCCESS.
	Method   MatchMethod `json:"method,omitempty"`
	Position int         `json:"position,omitempty"`
	// Value is the code, code pair or numeric score that produced the
	// match, kept for the audit trace.
	Value string `json:"value,omitempty"`
}

// GDXTrace is the full per-GDX audit record: the GDX that was evaluated,
// every family check in cascade order, and the reduced outcome.
type GDXTrace struct {
	GDX      Diagnosis     `json:"gdx_evaluated"`
	SNOMED   FamilyCheck   `json:"snomed_check"`
	RareCode FamilyCheck   `json:"rare_code_check"`
	ICD10    FamilyCheck   `json:"icd10_check"`
	Semantic SemanticCheck `json:"semantic_check"`
	Outcome  MatchOutcome  `json:"outcome"`
}

// Resolution is a case's final resolution: the single best outcome across
// all GDX entries, by lowest matched position with first-GDX-wins ties.
type Resolution struct {
	Position int         `json:"position"`
	Method   MatchMethod `json:"method"`
	Value    string      `json:"value"`
	GDXIndex int         `json:"gdx_index"` // 1-based index into the case's GDX list
	GDXName  string      `json:"gdx_name"`
	DDXName  string      `json:"ddx_name"`
}

// PositionLabel renders the matched position in the P<n> report notation.
func (r Resolution) PositionLabel() string {
	return fmt.Sprintf("P%d", r.Position)
}

// CaseResult holds everything the evaluator produced for one case.
type CaseResult struct {
	CaseID     string      `json:"case_id"`
	Matched    bool        `json:"best_match_found"`
	Resolution *Resolution `json:"final_resolution,omitempty"`
	Traces     []GDXTrace  `json:"evaluation_trace"`
	// Scores is the per-DDX unified score vector used by the ranking
	// metrics: 1.0 at a coded or judge-adjudicated match position, the raw
	// best similarity per position when the semantic family ran.
	Scores []float64 `json:"ddx_scores,omitempty"`
	// Severity is filled in during the severity phase, after batch
	// assignment completed.
	Severity *SeverityResult `json:"severity_evaluation,omitempty"`
	// Err carries a case-level error annotation; the case still appears in
	// the output with a REJECTED resolution.
	Err string `json:"error,omitempty"`
}

// SeverityBucket aggregates one side of the optimist/pessimist split.
type SeverityBucket struct {
	N     int     `json:"n"`
	Score float64 `json:"score"`
}

// SeverityEntry is the per-DDX severity-distance record.
type SeverityEntry struct {
	Name     string   `json:"disease"`
	Severity Severity `json:"severity"`
	Distance int      `json:"distance"`
	Score    float64  `json:"score"`
}

// SeverityResult is the normalized severity-distance metric for one case,
// anchored on the winning GDX's severity.
type SeverityResult struct {
	FinalScore  float64         `json:"final_score"`
	Optimist    SeverityBucket  `json:"optimist"`
	Pessimist   SeverityBucket  `json:"pessimist"`
	GDXName     string          `json:"gdx_name"`
	GDXSeverity Severity        `json:"gdx_severity"`
	Entries     []SeverityEntry `json:"ddx_list"`
}
