package evaluator

import (
	"math"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// ScoreSeverity computes the normalized severity-distance metric for one
// case, anchored on the winning GDX.
//
// max_distance is the one-sided room the anchor severity has to deviate:
// 10-sev for the lower half, sev for the upper half, clamped to 1 at the
// extremes so S0 and S10 anchors never divide by zero. Normalized values
// above 1 are possible and deliberately kept: they flag a DDX further from
// the anchor than the anchor's own one-sided spread.
func ScoreSeverity(gdx domain.Diagnosis, ddxList []domain.Diagnosis) *domain.SeverityResult {
	if len(ddxList) == 0 {
		return nil
	}

	sevGDX := gdx.SeverityLevel()
	maxDistance := 10 - sevGDX
	if sevGDX > 5 {
		maxDistance = sevGDX
	}
	if maxDistance == 0 {
		maxDistance = 1
	}

	result := &domain.SeverityResult{
		GDXName:     gdx.Name,
		GDXSeverity: severityOrDefault(gdx),
		Entries:     make([]domain.SeverityEntry, 0, len(ddxList)),
	}

	var total, optimistSum, pessimistSum float64
	for _, ddx := range ddxList {
		sevDDX := ddx.SeverityLevel()
		normalized := math.Abs(float64(sevGDX-sevDDX)) / float64(maxDistance)
		total += normalized

		switch {
		case sevDDX < sevGDX:
			result.Optimist.N++
			optimistSum += normalized
		case sevDDX > sevGDX:
			result.Pessimist.N++
			pessimistSum += normalized
		}

		result.Entries = append(result.Entries, domain.SeverityEntry{
			Name:     ddx.Name,
			Severity: severityOrDefault(ddx),
			Distance: abs(sevGDX - sevDDX),
			Score:    round4(normalized),
		})
	}

	result.FinalScore = round4(total / float64(len(ddxList)))
	if result.Optimist.N > 0 {
		result.Optimist.Score = round4(optimistSum / float64(result.Optimist.N))
	}
	if result.Pessimist.N > 0 {
		result.Pessimist.Score = round4(pessimistSum / float64(result.Pessimist.N))
	}
	return result
}

// anchorGDX picks the severity anchor for a case: the winning GDX when the
// case matched, otherwise the highest-severity GDX as the pessimistic
// fallback.
func anchorGDX(c domain.Case, result domain.CaseResult) (domain.Diagnosis, bool) {
	if len(c.GDX) == 0 {
		return domain.Diagnosis{}, false
	}
	if result.Resolution != nil {
		if i := result.Resolution.GDXIndex - 1; i >= 0 && i < len(c.GDX) {
			return c.GDX[i], true
		}
	}
	anchor := c.GDX[0]
	for _, gdx := range c.GDX[1:] {
		if gdx.SeverityLevel() > anchor.SeverityLevel() {
			anchor = gdx
		}
	}
	return anchor, true
}

func severityOrDefault(d domain.Diagnosis) domain.Severity {
	if d.Severity == "" || !d.Severity.IsValid() {
		return domain.DefaultSeverity
	}
	return d.Severity
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
