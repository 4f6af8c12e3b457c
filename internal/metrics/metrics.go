// Package metrics aggregates case results into dataset-level numbers:
// Top-K accuracy, mean reciprocal rank, precision@5 and the per-method
// summary breakdown.
package metrics

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// RankingMetrics holds the threshold-based ranking numbers, all rounded to
// four decimal places.
type RankingMetrics struct {
	Threshold    float64            `json:"threshold"`
	TopK         map[string]float64 `json:"top_k_accuracy"`
	MRR          float64            `json:"mean_reciprocal_rank"`
	PrecisionAt5 float64            `json:"average_precision_at_5"`
}

// ComputeRanking scans each case's unified per-DDX score vector in list
// order; the first position meeting the threshold is the case's hit rank.
// Coded matches carry 1.0 in the vector, semantic matches their raw
// similarity, so the default 0.8 threshold admits both.
func ComputeRanking(results []domain.CaseResult, threshold float64) RankingMetrics {
	m := RankingMetrics{
		Threshold: threshold,
		TopK:      make(map[string]float64, 5),
	}
	if len(results) == 0 {
		for k := 1; k <= 5; k++ {
			m.TopK[fmt.Sprintf("top%d", k)] = 0
		}
		return m
	}

	topK := make([]int, 5)
	var reciprocalSum, precisionSum float64
	for _, result := range results {
		hit := firstHit(result.Scores, threshold)
		if hit > 0 {
			reciprocalSum += 1.0 / float64(hit)
			for k := hit; k <= 5; k++ {
				topK[k-1]++
			}
		}

		count := 0
		for i, score := range result.Scores {
			if i >= 5 {
				break
			}
			if score >= threshold {
				count++
			}
		}
		precisionSum += float64(count) / 5.0
	}

	n := float64(len(results))
	for k := 1; k <= 5; k++ {
		m.TopK[fmt.Sprintf("top%d", k)] = round4(float64(topK[k-1]) / n)
	}
	m.MRR = round4(reciprocalSum / n)
	m.PrecisionAt5 = round4(precisionSum / n)
	return m
}

// firstHit returns the 1-based position of the first score meeting the
// threshold, 0 when none does.
func firstHit(scores []float64, threshold float64) int {
	for i, score := range scores {
		if score >= threshold {
			return i + 1
		}
	}
	return 0
}

// MethodStats is the per-match-method breakdown.
type MethodStats struct {
	Count           int     `json:"count"`
	Percentage      float64 `json:"percentage"`
	AveragePosition float64 `json:"average_position"`
}

// SeverityAggregate summarizes the severity-distance scores of the cases
// that carried a severity evaluation.
type SeverityAggregate struct {
	Cases  int     `json:"cases"`
	Mean   float64 `json:"mean_final_score"`
	Median float64 `json:"median_final_score"`
	P90    float64 `json:"p90_final_score"`
}

// Summary is the dataset-level report block.
type Summary struct {
	TotalCases           int                    `json:"total_cases"`
	MatchedCases         int                    `json:"matched_cases"`
	UnmatchedCases       int                    `json:"unmatched_cases"`
	ErroredCases         int                    `json:"errored_cases"`
	FinalScorePercentage float64                `json:"final_score_percentage"`
	AveragePosition      float64                `json:"average_position"`
	PositionCounts       map[string]int         `json:"position_counts"`
	MethodCounts         map[string]int         `json:"method_counts"`
	Methods              map[string]MethodStats `json:"method_stats"`
	Ranking              RankingMetrics         `json:"ranking"`
	Severity             *SeverityAggregate     `json:"severity,omitempty"`
}

// Summarize computes the full dataset summary. It is a pure function of its
// inputs: repeated calls on the same results yield identical numbers.
func Summarize(results []domain.CaseResult, threshold float64) Summary {
	summary := Summary{
		TotalCases:     len(results),
		PositionCounts: make(map[string]int),
		MethodCounts:   make(map[string]int),
		Methods:        make(map[string]MethodStats),
		Ranking:        ComputeRanking(results, threshold),
	}

	var positions []float64
	methodPositions := make(map[string][]float64)
	var severityScores []float64

	for _, result := range results {
		if result.Err != "" {
			summary.ErroredCases++
		}
		if result.Severity != nil {
			severityScores = append(severityScores, result.Severity.FinalScore)
		}
		if result.Resolution == nil {
			summary.UnmatchedCases++
			continue
		}
		summary.MatchedCases++

		res := result.Resolution
		summary.PositionCounts[res.PositionLabel()]++
		method := string(res.Method)
		summary.MethodCounts[method]++
		positions = append(positions, float64(res.Position))
		methodPositions[method] = append(methodPositions[method], float64(res.Position))
	}

	if summary.TotalCases > 0 {
		summary.FinalScorePercentage = round2(float64(summary.MatchedCases) / float64(summary.TotalCases) * 100)
	}
	if len(positions) > 0 {
		mean, _ := stats.Mean(positions)
		summary.AveragePosition = round3(mean)
	}

	for method, posList := range methodPositions {
		mean, _ := stats.Mean(posList)
		summary.Methods[method] = MethodStats{
			Count:           len(posList),
			Percentage:      round2(float64(len(posList)) / float64(summary.MatchedCases) * 100),
			AveragePosition: round3(mean),
		}
	}

	if len(severityScores) > 0 {
		mean, _ := stats.Mean(severityScores)
		median, _ := stats.Median(severityScores)
		p90, _ := stats.Percentile(severityScores, 90)
		summary.Severity = &SeverityAggregate{
			Cases:  len(severityScores),
			Mean:   round4(mean),
			Median: round4(median),
			P90:    round4(p90),
		}
	}
	return summary
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
