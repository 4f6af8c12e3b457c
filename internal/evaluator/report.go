package evaluator

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/sirupsen/logrus"
)

// WriteReports emits the run artifacts into dir:
//
//	summary.json            dataset-level metrics
//	evaluation_details.json per-case traces and resolutions
//	ddx_analysis.csv        one flat row per case
func WriteReports(dir string, out *RunOutput, logger *logrus.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	summary := struct {
		RunID       string      `json:"run_id"`
		Experiment  string      `json:"experiment,omitempty"`
		StartedAt   string      `json:"started_at"`
		FinishedAt  string      `json:"finished_at"`
		Interrupted bool        `json:"interrupted"`
		Summary     interface{} `json:"summary"`
	}{
		RunID:       out.RunID,
		Experiment:  out.Experiment,
		StartedAt:   out.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		FinishedAt:  out.FinishedAt.Format("2006-01-02T15:04:05Z07:00"),
		Interrupted: out.Interrupted,
		Summary:     out.Summary,
	}
	if err := writeJSON(filepath.Join(dir, "summary.json"), summary); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(dir, "evaluation_details.json"), out.Results); err != nil {
		return err
	}
	if err := writeCSV(filepath.Join(dir, "ddx_analysis.csv"), out); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"run_id": out.RunID,
		"dir":    dir,
	}).Info("Reports written")
	return nil
}

func writeJSON(path string, v interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return nil
}

func writeCSV(path string, out *RunOutput) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"case_id", "matched", "method", "position", "gdx_name", "ddx_name", "severity_final_score", "error"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	for _, result := range out.Results {
		row := []string{result.CaseID, strconv.FormatBool(result.Matched), "", "", "", "", "", result.Err}
		if result.Resolution != nil {
			row[2] = string(result.Resolution.Method)
			row[3] = strconv.Itoa(result.Resolution.Position)
			row[4] = result.Resolution.GDXName
			row[5] = result.Resolution.DDXName
		}
		if result.Severity != nil {
			row[6] = strconv.FormatFloat(result.Severity.FinalScore, 'f', 4, 64)
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}
	}
	return w.Error()
}
