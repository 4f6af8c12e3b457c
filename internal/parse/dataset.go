package parse

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

// LoadDataset reads a benchmark dataset file: a JSON array of cases, each
// with its ground-truth diagnoses and, unless the generation phase is
// enabled, a pre-attached candidate list. Cases must carry unique IDs and
// at least one ground-truth diagnosis.
func LoadDataset(path string) ([]domain.Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset %s: %w", path, err)
	}

	var cases []domain.Case
	if err := json.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("%w: dataset %s: %v", domain.ErrMalformedInput, path, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("%w: dataset %s contains no cases", domain.ErrMalformedInput, path)
	}

	seen := make(map[string]bool, len(cases))
	for i, c := range cases {
		if c.ID == "" {
			return nil, fmt.Errorf("%w: case at index %d has no case_id", domain.ErrMalformedInput, i)
		}
		if seen[c.ID] {
			return nil, fmt.Errorf("%w: duplicate case_id %q", domain.ErrMalformedInput, c.ID)
		}
		seen[c.ID] = true
		if len(c.GDX) == 0 {
			return nil, fmt.Errorf("%w: case %s has no ground-truth diagnoses", domain.ErrMalformedInput, c.ID)
		}
	}
	return cases, nil
}
