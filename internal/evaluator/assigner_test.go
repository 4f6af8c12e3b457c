package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/pkg/external"
)

// scriptedLLM answers each batch by mapping diagnosis names through assign.
type scriptedLLM struct {
	assign map[string]string
	err    error
	calls  []external.ChatRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req external.ChatRequest) (string, error) {
	s.calls = append(s.calls, req)
	if s.err != nil {
		return "", s.err
	}
	var resp severityBatchResponse
	for name, sev := range s.assign {
		resp.Assignments = append(resp.Assignments, severityAssignment{Diagnosis: name, Severity: sev})
	}
	out, _ := json.Marshal(resp)
	return string(out), nil
}

func TestSeverityAssigner_AssignAll(t *testing.T) {
	llm := &scriptedLLM{assign: map[string]string{
		"Pneumonia":  "S6",
		"Bronchitis": "S3",
	}}
	a := NewSeverityAssigner(llm, domain.SeverityConfig{BatchSize: 50}, "", testLogger())

	err := a.AssignAll(context.Background(), []string{"Pneumonia", "Bronchitis", "Pneumonia", " "})
	require.NoError(t, err)

	assert.Equal(t, domain.Severity("S6"), a.Lookup("Pneumonia"))
	assert.Equal(t, domain.Severity("S3"), a.Lookup("Bronchitis"))
	require.Len(t, llm.calls, 1)
	assert.NotNil(t, llm.calls[0].JSONSchema)
}

func TestSeverityAssigner_Batches(t *testing.T) {
	assign := make(map[string]string)
	texts := make([]string, 0, 120)
	for i := 0; i < 120; i++ {
		name := fmt.Sprintf("diagnosis-%03d", i)
		texts = append(texts, name)
		assign[name] = "S4"
	}
	llm := &scriptedLLM{assign: assign}
	a := NewSeverityAssigner(llm, domain.SeverityConfig{BatchSize: 50}, "", testLogger())

	require.NoError(t, a.AssignAll(context.Background(), texts))
	assert.Len(t, llm.calls, 3)
	assert.Equal(t, domain.Severity("S4"), a.Lookup("diagnosis-077"))
}

func TestSeverityAssigner_DefaultsOnMissingOrInvalid(t *testing.T) {
	llm := &scriptedLLM{assign: map[string]string{
		"Pneumonia":  "S11",
		"Bronchitis": "banana",
	}}
	a := NewSeverityAssigner(llm, domain.SeverityConfig{}, "", testLogger())

	require.NoError(t, a.AssignAll(context.Background(), []string{"Pneumonia", "Bronchitis", "Asthma"}))

	assert.Equal(t, domain.DefaultSeverity, a.Lookup("Pneumonia"))
	assert.Equal(t, domain.DefaultSeverity, a.Lookup("Bronchitis"))
	assert.Equal(t, domain.DefaultSeverity, a.Lookup("Asthma"))
}

func TestSeverityAssigner_BatchErrorDefaultsAndReports(t *testing.T) {
	llm := &scriptedLLM{err: errors.New("deployment overloaded")}
	a := NewSeverityAssigner(llm, domain.SeverityConfig{}, "", testLogger())

	err := a.AssignAll(context.Background(), []string{"Pneumonia"})
	require.Error(t, err)
	assert.Equal(t, domain.DefaultSeverity, a.Lookup("Pneumonia"))
}

func TestSeverityAssigner_CacheIsWriteOnce(t *testing.T) {
	llm := &scriptedLLM{assign: map[string]string{"Pneumonia": "S6"}}
	a := NewSeverityAssigner(llm, domain.SeverityConfig{}, "", testLogger())

	require.NoError(t, a.AssignAll(context.Background(), []string{"Pneumonia"}))
	llm.assign["Pneumonia"] = "S9"
	require.NoError(t, a.AssignAll(context.Background(), []string{"Pneumonia"}))

	assert.Equal(t, domain.Severity("S6"), a.Lookup("Pneumonia"))
	assert.Len(t, llm.calls, 1)
}

func TestSeverityAssigner_LookupDefault(t *testing.T) {
	a := NewSeverityAssigner(&scriptedLLM{}, domain.SeverityConfig{}, "", testLogger())
	assert.Equal(t, domain.DefaultSeverity, a.Lookup("never assigned"))
}
