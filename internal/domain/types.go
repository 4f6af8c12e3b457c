// Package domain contains the core entities and types for differential
// diagnosis (DDX) evaluation against ground-truth diagnoses (GDX).
//
// A DDX list is a ranked list of candidate diagnoses produced by the model
// under test; the 1-based position of the first candidate that matches any
// GDX is the primary scored quantity.
package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// MatchStatus represents the state of a single family check within the
// match-resolution cascade.
type MatchStatus string

const (
	StatusPending MatchStatus = "PENDING"
	StatusSkipped MatchStatus = "SKIPPED"
	StatusSuccess MatchStatus = "SUCCESS"
	StatusFailed  MatchStatus = "FAILED"
)

// IsValid checks that the status is one of the defined constants.
func (s MatchStatus) IsValid() bool {
	switch s {
	case StatusPending, StatusSkipped, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// MatchMethod identifies which cascade strategy produced a match.
type MatchMethod string

const (
	MethodSNOMEDMatch     MatchMethod = "SNOMED_MATCH"
	MethodOMIMMatch       MatchMethod = "OMIM_MATCH"
	MethodOrphaMatch      MatchMethod = "ORPHA_MATCH"
	MethodICD10Exact      MatchMethod = "ICD10_EXACT"
	MethodICD10Child      MatchMethod = "ICD10_CHILD"
	MethodICD10Parent     MatchMethod = "ICD10_PARENT"
	MethodICD10Sibling    MatchMethod = "ICD10_SIBLING"
	MethodBERTAutoconfirm MatchMethod = "BERT_AUTOCONFIRM"
	MethodBERTMatch       MatchMethod = "BERT_MATCH"
	MethodLLMJudgment     MatchMethod = "LLM_JUDGMENT"
)

// IsValid checks that the method is one of the defined constants.
func (m MatchMethod) IsValid() bool {
	switch m {
	case MethodSNOMEDMatch, MethodOMIMMatch, MethodOrphaMatch,
		MethodICD10Exact, MethodICD10Child, MethodICD10Parent, MethodICD10Sibling,
		MethodBERTAutoconfirm, MethodBERTMatch, MethodLLMJudgment:
		return true
	}
	return false
}

// IsCoded reports whether the method is a coded-identity or taxonomic match,
// as opposed to a semantic (embedding or judge) match. Coded matches carry a
// unified score of 1.0 in the ranking metrics.
func (m MatchMethod) IsCoded() bool {
	switch m {
	case MethodSNOMEDMatch, MethodOMIMMatch, MethodOrphaMatch,
		MethodICD10Exact, MethodICD10Child, MethodICD10Parent, MethodICD10Sibling:
		return true
	}
	return false
}

// CodeSystem identifies one of the supported medical coding systems.
type CodeSystem string

const (
	SystemICD10  CodeSystem = "icd10"
	SystemSNOMED CodeSystem = "snomed"
	SystemOMIM   CodeSystem = "omim"
	SystemOrpha  CodeSystem = "orpha"
)

// CodeSystems lists all supported systems in their canonical order.
func CodeSystems() []CodeSystem {
	return []CodeSystem{SystemICD10, SystemSNOMED, SystemOMIM, SystemOrpha}
}

// Severity is an integer severity 0-10 encoded as "S0".."S10".
type Severity string

// DefaultSeverity is assigned when a diagnosis carries no severity or the
// assigner returned something unparseable.
const DefaultSeverity Severity = "S5"

// ParseSeverity validates and normalizes a severity string.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToUpper(strings.TrimSpace(s)))
	if !sev.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, s)
	}
	return sev, nil
}

// IsValid checks the S0..S10 encoding.
func (s Severity) IsValid() bool {
	if len(s) < 2 || s[0] != 'S' {
		return false
	}
	n, err := strconv.Atoi(string(s[1:]))
	if err != nil {
		return false
	}
	return n >= 0 && n <= 10
}

// Level returns the integer severity 0-10. Invalid or empty severities
// collapse to the default level 5.
func (s Severity) Level() int {
	if !s.IsValid() {
		return 5
	}
	n, _ := strconv.Atoi(string(s[1:]))
	return n
}
