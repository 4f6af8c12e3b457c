// Package parse decodes LLM diagnosis responses into a clean ordered list
// of diagnosis names. Models wrap their output in several known shapes;
// each is tried in a fixed priority order and nothing beyond the documented
// shapes is guessed at.
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
)

var (
	fencePattern  = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	xmlTagPattern = regexp.MustCompile(`(?s)<diagnosis_output>\s*(.*?)\s*</diagnosis_output>`)
)

// DDXList extracts the ordered diagnosis names from a raw model response.
//
// After stripping markdown code fences and an optional <diagnosis_output>
// XML wrapper, the payload is decoded against, in order: a list of
// {"diagnosis": ...} objects, a list of {"dx": ...} objects, a raw string
// list, and a {"diagnoses": [...]} object. Empty entries are dropped. A
// payload matching none of the shapes is a malformed-input error.
func DDXList(raw string) ([]string, error) {
	payload := strings.TrimSpace(raw)
	if m := fencePattern.FindStringSubmatch(payload); m != nil {
		payload = m[1]
	}
	if m := xmlTagPattern.FindStringSubmatch(payload); m != nil {
		payload = m[1]
	}
	if payload == "" {
		return nil, fmt.Errorf("%w: empty diagnosis response", domain.ErrMalformedInput)
	}

	if names, ok := decodeObjectList(payload, "diagnosis"); ok {
		return names, nil
	}
	if names, ok := decodeObjectList(payload, "dx"); ok {
		return names, nil
	}
	if names, ok := decodeStringList(payload); ok {
		return names, nil
	}
	if names, ok := decodeDiagnosesObject(payload); ok {
		return names, nil
	}
	return nil, fmt.Errorf("%w: diagnosis response matches no known shape", domain.ErrMalformedInput)
}

// decodeObjectList handles [{"<key>": "name"}, ...]. Every element must
// carry a string under key for the shape to apply.
func decodeObjectList(payload, key string) ([]string, bool) {
	var entries []map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &entries); err != nil || len(entries) == 0 {
		return nil, false
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		raw, ok := entry[key]
		if !ok {
			return nil, false
		}
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return nil, false
		}
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names, true
}

func decodeStringList(payload string) ([]string, bool) {
	var entries []string
	if err := json.Unmarshal([]byte(payload), &entries); err != nil {
		return nil, false
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry = strings.TrimSpace(entry); entry != "" {
			names = append(names, entry)
		}
	}
	return names, true
}

func decodeDiagnosesObject(payload string) ([]string, bool) {
	var wrapper struct {
		Diagnoses []string `json:"diagnoses"`
	}
	if err := json.Unmarshal([]byte(payload), &wrapper); err != nil || wrapper.Diagnoses == nil {
		return nil, false
	}
	names := make([]string, 0, len(wrapper.Diagnoses))
	for _, entry := range wrapper.Diagnoses {
		if entry = strings.TrimSpace(entry); entry != "" {
			names = append(names, entry)
		}
	}
	return names, true
}
