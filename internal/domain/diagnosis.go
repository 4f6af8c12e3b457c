package domain

// MedicalCodes holds the coded identifiers attached to a diagnosis, one set
// per coding system. Sets are order-insensitive and duplicate-free; any or
// all of them may be empty, in which case matching falls through to the
// semantic comparison.
type MedicalCodes struct {
	ICD10  []string `json:"icd10"`
	SNOMED []string `json:"snomed"`
	OMIM   []string `json:"omim"`
	Orpha  []string `json:"orpha"`
}

// Codes returns the code set for the given system.
func (mc MedicalCodes) Codes(system CodeSystem) []string {
	switch system {
	case SystemICD10:
		return mc.ICD10
	case SystemSNOMED:
		return mc.SNOMED
	case SystemOMIM:
		return mc.OMIM
	case SystemOrpha:
		return mc.Orpha
	}
	return nil
}

// Add appends a code to the given system, suppressing duplicates.
func (mc *MedicalCodes) Add(system CodeSystem, code string) {
	if code == "" {
		return
	}
	target := mc.codesRef(system)
	if target == nil {
		return
	}
	for _, existing := range *target {
		if existing == code {
			return
		}
	}
	*target = append(*target, code)
}

func (mc *MedicalCodes) codesRef(system CodeSystem) *[]string {
	switch system {
	case SystemICD10:
		return &mc.ICD10
	case SystemSNOMED:
		return &mc.SNOMED
	case SystemOMIM:
		return &mc.OMIM
	case SystemOrpha:
		return &mc.Orpha
	}
	return nil
}

// IsEmpty reports whether no system carries any code.
func (mc MedicalCodes) IsEmpty() bool {
	return len(mc.ICD10) == 0 && len(mc.SNOMED) == 0 && len(mc.OMIM) == 0 && len(mc.Orpha) == 0
}

// Diagnosis is a single diagnosis entry, used for both DDX candidates and
// GDX ground truth.
type Diagnosis struct {
	// Name is the raw display text.
	Name string `json:"name"`
	// NormalizedText is the canonicalized text; equal to Name when no
	// normalization occurred.
	NormalizedText string `json:"normalized_text"`
	// Codes are the identifiers attached by the code extractor, possibly
	// fully empty.
	Codes MedicalCodes `json:"medical_codes"`
	// Severity is the S0..S10 severity, empty until assigned.
	Severity Severity `json:"severity,omitempty"`
}

// NewDiagnosis builds a diagnosis from raw text, defaulting the normalized
// text to the name.
func NewDiagnosis(name string) Diagnosis {
	return Diagnosis{Name: name, NormalizedText: name}
}

// Text returns the preferred comparison text: the normalized form when
// present, otherwise the raw name.
func (d Diagnosis) Text() string {
	if d.NormalizedText != "" {
		return d.NormalizedText
	}
	return d.Name
}

// TextVariants returns the distinct texts of the diagnosis (name and
// normalized form), collapsing to one entry when they are identical.
func (d Diagnosis) TextVariants() []string {
	if d.NormalizedText == "" || d.NormalizedText == d.Name {
		return []string{d.Name}
	}
	return []string{d.Name, d.NormalizedText}
}

// SeverityLevel returns the integer severity, defaulting to 5 when
// unassigned.
func (d Diagnosis) SeverityLevel() int {
	if d.Severity == "" {
		return DefaultSeverity.Level()
	}
	return d.Severity.Level()
}

// Case is one clinical case to be evaluated: a description, the declared
// ground-truth diagnoses and the ranked model-generated candidates.
//
// GDX order carries no matching priority; every GDX is evaluated
// independently and the best (lowest-position) result wins. DDX order is
// significant: position is the quantity being scored.
type Case struct {
	ID          string      `json:"case_id"`
	Description string      `json:"case_description"`
	Complexity  string      `json:"complexity,omitempty"`
	GDX         []Diagnosis `json:"ground_truth_diagnoses"`
	DDX         []Diagnosis `json:"generated_diagnoses"`
}
