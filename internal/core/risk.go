package core

import "strings"

// RiskAssessment is the backend severity triple derived from a patient's
// baseline risk level.
type RiskAssessment struct {
	Severity      string
	Score         int
	MedicalStatus string
}

// Stable reports whether the assessment needs no follow-up tone.
func (r RiskAssessment) Stable() bool { return r.MedicalStatus == "STABLE" }

var riskTable = map[string]RiskAssessment{
	"LOW":      {Severity: "LOW", Score: 30, MedicalStatus: "STABLE"},
	"MEDIUM":   {Severity: "LOW", Score: 60, MedicalStatus: "CONCERN"},
	"HIGH":     {Severity: "MEDIUM", Score: 80, MedicalStatus: "CONCERN"},
	"CRITICAL": {Severity: "HIGH", Score: 90, MedicalStatus: "CONCERN"},
}

// AssessRisk maps a baseline risk level.  Unknown and blank levels map to LOW.
func AssessRisk(baseline string) RiskAssessment {
	if r, ok := riskTable[strings.ToUpper(strings.TrimSpace(baseline))]; ok {
		return r
	}
	return riskTable["LOW"]
}
