package models

// RiskLevel is the categorical outcome of a risk assessment.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// RiskLevels lists every valid risk level, lowest first.
var RiskLevels = []RiskLevel{RiskLevelLow, RiskLevelMedium, RiskLevelHigh, RiskLevelCritical}

// IsValidRiskLevel reports whether l belongs to the closed risk-level set.
func IsValidRiskLevel(l RiskLevel) bool {
	for _, known := range RiskLevels {
		if l == known {
			return true
		}
	}
	return false
}

// RiskFactor is one normalized health-risk concern identified by the analyzer.
// Instances are produced only by the risk service's normalization step;
// malformed analyzer output never reaches this type.
type RiskFactor struct {
	Type            string                 `json:"type"`
	Description     string                 `json:"description"`
	Severity        float64                `json:"severity"`   // always in [0,1]
	Confidence      float64                `json:"confidence"` // always in [0,1]
	Recommendations []string               `json:"recommendations,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// RiskAnalysis is the raw, untrusted analyzer output for a single answer.
// RiskFactors entries are loosely structured maps; the risk service validates
// them and drops whatever does not conform.
type RiskAnalysis struct {
	RiskFactors     []map[string]interface{} `json:"risk_factors"`
	RiskScore       float64                  `json:"risk_score"`
	Confidence      float64                  `json:"confidence"`
	Recommendations []string                 `json:"recommendations"`
}

// ResponseAnalysis is the engine's normalized per-answer analysis result.
type ResponseAnalysis struct {
	RiskFactors     []RiskFactor `json:"risk_factors"`
	RiskScore       float64      `json:"risk_score"` // clamped to [0,1] at ingestion
	Confidence      float64      `json:"confidence"`
	Recommendations []string     `json:"recommendations,omitempty"`
}
