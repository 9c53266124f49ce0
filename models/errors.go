package models

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for business-rule failures. These are surfaced directly to
// callers and are never retried.
var (
	ErrCapacityExceeded      = fmt.Errorf("maximum number of questions (%d) exceeded", MaxQuestions)
	ErrDuplicateQuestion     = errors.New("question with this ID already exists")
	ErrQuestionNotFound      = errors.New("question not found")
	ErrQuestionnaireNotFound = errors.New("questionnaire not found")
	ErrNoResponses           = errors.New("no responses found in questionnaire")
	ErrInvalidConsent        = errors.New("invalid LGPD consent data")
	ErrInvalidStatus         = errors.New("questionnaire is not in progress")
	ErrInvalidRiskScore      = errors.New("risk score must be between 0 and 100")
	ErrInvalidRiskLevel      = fmt.Errorf("risk level must be one of %v", RiskLevels)
)

// ValidationError carries the full list of reasons a response failed
// validation. It is recoverable: the caller fixes the answer and retries.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid response: %s", strings.Join(e.Errors, "; "))
}

// AnalyzerFault reports that the analyzer capability failed after the
// configured retries and fallback were exhausted. No questionnaire mutation
// occurs for a failed analysis.
type AnalyzerFault struct {
	Provider string
	Attempts int
	Err      error
}

func (f *AnalyzerFault) Error() string {
	return fmt.Sprintf("analyzer provider %s failed after %d attempts: %v", f.Provider, f.Attempts, f.Err)
}

func (f *AnalyzerFault) Unwrap() error { return f.Err }
