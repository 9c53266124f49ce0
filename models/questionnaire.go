package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// MaxQuestions caps the number of questions a questionnaire may hold.
const MaxQuestions = 50

// QuestionnaireStatus is the lifecycle state of a questionnaire.
type QuestionnaireStatus string

const (
	StatusInProgress QuestionnaireStatus = "in_progress"
	StatusCompleted  QuestionnaireStatus = "completed"
	StatusAbandoned  QuestionnaireStatus = "abandoned"
)

// Cipher is the symmetric, authenticated encryption collaborator used to
// protect stored responses and question text. The key reference is opaque to
// the engine.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	KeyID() string
}

// LGPDConsent is the consent record required to open a questionnaire.
// Construction of a Questionnaire fails when any field is missing.
type LGPDConsent struct {
	Purpose         string `json:"purpose" validate:"required"`
	DataUsage       string `json:"data_usage" validate:"required"`
	RetentionPeriod int    `json:"retention_period" validate:"required"`
	SharingPolicy   string `json:"sharing_policy" validate:"required"`
}

// consentValidate checks the structural completeness of consent records.
// The engine does not interpret consent semantics beyond required presence.
var consentValidate = validator.New()

// Response is a recorded answer to one question. Value holds the ciphertext of
// the JSON-encoded answer; KeyID references the encryption key that sealed it.
type Response struct {
	Value     string    `json:"value"`
	Timestamp time.Time `json:"timestamp"`
	KeyID     string    `json:"encryption_key_id"`
}

// AuditEntry is one record of the append-only audit trail. Every mutating
// operation on a questionnaire appends exactly one entry.
type AuditEntry struct {
	Action     string                 `json:"action"`
	QuestionID string                 `json:"question_id,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Questionnaire is a complete health questionnaire: its questions, the
// recorded responses, the rolling risk summary and the audit trail.
type Questionnaire struct {
	ID            string              `json:"id" gorm:"primaryKey"`
	EnrollmentID  string              `json:"enrollment_id" gorm:"index"`
	Questions     []Question          `json:"questions" gorm:"serializer:json"`
	Responses     map[string]Response `json:"responses" gorm:"serializer:json"`
	ResponseOrder []string            `json:"response_order" gorm:"serializer:json"`
	RiskScore     float64             `json:"risk_score"` // percentage, [0,100]
	RiskLevel     RiskLevel           `json:"risk_level"`
	RiskFactors   []RiskFactor        `json:"risk_factors" gorm:"serializer:json"`
	Status        QuestionnaireStatus `json:"status" gorm:"index"`
	AuditTrail    []AuditEntry        `json:"audit_trail" gorm:"serializer:json"`
	Consent       LGPDConsent         `json:"lgpd_consent" gorm:"serializer:json"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// NewQuestionnaire creates an empty in-progress questionnaire for an
// enrollment. It fails with ErrInvalidConsent when the consent record is
// structurally incomplete; no partially-constructed questionnaire escapes.
func NewQuestionnaire(enrollmentID string, consent LGPDConsent) (*Questionnaire, error) {
	if enrollmentID == "" {
		return nil, fmt.Errorf("enrollment ID cannot be empty")
	}
	if err := consentValidate.Struct(consent); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConsent, err)
	}

	now := time.Now().UTC()
	return &Questionnaire{
		ID:            uuid.NewString(),
		EnrollmentID:  enrollmentID,
		Questions:     make([]Question, 0),
		Responses:     make(map[string]Response),
		ResponseOrder: make([]string, 0),
		RiskScore:     0.0,
		RiskLevel:     RiskLevelLow,
		RiskFactors:   make([]RiskFactor, 0),
		Status:        StatusInProgress,
		AuditTrail:    make([]AuditEntry, 0),
		Consent:       consent,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// QuestionByID returns the question with the given id, or nil.
func (q *Questionnaire) QuestionByID(questionID string) *Question {
	for i := range q.Questions {
		if q.Questions[i].ID == questionID {
			return &q.Questions[i]
		}
	}
	return nil
}

// ResponseIDs returns the question ids of recorded responses in first-insertion
// order. Re-submitting an answer overwrites the value but keeps the original
// position, so aggregation walks responses deterministically.
func (q *Questionnaire) ResponseIDs() []string {
	out := make([]string, len(q.ResponseOrder))
	copy(out, q.ResponseOrder)
	return out
}

// DependencyErrors reports, as validation reasons, the declared dependencies of
// a question that have no recorded answer yet. An empty result means the
// question may be answered now.
func (q *Questionnaire) DependencyErrors(question *Question) []string {
	var errs []string
	for _, dep := range question.Dependencies {
		if _, answered := q.Responses[dep]; !answered {
			errs = append(errs, fmt.Sprintf("Question depends on unanswered question %s", dep))
		}
	}
	return errs
}

// AddQuestion appends a question, enforcing the capacity cap and id uniqueness.
func (q *Questionnaire) AddQuestion(question *Question) error {
	if q.Status != StatusInProgress {
		return fmt.Errorf("%w (status: %s)", ErrInvalidStatus, q.Status)
	}
	if len(q.Questions) >= MaxQuestions {
		return ErrCapacityExceeded
	}
	if q.QuestionByID(question.ID) != nil {
		return ErrDuplicateQuestion
	}

	q.Questions = append(q.Questions, *question)
	q.touch("add_question", question.ID, map[string]interface{}{
		"type":     string(question.Type),
		"required": question.Required,
	})
	return nil
}

// AddResponse validates, encrypts and records an answer to a question.
// Validation failures are returned as an ordinary result (ok=false plus the
// collected reasons) and leave the questionnaire untouched. The error return is
// reserved for faults: unknown question, terminal status, encryption failure.
// A response for an already-answered question overwrites the previous value.
func (q *Questionnaire) AddResponse(questionID string, response interface{}, cipher Cipher) (bool, []string, error) {
	if q.Status != StatusInProgress {
		return false, nil, fmt.Errorf("%w (status: %s)", ErrInvalidStatus, q.Status)
	}
	question := q.QuestionByID(questionID)
	if question == nil {
		return false, nil, ErrQuestionNotFound
	}

	ok, errs, err := question.ValidateResponse(response)
	if err != nil {
		return false, errs, err
	}
	// Declared dependencies must be answered first.
	if depErrs := q.DependencyErrors(question); len(depErrs) > 0 {
		ok = false
		errs = append(errs, depErrs...)
	}
	if !ok {
		return false, errs, nil
	}

	plaintext, err := EncodeResponseValue(response)
	if err != nil {
		return false, nil, fmt.Errorf("failed to encode response for question %s: %w", questionID, err)
	}
	ciphertext, err := cipher.Encrypt(plaintext)
	if err != nil {
		return false, nil, fmt.Errorf("failed to encrypt response for question %s: %w", questionID, err)
	}

	if _, exists := q.Responses[questionID]; !exists {
		q.ResponseOrder = append(q.ResponseOrder, questionID)
	}
	q.Responses[questionID] = Response{
		Value:     ciphertext,
		Timestamp: time.Now().UTC(),
		KeyID:     cipher.KeyID(),
	}
	q.touch("add_response", questionID, map[string]interface{}{
		"validation_passed": true,
	})
	return true, nil, nil
}

// UpdateRiskAssessment overwrites the questionnaire's risk state. The score is
// a percentage in [0,100] and the level must belong to the closed set.
func (q *Questionnaire) UpdateRiskAssessment(riskScore float64, riskLevel RiskLevel, riskFactors []RiskFactor) error {
	if riskScore < 0 || riskScore > 100 {
		return ErrInvalidRiskScore
	}
	if !IsValidRiskLevel(riskLevel) {
		return ErrInvalidRiskLevel
	}

	oldLevel := q.RiskLevel
	q.RiskScore = riskScore
	q.RiskLevel = riskLevel
	q.RiskFactors = riskFactors
	q.touch("update_risk_assessment", "", map[string]interface{}{
		"old_risk_level":     string(oldLevel),
		"new_risk_level":     string(riskLevel),
		"risk_score":         riskScore,
		"risk_factors_count": len(riskFactors),
	})
	return nil
}

// Complete transitions an in-progress questionnaire to completed.
func (q *Questionnaire) Complete() error {
	return q.transition(StatusCompleted)
}

// Abandon transitions an in-progress questionnaire to abandoned.
func (q *Questionnaire) Abandon() error {
	return q.transition(StatusAbandoned)
}

func (q *Questionnaire) transition(target QuestionnaireStatus) error {
	if q.Status != StatusInProgress {
		return fmt.Errorf("%w (status: %s)", ErrInvalidStatus, q.Status)
	}
	old := q.Status
	q.Status = target
	q.touch("status_transition", "", map[string]interface{}{
		"old_status": string(old),
		"new_status": string(target),
	})
	return nil
}

// touch updates UpdatedAt and appends a single audit entry.
func (q *Questionnaire) touch(action, questionID string, metadata map[string]interface{}) {
	now := time.Now().UTC()
	q.UpdatedAt = now
	q.AuditTrail = append(q.AuditTrail, AuditEntry{
		Action:     action,
		QuestionID: questionID,
		Timestamp:  now,
		Metadata:   metadata,
	})
}

// EncodeResponseValue renders a response value as JSON for encrypted storage.
// JSON keeps the answer's type (bool, number, list) intact across the
// encrypt/decrypt round trip.
func EncodeResponseValue(response interface{}) (string, error) {
	raw, err := json.Marshal(response)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeResponseValue is the inverse of EncodeResponseValue. Undecodable
// payloads (from older records) fall back to the raw string.
func DecodeResponseValue(encoded string) interface{} {
	var value interface{}
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		return encoded
	}
	return value
}
