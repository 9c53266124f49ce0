package models

import (
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// QuestionType defines the type of a questionnaire question.
type QuestionType string

const (
	QuestionTypeText           QuestionType = "text"
	QuestionTypeNumeric        QuestionType = "numeric"
	QuestionTypeBoolean        QuestionType = "boolean"
	QuestionTypeChoice         QuestionType = "choice"
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
)

// QuestionTypes lists every supported question type. The set is closed:
// a question carrying any other type is rejected at construction.
var QuestionTypes = []QuestionType{
	QuestionTypeText,
	QuestionTypeNumeric,
	QuestionTypeBoolean,
	QuestionTypeChoice,
	QuestionTypeMultipleChoice,
}

// IsValidQuestionType reports whether t is one of the supported question types.
func IsValidQuestionType(t QuestionType) bool {
	for _, known := range QuestionTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ComplianceMetadata carries the LGPD processing metadata attached to a question.
// The "factor_type" key drives risk weighting during aggregation; when absent the
// risk service falls back to its default category.
type ComplianceMetadata map[string]interface{}

// DefaultComplianceMetadata returns the LGPD metadata applied to questions that
// were created without explicit compliance information.
func DefaultComplianceMetadata() ComplianceMetadata {
	return ComplianceMetadata{
		"data_category":      "health_data",
		"retention_period":   365,
		"consent_required":   true,
		"processing_purpose": "health_assessment",
	}
}

// Question is a single item of the health questionnaire.
// Questions are created once (by the question-generation step) and are immutable
// afterwards, except for UpdatedAt and the at-rest encryption of Text.
type Question struct {
	ID              string             `json:"id" gorm:"primaryKey"`
	Text            string             `json:"text"` // plaintext or ciphertext, see EncryptText
	Type            QuestionType       `json:"type"`
	Options         []string           `json:"options,omitempty" gorm:"serializer:json"`
	ValidationRules map[string]float64 `json:"validation_rules,omitempty" gorm:"serializer:json"`
	Required        bool               `json:"required"`
	Dependencies    []string           `json:"dependencies,omitempty" gorm:"serializer:json"`
	RiskWeight      float64            `json:"risk_weight"`
	Compliance      ComplianceMetadata `json:"lgpd_metadata" gorm:"serializer:json"`
	EncryptionKeyID string             `json:"encryption_key_id,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// NewQuestion creates a question with a generated identity and validated type.
// Options are mandatory for choice and multiple_choice questions and ignored for
// every other type. A nil compliance map receives the LGPD defaults.
func NewQuestion(text string, qType QuestionType, options []string, rules map[string]float64, required bool, compliance ComplianceMetadata) (*Question, error) {
	if !IsValidQuestionType(qType) {
		return nil, fmt.Errorf("invalid question type %q, must be one of %v", qType, QuestionTypes)
	}
	if (qType == QuestionTypeChoice || qType == QuestionTypeMultipleChoice) && len(options) == 0 {
		return nil, fmt.Errorf("question type %q requires a non-empty options list", qType)
	}
	if qType != QuestionTypeChoice && qType != QuestionTypeMultipleChoice {
		options = nil
	}
	if compliance == nil {
		compliance = DefaultComplianceMetadata()
	}

	now := time.Now().UTC()
	return &Question{
		ID:              uuid.NewString(),
		Text:            text,
		Type:            qType,
		Options:         options,
		ValidationRules: rules,
		Required:        required,
		RiskWeight:      1.0,
		Compliance:      compliance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// EncryptText replaces the question text with its ciphertext and records the key
// reference. Calling it twice is an error: the text would be double-encrypted.
func (q *Question) EncryptText(cipher Cipher) error {
	if q.EncryptionKeyID != "" {
		return fmt.Errorf("question %s text is already encrypted with key %s", q.ID, q.EncryptionKeyID)
	}
	ciphertext, err := cipher.Encrypt(q.Text)
	if err != nil {
		return fmt.Errorf("failed to encrypt text of question %s: %w", q.ID, err)
	}
	q.Text = ciphertext
	q.EncryptionKeyID = cipher.KeyID()
	q.UpdatedAt = time.Now().UTC()
	return nil
}

// PlainText returns the question text in the clear, decrypting it when the
// question was encrypted at rest. Decrypt failures are internal faults.
func (q *Question) PlainText(cipher Cipher) (string, error) {
	if q.EncryptionKeyID == "" {
		return q.Text, nil
	}
	plaintext, err := cipher.Decrypt(q.Text)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt text of question %s: %w", q.ID, err)
	}
	return plaintext, nil
}

// ValidateResponse checks a candidate response against the question's type and
// declared validation rules. It never fails on malformed input: every triggered
// rule is collected into the returned error list and validation does not stop at
// the first problem. The error return is reserved for genuine faults, currently
// only a non-numeric response hitting min_value/max_value rules.
func (q *Question) ValidateResponse(response interface{}) (bool, []string, error) {
	var errs []string

	switch q.Type {
	case QuestionTypeNumeric:
		if _, ok := coerceFloat(response); !ok {
			errs = append(errs, "Response must be a number")
		}
	case QuestionTypeBoolean:
		if _, ok := response.(bool); !ok {
			errs = append(errs, "Response must be true or false")
		}
	case QuestionTypeChoice:
		value, ok := response.(string)
		if !ok || !containsString(q.Options, value) {
			errs = append(errs, fmt.Sprintf("Response must be one of: %s", joinOptions(q.Options)))
		}
	case QuestionTypeMultipleChoice:
		values, ok := toStringSlice(response)
		if !ok || !allMembers(values, q.Options) {
			errs = append(errs, fmt.Sprintf("Response must be a list of valid options: %s", joinOptions(q.Options)))
		}
	}

	// Rule order is fixed: lengths first, then numeric bounds. Lengths count
	// characters, not bytes: "Não" is 3 characters long.
	text := ResponseText(response)
	length := float64(utf8.RuneCountInString(text))
	if min, ok := q.ValidationRules["min_length"]; ok && length < min {
		errs = append(errs, fmt.Sprintf("Response must be at least %g characters long", min))
	}
	if max, ok := q.ValidationRules["max_length"]; ok && length > max {
		errs = append(errs, fmt.Sprintf("Response must be at most %g characters long", max))
	}

	_, hasMin := q.ValidationRules["min_value"]
	_, hasMax := q.ValidationRules["max_value"]
	if hasMin || hasMax {
		value, ok := coerceFloat(response)
		if !ok {
			// Unlike the numeric type check above, a value-rule comparison on a
			// response that cannot be coerced is a fault, not a validation error.
			return false, errs, fmt.Errorf("cannot apply value rules to question %s: response %q is not numeric", q.ID, text)
		}
		if min := q.ValidationRules["min_value"]; hasMin && value < min {
			errs = append(errs, fmt.Sprintf("Response must be at least %g", min))
		}
		if max := q.ValidationRules["max_value"]; hasMax && value > max {
			errs = append(errs, fmt.Sprintf("Response must be at most %g", max))
		}
	}

	return len(errs) == 0, errs, nil
}

// ResponseText renders a response value in its textual form, the form used by
// length rules, sanitization and analyzer prompts.
func ResponseText(response interface{}) string {
	switch v := response.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func coerceFloat(response interface{}) (float64, bool) {
	switch v := response.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toStringSlice(response interface{}) ([]string, bool) {
	switch v := response.(type) {
	case []string:
		return v, true
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

func containsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func allMembers(values []string, options []string) bool {
	for _, v := range values {
		if !containsString(options, v) {
			return false
		}
	}
	return true
}

func joinOptions(options []string) string {
	out := ""
	for i, opt := range options {
		if i > 0 {
			out += ", "
		}
		out += opt
	}
	return out
}
