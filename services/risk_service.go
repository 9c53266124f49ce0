package services

import (
	"context"
	"fmt"
	"log"

	"github.com/austa/health-service/models"
	"github.com/austa/health-service/utils"
)

// riskWeightFactors maps a risk factor category to its contribution weight in
// the overall score. Categories the analyzer invents that are not listed here
// fall back to defaultFactorWeight.
var riskWeightFactors = map[string]float64{
	"age":                0.2,
	"medical_history":    0.3,
	"lifestyle":          0.15,
	"family_history":     0.2,
	"current_conditions": 0.15,
}

// defaultFactorWeight applies when the question declares no factor category or
// an unlisted one.
const defaultFactorWeight = 0.1

// RiskAssessmentService analyzes individual answers and aggregates the
// per-answer results into a questionnaire-level risk score and level.
type RiskAssessmentService interface {
	AnalyzeResponse(ctx context.Context, question *models.Question, response interface{}) (*models.ResponseAnalysis, error)
	CalculateOverallRisk(ctx context.Context, questionnaire *models.Questionnaire) (float64, models.RiskLevel, []models.RiskFactor, error)
	RiskLevelFor(score float64) (models.RiskLevel, error)
}

type riskAssessmentService struct {
	llm    LLMService
	cipher models.Cipher
}

// NewRiskAssessmentService creates the risk service over an analyzer and the
// cipher that protects stored answers.
func NewRiskAssessmentService(llm LLMService, cipher models.Cipher) RiskAssessmentService {
	return &riskAssessmentService{llm: llm, cipher: cipher}
}

// AnalyzeResponse validates an answer, sanitizes its textual form and asks the
// analyzer to judge it. A validation failure is returned as *ValidationError;
// analyzer exhaustion surfaces as *AnalyzerFault. The raw analyzer output is
// normalized before it is returned: malformed risk factors are dropped and the
// score is clamped into [0,1].
func (s *riskAssessmentService) AnalyzeResponse(ctx context.Context, question *models.Question, response interface{}) (*models.ResponseAnalysis, error) {
	ok, errs, err := question.ValidateResponse(response)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &models.ValidationError{Errors: errs}
	}

	sanitized := utils.SanitizeText(models.ResponseText(response))

	// The analyzer sees the question in the clear even when it is stored
	// encrypted.
	plainQuestion := *question
	text, err := question.PlainText(s.cipher)
	if err != nil {
		return nil, err
	}
	plainQuestion.Text = text

	analysis, err := s.llm.AnalyzeResponse(ctx, &plainQuestion, sanitized, AnalysisContext{
		QuestionType: question.Type,
		RiskWeight:   question.RiskWeight,
		Compliance:   question.Compliance,
	})
	if err != nil {
		return nil, err
	}

	result := &models.ResponseAnalysis{
		RiskFactors:     normalizeRiskFactors(analysis.RiskFactors),
		RiskScore:       clamp01(analysis.RiskScore),
		Confidence:      clamp01(analysis.Confidence),
		Recommendations: analysis.Recommendations,
	}
	log.Printf("INFO: [RiskAssessmentService] Analyzed response for question %s: score %.2f, %d risk factor(s).", question.ID, result.RiskScore, len(result.RiskFactors))
	return result, nil
}

// CalculateOverallRisk re-analyzes every recorded answer in insertion order and
// folds the per-answer scores into one weighted overall score. The score is
// written back to the questionnaire as a percentage along with the level and
// the collected risk factors.
func (s *riskAssessmentService) CalculateOverallRisk(ctx context.Context, questionnaire *models.Questionnaire) (float64, models.RiskLevel, []models.RiskFactor, error) {
	responseIDs := questionnaire.ResponseIDs()
	if len(responseIDs) == 0 {
		return 0, "", nil, models.ErrNoResponses
	}

	var totalScore float64
	allFactors := make([]models.RiskFactor, 0)

	for _, questionID := range responseIDs {
		question := questionnaire.QuestionByID(questionID)
		if question == nil {
			log.Printf("WARN: [RiskAssessmentService] Response recorded for unknown question %s, skipping.", questionID)
			continue
		}

		recorded := questionnaire.Responses[questionID]
		plaintext, err := s.cipher.Decrypt(recorded.Value)
		if err != nil {
			return 0, "", nil, fmt.Errorf("failed to decrypt response for question %s: %w", questionID, err)
		}
		value := models.DecodeResponseValue(plaintext)

		analysis, err := s.AnalyzeResponse(ctx, question, value)
		if err != nil {
			return 0, "", nil, err
		}

		// The question's declared factor category drives the weighting, not
		// whatever categories the analyzer put on individual factors.
		weight := defaultFactorWeight
		if factorType, ok := question.Compliance["factor_type"].(string); ok {
			if w, listed := riskWeightFactors[factorType]; listed {
				weight = w
			}
		}
		totalScore += analysis.RiskScore * weight
		allFactors = append(allFactors, analysis.RiskFactors...)
	}

	if totalScore > 1.0 {
		totalScore = 1.0
	}

	level, err := s.RiskLevelFor(totalScore)
	if err != nil {
		return 0, "", nil, err
	}

	if err := questionnaire.UpdateRiskAssessment(totalScore*100, level, allFactors); err != nil {
		return 0, "", nil, err
	}
	log.Printf("INFO: [RiskAssessmentService] Overall risk for questionnaire %s: %.2f (%s), %d factor(s).", questionnaire.ID, totalScore, level, len(allFactors))
	return totalScore, level, allFactors, nil
}

// RiskLevelFor classifies a score in [0,1] into a risk level. A score outside
// the domain is a fault, never silently clamped.
func (s *riskAssessmentService) RiskLevelFor(score float64) (models.RiskLevel, error) {
	if score < 0 || score > 1 {
		return "", fmt.Errorf("risk score %.4f is outside [0,1]", score)
	}
	switch {
	case score <= 0.3:
		return models.RiskLevelLow, nil
	case score <= 0.6:
		return models.RiskLevelMedium, nil
	case score < 0.8:
		return models.RiskLevelHigh, nil
	default:
		return models.RiskLevelCritical, nil
	}
}

// normalizeRiskFactors filters the analyzer's loosely structured factor list
// into validated RiskFactor values. An entry missing any required key or with a
// severity or confidence outside [0,1] is dropped; descriptions are sanitized
// the same way answers are.
func normalizeRiskFactors(raw []map[string]interface{}) []models.RiskFactor {
	factors := make([]models.RiskFactor, 0, len(raw))
	for _, entry := range raw {
		factorType, ok := stringField(entry, "type")
		if !ok || factorType == "" {
			log.Printf("WARN: [RiskAssessmentService] Dropping risk factor without type.")
			continue
		}
		description, ok := stringField(entry, "description")
		if !ok {
			log.Printf("WARN: [RiskAssessmentService] Dropping risk factor without description.")
			continue
		}
		severity, ok := floatField(entry, "severity")
		if !ok || severity < 0 || severity > 1 {
			log.Printf("WARN: [RiskAssessmentService] Dropping risk factor %q with invalid severity.", factorType)
			continue
		}
		confidence, ok := floatField(entry, "confidence")
		if !ok || confidence < 0 || confidence > 1 {
			log.Printf("WARN: [RiskAssessmentService] Dropping risk factor %q with invalid confidence.", factorType)
			continue
		}

		var recommendations []string
		if rawRecs, ok := entry["recommendations"].([]interface{}); ok {
			for _, rec := range rawRecs {
				if s, ok := rec.(string); ok {
					recommendations = append(recommendations, utils.SanitizeText(s))
				}
			}
		}

		factors = append(factors, models.RiskFactor{
			Type:            utils.SanitizeText(factorType),
			Description:     utils.SanitizeText(description),
			Severity:        severity,
			Confidence:      confidence,
			Recommendations: recommendations,
			Metadata:        map[string]interface{}{"lgpd_compliant": true},
		})
	}
	return factors
}

func stringField(entry map[string]interface{}, key string) (string, bool) {
	value, ok := entry[key].(string)
	return value, ok
}

func floatField(entry map[string]interface{}, key string) (float64, bool) {
	switch v := entry[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
