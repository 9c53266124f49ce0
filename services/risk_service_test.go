package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/austa/health-service/models"
)

// MockLLMService is a mock type for the LLMService interface.
type MockLLMService struct {
	mock.Mock
}

func (m *MockLLMService) GenerateNextQuestion(ctx context.Context, previousResponses map[string]string, availableQuestions []models.Question, languagePreference string) (*models.Question, error) {
	args := m.Called(ctx, previousResponses, availableQuestions, languagePreference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Question), args.Error(1)
}

func (m *MockLLMService) AnalyzeResponse(ctx context.Context, question *models.Question, response string, analysisCtx AnalysisContext) (*models.RiskAnalysis, error) {
	args := m.Called(ctx, question, response, analysisCtx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.RiskAnalysis), args.Error(1)
}

// stubCipher is a transparent models.Cipher for service tests.
type stubCipher struct{}

func (stubCipher) Encrypt(s string) (string, error) { return "enc:" + s, nil }
func (stubCipher) Decrypt(s string) (string, error) { return strings.TrimPrefix(s, "enc:"), nil }
func (stubCipher) KeyID() string                    { return "test-key" }

func testConsent() models.LGPDConsent {
	return models.LGPDConsent{
		Purpose:         "health_assessment",
		DataUsage:       "risk_evaluation",
		RetentionPeriod: 365,
		SharingPolicy:   "internal_only",
	}
}

func TestRiskAssessmentService_RiskLevelFor(t *testing.T) {
	service := NewRiskAssessmentService(new(MockLLMService), stubCipher{})

	cases := []struct {
		score float64
		want  models.RiskLevel
	}{
		{0.0, models.RiskLevelLow},
		{0.3, models.RiskLevelLow},
		{0.31, models.RiskLevelMedium},
		{0.6, models.RiskLevelMedium},
		{0.61, models.RiskLevelHigh},
		{0.79, models.RiskLevelHigh},
		{0.8, models.RiskLevelCritical},
		{1.0, models.RiskLevelCritical},
	}
	for _, tc := range cases {
		level, err := service.RiskLevelFor(tc.score)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, level, "score %g", tc.score)
	}

	t.Run("Out-of-range scores are faults", func(t *testing.T) {
		_, err := service.RiskLevelFor(-0.01)
		assert.Error(t, err)
		_, err = service.RiskLevelFor(1.01)
		assert.Error(t, err)
	})
}

func TestRiskAssessmentService_AnalyzeResponse(t *testing.T) {
	ctx := context.Background()

	t.Run("Validation failure never reaches the analyzer", func(t *testing.T) {
		mockLLM := new(MockLLMService)
		service := NewRiskAssessmentService(mockLLM, stubCipher{})
		question, _ := models.NewQuestion("Do you smoke?", models.QuestionTypeChoice, []string{"Sim", "Não"}, nil, true, nil)

		_, err := service.AnalyzeResponse(ctx, question, "Maybe")
		var validationErr *models.ValidationError
		assert.ErrorAs(t, err, &validationErr)
		assert.NotEmpty(t, validationErr.Errors)
		mockLLM.AssertNotCalled(t, "AnalyzeResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Normalizes analyzer output", func(t *testing.T) {
		mockLLM := new(MockLLMService)
		service := NewRiskAssessmentService(mockLLM, stubCipher{})
		question, _ := models.NewQuestion("Do you smoke?", models.QuestionTypeChoice, []string{"Sim", "Não"}, nil, true, nil)

		mockLLM.On("AnalyzeResponse", mock.Anything, mock.Anything, "Sim", mock.Anything).Return(&models.RiskAnalysis{
			RiskFactors: []map[string]interface{}{
				{
					"type":            "lifestyle",
					"description":     "<b>Active smoker</b>",
					"severity":        0.7,
					"confidence":      0.9,
					"recommendations": []interface{}{"Medical exam required"},
				},
				// Missing confidence, must be dropped.
				{"type": "lifestyle", "description": "incomplete", "severity": 0.5},
				// Severity out of range, must be dropped.
				{"type": "lifestyle", "description": "overshoot", "severity": 1.5, "confidence": 0.9},
			},
			RiskScore:       1.4,
			Confidence:      0.9,
			Recommendations: []string{"Follow-up consultation"},
		}, nil).Once()

		result, err := service.AnalyzeResponse(ctx, question, "Sim")
		assert.NoError(t, err)
		assert.Len(t, result.RiskFactors, 1)
		assert.Equal(t, "lifestyle", result.RiskFactors[0].Type)
		assert.NotContains(t, result.RiskFactors[0].Description, "<b>")
		assert.Equal(t, true, result.RiskFactors[0].Metadata["lgpd_compliant"])
		assert.Equal(t, 1.0, result.RiskScore)
		mockLLM.AssertExpectations(t)
	})

	t.Run("Factors without a type are dropped", func(t *testing.T) {
		mockLLM := new(MockLLMService)
		service := NewRiskAssessmentService(mockLLM, stubCipher{})
		question, _ := models.NewQuestion("Any conditions?", models.QuestionTypeText, nil, nil, true, nil)

		mockLLM.On("AnalyzeResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(&models.RiskAnalysis{
			RiskFactors: []map[string]interface{}{
				{"description": "untyped factor", "severity": 0.4, "confidence": 0.8},
			},
			RiskScore: 0.4,
		}, nil).Once()

		result, err := service.AnalyzeResponse(ctx, question, "Diabetes")
		assert.NoError(t, err)
		assert.Empty(t, result.RiskFactors)
	})

	t.Run("Analyzer fault passes through", func(t *testing.T) {
		mockLLM := new(MockLLMService)
		service := NewRiskAssessmentService(mockLLM, stubCipher{})
		question, _ := models.NewQuestion("Any conditions?", models.QuestionTypeText, nil, nil, true, nil)

		fault := &models.AnalyzerFault{Provider: "openai", Attempts: 3}
		mockLLM.On("AnalyzeResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, fault).Once()

		_, err := service.AnalyzeResponse(ctx, question, "Asma")
		var analyzerFault *models.AnalyzerFault
		assert.ErrorAs(t, err, &analyzerFault)
	})
}

func TestRiskAssessmentService_CalculateOverallRisk(t *testing.T) {
	ctx := context.Background()
	cipher := stubCipher{}

	t.Run("Empty questionnaire is rejected without mutation", func(t *testing.T) {
		service := NewRiskAssessmentService(new(MockLLMService), cipher)
		qn, _ := models.NewQuestionnaire("enroll-1", testConsent())
		auditBefore := len(qn.AuditTrail)

		_, _, _, err := service.CalculateOverallRisk(ctx, qn)
		assert.ErrorIs(t, err, models.ErrNoResponses)
		assert.Len(t, qn.AuditTrail, auditBefore)
	})

	t.Run("Weights contributions by the question's factor category", func(t *testing.T) {
		mockLLM := new(MockLLMService)
		service := NewRiskAssessmentService(mockLLM, cipher)

		qn, _ := models.NewQuestionnaire("enroll-1", testConsent())
		// No declared factor category, so the 0.1 default weight applies.
		question, _ := models.NewQuestion("Do you smoke?", models.QuestionTypeChoice, []string{"Sim", "Não"},
			nil, true, nil)
		assert.NoError(t, qn.AddQuestion(question))
		ok, _, err := qn.AddResponse(question.ID, "Sim", cipher)
		assert.NoError(t, err)
		assert.True(t, ok)

		mockLLM.On("AnalyzeResponse", mock.Anything, mock.Anything, "Sim", mock.Anything).Return(&models.RiskAnalysis{
			RiskFactors: []map[string]interface{}{
				{"type": "lifestyle", "description": "Active smoker", "severity": 0.7, "confidence": 0.9},
			},
			RiskScore:  0.7,
			Confidence: 0.9,
		}, nil)

		score, level, factors, err := service.CalculateOverallRisk(ctx, qn)
		assert.NoError(t, err)
		assert.InDelta(t, 0.07, score, 1e-9)
		assert.Equal(t, models.RiskLevelLow, level)
		assert.Len(t, factors, 1)

		// The questionnaire carries the percentage form.
		assert.InDelta(t, 7.0, qn.RiskScore, 1e-9)
		assert.Equal(t, models.RiskLevelLow, qn.RiskLevel)
	})

	t.Run("Accumulates across questions and classifies", func(t *testing.T) {
		mockLLM := new(MockLLMService)
		service := NewRiskAssessmentService(mockLLM, cipher)

		qn, _ := models.NewQuestionnaire("enroll-2", testConsent())
		medical, _ := models.NewQuestion("Any chronic conditions?", models.QuestionTypeText,
			nil, nil, true, models.ComplianceMetadata{"factor_type": "medical_history"})
		lifestyle, _ := models.NewQuestion("Do you smoke?", models.QuestionTypeBoolean,
			nil, nil, true, models.ComplianceMetadata{"factor_type": "lifestyle"})
		assert.NoError(t, qn.AddQuestion(medical))
		assert.NoError(t, qn.AddQuestion(lifestyle))
		ok, _, _ := qn.AddResponse(medical.ID, "Diabetes tipo 2", cipher)
		assert.True(t, ok)
		ok, _, _ = qn.AddResponse(lifestyle.ID, true, cipher)
		assert.True(t, ok)

		mockLLM.On("AnalyzeResponse", mock.Anything, mock.Anything, "Diabetes tipo 2", mock.Anything).Return(&models.RiskAnalysis{RiskScore: 0.9}, nil)
		mockLLM.On("AnalyzeResponse", mock.Anything, mock.Anything, "true", mock.Anything).Return(&models.RiskAnalysis{RiskScore: 0.8}, nil)

		// 0.9*0.3 + 0.8*0.15 = 0.39
		score, level, _, err := service.CalculateOverallRisk(ctx, qn)
		assert.NoError(t, err)
		assert.InDelta(t, 0.39, score, 1e-9)
		assert.Equal(t, models.RiskLevelMedium, level)
	})

	t.Run("Responses without a matching question are skipped", func(t *testing.T) {
		mockLLM := new(MockLLMService)
		service := NewRiskAssessmentService(mockLLM, cipher)

		qn, _ := models.NewQuestionnaire("enroll-3", testConsent())
		question, _ := models.NewQuestion("Do you smoke?", models.QuestionTypeBoolean, nil, nil, true, nil)
		assert.NoError(t, qn.AddQuestion(question))
		ok, _, _ := qn.AddResponse(question.ID, false, cipher)
		assert.True(t, ok)

		// Orphan response left behind by a removed question.
		encoded, _ := models.EncodeResponseValue("stale")
		sealed, _ := cipher.Encrypt(encoded)
		qn.ResponseOrder = append(qn.ResponseOrder, "ghost")
		qn.Responses["ghost"] = models.Response{Value: sealed, KeyID: cipher.KeyID()}

		mockLLM.On("AnalyzeResponse", mock.Anything, mock.Anything, "false", mock.Anything).Return(&models.RiskAnalysis{RiskScore: 0.1}, nil)

		_, _, _, err := service.CalculateOverallRisk(ctx, qn)
		assert.NoError(t, err)
		mockLLM.AssertNumberOfCalls(t, "AnalyzeResponse", 1)
	})

	t.Run("Analyzer fault aborts aggregation", func(t *testing.T) {
		mockLLM := new(MockLLMService)
		service := NewRiskAssessmentService(mockLLM, cipher)

		qn, _ := models.NewQuestionnaire("enroll-4", testConsent())
		question, _ := models.NewQuestion("Do you smoke?", models.QuestionTypeBoolean, nil, nil, true, nil)
		assert.NoError(t, qn.AddQuestion(question))
		ok, _, _ := qn.AddResponse(question.ID, true, cipher)
		assert.True(t, ok)
		levelBefore := qn.RiskLevel

		fault := &models.AnalyzerFault{Provider: "openai", Attempts: 3}
		mockLLM.On("AnalyzeResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, fault)

		_, _, _, err := service.CalculateOverallRisk(ctx, qn)
		var analyzerFault *models.AnalyzerFault
		assert.ErrorAs(t, err, &analyzerFault)
		assert.Equal(t, levelBefore, qn.RiskLevel)
	})
}
