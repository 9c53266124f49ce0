package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/austa/health-service/config"
	"github.com/austa/health-service/models"
	"github.com/austa/health-service/repository"
	"github.com/austa/health-service/utils"
)

const defaultLanguage = "pt-BR"

// SubmitResult is the outcome of recording one answer: the per-answer analysis
// and, when the questionnaire still has room, the generated follow-up question.
// NextQuestion is nil when the questionnaire is full or generation failed after
// the answer was already recorded.
type SubmitResult struct {
	Analysis     *models.ResponseAnalysis `json:"analysis"`
	NextQuestion *models.Question         `json:"next_question,omitempty"`
}

// RiskAssessmentResult is the aggregated outcome for a whole questionnaire.
type RiskAssessmentResult struct {
	QuestionnaireID string              `json:"questionnaire_id"`
	RiskScore       float64             `json:"risk_score"` // [0,1]
	RiskLevel       models.RiskLevel    `json:"risk_level"`
	RiskFactors     []models.RiskFactor `json:"risk_factors"`
	TotalQuestions  int                 `json:"total_questions"`
	CompletedAt     time.Time           `json:"completed_at"`
}

// QuestionnaireService orchestrates the questionnaire lifecycle: creation with
// LGPD consent, the adaptive answer/next-question loop, final risk aggregation
// and abandonment. Mutations on one questionnaire are serialized; operations on
// different questionnaires run concurrently.
type QuestionnaireService interface {
	CreateQuestionnaire(ctx context.Context, enrollmentID, language string) (*models.Questionnaire, *models.Question, error)
	GetQuestionnaire(ctx context.Context, questionnaireID string) (*models.Questionnaire, error)
	SubmitResponse(ctx context.Context, questionnaireID, questionID string, response interface{}) (*SubmitResult, error)
	GetRiskAssessment(ctx context.Context, questionnaireID string) (*RiskAssessmentResult, error)
	AbandonQuestionnaire(ctx context.Context, questionnaireID string) error
}

type questionnaireService struct {
	repo     repository.QuestionnaireRepository
	llm      LLMService
	risk     RiskAssessmentService
	cipher   models.Cipher
	security config.SecurityConfig
	locks    sync.Map // questionnaire ID -> *sync.Mutex
}

// NewQuestionnaireService creates the questionnaire orchestration service.
func NewQuestionnaireService(repo repository.QuestionnaireRepository, llm LLMService, risk RiskAssessmentService, cipher models.Cipher, security config.SecurityConfig) QuestionnaireService {
	return &questionnaireService{
		repo:     repo,
		llm:      llm,
		risk:     risk,
		cipher:   cipher,
		security: security,
	}
}

func (s *questionnaireService) lockFor(questionnaireID string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(questionnaireID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// CreateQuestionnaire opens a questionnaire for an enrollment with the standard
// LGPD consent record, generates the initial question and persists the result.
// The stored question text is encrypted at rest; the returned copy is plaintext
// for immediate display.
func (s *questionnaireService) CreateQuestionnaire(ctx context.Context, enrollmentID, language string) (*models.Questionnaire, *models.Question, error) {
	if language == "" {
		language = defaultLanguage
	}

	consent := models.LGPDConsent{
		Purpose:         "health_assessment",
		DataUsage:       "risk_evaluation",
		RetentionPeriod: s.security.RetentionDays,
		SharingPolicy:   "internal_only",
	}
	questionnaire, err := models.NewQuestionnaire(enrollmentID, consent)
	if err != nil {
		return nil, nil, err
	}

	initial, err := s.llm.GenerateNextQuestion(ctx, map[string]string{}, nil, language)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate initial question: %w", err)
	}
	display := *initial

	if err := initial.EncryptText(s.cipher); err != nil {
		return nil, nil, err
	}
	if err := questionnaire.AddQuestion(initial); err != nil {
		return nil, nil, err
	}
	if err := s.repo.Create(questionnaire); err != nil {
		return nil, nil, err
	}

	log.Printf("INFO: [QuestionnaireService] Created questionnaire %s for enrollment %s.", questionnaire.ID, enrollmentID)
	return questionnaire, &display, nil
}

// GetQuestionnaire retrieves a questionnaire by id.
func (s *questionnaireService) GetQuestionnaire(ctx context.Context, questionnaireID string) (*models.Questionnaire, error) {
	questionnaire, err := s.repo.GetByID(questionnaireID)
	if err != nil {
		return nil, err
	}
	if questionnaire == nil {
		return nil, models.ErrQuestionnaireNotFound
	}
	return questionnaire, nil
}

// SubmitResponse analyzes an answer, records it and asks the analyzer for the
// follow-up question. Analysis runs before any mutation: a validation failure
// or analyzer fault leaves the questionnaire exactly as it was. Next-question
// generation happens after the answer is durably recorded; its failure is
// logged but does not roll the answer back.
func (s *questionnaireService) SubmitResponse(ctx context.Context, questionnaireID, questionID string, response interface{}) (*SubmitResult, error) {
	mu := s.lockFor(questionnaireID)
	mu.Lock()
	defer mu.Unlock()

	questionnaire, err := s.GetQuestionnaire(ctx, questionnaireID)
	if err != nil {
		return nil, err
	}
	question := questionnaire.QuestionByID(questionID)
	if question == nil {
		return nil, models.ErrQuestionNotFound
	}

	// A dependency-blocked answer must not cost an analyzer round trip.
	if depErrs := questionnaire.DependencyErrors(question); len(depErrs) > 0 {
		return nil, &models.ValidationError{Errors: depErrs}
	}

	analysis, err := s.risk.AnalyzeResponse(ctx, question, response)
	if err != nil {
		return nil, err
	}

	ok, errs, err := questionnaire.AddResponse(questionID, response, s.cipher)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &models.ValidationError{Errors: errs}
	}
	if err := s.repo.Update(questionnaire); err != nil {
		return nil, err
	}

	result := &SubmitResult{Analysis: analysis}
	if len(questionnaire.Questions) < models.MaxQuestions {
		next, nextErr := s.generateFollowUp(ctx, questionnaire)
		if nextErr != nil {
			log.Printf("WARN: [QuestionnaireService] Failed to generate follow-up question for questionnaire %s: %v", questionnaireID, nextErr)
		} else {
			result.NextQuestion = next
		}
	}
	return result, nil
}

// generateFollowUp asks the analyzer for the next question given every answer
// recorded so far, then appends and persists it. The returned copy carries the
// plaintext question text.
func (s *questionnaireService) generateFollowUp(ctx context.Context, questionnaire *models.Questionnaire) (*models.Question, error) {
	previous := make(map[string]string, len(questionnaire.ResponseOrder))
	for _, questionID := range questionnaire.ResponseIDs() {
		question := questionnaire.QuestionByID(questionID)
		if question == nil {
			continue
		}
		text, err := question.PlainText(s.cipher)
		if err != nil {
			return nil, err
		}
		plaintext, err := s.cipher.Decrypt(questionnaire.Responses[questionID].Value)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt response for question %s: %w", questionID, err)
		}
		value := models.DecodeResponseValue(plaintext)
		previous[text] = utils.SanitizeText(models.ResponseText(value))
	}

	next, err := s.llm.GenerateNextQuestion(ctx, previous, questionnaire.Questions, defaultLanguage)
	if err != nil {
		return nil, err
	}
	display := *next

	if err := next.EncryptText(s.cipher); err != nil {
		return nil, err
	}
	if err := questionnaire.AddQuestion(next); err != nil {
		return nil, err
	}
	if err := s.repo.Update(questionnaire); err != nil {
		return nil, err
	}
	return &display, nil
}

// GetRiskAssessment aggregates every recorded answer into the overall risk
// outcome and completes the questionnaire. Calling it on an already-completed
// questionnaire returns the stored result without re-analyzing.
func (s *questionnaireService) GetRiskAssessment(ctx context.Context, questionnaireID string) (*RiskAssessmentResult, error) {
	mu := s.lockFor(questionnaireID)
	mu.Lock()
	defer mu.Unlock()

	questionnaire, err := s.GetQuestionnaire(ctx, questionnaireID)
	if err != nil {
		return nil, err
	}

	if questionnaire.Status == models.StatusCompleted {
		return &RiskAssessmentResult{
			QuestionnaireID: questionnaire.ID,
			RiskScore:       questionnaire.RiskScore / 100,
			RiskLevel:       questionnaire.RiskLevel,
			RiskFactors:     questionnaire.RiskFactors,
			TotalQuestions:  len(questionnaire.Questions),
			CompletedAt:     questionnaire.UpdatedAt,
		}, nil
	}
	// An abandoned questionnaire can never complete; reject before any
	// analyzer work is spent on it.
	if questionnaire.Status != models.StatusInProgress {
		return nil, fmt.Errorf("%w (status: %s)", models.ErrInvalidStatus, questionnaire.Status)
	}

	score, level, factors, err := s.risk.CalculateOverallRisk(ctx, questionnaire)
	if err != nil {
		return nil, err
	}
	if err := questionnaire.Complete(); err != nil {
		return nil, err
	}
	if err := s.repo.Update(questionnaire); err != nil {
		return nil, err
	}

	log.Printf("INFO: [QuestionnaireService] Completed risk assessment for questionnaire %s: %.2f (%s).", questionnaireID, score, level)
	return &RiskAssessmentResult{
		QuestionnaireID: questionnaire.ID,
		RiskScore:       score,
		RiskLevel:       level,
		RiskFactors:     factors,
		TotalQuestions:  len(questionnaire.Questions),
		CompletedAt:     questionnaire.UpdatedAt,
	}, nil
}

// AbandonQuestionnaire marks an in-progress questionnaire abandoned.
func (s *questionnaireService) AbandonQuestionnaire(ctx context.Context, questionnaireID string) error {
	mu := s.lockFor(questionnaireID)
	mu.Lock()
	defer mu.Unlock()

	questionnaire, err := s.GetQuestionnaire(ctx, questionnaireID)
	if err != nil {
		return err
	}
	if err := questionnaire.Abandon(); err != nil {
		return err
	}
	if err := s.repo.Update(questionnaire); err != nil {
		return err
	}
	log.Printf("INFO: [QuestionnaireService] Questionnaire %s abandoned.", questionnaireID)
	return nil
}
