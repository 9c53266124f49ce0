package repository

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/austa/health-service/models"
)

// memoryQuestionnaireRepository is an in-memory implementation of
// QuestionnaireRepository. It backs tests and development runs that do not
// want a database; the production wiring uses the GORM implementation.
type memoryQuestionnaireRepository struct {
	questionnaires  map[string]*models.Questionnaire
	enrollmentIndex map[string][]string
	mu              sync.RWMutex
}

// NewMemoryQuestionnaireRepository creates an in-memory questionnaire repository.
func NewMemoryQuestionnaireRepository() QuestionnaireRepository {
	return &memoryQuestionnaireRepository{
		questionnaires:  make(map[string]*models.Questionnaire),
		enrollmentIndex: make(map[string][]string),
	}
}

// cloneQuestionnaire copies a questionnaire along with its slice and map
// storage, so a stored record and the copy handed to a caller never share
// mutable state. Element-level structures (a Question's options, an audit
// entry's metadata) are treated as immutable after creation and stay shared.
func cloneQuestionnaire(questionnaire *models.Questionnaire) *models.Questionnaire {
	copied := *questionnaire
	copied.Questions = append([]models.Question(nil), questionnaire.Questions...)
	copied.ResponseOrder = append([]string(nil), questionnaire.ResponseOrder...)
	copied.RiskFactors = append([]models.RiskFactor(nil), questionnaire.RiskFactors...)
	copied.AuditTrail = append([]models.AuditEntry(nil), questionnaire.AuditTrail...)
	copied.Responses = make(map[string]models.Response, len(questionnaire.Responses))
	for id, response := range questionnaire.Responses {
		copied.Responses[id] = response
	}
	return &copied
}

func (r *memoryQuestionnaireRepository) Create(questionnaire *models.Questionnaire) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if questionnaire == nil {
		return errors.New("questionnaire cannot be nil")
	}
	if questionnaire.ID == "" {
		return errors.New("questionnaire ID cannot be empty")
	}
	if _, exists := r.questionnaires[questionnaire.ID]; exists {
		return errors.New("questionnaire already exists")
	}

	r.questionnaires[questionnaire.ID] = cloneQuestionnaire(questionnaire)
	r.enrollmentIndex[questionnaire.EnrollmentID] = append(r.enrollmentIndex[questionnaire.EnrollmentID], questionnaire.ID)
	log.Printf("INFO: [MemoryQuestionnaireRepository] Created questionnaire ID %s for enrollment %s.", questionnaire.ID, questionnaire.EnrollmentID)
	return nil
}

func (r *memoryQuestionnaireRepository) GetByID(id string) (*models.Questionnaire, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	questionnaire, exists := r.questionnaires[id]
	if !exists {
		return nil, nil
	}
	return cloneQuestionnaire(questionnaire), nil
}

func (r *memoryQuestionnaireRepository) GetByEnrollmentID(enrollmentID string) (*models.Questionnaire, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids, exists := r.enrollmentIndex[enrollmentID]
	if !exists || len(ids) == 0 {
		return nil, nil
	}

	var latest *models.Questionnaire
	var latestTimestamp time.Time
	for _, id := range ids {
		questionnaire, ok := r.questionnaires[id]
		if !ok {
			log.Printf("ERROR: [MemoryQuestionnaireRepository] Data inconsistency: ID %s indexed for enrollment %s but missing from store.", id, enrollmentID)
			continue
		}
		if latest == nil || questionnaire.UpdatedAt.After(latestTimestamp) {
			latest = questionnaire
			latestTimestamp = questionnaire.UpdatedAt
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneQuestionnaire(latest), nil
}

func (r *memoryQuestionnaireRepository) Update(questionnaire *models.Questionnaire) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if questionnaire == nil {
		return errors.New("questionnaire cannot be nil")
	}
	original, exists := r.questionnaires[questionnaire.ID]
	if !exists {
		return errors.New("update failed: questionnaire not found")
	}

	// Preserve immutable fields.
	questionnaire.EnrollmentID = original.EnrollmentID
	questionnaire.CreatedAt = original.CreatedAt

	r.questionnaires[questionnaire.ID] = cloneQuestionnaire(questionnaire)
	return nil
}
