package repository

import (
	"errors"
	"fmt"
	"log"

	"gorm.io/gorm"

	"github.com/austa/health-service/models"
)

// QuestionnaireRepository defines the interface for questionnaire persistence.
// Lookups return (nil, nil) when no record matches; the service layer maps
// that to a not-found error.
type QuestionnaireRepository interface {
	Create(questionnaire *models.Questionnaire) error
	GetByID(id string) (*models.Questionnaire, error)
	GetByEnrollmentID(enrollmentID string) (*models.Questionnaire, error)
	Update(questionnaire *models.Questionnaire) error
}

type questionnaireRepository struct {
	db *gorm.DB
}

// NewQuestionnaireRepository creates a GORM-backed questionnaire repository.
func NewQuestionnaireRepository(db *gorm.DB) QuestionnaireRepository {
	return &questionnaireRepository{db: db}
}

// Create persists a new questionnaire.
func (r *questionnaireRepository) Create(questionnaire *models.Questionnaire) error {
	if questionnaire == nil {
		log.Printf("ERROR: [QuestionnaireRepository] Create: questionnaire cannot be nil")
		return errors.New("questionnaire cannot be nil")
	}
	if err := r.db.Create(questionnaire).Error; err != nil {
		log.Printf("ERROR: [QuestionnaireRepository] Failed to create questionnaire for enrollment %s: %v", questionnaire.EnrollmentID, err)
		return fmt.Errorf("failed to create questionnaire for enrollment %s: %w", questionnaire.EnrollmentID, err)
	}
	log.Printf("INFO: [QuestionnaireRepository] Created questionnaire ID %s for enrollment %s.", questionnaire.ID, questionnaire.EnrollmentID)
	return nil
}

// GetByID retrieves a questionnaire by its ID.
func (r *questionnaireRepository) GetByID(id string) (*models.Questionnaire, error) {
	var questionnaire models.Questionnaire
	err := r.db.Where("id = ?", id).First(&questionnaire).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("INFO: [QuestionnaireRepository] Questionnaire with ID %s not found.", id)
			return nil, nil
		}
		log.Printf("ERROR: [QuestionnaireRepository] Failed to retrieve questionnaire ID %s: %v", id, err)
		return nil, fmt.Errorf("failed to retrieve questionnaire ID %s: %w", id, err)
	}
	return &questionnaire, nil
}

// GetByEnrollmentID retrieves the most recently updated questionnaire for an
// enrollment.
func (r *questionnaireRepository) GetByEnrollmentID(enrollmentID string) (*models.Questionnaire, error) {
	var questionnaire models.Questionnaire
	err := r.db.Where("enrollment_id = ?", enrollmentID).Order("updated_at desc").First(&questionnaire).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("INFO: [QuestionnaireRepository] No questionnaire found for enrollment %s.", enrollmentID)
			return nil, nil
		}
		log.Printf("ERROR: [QuestionnaireRepository] Failed to retrieve questionnaire for enrollment %s: %v", enrollmentID, err)
		return nil, fmt.Errorf("failed to retrieve questionnaire for enrollment %s: %w", enrollmentID, err)
	}
	return &questionnaire, nil
}

// Update saves the full questionnaire state.
func (r *questionnaireRepository) Update(questionnaire *models.Questionnaire) error {
	if questionnaire == nil {
		log.Printf("ERROR: [QuestionnaireRepository] Update: questionnaire cannot be nil")
		return errors.New("questionnaire cannot be nil")
	}
	if questionnaire.ID == "" {
		log.Printf("ERROR: [QuestionnaireRepository] Update: questionnaire ID must be provided")
		return errors.New("questionnaire ID must be provided for update")
	}
	if err := r.db.Save(questionnaire).Error; err != nil {
		log.Printf("ERROR: [QuestionnaireRepository] Failed to update questionnaire ID %s: %v", questionnaire.ID, err)
		return fmt.Errorf("failed to update questionnaire ID %s: %w", questionnaire.ID, err)
	}
	log.Printf("INFO: [QuestionnaireRepository] Updated questionnaire ID %s (status: %s).", questionnaire.ID, questionnaire.Status)
	return nil
}
