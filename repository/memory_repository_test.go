package repository

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/austa/health-service/models"
)

// passthroughCipher is a transparent Cipher for tests.
type passthroughCipher struct{}

func (passthroughCipher) Encrypt(s string) (string, error) { return "enc:" + s, nil }
func (passthroughCipher) Decrypt(s string) (string, error) { return strings.TrimPrefix(s, "enc:"), nil }
func (passthroughCipher) KeyID() string                    { return "test-key" }

func answeredQuestionnaire(t *testing.T) *models.Questionnaire {
	t.Helper()
	consent := models.LGPDConsent{
		Purpose:         "health_assessment",
		DataUsage:       "risk_evaluation",
		RetentionPeriod: 365,
		SharingPolicy:   "internal_only",
	}
	questionnaire, err := models.NewQuestionnaire("enroll-1", consent)
	assert.NoError(t, err)

	question, err := models.NewQuestion("Do you smoke?", models.QuestionTypeBoolean, nil, nil, true, nil)
	assert.NoError(t, err)
	assert.NoError(t, questionnaire.AddQuestion(question))

	ok, errs, err := questionnaire.AddResponse(question.ID, true, passthroughCipher{})
	assert.NoError(t, err)
	assert.True(t, ok, "errors: %v", errs)
	return questionnaire
}

func TestMemoryQuestionnaireRepository(t *testing.T) {
	t.Run("Create and GetByID round trip", func(t *testing.T) {
		repo := NewMemoryQuestionnaireRepository()
		questionnaire := answeredQuestionnaire(t)

		assert.NoError(t, repo.Create(questionnaire))
		stored, err := repo.GetByID(questionnaire.ID)
		assert.NoError(t, err)
		assert.Equal(t, questionnaire.ID, stored.ID)
		assert.Len(t, stored.Questions, 1)
		assert.Len(t, stored.ResponseIDs(), 1)
	})

	t.Run("Unknown id yields nil without error", func(t *testing.T) {
		repo := NewMemoryQuestionnaireRepository()
		stored, err := repo.GetByID("missing")
		assert.NoError(t, err)
		assert.Nil(t, stored)
	})

	t.Run("Duplicate create is rejected", func(t *testing.T) {
		repo := NewMemoryQuestionnaireRepository()
		questionnaire := answeredQuestionnaire(t)
		assert.NoError(t, repo.Create(questionnaire))
		assert.Error(t, repo.Create(questionnaire))
	})

	t.Run("Mutating a retrieved copy leaves the stored record untouched", func(t *testing.T) {
		repo := NewMemoryQuestionnaireRepository()
		questionnaire := answeredQuestionnaire(t)
		assert.NoError(t, repo.Create(questionnaire))

		copy1, err := repo.GetByID(questionnaire.ID)
		assert.NoError(t, err)
		extra, err := models.NewQuestion("How many per day?", models.QuestionTypeNumeric, nil, nil, true, nil)
		assert.NoError(t, err)
		assert.NoError(t, copy1.AddQuestion(extra))
		ok, _, err := copy1.AddResponse(extra.ID, 10.0, passthroughCipher{})
		assert.NoError(t, err)
		assert.True(t, ok)

		stored, err := repo.GetByID(questionnaire.ID)
		assert.NoError(t, err)
		assert.Len(t, stored.Questions, 1)
		assert.Len(t, stored.ResponseIDs(), 1)
		assert.Len(t, stored.AuditTrail, len(questionnaire.AuditTrail))
	})

	t.Run("Mutating the caller's value after Create leaves the stored record untouched", func(t *testing.T) {
		repo := NewMemoryQuestionnaireRepository()
		questionnaire := answeredQuestionnaire(t)
		assert.NoError(t, repo.Create(questionnaire))

		extra, err := models.NewQuestion("Any allergies?", models.QuestionTypeText, nil, nil, true, nil)
		assert.NoError(t, err)
		assert.NoError(t, questionnaire.AddQuestion(extra))

		stored, err := repo.GetByID(questionnaire.ID)
		assert.NoError(t, err)
		assert.Len(t, stored.Questions, 1)
	})

	t.Run("Update replaces the stored record and preserves immutable fields", func(t *testing.T) {
		repo := NewMemoryQuestionnaireRepository()
		questionnaire := answeredQuestionnaire(t)
		assert.NoError(t, repo.Create(questionnaire))

		updated, err := repo.GetByID(questionnaire.ID)
		assert.NoError(t, err)
		updated.EnrollmentID = "tampered"
		assert.NoError(t, updated.Complete())
		assert.NoError(t, repo.Update(updated))

		stored, err := repo.GetByID(questionnaire.ID)
		assert.NoError(t, err)
		assert.Equal(t, "enroll-1", stored.EnrollmentID)
		assert.Equal(t, models.StatusCompleted, stored.Status)
	})

	t.Run("GetByEnrollmentID returns the latest questionnaire", func(t *testing.T) {
		repo := NewMemoryQuestionnaireRepository()
		first := answeredQuestionnaire(t)
		assert.NoError(t, repo.Create(first))

		second := answeredQuestionnaire(t)
		assert.NoError(t, second.Complete())
		assert.NoError(t, repo.Create(second))

		stored, err := repo.GetByEnrollmentID("enroll-1")
		assert.NoError(t, err)
		assert.Equal(t, second.ID, stored.ID)
	})
}
