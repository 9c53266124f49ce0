package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/austa/health-service/models"
	"github.com/austa/health-service/services"
	"github.com/austa/health-service/utils"
)

// APIHandler holds the dependencies for the health-assessment endpoints.
type APIHandler struct {
	service services.QuestionnaireService
}

// NewAPIHandler creates an APIHandler over the questionnaire service.
func NewAPIHandler(service services.QuestionnaireService) *APIHandler {
	return &APIHandler{service: service}
}

// RegisterRoutes mounts the health-assessment endpoints on the router.
func (h *APIHandler) RegisterRoutes(r *gin.Engine) {
	group := r.Group("/api/v1/health-assessment")
	{
		group.POST("", h.CreateQuestionnaireHandler)
		group.GET("/:id", h.GetQuestionnaireHandler)
		group.POST("/:id/responses", h.SubmitResponseHandler)
		group.GET("/:id/risk-assessment", h.GetRiskAssessmentHandler)
		group.POST("/:id/abandon", h.AbandonHandler)
	}
}

// CreateQuestionnaireRequest is the payload for opening a questionnaire.
type CreateQuestionnaireRequest struct {
	EnrollmentID string `json:"enrollment_id" binding:"required"`
	Language     string `json:"language,omitempty"`
}

// SubmitResponseRequest is the payload for answering one question. Response is
// deliberately untyped: booleans, numbers, strings and string lists are all
// valid depending on the question type. It has no binding tag because explicit
// false/0/"" answers are legitimate values.
type SubmitResponseRequest struct {
	QuestionID string      `json:"question_id" binding:"required"`
	Response   interface{} `json:"response"`
}

// questionView is the client-facing shape of a question. Validation rules and
// compliance metadata stay server-side.
type questionView struct {
	ID       string              `json:"id"`
	Text     string              `json:"text"`
	Type     models.QuestionType `json:"type"`
	Options  []string            `json:"options,omitempty"`
	Required bool                `json:"required"`
}

func viewOf(q *models.Question) questionView {
	return questionView{
		ID:       q.ID,
		Text:     q.Text,
		Type:     q.Type,
		Options:  q.Options,
		Required: q.Required,
	}
}

// CreateQuestionnaireHandler opens a questionnaire for an enrollment and
// returns the initial question.
// POST /api/v1/health-assessment
func (h *APIHandler) CreateQuestionnaireHandler(c *gin.Context) {
	var req CreateQuestionnaireRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format: enrollment_id is required.", err)
		return
	}

	questionnaire, initialQuestion, err := h.service.CreateQuestionnaire(c.Request.Context(), req.EnrollmentID, req.Language)
	if err != nil {
		h.sendServiceError(c, "Failed to create health questionnaire.", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"questionnaire_id": questionnaire.ID,
		"enrollment_id":    questionnaire.EnrollmentID,
		"initial_question": viewOf(initialQuestion),
		"metadata": gin.H{
			"created_at": utils.FormatTime(questionnaire.CreatedAt),
			"status":     questionnaire.Status,
		},
	})
}

// GetQuestionnaireHandler returns the current state of a questionnaire.
// GET /api/v1/health-assessment/:id
func (h *APIHandler) GetQuestionnaireHandler(c *gin.Context) {
	questionnaire, err := h.service.GetQuestionnaire(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sendServiceError(c, "Failed to retrieve questionnaire.", err)
		return
	}

	questions := make([]questionView, 0, len(questionnaire.Questions))
	for i := range questionnaire.Questions {
		questions = append(questions, viewOf(&questionnaire.Questions[i]))
	}
	c.JSON(http.StatusOK, gin.H{
		"questionnaire_id": questionnaire.ID,
		"enrollment_id":    questionnaire.EnrollmentID,
		"status":           questionnaire.Status,
		"questions":        questions,
		"answered":         questionnaire.ResponseIDs(),
		"created_at":       utils.FormatTime(questionnaire.CreatedAt),
		"updated_at":       utils.FormatTime(questionnaire.UpdatedAt),
	})
}

// SubmitResponseHandler records an answer and returns its analysis plus the
// follow-up question, when one was generated.
// POST /api/v1/health-assessment/:id/responses
func (h *APIHandler) SubmitResponseHandler(c *gin.Context) {
	var req SubmitResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendJSONError(c, http.StatusBadRequest, "Invalid request format: question_id is required.", err)
		return
	}

	result, err := h.service.SubmitResponse(c.Request.Context(), c.Param("id"), req.QuestionID, req.Response)
	if err != nil {
		h.sendServiceError(c, "Failed to process response.", err)
		return
	}

	response := gin.H{
		"question_id": req.QuestionID,
		"analysis":    result.Analysis,
	}
	if result.NextQuestion != nil {
		response["next_question"] = viewOf(result.NextQuestion)
	}
	c.JSON(http.StatusOK, response)
}

// GetRiskAssessmentHandler aggregates the recorded answers into the overall
// risk outcome and completes the questionnaire.
// GET /api/v1/health-assessment/:id/risk-assessment
func (h *APIHandler) GetRiskAssessmentHandler(c *gin.Context) {
	result, err := h.service.GetRiskAssessment(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.sendServiceError(c, "Failed to retrieve risk assessment.", err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// AbandonHandler marks a questionnaire abandoned.
// POST /api/v1/health-assessment/:id/abandon
func (h *APIHandler) AbandonHandler(c *gin.Context) {
	if err := h.service.AbandonQuestionnaire(c.Request.Context(), c.Param("id")); err != nil {
		h.sendServiceError(c, "Failed to abandon questionnaire.", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.StatusAbandoned)})
}

// sendServiceError maps service-layer errors onto HTTP responses. Validation
// failures carry the full reason list back to the client; analyzer exhaustion
// is a 503 so the client may retry.
func (h *APIHandler) sendServiceError(c *gin.Context, fallbackMsg string, err error) {
	var validationErr *models.ValidationError
	var analyzerFault *models.AnalyzerFault

	switch {
	case errors.As(err, &validationErr):
		// The full reason list goes back to the client so the answer can be fixed.
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":             "Response failed validation.",
			"validation_errors": validationErr.Errors,
		})
	case errors.As(err, &analyzerFault):
		utils.SendJSONError(c, http.StatusServiceUnavailable, "Analysis is temporarily unavailable. Please try again.", err)
	case errors.Is(err, models.ErrQuestionnaireNotFound):
		utils.SendJSONError(c, http.StatusNotFound, "Questionnaire not found.", err)
	case errors.Is(err, models.ErrQuestionNotFound):
		utils.SendJSONError(c, http.StatusNotFound, "Question not found.", err)
	case errors.Is(err, models.ErrNoResponses):
		utils.SendJSONError(c, http.StatusBadRequest, "Questionnaire has no responses to assess.", err)
	case errors.Is(err, models.ErrInvalidStatus):
		utils.SendJSONError(c, http.StatusConflict, "Questionnaire is no longer in progress.", err)
	case errors.Is(err, models.ErrInvalidConsent):
		utils.SendJSONError(c, http.StatusBadRequest, "LGPD consent data is incomplete.", err)
	default:
		utils.SendJSONError(c, http.StatusInternalServerError, fallbackMsg, err)
	}
}
