package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/austa/health-service/config"
	"github.com/austa/health-service/models"
)

func TestBackoffDelay(t *testing.T) {
	retry := config.RetryConfig{
		InitialBackoff: time.Second,
		MaxBackoff:     10 * time.Second,
		Jitter:         false,
	}

	t.Run("Doubles per attempt up to the cap", func(t *testing.T) {
		assert.Equal(t, 1*time.Second, backoffDelay(1, retry))
		assert.Equal(t, 2*time.Second, backoffDelay(2, retry))
		assert.Equal(t, 4*time.Second, backoffDelay(3, retry))
		assert.Equal(t, 8*time.Second, backoffDelay(4, retry))
		assert.Equal(t, 10*time.Second, backoffDelay(5, retry))
		assert.Equal(t, 10*time.Second, backoffDelay(20, retry))
	})

	t.Run("Jitter keeps the delay within bounds", func(t *testing.T) {
		jittered := retry
		jittered.Jitter = true
		for i := 0; i < 50; i++ {
			delay := backoffDelay(3, jittered)
			assert.GreaterOrEqual(t, delay, 2*time.Second)
			assert.LessOrEqual(t, delay, 4*time.Second)
		}
	})
}

func TestStripCodeFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripCodeFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripCodeFences(` {"a":1} `))
}

func TestParseQuestionPayload(t *testing.T) {
	t.Run("Builds a validated question", func(t *testing.T) {
		question, err := parseQuestionPayload(`{
			"text": "Do you smoke?",
			"type": "choice",
			"options": ["Sim", "Não"],
			"validation_rules": {"min_length": 1},
			"required": true
		}`)
		assert.NoError(t, err)
		assert.Equal(t, "Do you smoke?", question.Text)
		assert.Equal(t, models.QuestionTypeChoice, question.Type)
		assert.Equal(t, []string{"Sim", "Não"}, question.Options)
		assert.NotEmpty(t, question.ID)
	})

	t.Run("Required defaults to true when omitted", func(t *testing.T) {
		question, err := parseQuestionPayload(`{"text": "Your age?", "type": "numeric"}`)
		assert.NoError(t, err)
		assert.True(t, question.Required)
	})

	t.Run("Rejects invalid types and empty text", func(t *testing.T) {
		_, err := parseQuestionPayload(`{"text": "Mood?", "type": "slider"}`)
		assert.Error(t, err)

		_, err = parseQuestionPayload(`{"text": "  ", "type": "text"}`)
		assert.Error(t, err)
	})

	t.Run("Rejects non-JSON payloads", func(t *testing.T) {
		_, err := parseQuestionPayload("I'd suggest asking about smoking habits.")
		assert.Error(t, err)
	})
}

func TestParseAnalysisPayload(t *testing.T) {
	t.Run("Parses fenced analyzer output", func(t *testing.T) {
		analysis, err := parseAnalysisPayload("```json\n" + `{
			"risk_factors": [{"type": "lifestyle", "severity": 0.7}],
			"risk_score": 0.7,
			"confidence": 0.9,
			"recommendations": ["Medical exam"]
		}` + "\n```")
		assert.NoError(t, err)
		assert.Equal(t, 0.7, analysis.RiskScore)
		assert.Len(t, analysis.RiskFactors, 1)
	})

	t.Run("Rejects prose", func(t *testing.T) {
		_, err := parseAnalysisPayload("The patient seems healthy.")
		assert.Error(t, err)
	})
}
