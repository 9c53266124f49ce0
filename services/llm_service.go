package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/austa/health-service/config"
	"github.com/austa/health-service/models"
)

// systemPrompt frames every analyzer call.
const systemPrompt = "You are an AI health assessment assistant analyzing health questionnaire responses " +
	"for insurance enrollment, ensuring LGPD compliance and data privacy."

// AnalysisContext is the question-side context handed to the analyzer with
// each answer.
type AnalysisContext struct {
	QuestionType models.QuestionType       `json:"question_type"`
	RiskWeight   float64                   `json:"risk_weight"`
	Compliance   models.ComplianceMetadata `json:"lgpd_metadata"`
}

// LLMService is the analyzer capability the engine consumes: it proposes the
// next question given prior answers and judges a single sanitized answer for
// risk factors. Implementations must call providers with a bounded timeout and
// fall back to the secondary provider after the retry budget is exhausted.
type LLMService interface {
	GenerateNextQuestion(ctx context.Context, previousResponses map[string]string, availableQuestions []models.Question, languagePreference string) (*models.Question, error)
	AnalyzeResponse(ctx context.Context, question *models.Question, response string, analysisCtx AnalysisContext) (*models.RiskAnalysis, error)
}

// analyzerProvider bundles one configured provider with its ready client.
// Provider selection is threaded through each call as a value; nothing on the
// service mutates to switch providers, so concurrent calls stay independent.
type analyzerProvider struct {
	name   string
	model  string
	client *openai.Client
}

type llmService struct {
	primary  analyzerProvider
	fallback *analyzerProvider
	cfg      config.LLMConfig
}

// NewLLMService creates an analyzer over the configured primary provider and,
// when configured, a fallback provider.
func NewLLMService(cfg config.LLMConfig) (LLMService, error) {
	primary, err := buildProvider(cfg, cfg.Primary)
	if err != nil {
		return nil, err
	}

	service := &llmService{primary: *primary, cfg: cfg}
	if cfg.Fallback != "" && cfg.Fallback != cfg.Primary {
		fallback, err := buildProvider(cfg, cfg.Fallback)
		if err != nil {
			return nil, err
		}
		service.fallback = fallback
	}
	return service, nil
}

func buildProvider(cfg config.LLMConfig, name string) (*analyzerProvider, error) {
	provider, ok := cfg.Providers[name]
	if !ok {
		return nil, fmt.Errorf("LLM provider '%s' is not configured", name)
	}
	if provider.APIKey == "" {
		return nil, fmt.Errorf("LLM provider '%s' has no API key", name)
	}
	clientConfig := openai.DefaultConfig(provider.APIKey)
	if provider.BaseURL != "" {
		clientConfig.BaseURL = provider.BaseURL
	}
	return &analyzerProvider{
		name:   name,
		model:  provider.Model,
		client: openai.NewClientWithConfig(clientConfig),
	}, nil
}

// GenerateNextQuestion asks the analyzer for the most appropriate next
// question given prior answers. The returned question is validated: its type
// belongs to the closed set and options are present when the type needs them.
func (s *llmService) GenerateNextQuestion(ctx context.Context, previousResponses map[string]string, availableQuestions []models.Question, languagePreference string) (*models.Question, error) {
	prompt, err := buildQuestionPrompt(previousResponses, availableQuestions, languagePreference)
	if err != nil {
		return nil, fmt.Errorf("failed to build question prompt: %w", err)
	}

	content, err := s.completeWithFailover(ctx, prompt)
	if err != nil {
		return nil, err
	}

	question, err := parseQuestionPayload(content)
	if err != nil {
		log.Printf("ERROR: [LLMService] Failed to parse generated question: %v", err)
		return nil, fmt.Errorf("failed to generate valid next question: %w", err)
	}
	return question, nil
}

// AnalyzeResponse asks the analyzer to judge one sanitized answer. The result
// is raw and untrusted; normalization happens in the risk service.
func (s *llmService) AnalyzeResponse(ctx context.Context, question *models.Question, response string, analysisCtx AnalysisContext) (*models.RiskAnalysis, error) {
	prompt, err := buildAnalysisPrompt(question, response, analysisCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to build analysis prompt: %w", err)
	}

	content, err := s.completeWithFailover(ctx, prompt)
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysisPayload(content)
	if err != nil {
		log.Printf("ERROR: [LLMService] Failed to parse analysis for question %s: %v", question.ID, err)
		return nil, fmt.Errorf("failed to generate valid analysis: %w", err)
	}
	return analysis, nil
}

// completeWithFailover runs the retry loop against the primary provider and,
// when that budget is spent, a smaller one against the fallback provider.
func (s *llmService) completeWithFailover(ctx context.Context, prompt string) (string, error) {
	content, primaryErr := s.completeWithRetry(ctx, s.primary, prompt, s.cfg.Retry.MaxAttempts)
	if primaryErr == nil {
		return content, nil
	}
	if ctx.Err() != nil {
		return "", primaryErr
	}
	if s.fallback == nil {
		return "", primaryErr
	}

	log.Printf("WARN: [LLMService] Primary provider '%s' failed, switching to fallback '%s': %v", s.primary.name, s.fallback.name, primaryErr)
	content, fallbackErr := s.completeWithRetry(ctx, *s.fallback, prompt, s.cfg.Retry.MaxFallbackAttempts)
	if fallbackErr == nil {
		return content, nil
	}
	return "", fallbackErr
}

func (s *llmService) completeWithRetry(ctx context.Context, provider analyzerProvider, prompt string, maxAttempts int) (string, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt, s.cfg.Retry)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", &models.AnalyzerFault{Provider: provider.name, Attempts: attempt, Err: ctx.Err()}
			}
		}

		content, err := s.callProvider(ctx, provider, prompt)
		if err == nil {
			return content, nil
		}
		lastErr = err
		log.Printf("WARN: [LLMService] Provider '%s' attempt %d/%d failed: %v", provider.name, attempt+1, maxAttempts, err)
		if errors.Is(err, context.Canceled) {
			break
		}
	}
	return "", &models.AnalyzerFault{Provider: provider.name, Attempts: maxAttempts, Err: lastErr}
}

func (s *llmService) callProvider(ctx context.Context, provider analyzerProvider, prompt string) (string, error) {
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := provider.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: provider.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("provider returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// backoffDelay computes the exponential backoff for the given attempt, capped
// at the configured maximum, with optional jitter.
func backoffDelay(attempt int, retry config.RetryConfig) time.Duration {
	initial := retry.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	max := retry.MaxBackoff
	if max <= 0 {
		max = 10 * time.Second
	}

	delay := initial << uint(attempt-1)
	if delay > max || delay <= 0 {
		delay = max
	}
	if retry.Jitter {
		delay = delay/2 + time.Duration(rand.Int63n(int64(delay/2)+1))
	}
	return delay
}

func buildQuestionPrompt(previousResponses map[string]string, availableQuestions []models.Question, language string) (string, error) {
	type questionSummary struct {
		ID   string              `json:"id"`
		Text string              `json:"text"`
		Type models.QuestionType `json:"type"`
	}
	summaries := make([]questionSummary, 0, len(availableQuestions))
	for _, q := range availableQuestions {
		summaries = append(summaries, questionSummary{ID: q.ID, Text: q.Text, Type: q.Type})
	}

	payload := map[string]interface{}{
		"previous_responses":  previousResponses,
		"available_questions": summaries,
		"language":            language,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`Based on the previous responses and available questions, generate the most appropriate next question for health assessment.
Context: %s

Return the question as a JSON object with "text", "type", "options", "validation_rules" and "required" fields. "type" must be one of %v.`, raw, models.QuestionTypes), nil
}

func buildAnalysisPrompt(question *models.Question, response string, analysisCtx AnalysisContext) (string, error) {
	rawCtx, err := json.Marshal(analysisCtx)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(`Analyze the health questionnaire response for risk factors and implications.
Question: %s
Response: %s
Context: %s

Return the analysis as a JSON object with "risk_factors" (list of objects with "type", "description", "severity", "confidence" and "recommendations"), "risk_score" (0 to 1), "confidence" (0 to 1) and "recommendations" fields.`, question.Text, response, rawCtx), nil
}

// questionPayload is the lenient shape accepted from the analyzer for a
// generated question.
type questionPayload struct {
	Text            string                    `json:"text"`
	Type            models.QuestionType       `json:"type"`
	Options         []string                  `json:"options"`
	ValidationRules map[string]float64        `json:"validation_rules"`
	Required        *bool                     `json:"required"`
	Compliance      models.ComplianceMetadata `json:"lgpd_metadata"`
}

func parseQuestionPayload(content string) (*models.Question, error) {
	var payload questionPayload
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &payload); err != nil {
		return nil, fmt.Errorf("question payload is not valid JSON: %w", err)
	}
	if strings.TrimSpace(payload.Text) == "" {
		return nil, errors.New("question payload has no text")
	}

	required := true
	if payload.Required != nil {
		required = *payload.Required
	}
	return models.NewQuestion(payload.Text, payload.Type, payload.Options, payload.ValidationRules, required, payload.Compliance)
}

func parseAnalysisPayload(content string) (*models.RiskAnalysis, error) {
	var analysis models.RiskAnalysis
	if err := json.Unmarshal([]byte(stripCodeFences(content)), &analysis); err != nil {
		return nil, fmt.Errorf("analysis payload is not valid JSON: %w", err)
	}
	return &analysis, nil
}

// stripCodeFences unwraps ```json ... ``` blocks some models insist on.
func stripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	return strings.TrimSpace(trimmed)
}
