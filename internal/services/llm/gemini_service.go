package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"google.golang.org/genai"
)

// GeminiService implements the LLMService interface using the Gemini API
type GeminiService struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
	retry   *GeminiRetryConfig
}

// convertMessagesToGemini converts []interfaces.Message to Gemini Content format.
// System messages are returned separately for use as the SystemInstruction.
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}
	if !hasUserMessage(messages) {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		role := genai.RoleUser
		if msg.Role == "assistant" {
			role = genai.RoleModel
		}

		contents = append(contents, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{genai.NewPartFromText(msg.Content)},
		})
	}

	return contents, systemText, nil
}

func hasUserMessage(messages []interfaces.Message) bool {
	for _, msg := range messages {
		if msg.Role == "user" {
			return true
		}
	}
	return false
}

// NewGeminiService creates a new Gemini LLM service instance.
// GEMINI_API_KEY and GOOGLE_API_KEY take precedence over the configured key.
func NewGeminiService(config *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	apiKey := common.ResolveAPIKey(config.APIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set gemini.api_key, DROVER_GEMINI_API_KEY or GEMINI_API_KEY)")
	}

	if config.Model == "" {
		config.Model = "gemini-2.5-flash"
	}

	timeout, err := time.ParseDuration(config.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", config.Timeout, err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	logger.Info().
		Str("model", config.Model).
		Dur("timeout", timeout).
		Msg("Gemini LLM service initialized")

	return &GeminiService{
		config:  config,
		logger:  logger,
		client:  client,
		timeout: timeout,
		retry:   NewDefaultRetryConfig(),
	}, nil
}

// Name identifies the provider
func (s *GeminiService) Name() string {
	return string(common.LLMProviderGemini)
}

// Chat generates a completion for the conversation. Rate limit responses are
// retried with the API-suggested delay while the context allows.
func (s *GeminiService) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	contents, systemText, err := convertMessagesToGemini(messages)
	if err != nil {
		return "", fmt.Errorf("failed to convert messages to Gemini format: %w", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	var lastErr error
	for attempt := 0; attempt <= s.retry.MaxRetries; attempt++ {
		response, err := s.generateCompletion(timeoutCtx, contents, systemText)
		if err == nil {
			s.logger.Debug().
				Int("message_count", len(messages)).
				Int("response_length", len(response)).
				Dur("duration", time.Since(startTime)).
				Msg("Gemini chat completion completed")
			return response, nil
		}
		lastErr = err

		if !IsRateLimitError(err) || attempt == s.retry.MaxRetries {
			break
		}

		backoff := s.retry.CalculateBackoff(attempt, ExtractRetryDelay(err))
		s.logger.Warn().
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Msg("Gemini rate limited, backing off")

		select {
		case <-timeoutCtx.Done():
			return "", fmt.Errorf("chat completion failed: %w", lastErr)
		case <-time.After(backoff):
		}
	}

	return "", fmt.Errorf("chat completion failed: %w", lastErr)
}

// Close releases the client reference; genai.Client needs no explicit cleanup
func (s *GeminiService) Close() error {
	s.client = nil
	return nil
}

func (s *GeminiService) generateCompletion(ctx context.Context, contents []*genai.Content, systemText string) (string, error) {
	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(s.config.Temperature),
		ResponseMIMEType: "application/json",
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.config.Model, contents, config)
	if err != nil {
		return "", err
	}

	// Use the first candidate with text
	var response strings.Builder
	if resp != nil {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				response.WriteString(part.Text)
			}
			if response.Len() > 0 {
				break
			}
		}
	}

	if response.Len() == 0 {
		return "", fmt.Errorf("no response generated from chat model")
	}
	return response.String(), nil
}
