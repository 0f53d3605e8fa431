// -----------------------------------------------------------------------
// Scenario Service - human-like interaction scripts for a page
// -----------------------------------------------------------------------

package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

const (
	maxSteps        = 20
	maxStepDuration = 30000 // ms
)

var allowedActions = map[string]bool{
	models.ActionWait:      true,
	models.ActionScroll:    true,
	models.ActionClick:     true,
	models.ActionHover:     true,
	models.ActionType:      true,
	models.ActionMouseMove: true,
	models.ActionNavigate:  false, // leaving the page is the executor's decision
}

const systemPrompt = `You write browser interaction scripts that resemble a real person visiting a web page.
Respond with JSON only, no prose, in this shape:
{"steps":[{"type":"wait|scroll|click|hover|type|mouse_move","target":"css selector, optional","value":"scroll pixels or text, optional","x":0,"y":0,"durationMs":1000,"description":"what the person does","reasoning":"why","humanLikenessScore":0.9}]}
Use between 4 and 12 steps. Prefer reading pauses and scrolling. Only click or type on the listed targets.`

// Service generates scenarios with an LLM, falling back to rules on any upstream failure
type Service struct {
	llm    interfaces.LLMService
	logger arbor.ILogger
}

// NewService creates a scenario generator. llm may be nil for rules only.
func NewService(llm interfaces.LLMService, logger arbor.ILogger) *Service {
	return &Service{llm: llm, logger: logger}
}

// Generate returns a usable scenario for the page. The error is always nil;
// it is part of the signature so callers can treat generators uniformly.
func (s *Service) Generate(ctx context.Context, page models.PageContext, intent string) (*models.Scenario, error) {
	pageType := ClassifyPage(page)

	if s.llm == nil {
		return FallbackScenario(pageType, intent), nil
	}

	scenario, err := s.generateWithLLM(ctx, page, pageType, intent)
	if err != nil {
		upstream := &models.UpstreamGenerationError{Provider: s.llm.Name(), Err: err}
		s.logger.Warn().
			Err(upstream).
			Str("url", page.URL).
			Str("page_type", pageType).
			Msg("Scenario generation failed, using rule-based fallback")
		return FallbackScenario(pageType, intent), nil
	}

	s.logger.Debug().
		Str("url", page.URL).
		Str("page_type", pageType).
		Str("provider", scenario.Provider).
		Int("steps", len(scenario.Steps)).
		Msg("Scenario generated")
	return scenario, nil
}

func (s *Service) generateWithLLM(ctx context.Context, page models.PageContext, pageType, intent string) (*models.Scenario, error) {
	markdown, targets := condensePage(page.HTML, page.URL)

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "URL: %s\n", page.URL)
	if page.Title != "" {
		fmt.Fprintf(&prompt, "Title: %s\n", page.Title)
	}
	fmt.Fprintf(&prompt, "Page type: %s\n", pageType)
	if intent != "" {
		fmt.Fprintf(&prompt, "Visitor intent: %s\n", intent)
	}
	if page.Region != "" {
		fmt.Fprintf(&prompt, "Visitor region: %s\n", page.Region)
	}
	if len(targets) > 0 {
		fmt.Fprintf(&prompt, "Targets: %s\n", strings.Join(targets, ", "))
	}
	if markdown != "" {
		fmt.Fprintf(&prompt, "\nPage content:\n%s\n", markdown)
	}

	response, err := s.llm.Chat(ctx, []interfaces.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt.String()},
	})
	if err != nil {
		return nil, err
	}

	steps, err := ParseSteps(response)
	if err != nil {
		return nil, err
	}

	scenario := &models.Scenario{
		PageType: pageType,
		Intent:   intent,
		Steps:    steps,
		Source:   models.ScenarioSourceLLM,
		Provider: s.llm.Name(),
	}
	finalize(scenario)
	return scenario, nil
}

// ParseSteps extracts and sanitises the steps from an LLM response. Unknown
// actions are dropped and durations clamped; an empty result is an error.
func ParseSteps(response string) ([]models.ScenarioStep, error) {
	payload := extractJSON(response)
	if payload == "" {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var parsed struct {
		Steps []models.ScenarioStep `json:"steps"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return nil, fmt.Errorf("invalid scenario JSON: %w", err)
	}

	steps := make([]models.ScenarioStep, 0, len(parsed.Steps))
	for _, step := range parsed.Steps {
		step.Action = strings.ToLower(strings.TrimSpace(step.Action))
		if !allowedActions[step.Action] {
			continue
		}
		if (step.Action == models.ActionClick || step.Action == models.ActionType) && step.Target == "" {
			continue
		}
		if step.DurationMs <= 0 {
			step.DurationMs = 500
		}
		if step.DurationMs > maxStepDuration {
			step.DurationMs = maxStepDuration
		}
		if step.HumanLikenessScore < 0 || step.HumanLikenessScore > 1 {
			step.HumanLikenessScore = 0.5
		}
		steps = append(steps, step)
		if len(steps) == maxSteps {
			break
		}
	}

	if len(steps) == 0 {
		return nil, fmt.Errorf("response contained no usable steps")
	}
	return steps, nil
}

// extractJSON returns the outermost JSON object in s, tolerating code fences and prose
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
