package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/models"
)

type stubScenarios struct {
	calls    int
	scenario *models.Scenario
	err      error
}

func (s *stubScenarios) GenerateScenario(ctx context.Context, page models.PageContext, intent string) (*models.Scenario, error) {
	s.calls++
	return s.scenario, s.err
}

func TestStepAction(t *testing.T) {
	valid := []models.ScenarioStep{
		{Action: models.ActionWait, DurationMs: 100},
		{Action: models.ActionScroll, Value: "400", DurationMs: 100},
		{Action: models.ActionScroll, Y: 250},
		{Action: models.ActionClick, Target: "button.buy"},
		{Action: models.ActionClick, X: 10, Y: 20},
		{Action: models.ActionHover, Target: "nav a"},
		{Action: models.ActionHover, X: 5, Y: 5},
		{Action: models.ActionMouseMove, X: 420, Y: 260},
		{Action: models.ActionType, Target: "input[name=q]", Value: "shoes"},
		{Action: models.ActionNavigate, Value: "https://example.com/next"},
	}
	for _, step := range valid {
		action, err := stepAction(step)
		require.NoError(t, err, step.Action)
		assert.NotNil(t, action, step.Action)
	}

	invalid := []models.ScenarioStep{
		{Action: "teleport"},
		{Action: models.ActionClick},
		{Action: models.ActionType, Value: "no target"},
		{Action: models.ActionNavigate},
		{Action: models.ActionScroll, Value: "down"},
	}
	for _, step := range invalid {
		_, err := stepAction(step)
		assert.Error(t, err, step.Action)
	}
}

func TestStepAction_PausesForDuration(t *testing.T) {
	action, err := stepAction(models.ScenarioStep{Action: models.ActionMouseMove, X: 1, Y: 1, DurationMs: 500})
	require.NoError(t, err)
	tasks, ok := action.(chromedp.Tasks)
	require.True(t, ok)
	assert.Len(t, tasks, 2)

	action, err = stepAction(models.ScenarioStep{Action: models.ActionMouseMove, X: 1, Y: 1})
	require.NoError(t, err)
	_, ok = action.(chromedp.Tasks)
	assert.False(t, ok)
}

func TestFingerprintScript(t *testing.T) {
	script := fingerprintScript(&models.FingerprintProfile{
		Platform:            "MacIntel",
		Languages:           []string{"ja-JP", "ja"},
		HardwareConcurrency: 8,
		DeviceMemory:        16,
		ScreenWidth:         1440,
		ScreenHeight:        900,
		ColorDepth:          30,
		WebGLVendor:         "Apple Inc.",
		WebGLRenderer:       `Apple "M2"`,
	})

	assert.Contains(t, script, `'platform', "MacIntel"`)
	assert.Contains(t, script, `["ja-JP","ja"]`)
	assert.Contains(t, script, `'hardwareConcurrency', 8`)
	assert.Contains(t, script, `'width', 1440`)
	assert.Contains(t, script, `"Apple \"M2\""`)
}

func TestUserAgentFor(t *testing.T) {
	fp := &models.FingerprintProfile{UserAgent: "fingerprint-ua"}

	assert.Equal(t, "explicit", userAgentFor(models.BrowserConfig{UserAgent: "explicit", Fingerprint: fp}))
	assert.Equal(t, "fingerprint-ua", userAgentFor(models.BrowserConfig{Fingerprint: fp}))
	assert.Equal(t, defaultUserAgent, userAgentFor(models.BrowserConfig{}))
}

func TestResolveScenario(t *testing.T) {
	page := models.PageContext{URL: "https://shop.example.com/search?q=shoes", Title: "Search"}
	llmScenario := &models.Scenario{
		PageType: models.PageTypeSearch,
		Source:   models.ScenarioSourceLLM,
		Steps:    []models.ScenarioStep{{Action: models.ActionWait, DurationMs: 100}},
	}

	t.Run("delivered llm scenario is kept", func(t *testing.T) {
		source := &stubScenarios{}
		executor := NewBrowserExecutor(BrowserConfig{}, source, common.NewTestLogger())
		job := &models.Job{Config: models.JobConfig{Automation: models.AutomationConfig{UseAIScenario: true, Scenario: llmScenario}}}

		assert.Same(t, llmScenario, executor.resolveScenario(context.Background(), job, page))
		assert.Zero(t, source.calls)
	})

	t.Run("url-only fallback is regenerated from the page", func(t *testing.T) {
		source := &stubScenarios{scenario: llmScenario}
		executor := NewBrowserExecutor(BrowserConfig{}, source, common.NewTestLogger())
		delivered := &models.Scenario{Source: models.ScenarioSourceFallback, Steps: []models.ScenarioStep{{Action: models.ActionWait}}}
		job := &models.Job{Config: models.JobConfig{Automation: models.AutomationConfig{UseAIScenario: true, Scenario: delivered}}}

		assert.Same(t, llmScenario, executor.resolveScenario(context.Background(), job, page))
		assert.Equal(t, 1, source.calls)
	})

	t.Run("generation failure uses rules", func(t *testing.T) {
		source := &stubScenarios{err: errors.New("upstream down")}
		executor := NewBrowserExecutor(BrowserConfig{}, source, common.NewTestLogger())
		job := &models.Job{Config: models.JobConfig{Automation: models.AutomationConfig{UseAIScenario: true, Intent: "browse"}}}

		got := executor.resolveScenario(context.Background(), job, page)
		assert.Equal(t, models.ScenarioSourceFallback, got.Source)
		assert.Equal(t, models.PageTypeSearch, got.PageType)
		assert.Equal(t, "browse", got.Intent)
		assert.NotEmpty(t, got.Steps)
	})

	t.Run("rules without ai", func(t *testing.T) {
		source := &stubScenarios{scenario: llmScenario}
		executor := NewBrowserExecutor(BrowserConfig{}, source, common.NewTestLogger())
		job := &models.Job{}

		got := executor.resolveScenario(context.Background(), job, page)
		assert.Equal(t, models.ScenarioSourceFallback, got.Source)
		assert.Zero(t, source.calls)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 10))
	assert.Equal(t, "ab", truncate("abc", 2))
}
