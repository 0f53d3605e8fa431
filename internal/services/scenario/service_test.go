package scenario

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

type stubLLM struct {
	response string
	err      error
	prompts  []string
}

func (s *stubLLM) Chat(ctx context.Context, messages []interfaces.Message) (string, error) {
	s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	return s.response, s.err
}

func (s *stubLLM) Name() string { return "stub" }
func (s *stubLLM) Close() error { return nil }

func TestClassifyPage(t *testing.T) {
	tests := []struct {
		name string
		page models.PageContext
		want string
	}{
		{"root is homepage", models.PageContext{URL: "https://shop.example.com/"}, models.PageTypeHomepage},
		{"bare host is homepage", models.PageContext{URL: "https://example.com"}, models.PageTypeHomepage},
		{"search path", models.PageContext{URL: "https://example.com/search?q=shoes"}, models.PageTypeSearch},
		{"search query only", models.PageContext{URL: "https://example.com/catalog?query=lamp"}, models.PageTypeSearch},
		{"product path", models.PageContext{URL: "https://example.com/product/123"}, models.PageTypeProduct},
		{"dated article", models.PageContext{URL: "https://example.com/2026/04/launch"}, models.PageTypeArticle},
		{"product by markup", models.PageContext{
			URL:  "https://example.com/x",
			HTML: `<html><body><span itemprop="price">9.99</span></body></html>`,
		}, models.PageTypeProduct},
		{"article by og:type", models.PageContext{
			URL:  "https://example.com/x",
			HTML: `<html><head><meta property="og:type" content="article"></head></html>`,
		}, models.PageTypeArticle},
		{"anything else", models.PageContext{URL: "https://example.com/about"}, models.PageTypeGeneric},
		{"unparseable", models.PageContext{URL: "://"}, models.PageTypeGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyPage(tt.page))
		})
	}
}

func TestFallbackScenario(t *testing.T) {
	for _, pageType := range []string{
		models.PageTypeHomepage, models.PageTypeArticle, models.PageTypeProduct,
		models.PageTypeSearch, models.PageTypeGeneric,
	} {
		scenario := FallbackScenario(pageType, "browse")
		require.NotEmpty(t, scenario.Steps, pageType)
		assert.Equal(t, pageType, scenario.PageType)
		assert.Equal(t, models.ScenarioSourceFallback, scenario.Source)
		assert.Greater(t, scenario.TotalDuration, 0)
		assert.NotEmpty(t, scenario.Complexity)
		assert.InDelta(t, 0.87, scenario.HumanLikenessScore, 0.1)
	}

	unknown := FallbackScenario("weird", "")
	assert.Equal(t, models.PageTypeGeneric, unknown.PageType)
	assert.Equal(t, 8500, unknown.TotalDuration)
	assert.Equal(t, models.ComplexitySimple, unknown.Complexity)

	// Fallback must not share step slices between calls
	a := FallbackScenario(models.PageTypeGeneric, "")
	a.Steps[0].DurationMs = 1
	b := FallbackScenario(models.PageTypeGeneric, "")
	assert.Equal(t, 2000, b.Steps[0].DurationMs)
}

func TestGenerate_WithoutLLMUsesRules(t *testing.T) {
	service := NewService(nil, common.NewTestLogger())

	scenario, err := service.Generate(context.Background(), models.PageContext{URL: "https://example.com/search?q=x"}, "")
	require.NoError(t, err)
	assert.Equal(t, models.ScenarioSourceFallback, scenario.Source)
	assert.Equal(t, models.PageTypeSearch, scenario.PageType)
}

func TestGenerate_UpstreamFailureFallsBack(t *testing.T) {
	for name, llm := range map[string]*stubLLM{
		"error":     {err: errors.New("503 unavailable")},
		"not json":  {response: "I cannot help with that"},
		"no steps":  {response: `{"steps":[{"type":"navigate","durationMs":100}]}`},
		"bad shape": {response: `{"steps":"scroll"}`},
	} {
		t.Run(name, func(t *testing.T) {
			service := NewService(llm, common.NewTestLogger())
			scenario, err := service.Generate(context.Background(), models.PageContext{URL: "https://example.com/"}, "")
			require.NoError(t, err)
			require.NotNil(t, scenario)
			assert.Equal(t, models.ScenarioSourceFallback, scenario.Source)
			assert.NotEmpty(t, scenario.Steps)
		})
	}
}

func TestGenerate_LLMScenario(t *testing.T) {
	llm := &stubLLM{response: "```json\n" + `{"steps":[
		{"type":"wait","durationMs":1200,"description":"settle","humanLikenessScore":0.9},
		{"type":"Scroll","value":"400","durationMs":90000},
		{"type":"click","durationMs":300},
		{"type":"click","target":"#buy","durationMs":300,"humanLikenessScore":7}
	]}` + "\n```"}
	service := NewService(llm, common.NewTestLogger())

	page := models.PageContext{
		URL:    "https://example.com/product/9",
		Title:  "Lamp",
		HTML:   `<html><body><script>x()</script><h1>Lamp</h1><p>Bright.</p><button id="buy">Buy</button></body></html>`,
		Region: "de",
	}
	scenario, err := service.Generate(context.Background(), page, "compare prices")
	require.NoError(t, err)

	assert.Equal(t, models.ScenarioSourceLLM, scenario.Source)
	assert.Equal(t, "stub", scenario.Provider)
	assert.Equal(t, models.PageTypeProduct, scenario.PageType)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, models.ActionScroll, scenario.Steps[1].Action)
	assert.Equal(t, maxStepDuration, scenario.Steps[1].DurationMs)
	assert.Equal(t, "#buy", scenario.Steps[2].Target)
	assert.Equal(t, 0.5, scenario.Steps[2].HumanLikenessScore)
	assert.Equal(t, 1200+maxStepDuration+300, scenario.TotalDuration)

	require.Len(t, llm.prompts, 1)
	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "Visitor intent: compare prices")
	assert.Contains(t, prompt, "Targets: #buy")
	assert.Contains(t, prompt, "Lamp")
	assert.NotContains(t, prompt, "x()")
}
