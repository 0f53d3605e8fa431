package scenario

import (
	"github.com/ternarybob/drover/internal/models"
)

// fallbackSteps are the deterministic scripts per page type. Durations are
// chosen to resemble an unhurried reader.
var fallbackSteps = map[string][]models.ScenarioStep{
	models.PageTypeHomepage: {
		{Action: models.ActionWait, DurationMs: 2000, Description: "Let the page settle", HumanLikenessScore: 0.9},
		{Action: models.ActionMouseMove, X: 420, Y: 260, DurationMs: 600, Description: "Move towards the hero section", HumanLikenessScore: 0.8},
		{Action: models.ActionScroll, Value: "400", DurationMs: 1500, Description: "Skim the top of the page", HumanLikenessScore: 0.85},
		{Action: models.ActionHover, Target: "nav a", DurationMs: 800, Description: "Glance at the navigation", HumanLikenessScore: 0.8},
		{Action: models.ActionScroll, Value: "900", DurationMs: 2500, Description: "Scroll through featured content", HumanLikenessScore: 0.85},
		{Action: models.ActionWait, DurationMs: 3000, Description: "Read", HumanLikenessScore: 0.9},
	},
	models.PageTypeArticle: {
		{Action: models.ActionWait, DurationMs: 1500, Description: "Let the page settle", HumanLikenessScore: 0.9},
		{Action: models.ActionScroll, Value: "300", DurationMs: 1200, Description: "Start reading", HumanLikenessScore: 0.85},
		{Action: models.ActionWait, DurationMs: 6000, Description: "Read the opening paragraphs", HumanLikenessScore: 0.95},
		{Action: models.ActionScroll, Value: "700", DurationMs: 2000, Description: "Continue reading", HumanLikenessScore: 0.85},
		{Action: models.ActionWait, DurationMs: 8000, Description: "Read the body", HumanLikenessScore: 0.95},
		{Action: models.ActionScroll, Value: "1200", DurationMs: 2500, Description: "Reach the end of the article", HumanLikenessScore: 0.85},
		{Action: models.ActionWait, DurationMs: 2000, Description: "Pause at the end", HumanLikenessScore: 0.9},
	},
	models.PageTypeProduct: {
		{Action: models.ActionWait, DurationMs: 2000, Description: "Let the page settle", HumanLikenessScore: 0.9},
		{Action: models.ActionHover, Target: "img", DurationMs: 1200, Description: "Look at the product image", HumanLikenessScore: 0.85},
		{Action: models.ActionScroll, Value: "350", DurationMs: 1500, Description: "Scroll to price and options", HumanLikenessScore: 0.85},
		{Action: models.ActionWait, DurationMs: 3000, Description: "Compare options", HumanLikenessScore: 0.9},
		{Action: models.ActionScroll, Value: "900", DurationMs: 2000, Description: "Scroll to the description", HumanLikenessScore: 0.85},
		{Action: models.ActionWait, DurationMs: 4000, Description: "Read the description", HumanLikenessScore: 0.9},
		{Action: models.ActionScroll, Value: "1500", DurationMs: 2000, Description: "Check the reviews", HumanLikenessScore: 0.85},
	},
	models.PageTypeSearch: {
		{Action: models.ActionWait, DurationMs: 1500, Description: "Let the results load", HumanLikenessScore: 0.9},
		{Action: models.ActionScroll, Value: "300", DurationMs: 1200, Description: "Scan the first results", HumanLikenessScore: 0.85},
		{Action: models.ActionHover, Target: "a", DurationMs: 900, Description: "Hover a promising result", HumanLikenessScore: 0.8},
		{Action: models.ActionScroll, Value: "800", DurationMs: 2000, Description: "Scan further down", HumanLikenessScore: 0.85},
		{Action: models.ActionWait, DurationMs: 2500, Description: "Consider the results", HumanLikenessScore: 0.9},
	},
	models.PageTypeGeneric: {
		{Action: models.ActionWait, DurationMs: 2000, Description: "Let the page settle", HumanLikenessScore: 0.9},
		{Action: models.ActionScroll, Value: "500", DurationMs: 1500, Description: "Skim the page", HumanLikenessScore: 0.85},
		{Action: models.ActionWait, DurationMs: 3000, Description: "Read", HumanLikenessScore: 0.9},
		{Action: models.ActionScroll, Value: "1000", DurationMs: 2000, Description: "Continue down the page", HumanLikenessScore: 0.85},
	},
}

// FallbackScenario returns the rule-based scenario for a page type. It never fails.
func FallbackScenario(pageType, intent string) *models.Scenario {
	steps, ok := fallbackSteps[pageType]
	if !ok {
		pageType = models.PageTypeGeneric
		steps = fallbackSteps[pageType]
	}

	scenario := &models.Scenario{
		PageType: pageType,
		Intent:   intent,
		Steps:    append([]models.ScenarioStep(nil), steps...),
		Source:   models.ScenarioSourceFallback,
	}
	finalize(scenario)
	return scenario
}

// finalize derives the summary fields from the steps
func finalize(scenario *models.Scenario) {
	total := 0
	score := 0.0
	for _, step := range scenario.Steps {
		total += step.DurationMs
		score += step.HumanLikenessScore
	}
	scenario.TotalDuration = total

	if n := len(scenario.Steps); n > 0 {
		scenario.HumanLikenessScore = score / float64(n)
	}

	switch n := len(scenario.Steps); {
	case n <= 4:
		scenario.Complexity = models.ComplexitySimple
	case n <= 8:
		scenario.Complexity = models.ComplexityModerate
	default:
		scenario.Complexity = models.ComplexityComplex
	}
}
