package models

// Scenario step actions understood by the browser executor
const (
	ActionWait      = "wait"
	ActionScroll    = "scroll"
	ActionClick     = "click"
	ActionHover     = "hover"
	ActionType      = "type"
	ActionMouseMove = "mouse_move"
	ActionNavigate  = "navigate"
)

// Page types recognised by the scenario generator
const (
	PageTypeHomepage = "homepage"
	PageTypeArticle  = "article"
	PageTypeProduct  = "product"
	PageTypeSearch   = "search"
	PageTypeGeneric  = "generic"
)

// Scenario sources
const (
	ScenarioSourceLLM      = "llm"
	ScenarioSourceFallback = "fallback"
)

// Complexity levels of a scenario
const (
	ComplexitySimple   = "simple"
	ComplexityModerate = "moderate"
	ComplexityComplex  = "complex"
)

// Scenario is an ordered script of human-like interactions for one page
type Scenario struct {
	PageType           string         `json:"pageType"`
	Intent             string         `json:"intent,omitempty"`
	Steps              []ScenarioStep `json:"steps"`
	TotalDuration      int            `json:"totalDuration"` // ms, sum of step durations
	Complexity         string         `json:"complexity"`
	HumanLikenessScore float64        `json:"humanLikenessScore"` // 0..1
	Source             string         `json:"source"`
	Provider           string         `json:"provider,omitempty"`
}

// ScenarioStep is one interaction
type ScenarioStep struct {
	Action             string  `json:"type"`
	Target             string  `json:"target,omitempty"` // CSS selector
	Value              string  `json:"value,omitempty"`
	X                  int     `json:"x,omitempty"`
	Y                  int     `json:"y,omitempty"`
	DurationMs         int     `json:"durationMs"`
	Description        string  `json:"description,omitempty"`
	Reasoning          string  `json:"reasoning,omitempty"`
	HumanLikenessScore float64 `json:"humanLikenessScore,omitempty"`
}

// PageContext is what the worker knows about the page a scenario is generated for
type PageContext struct {
	URL    string `json:"url" validate:"required,url"`
	Title  string `json:"title,omitempty"`
	HTML   string `json:"html,omitempty"`
	Region string `json:"region,omitempty"`
}
