package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/models"
	"github.com/ternarybob/drover/internal/services/scenario"
)

// Executor runs one job in a browser and reports what happened
type Executor interface {
	Execute(ctx context.Context, job *models.Job) (*models.ExecutionResult, error)
}

// ScenarioSource generates a scenario for a loaded page
type ScenarioSource interface {
	GenerateScenario(ctx context.Context, page models.PageContext, intent string) (*models.Scenario, error)
}

// BrowserConfig configures the chromedp executor
type BrowserConfig struct {
	ChromePath   string
	Headless     bool
	Screenshots  bool
	LoadTimeout  time.Duration // navigation and first render
	StepTimeout  time.Duration // per scenario step
	MaxHTMLBytes int           // page HTML sent for scenario generation
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// BrowserExecutor executes jobs in a fresh headless Chrome per job
type BrowserExecutor struct {
	config    BrowserConfig
	scenarios ScenarioSource
	logger    arbor.ILogger
}

// NewBrowserExecutor creates a chromedp executor. scenarios may be nil, in
// which case rule-based scenarios are used for pages without one.
func NewBrowserExecutor(config BrowserConfig, scenarios ScenarioSource, logger arbor.ILogger) *BrowserExecutor {
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = 45 * time.Second
	}
	if config.StepTimeout <= 0 {
		config.StepTimeout = 15 * time.Second
	}
	if config.MaxHTMLBytes <= 0 {
		config.MaxHTMLBytes = 200 * 1024
	}
	return &BrowserExecutor{config: config, scenarios: scenarios, logger: logger}
}

// Execute loads the job URL with the job's identity, plays its scenario and
// captures a screenshot. Step failures are recorded but do not fail the job;
// a page that never loads does.
func (e *BrowserExecutor) Execute(ctx context.Context, job *models.Job) (*models.ExecutionResult, error) {
	result := &models.ExecutionResult{Metrics: make(map[string]float64)}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, e.allocatorOptions(job)...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...interface{}) {
			e.logger.Debug().Str("job_id", job.ID).Msg(fmt.Sprintf(format, args...))
		}),
	)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx, identityActions(job.Config.Browser)...); err != nil {
		return result, fmt.Errorf("failed to prepare browser: %w", err)
	}

	var title, location, html string
	start := time.Now()
	loadCtx, cancelLoad := context.WithTimeout(browserCtx, e.config.LoadTimeout)
	err := chromedp.Run(loadCtx,
		chromedp.Navigate(job.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Title(&title),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	cancelLoad()
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("navigation failed: %v", err))
		return result, fmt.Errorf("failed to load %s: %w", job.URL, err)
	}
	result.Metrics["loadTimeMs"] = float64(time.Since(start).Milliseconds())
	result.Logs = append(result.Logs, fmt.Sprintf("Loaded %s (%q)", location, title))

	pageContext := models.PageContext{
		URL:    location,
		Title:  title,
		HTML:   truncate(html, e.config.MaxHTMLBytes),
		Region: job.Config.Automation.Region,
	}
	script := e.resolveScenario(ctx, job, pageContext)
	result.Logs = append(result.Logs, fmt.Sprintf("Playing %s scenario for %s page, %d steps", script.Source, script.PageType, len(script.Steps)))

	scenarioStart := time.Now()
	executed, failed := e.playScenario(browserCtx, script, result)
	result.Metrics["scenarioMs"] = float64(time.Since(scenarioStart).Milliseconds())
	result.Metrics["stepsExecuted"] = float64(executed)
	result.Metrics["stepsFailed"] = float64(failed)

	// An abort lands here as a cancelled context; the partial result is discarded
	if err := ctx.Err(); err != nil {
		return result, err
	}

	if e.config.Screenshots {
		var shot []byte
		if err := chromedp.Run(browserCtx, chromedp.FullScreenshot(&shot, 80)); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("screenshot failed: %v", err))
		} else {
			result.Screenshot = base64.StdEncoding.EncodeToString(shot)
		}
	}

	result.Data, _ = json.Marshal(map[string]interface{}{
		"title":          title,
		"finalUrl":       location,
		"pageType":       script.PageType,
		"scenarioSource": script.Source,
	})
	result.Success = true
	return result, nil
}

func (e *BrowserExecutor) allocatorOptions(job *models.Job) []chromedp.ExecAllocatorOption {
	browser := job.Config.Browser

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.config.Headless || browser.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(userAgentFor(browser)),
	)
	if e.config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(e.config.ChromePath))
	}
	if browser.Viewport != nil && browser.Viewport.Width > 0 && browser.Viewport.Height > 0 {
		opts = append(opts, chromedp.WindowSize(browser.Viewport.Width, browser.Viewport.Height))
	}
	if browser.Proxy != nil && browser.Proxy.URL != "" {
		opts = append(opts, chromedp.ProxyServer(browser.Proxy.URL))
	}
	return opts
}

// identityActions apply the job's viewport and fingerprint before the first navigation
func identityActions(browser models.BrowserConfig) []chromedp.Action {
	actions := []chromedp.Action{network.Enable()}

	if browser.Viewport != nil && browser.Viewport.Width > 0 && browser.Viewport.Height > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(browser.Viewport.Width), int64(browser.Viewport.Height)))
	}

	fp := browser.Fingerprint
	if fp == nil {
		if browser.UserAgent != "" {
			actions = append(actions, emulation.SetUserAgentOverride(browser.UserAgent))
		}
		return actions
	}

	override := emulation.SetUserAgentOverride(userAgentFor(browser)).WithPlatform(fp.Platform)
	if len(fp.Languages) > 0 {
		override = override.WithAcceptLanguage(strings.Join(fp.Languages, ","))
	}
	actions = append(actions, override)
	if fp.Timezone != "" {
		actions = append(actions, emulation.SetTimezoneOverride(fp.Timezone))
	}
	actions = append(actions, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(fingerprintScript(fp)).Do(ctx)
		return err
	}))
	return actions
}

func userAgentFor(browser models.BrowserConfig) string {
	switch {
	case browser.UserAgent != "":
		return browser.UserAgent
	case browser.Fingerprint != nil && browser.Fingerprint.UserAgent != "":
		return browser.Fingerprint.UserAgent
	default:
		return defaultUserAgent
	}
}

// fingerprintScript overrides the navigator and screen properties a page can read
func fingerprintScript(fp *models.FingerprintProfile) string {
	languages, _ := json.Marshal(fp.Languages)
	var b strings.Builder
	b.WriteString("(() => {\n")
	b.WriteString("const define = (obj, prop, value) => { try { Object.defineProperty(obj, prop, { get: () => value, configurable: true }); } catch (e) {} };\n")
	fmt.Fprintf(&b, "define(Navigator.prototype, 'webdriver', false);\n")
	fmt.Fprintf(&b, "define(Navigator.prototype, 'platform', %s);\n", strconv.Quote(fp.Platform))
	fmt.Fprintf(&b, "define(Navigator.prototype, 'languages', %s);\n", languages)
	fmt.Fprintf(&b, "define(Navigator.prototype, 'hardwareConcurrency', %d);\n", fp.HardwareConcurrency)
	fmt.Fprintf(&b, "define(Navigator.prototype, 'deviceMemory', %d);\n", fp.DeviceMemory)
	fmt.Fprintf(&b, "define(Screen.prototype, 'width', %d);\n", fp.ScreenWidth)
	fmt.Fprintf(&b, "define(Screen.prototype, 'height', %d);\n", fp.ScreenHeight)
	fmt.Fprintf(&b, "define(Screen.prototype, 'colorDepth', %d);\n", fp.ColorDepth)
	fmt.Fprintf(&b, "const getParameter = WebGLRenderingContext.prototype.getParameter;\n")
	fmt.Fprintf(&b, "WebGLRenderingContext.prototype.getParameter = function (p) { if (p === 37445) return %s; if (p === 37446) return %s; return getParameter.call(this, p); };\n",
		strconv.Quote(fp.WebGLVendor), strconv.Quote(fp.WebGLRenderer))
	b.WriteString("})();")
	return b.String()
}

// resolveScenario picks the scenario to play: the one delivered with the job,
// a fresh one generated from the loaded page, or the rule-based script.
func (e *BrowserExecutor) resolveScenario(ctx context.Context, job *models.Job, page models.PageContext) *models.Scenario {
	automation := job.Config.Automation
	if s := automation.Scenario; s != nil && len(s.Steps) > 0 {
		// The master only saw the URL; a generated script is worth keeping
		if s.Source == models.ScenarioSourceLLM || !automation.UseAIScenario || e.scenarios == nil {
			return s
		}
	}

	if automation.UseAIScenario && e.scenarios != nil {
		generated, err := e.scenarios.GenerateScenario(ctx, page, automation.Intent)
		if err == nil && generated != nil && len(generated.Steps) > 0 {
			return generated
		}
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Scenario generation failed, using rules")
	}

	return scenario.FallbackScenario(scenario.ClassifyPage(page), automation.Intent)
}

// playScenario runs every step with its own timeout and keeps going after a failed step
func (e *BrowserExecutor) playScenario(ctx context.Context, script *models.Scenario, result *models.ExecutionResult) (executed, failed int) {
	for i, step := range script.Steps {
		if ctx.Err() != nil {
			return executed, failed
		}

		action, err := stepAction(step)
		if err == nil {
			stepCtx, cancel := context.WithTimeout(ctx, e.config.StepTimeout+stepDuration(step))
			err = chromedp.Run(stepCtx, action)
			cancel()
		}

		executed++
		if err != nil {
			failed++
			result.Errors = append(result.Errors, fmt.Sprintf("step %d (%s): %v", i+1, step.Action, err))
			continue
		}
		if step.Description != "" {
			result.Logs = append(result.Logs, fmt.Sprintf("step %d: %s", i+1, step.Description))
		}
	}
	return executed, failed
}

func stepDuration(step models.ScenarioStep) time.Duration {
	if step.DurationMs <= 0 {
		return 0
	}
	return time.Duration(step.DurationMs) * time.Millisecond
}

// stepAction translates one scenario step into browser actions. Non-wait
// steps are followed by a pause for the rest of the step's duration.
func stepAction(step models.ScenarioStep) (chromedp.Action, error) {
	pause := stepDuration(step)

	var action chromedp.Action
	switch step.Action {
	case models.ActionWait:
		return chromedp.Sleep(pause), nil

	case models.ActionScroll:
		top, err := scrollTarget(step)
		if err != nil {
			return nil, err
		}
		action = chromedp.Evaluate(fmt.Sprintf("window.scrollTo({top: %d, left: %d, behavior: 'smooth'})", top, step.X), nil)

	case models.ActionClick:
		switch {
		case step.Target != "":
			action = chromedp.Click(step.Target, chromedp.ByQuery, chromedp.NodeVisible)
		case step.X > 0 || step.Y > 0:
			action = chromedp.MouseClickXY(float64(step.X), float64(step.Y))
		default:
			return nil, fmt.Errorf("click needs a target or coordinates")
		}

	case models.ActionHover:
		if step.Target == "" {
			action = input.DispatchMouseEvent(input.MouseMoved, float64(step.X), float64(step.Y))
			break
		}
		selector := strconv.Quote(step.Target)
		action = chromedp.Evaluate(fmt.Sprintf(
			"(() => { const el = document.querySelector(%s); if (!el) return false; el.scrollIntoView({block: 'center'}); el.dispatchEvent(new MouseEvent('mouseover', {bubbles: true})); return true; })()",
			selector), nil)

	case models.ActionMouseMove:
		action = input.DispatchMouseEvent(input.MouseMoved, float64(step.X), float64(step.Y))

	case models.ActionType:
		if step.Target == "" {
			return nil, fmt.Errorf("type needs a target")
		}
		action = chromedp.SendKeys(step.Target, step.Value, chromedp.ByQuery, chromedp.NodeVisible)

	case models.ActionNavigate:
		if step.Value == "" {
			return nil, fmt.Errorf("navigate needs a url")
		}
		action = chromedp.Navigate(step.Value)

	default:
		return nil, fmt.Errorf("unknown scenario action %q", step.Action)
	}

	if pause > 0 {
		return chromedp.Tasks{action, chromedp.Sleep(pause)}, nil
	}
	return action, nil
}

// scrollTarget reads the absolute scroll position from the step value, or Y
func scrollTarget(step models.ScenarioStep) (int, error) {
	if step.Value == "" {
		return step.Y, nil
	}
	top, err := strconv.Atoi(strings.TrimSpace(step.Value))
	if err != nil {
		return 0, fmt.Errorf("invalid scroll position %q", step.Value)
	}
	return top, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
