package jobs

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/models"
)

type stubProxies struct {
	mu       sync.Mutex
	proxy    *models.Proxy
	released []string
	asked    models.ProxyConstraints
}

func (s *stubProxies) Allocate(ctx context.Context, c models.ProxyConstraints, jobID string) (*models.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asked = c
	if s.proxy == nil {
		return nil, nil
	}
	p := *s.proxy
	p.InUseBy = jobID
	return &p, nil
}

func (s *stubProxies) Release(ctx context.Context, proxyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, proxyID)
	return nil
}

type stubFingerprints struct{}

func (stubFingerprints) Generate(region string) *models.FingerprintProfile {
	return &models.FingerprintProfile{
		Region:    region,
		UserAgent: "Mozilla/5.0 test",
		Viewport:  models.Viewport{Width: 1366, Height: 768},
	}
}

type stubScenarios struct{ calls int }

func (s *stubScenarios) Generate(ctx context.Context, page models.PageContext, intent string) (*models.Scenario, error) {
	s.calls++
	return &models.Scenario{
		PageType: models.PageTypeGeneric,
		Intent:   intent,
		Steps:    []models.ScenarioStep{{Action: models.ActionWait, DurationMs: 1000}},
		Source:   models.ScenarioSourceFallback,
	}, nil
}

func TestPrepareDelivery_AttachesCollaboratorOutput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	proxies := &stubProxies{proxy: &models.Proxy{ID: "prx_1", URL: "http://10.0.0.1:8080"}}
	scenarios := &stubScenarios{}
	f.jobs.SetCollaborators(Collaborators{Proxies: proxies, Fingerprints: stubFingerprints{}, Scenarios: scenarios})

	job, err := f.jobs.CreateJob(ctx, models.JobSpec{
		Name: "Enriched",
		URL:  "https://example.com/product/1",
		Config: models.JobConfig{
			Browser: models.BrowserConfig{
				Proxy: &models.ProxyRequirement{Required: true, MinQuality: 60, Countries: []string{"de"}},
			},
			Automation: models.AutomationConfig{UseAIScenario: true, Intent: "compare", Region: "de"},
		},
	})
	require.NoError(t, err)

	worker := f.onlineWorker(t, "w1", 1)
	_, err = f.jobs.StartOnWorker(ctx, job.ID, worker.ID)
	require.NoError(t, err)

	delivered, err := f.jobs.PrepareDelivery(ctx, job.ID)
	require.NoError(t, err)

	browser := delivered.Config.Browser
	require.NotNil(t, browser.Fingerprint)
	assert.Equal(t, "de", browser.Fingerprint.Region)
	assert.Equal(t, "Mozilla/5.0 test", browser.UserAgent)
	require.NotNil(t, browser.Viewport)
	assert.Equal(t, 1366, browser.Viewport.Width)

	assert.Equal(t, "prx_1", browser.Proxy.ProxyID)
	assert.Equal(t, "http://10.0.0.1:8080", browser.Proxy.URL)
	assert.Equal(t, 60, proxies.asked.MinQuality)
	assert.Equal(t, []string{"de"}, proxies.asked.Countries)

	require.NotNil(t, delivered.Config.Automation.Scenario)
	assert.Equal(t, "compare", delivered.Config.Automation.Scenario.Intent)

	// Persisted, and a second delivery does not regenerate
	again, err := f.jobs.PrepareDelivery(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "prx_1", again.Config.Browser.Proxy.ProxyID)
	assert.Equal(t, 1, scenarios.calls)
	assert.Empty(t, proxies.released)
}

func TestPrepareDelivery_NoProxyAvailableIsLogged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.jobs.SetCollaborators(Collaborators{Proxies: &stubProxies{}, Fingerprints: stubFingerprints{}})

	job, err := f.jobs.CreateJob(ctx, models.JobSpec{
		Name: "No proxy",
		URL:  "https://example.com",
		Config: models.JobConfig{
			Browser: models.BrowserConfig{Proxy: &models.ProxyRequirement{Required: true}},
		},
	})
	require.NoError(t, err)

	worker := f.onlineWorker(t, "w1", 1)
	_, err = f.jobs.StartOnWorker(ctx, job.ID, worker.ID)
	require.NoError(t, err)

	delivered, err := f.jobs.PrepareDelivery(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, delivered.Config.Browser.Proxy.ProxyID)

	var warned bool
	for _, entry := range delivered.Execution.Logs {
		if entry.Level == models.LogLevelWarn {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestPrepareDelivery_NotRunningIsUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	scenarios := &stubScenarios{}
	f.jobs.SetCollaborators(Collaborators{Scenarios: scenarios})

	job, err := f.jobs.CreateJob(ctx, models.JobSpec{
		Name:   "Queued",
		URL:    "https://example.com",
		Config: models.JobConfig{Automation: models.AutomationConfig{UseAIScenario: true}},
	})
	require.NoError(t, err)

	got, err := f.jobs.PrepareDelivery(ctx, job.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Config.Automation.Scenario)
	assert.Equal(t, 0, scenarios.calls)
}
