package jobs

import (
	"context"
	"fmt"

	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

// Collaborators fill the collaborator-owned slices of a job's config when the
// job is handed to its worker. Any of them may be nil.
type Collaborators struct {
	Proxies      interfaces.ProxyAllocator
	Fingerprints interfaces.FingerprintGenerator
	Scenarios    interfaces.ScenarioGenerator
}

// SetCollaborators enables delivery-time enrichment
func (s *Service) SetCollaborators(c Collaborators) {
	s.collaborators = c
}

// PrepareDelivery returns the job as it should be sent to its worker:
// fingerprint, proxy and scenario are attached when the job asks for them
// and does not carry them yet. Collaborator calls happen outside the job
// lock; the result is applied only if the job is still running.
func (s *Service) PrepareDelivery(ctx context.Context, id string) (*models.Job, error) {
	job, err := s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusRunning {
		return job, nil
	}

	browser := job.Config.Browser
	automation := job.Config.Automation

	var fingerprint *models.FingerprintProfile
	if s.collaborators.Fingerprints != nil && browser.Fingerprint == nil {
		fingerprint = s.collaborators.Fingerprints.Generate(automation.Region)
	}

	var proxy *models.Proxy
	if s.collaborators.Proxies != nil && browser.Proxy != nil && browser.Proxy.Required && browser.Proxy.ProxyID == "" {
		proxy, err = s.collaborators.Proxies.Allocate(ctx, models.ProxyConstraints{
			MinQuality: browser.Proxy.MinQuality,
			Countries:  browser.Proxy.Countries,
		}, job.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Msg("Proxy allocation failed")
		}
	}

	var scenario *models.Scenario
	if s.collaborators.Scenarios != nil && automation.UseAIScenario && automation.Scenario == nil {
		scenario, err = s.collaborators.Scenarios.Generate(ctx, models.PageContext{
			URL:    job.URL,
			Title:  job.Name,
			Region: automation.Region,
		}, automation.Intent)
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", id).Msg("Scenario generation failed")
		}
	}

	if fingerprint == nil && proxy == nil && scenario == nil {
		return job, nil
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	job, err = s.storage.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusRunning {
		s.releaseProxy(ctx, proxy)
		return job, nil
	}

	if fingerprint != nil && job.Config.Browser.Fingerprint == nil {
		job.Config.Browser.Fingerprint = fingerprint
		if job.Config.Browser.UserAgent == "" {
			job.Config.Browser.UserAgent = fingerprint.UserAgent
		}
		if job.Config.Browser.Viewport == nil {
			viewport := fingerprint.Viewport
			job.Config.Browser.Viewport = &viewport
		}
	}
	if proxy != nil {
		if req := job.Config.Browser.Proxy; req != nil && req.ProxyID == "" {
			req.ProxyID = proxy.ID
			req.URL = proxy.URL
			s.appendLog(job, models.LogLevelInfo, fmt.Sprintf("Proxy %s allocated", proxy.ID))
		} else {
			s.releaseProxy(ctx, proxy)
		}
	} else if req := job.Config.Browser.Proxy; req != nil && req.Required && req.ProxyID == "" && s.collaborators.Proxies != nil {
		s.appendLog(job, models.LogLevelWarn, "No proxy satisfied the job's constraints")
	}
	if scenario != nil && job.Config.Automation.Scenario == nil {
		job.Config.Automation.Scenario = scenario
		s.appendLog(job, models.LogLevelInfo, fmt.Sprintf("Scenario attached: %s, %d steps (%s)", scenario.PageType, len(scenario.Steps), scenario.Source))
	}

	job.UpdatedAt = s.now()
	if err := s.storage.SaveJob(ctx, job); err != nil {
		s.releaseProxy(ctx, proxy)
		return nil, fmt.Errorf("failed to save delivered job: %w", err)
	}
	return job, nil
}

func (s *Service) releaseProxy(ctx context.Context, proxy *models.Proxy) {
	if proxy == nil || s.collaborators.Proxies == nil {
		return
	}
	if err := s.collaborators.Proxies.Release(ctx, proxy.ID); err != nil {
		s.logger.Warn().Err(err).Str("proxy_id", proxy.ID).Msg("Failed to release proxy")
	}
}
