// -----------------------------------------------------------------------
// Proxy Service - allocation of outbound proxies to jobs
// -----------------------------------------------------------------------

package proxy

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

// ProxySpec is the input for adding a proxy to the pool
type ProxySpec struct {
	URL     string `json:"url" validate:"required"`
	Country string `json:"country,omitempty"`
	Quality int    `json:"quality" validate:"min=0,max=100"`
}

// Service allocates proxies from the persisted pool. Allocation is
// serialised so a proxy is never handed to two jobs.
type Service struct {
	storage interfaces.ProxyStorage
	logger  arbor.ILogger
	mu      sync.Mutex
	now     func() time.Time
}

// NewService creates a proxy allocator over storage
func NewService(storage interfaces.ProxyStorage, logger arbor.ILogger) *Service {
	return &Service{storage: storage, logger: logger, now: time.Now}
}

// SetClock replaces the time source
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Add validates and stores a new active proxy
func (s *Service) Add(ctx context.Context, spec ProxySpec) (*models.Proxy, error) {
	if err := common.ValidateStruct(spec); err != nil {
		return nil, err
	}
	u, err := url.Parse(spec.URL)
	if err != nil || u.Host == "" {
		return nil, models.NewValidationError("url", "must be an absolute proxy URL")
	}
	switch u.Scheme {
	case "http", "https", "socks5":
	default:
		return nil, models.NewValidationError("url", "unsupported proxy scheme %q", u.Scheme)
	}

	proxy := &models.Proxy{
		ID:        common.NewProxyID(),
		URL:       spec.URL,
		Country:   strings.ToLower(spec.Country),
		Quality:   spec.Quality,
		Active:    true,
		CreatedAt: s.now(),
	}
	if err := s.storage.SaveProxy(ctx, proxy); err != nil {
		return nil, err
	}

	s.logger.Info().Str("proxy_id", proxy.ID).Str("country", proxy.Country).Int("quality", proxy.Quality).Msg("Proxy added")
	return proxy, nil
}

// List returns every proxy in the pool
func (s *Service) List(ctx context.Context) ([]*models.Proxy, error) {
	return s.storage.ListProxies(ctx)
}

// Remove deletes a proxy from the pool
func (s *Service) Remove(ctx context.Context, id string) error {
	return s.storage.DeleteProxy(ctx, id)
}

// Allocate hands the least recently used free proxy matching constraints to
// jobID and records the usage. Returns nil, nil when nothing matches.
func (s *Service) Allocate(ctx context.Context, constraints models.ProxyConstraints, jobID string) (*models.Proxy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proxies, err := s.storage.ListProxies(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []*models.Proxy
	for _, p := range proxies {
		if matches(p, constraints) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		s.logger.Debug().Str("job_id", jobID).Int("min_quality", constraints.MinQuality).Msg("No proxy available")
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		switch {
		case a.LastUsedAt == nil && b.LastUsedAt != nil:
			return true
		case a.LastUsedAt != nil && b.LastUsedAt == nil:
			return false
		case a.LastUsedAt != nil && !a.LastUsedAt.Equal(*b.LastUsedAt):
			return a.LastUsedAt.Before(*b.LastUsedAt)
		}
		return a.Quality > b.Quality
	})

	chosen := candidates[0]
	now := s.now()
	chosen.InUseBy = jobID
	chosen.LastUsedAt = &now
	chosen.UseCount++
	if err := s.storage.SaveProxy(ctx, chosen); err != nil {
		return nil, fmt.Errorf("failed to record proxy usage: %w", err)
	}

	s.logger.Debug().Str("proxy_id", chosen.ID).Str("job_id", jobID).Msg("Proxy allocated")
	return chosen, nil
}

func matches(p *models.Proxy, c models.ProxyConstraints) bool {
	if !p.Active || p.InUseBy != "" || p.Quality < c.MinQuality {
		return false
	}
	if len(c.Countries) == 0 {
		return true
	}
	for _, country := range c.Countries {
		if strings.EqualFold(country, p.Country) {
			return true
		}
	}
	return false
}

// Release returns a proxy to the pool
func (s *Service) Release(ctx context.Context, proxyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proxy, err := s.storage.GetProxy(ctx, proxyID)
	if err != nil {
		return err
	}
	if proxy.InUseBy == "" {
		return nil
	}
	proxy.InUseBy = ""
	return s.storage.SaveProxy(ctx, proxy)
}

// ReleaseForJob returns every proxy held by jobID to the pool
func (s *Service) ReleaseForJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	proxies, err := s.storage.ListProxies(ctx)
	if err != nil {
		return err
	}
	for _, p := range proxies {
		if p.InUseBy != jobID {
			continue
		}
		p.InUseBy = ""
		if err := s.storage.SaveProxy(ctx, p); err != nil {
			return err
		}
		s.logger.Debug().Str("proxy_id", p.ID).Str("job_id", jobID).Msg("Proxy released")
	}
	return nil
}

// SubscribeReleases frees a job's proxies whenever the job reaches a terminal status
func (s *Service) SubscribeReleases(events interfaces.EventService) error {
	handler := func(ctx context.Context, event interfaces.Event) error {
		var jobID string
		switch p := event.Payload.(type) {
		case models.JobEventPayload:
			jobID = p.JobID
		case *models.JobEventPayload:
			jobID = p.JobID
		default:
			return nil
		}
		return s.ReleaseForJob(ctx, jobID)
	}

	for _, eventType := range []interfaces.EventType{
		interfaces.EventJobCompleted, interfaces.EventJobFailed, interfaces.EventJobCancelled,
	} {
		if err := events.Subscribe(eventType, handler); err != nil {
			return err
		}
	}
	return nil
}
