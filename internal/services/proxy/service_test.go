package proxy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
	"github.com/ternarybob/drover/internal/services/events"
	"github.com/ternarybob/drover/internal/storage/badger"
)

func newTestService(t *testing.T) (*Service, *time.Time) {
	t.Helper()

	logger := common.NewTestLogger()
	manager, err := badger.NewManager(logger, &common.BadgerConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	service := NewService(manager.ProxyStorage(), logger)
	service.SetClock(func() time.Time { return now })
	return service, &now
}

func addProxy(t *testing.T, s *Service, url, country string, quality int) *models.Proxy {
	t.Helper()
	p, err := s.Add(context.Background(), ProxySpec{URL: url, Country: country, Quality: quality})
	require.NoError(t, err)
	return p
}

func TestAdd_Validation(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	for name, spec := range map[string]ProxySpec{
		"missing url":  {Quality: 50},
		"relative url": {URL: "proxy.local:8080", Quality: 50},
		"bad scheme":   {URL: "ftp://proxy.local:21", Quality: 50},
		"quality high": {URL: "http://proxy.local:8080", Quality: 101},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := service.Add(ctx, spec)
			assert.Error(t, err)
		})
	}

	p := addProxy(t, service, "socks5://10.0.0.1:1080", "DE", 80)
	assert.True(t, p.Active)
	assert.Equal(t, "de", p.Country)
	assert.NotEmpty(t, p.ID)
}

func TestAllocate_PrefersLeastRecentlyUsed(t *testing.T) {
	service, now := newTestService(t)
	ctx := context.Background()

	low := addProxy(t, service, "http://10.0.0.1:8080", "us", 40)
	high := addProxy(t, service, "http://10.0.0.2:8080", "us", 90)

	allocate := func(jobID string) *models.Proxy {
		p, err := service.Allocate(ctx, models.ProxyConstraints{}, jobID)
		require.NoError(t, err)
		return p
	}

	// Both unused: quality decides
	first := allocate("job-1")
	require.NotNil(t, first)
	assert.Equal(t, high.ID, first.ID)
	assert.Equal(t, "job-1", first.InUseBy)
	assert.Equal(t, 1, first.UseCount)

	// A never-used proxy beats a better one that has been used
	require.NoError(t, service.Release(ctx, high.ID))
	*now = now.Add(time.Minute)
	second := allocate("job-2")
	require.NotNil(t, second)
	assert.Equal(t, low.ID, second.ID)

	// Only high is free
	*now = now.Add(time.Minute)
	assert.Equal(t, high.ID, allocate("job-3").ID)
	assert.Nil(t, allocate("job-4"))

	// low was used before high's second use, so it goes next
	require.NoError(t, service.Release(ctx, low.ID))
	require.NoError(t, service.Release(ctx, high.ID))
	*now = now.Add(time.Minute)
	assert.Equal(t, low.ID, allocate("job-5").ID)
}

func TestAllocate_Constraints(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	addProxy(t, service, "http://10.0.0.1:8080", "us", 95)
	gb := addProxy(t, service, "http://10.0.0.2:8080", "gb", 70)
	addProxy(t, service, "http://10.0.0.3:8080", "gb", 20)

	p, err := service.Allocate(ctx, models.ProxyConstraints{MinQuality: 50, Countries: []string{"GB"}}, "job-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, gb.ID, p.ID)

	p, err = service.Allocate(ctx, models.ProxyConstraints{MinQuality: 50, Countries: []string{"gb"}}, "job-2")
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = service.Allocate(ctx, models.ProxyConstraints{MinQuality: 99}, "job-3")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestAllocate_ConcurrentCallersGetDistinctProxies(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		addProxy(t, service, "http://10.0.1.1:8080", "us", 50)
	}

	var mu sync.Mutex
	seen := map[string]string{}
	nilCount := 0

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			jobID := common.NewJobID()
			p, err := service.Allocate(ctx, models.ProxyConstraints{}, jobID)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			if p == nil {
				nilCount++
				return
			}
			_, dup := seen[p.ID]
			assert.False(t, dup, "proxy %s handed out twice", p.ID)
			seen[p.ID] = jobID
		}(i)
	}
	wg.Wait()

	assert.Len(t, seen, 3)
	assert.Equal(t, 3, nilCount)
}

func TestRelease_UnknownProxy(t *testing.T) {
	service, _ := newTestService(t)
	err := service.Release(context.Background(), "missing")
	assert.True(t, models.IsNotFound(err))
}

func TestSubscribeReleases_FreesProxiesOnTerminalEvents(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()

	bus := events.NewService(common.NewTestLogger())
	require.NoError(t, service.SubscribeReleases(bus))

	p := addProxy(t, service, "http://10.0.0.9:8080", "fr", 60)
	allocated, err := service.Allocate(ctx, models.ProxyConstraints{}, "job-42")
	require.NoError(t, err)
	require.NotNil(t, allocated)

	// Non-terminal events leave the allocation alone
	require.NoError(t, bus.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventJobAssigned,
		Payload: models.JobEventPayload{JobID: "job-42", Status: models.JobStatusRunning},
	}))
	proxies, err := service.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, "job-42", proxies[0].InUseBy)

	require.NoError(t, bus.PublishSync(ctx, interfaces.Event{
		Type:    interfaces.EventJobFailed,
		Payload: models.JobEventPayload{JobID: "job-42", Status: models.JobStatusFailed},
	}))
	proxies, err = service.List(ctx)
	require.NoError(t, err)
	require.Len(t, proxies, 1)
	assert.Equal(t, p.ID, proxies[0].ID)
	assert.Empty(t, proxies[0].InUseBy)
	assert.Equal(t, 1, proxies[0].UseCount)
}
