package jobs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/drover/internal/models"
)

func urls(jobs []*models.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.URL
	}
	return out
}

func TestCreateBatchJobs_SequentialURLs(t *testing.T) {
	f := newFixture(t)

	result, err := f.jobs.CreateBatchJobs(context.Background(), models.BatchJobSpec{
		Template: models.JobSpec{Name: "product", URL: "https://x.com"},
		Quantity: 3,
		URLPattern: &models.URLPattern{
			Type:        models.PatternSequential,
			Template:    "https://x.com/p-{number}",
			StartNumber: intPtr(5),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalRequested)
	assert.Equal(t, 3, result.TotalCreated)
	assert.Empty(t, result.Errors)
	assert.Equal(t, []string{"https://x.com/p-5", "https://x.com/p-6", "https://x.com/p-7"}, urls(result.Created))

	batchID := result.Created[0].BatchID
	assert.NotEmpty(t, batchID)
	for _, job := range result.Created {
		assert.Equal(t, models.JobTypeBatch, job.Type)
		assert.Equal(t, batchID, job.BatchID)
		assert.Equal(t, models.JobStatusQueued, job.Status)
	}
	assert.Equal(t, "product #1", result.Created[0].Name)
}

func intPtr(n int) *int { return &n }

func TestCreateBatchJobs_ZeroStartNumber(t *testing.T) {
	f := newFixture(t)

	result, err := f.jobs.CreateBatchJobs(context.Background(), models.BatchJobSpec{
		Template: models.JobSpec{Name: "page", URL: "https://x.com"},
		Quantity: 3,
		URLPattern: &models.URLPattern{
			Type:        models.PatternSequential,
			Template:    "https://x.com/p-{number}",
			StartNumber: intPtr(0),
		},
		NamePattern: &models.NamePattern{Type: models.PatternSequential, Prefix: "page", StartNumber: intPtr(0)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/p-0", "https://x.com/p-1", "https://x.com/p-2"}, urls(result.Created))
	assert.Equal(t, "page 0", result.Created[0].Name)
	assert.Equal(t, "page 2", result.Created[2].Name)

	unset, err := f.jobs.CreateBatchJobs(context.Background(), models.BatchJobSpec{
		Template:   models.JobSpec{Name: "page", URL: "https://x.com"},
		Quantity:   2,
		URLPattern: &models.URLPattern{Type: models.PatternSequential, Template: "https://x.com/p-{number}"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://x.com/p-1", "https://x.com/p-2"}, urls(unset.Created))
}

func TestCreateBatchJobs_PartialFailureKeepsValidItems(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	list := []string{
		"https://a.com/1", "https://a.com/2", "not-a-url", "https://a.com/4", "https://a.com/5",
		"https://a.com/6", "ftp://a.com/7", "https://a.com/8", "https://a.com/9", "https://a.com/10",
	}
	result, err := f.jobs.CreateBatchJobs(ctx, models.BatchJobSpec{
		Template:   models.JobSpec{Name: "crawl"},
		Quantity:   10,
		URLPattern: &models.URLPattern{Type: models.PatternList, URLs: list},
	})
	require.NoError(t, err)

	assert.Equal(t, 10, result.TotalRequested)
	assert.Equal(t, 8, result.TotalCreated)
	require.Len(t, result.Errors, 2)
	assert.Equal(t, 2, result.Errors[0].Index)
	assert.Equal(t, 6, result.Errors[1].Index)

	for _, job := range result.Created {
		stored, err := f.jobs.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.URL, stored.URL)
	}
}

func TestCreateBatchJobs_ListWrapsAndNamePatterns(t *testing.T) {
	f := newFixture(t)

	result, err := f.jobs.CreateBatchJobs(context.Background(), models.BatchJobSpec{
		Template:    models.JobSpec{Name: "base", URL: "https://base.com"},
		Quantity:    5,
		URLPattern:  &models.URLPattern{Type: models.PatternList, URLs: []string{"https://a.com", "https://b.com"}},
		NamePattern: &models.NamePattern{Type: models.PatternSequential, Prefix: "Visit"},
	})
	require.NoError(t, err)
	require.Equal(t, 5, result.TotalCreated)

	assert.Equal(t, []string{"https://a.com", "https://b.com", "https://a.com", "https://b.com", "https://a.com"}, urls(result.Created))
	assert.Equal(t, "Visit 1", result.Created[0].Name)
	assert.Equal(t, "Visit 5", result.Created[4].Name)

	named, err := f.jobs.CreateBatchJobs(context.Background(), models.BatchJobSpec{
		Template:    models.JobSpec{Name: "base", URL: "https://base.com"},
		Quantity:    3,
		NamePattern: &models.NamePattern{Type: models.PatternList, Names: []string{"alpha", "beta"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "alpha", named.Created[0].Name)
	assert.Equal(t, "beta", named.Created[1].Name)
	assert.Equal(t, "alpha", named.Created[2].Name)
	assert.Equal(t, "https://base.com", named.Created[2].URL)
}

func TestCreateBatchJobs_Variations(t *testing.T) {
	f := newFixture(t)

	result, err := f.jobs.CreateBatchJobs(context.Background(), models.BatchJobSpec{
		Template: models.JobSpec{Name: "v", URL: "https://v.com", Priority: 4, Tags: []string{"base"}},
		Quantity: 4,
		Variations: &models.BatchVariation{
			Priorities: []int{9, 2, 7},
			Regions:    []string{"us", "de"},
			Tags:       [][]string{{"a"}, {"b", "c"}},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 4, result.TotalCreated)

	priorities := []int{}
	for _, job := range result.Created {
		priorities = append(priorities, job.Priority)
	}
	assert.Equal(t, []int{9, 2, 7, 9}, priorities)
	assert.Equal(t, "de", result.Created[1].Config.Automation.Region)
	assert.Equal(t, "us", result.Created[2].Config.Automation.Region)
	assert.Equal(t, []string{"b", "c"}, result.Created[3].Tags)
	// No intent pool: template value kept
	assert.Empty(t, result.Created[0].Config.Automation.Intent)
}

func TestCreateBatchJobs_TemporalDistribution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	start := f.clock.Now().Add(time.Minute)
	spec := models.BatchJobSpec{
		Template: models.JobSpec{Name: "spread", URL: "https://s.com"},
		Quantity: 3,
		Scheduling: &models.BatchSchedule{
			Enabled:         true,
			StartTime:       &start,
			IntervalSeconds: 100,
		},
	}

	result, err := f.jobs.CreateBatchJobs(ctx, spec)
	require.NoError(t, err)
	require.Equal(t, 3, result.TotalCreated)
	for i, job := range result.Created {
		assert.Equal(t, models.JobStatusPending, job.Status)
		require.NotNil(t, job.Schedule)
		assert.Equal(t, time.Duration(i)*100*time.Second, job.Schedule.StartAt.Sub(start))
	}
	assert.Equal(t, 0, f.queueLen(t))

	// Upper bound of the jitter: +30% of the interval
	f.jobs.jitter = func() float64 { return 1 }
	spec.Scheduling.Jitter = true
	result, err = f.jobs.CreateBatchJobs(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, result.Created[0].Schedule.StartAt.Sub(start))
	assert.Equal(t, 130*time.Second, result.Created[1].Schedule.StartAt.Sub(start))

	// Lower bound, never before the batch start
	f.jobs.jitter = func() float64 { return 0 }
	result, err = f.jobs.CreateBatchJobs(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), result.Created[0].Schedule.StartAt.Sub(start))
	assert.Equal(t, 70*time.Second, result.Created[1].Schedule.StartAt.Sub(start))
}

func TestCreateBatchJobs_RejectsBadSpec(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		spec models.BatchJobSpec
	}{
		{"zero quantity", models.BatchJobSpec{Template: models.JobSpec{Name: "a", URL: "https://a.com"}, Quantity: 0}},
		{"too many", models.BatchJobSpec{Template: models.JobSpec{Name: "a", URL: "https://a.com"}, Quantity: 1001}},
		{"no name", models.BatchJobSpec{Template: models.JobSpec{URL: "https://a.com"}, Quantity: 1}},
		{"bad base url", models.BatchJobSpec{Template: models.JobSpec{Name: "a", URL: "nope"}, Quantity: 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.jobs.CreateBatchJobs(ctx, tt.spec)
			var verr *models.ValidationError
			assert.True(t, errors.As(err, &verr), "got %v", err)
		})
	}
}

func TestParseBatchSpec_Formats(t *testing.T) {
	yamlDoc := []byte(`
template:
  name: from yaml
  url: https://y.com
  config:
    automation:
      useAIScenario: true
quantity: 2
urlPattern:
  type: sequential
  template: https://y.com/item/{number}
  startNumber: 10
`)
	spec, err := ParseBatchSpec(yamlDoc, FormatYAML)
	require.NoError(t, err)
	assert.Equal(t, "from yaml", spec.Template.Name)
	assert.True(t, spec.Template.Config.Automation.UseAIScenario)
	assert.Equal(t, 2, spec.Quantity)
	require.NotNil(t, spec.URLPattern.StartNumber)
	assert.Equal(t, 10, *spec.URLPattern.StartNumber)

	tomlDoc := []byte(`
quantity = 4

[template]
name = "from toml"
url = "https://t.com"
priority = 8

[variations]
regions = ["us", "gb"]
`)
	spec, err = ParseBatchSpec(tomlDoc, FormatTOML)
	require.NoError(t, err)
	assert.Equal(t, "from toml", spec.Template.Name)
	assert.Equal(t, 8, spec.Template.Priority)
	assert.Equal(t, []string{"us", "gb"}, spec.Variations.Regions)

	_, err = ParseBatchSpec([]byte("{"), FormatJSON)
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestLoadBatchSpec_ByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yml")
	require.NoError(t, os.WriteFile(path, []byte("template:\n  name: file\n  url: https://f.com\nquantity: 1\n"), 0644))

	spec, err := LoadBatchSpec(path)
	require.NoError(t, err)
	assert.Equal(t, "file", spec.Template.Name)

	assert.Equal(t, FormatTOML, FormatFromPath("x.TOML"))
	assert.Equal(t, FormatJSON, FormatFromPath("x.json"))
	assert.Equal(t, FormatYAML, FormatFromContentType("application/x-yaml"))
}
