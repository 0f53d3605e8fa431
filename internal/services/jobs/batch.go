package jobs

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
	"github.com/ternarybob/drover/internal/models"
)

// jitterFraction bounds the random spread applied to scheduled batch items
const jitterFraction = 0.3

// CreateBatchJobs expands a batch spec into Quantity jobs. Item failures are
// recorded per index and do not stop the batch; created jobs are kept.
func (s *Service) CreateBatchJobs(ctx context.Context, spec models.BatchJobSpec) (*models.BatchResult, error) {
	if err := validateBatchSpec(spec); err != nil {
		return nil, err
	}

	batchID := common.NewBatchID()
	baseStart := s.now()
	if spec.Scheduling != nil && spec.Scheduling.StartTime != nil {
		baseStart = *spec.Scheduling.StartTime
	}

	result := &models.BatchResult{
		Created:        make([]*models.Job, 0, spec.Quantity),
		Errors:         []models.BatchItemError{},
		TotalRequested: spec.Quantity,
	}

	for i := 0; i < spec.Quantity; i++ {
		item := s.expandItem(spec, i, baseStart)
		item.BatchID = batchID

		job, err := s.CreateJob(ctx, item)
		if err != nil {
			result.Errors = append(result.Errors, models.BatchItemError{Index: i, Error: err.Error()})
			continue
		}
		result.Created = append(result.Created, job)
	}
	result.TotalCreated = len(result.Created)

	s.logger.Info().
		Str("batch_id", batchID).
		Int("requested", result.TotalRequested).
		Int("created", result.TotalCreated).
		Int("errors", len(result.Errors)).
		Msg("Batch expanded")

	if s.events != nil {
		payload := map[string]interface{}{
			"batchId":        batchID,
			"totalRequested": result.TotalRequested,
			"totalCreated":   result.TotalCreated,
		}
		if err := s.events.Publish(ctx, interfaces.Event{Type: interfaces.EventBatchCreated, Payload: payload}); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to publish batch event")
		}
	}

	return result, nil
}

// validateBatchSpec rejects a batch whose quantity or base job is unusable.
// Generated values are checked per item.
func validateBatchSpec(spec models.BatchJobSpec) error {
	if err := common.ValidateStruct(spec); err != nil {
		return err
	}
	if strings.TrimSpace(spec.Template.Name) == "" && spec.NamePattern == nil {
		return models.NewValidationError("template.name", "is required")
	}
	if spec.URLPattern == nil {
		if err := ValidateJobURL(spec.Template.URL); err != nil {
			return models.NewValidationError("template.url", "%s", err.(*models.ValidationError).Message)
		}
	}
	if spec.Scheduling != nil && spec.Scheduling.Enabled && spec.Scheduling.IntervalSeconds < 0 {
		return models.NewValidationError("scheduling.intervalSeconds", "cannot be negative")
	}
	return nil
}

// expandItem builds the job spec for batch index i
func (s *Service) expandItem(spec models.BatchJobSpec, i int, baseStart time.Time) models.JobSpec {
	item := spec.Template
	item.Type = models.JobTypeBatch
	item.URL = batchURL(spec, i)
	item.Name = batchName(spec, i)
	item.Tags = append([]string(nil), spec.Template.Tags...)
	item.Schedule = nil

	if v := spec.Variations; v != nil {
		if len(v.Priorities) > 0 {
			item.Priority = v.Priorities[i%len(v.Priorities)]
		}
		if len(v.Regions) > 0 {
			item.Config.Automation.Region = v.Regions[i%len(v.Regions)]
		}
		if len(v.Intents) > 0 {
			item.Config.Automation.Intent = v.Intents[i%len(v.Intents)]
		}
		if len(v.Tags) > 0 {
			item.Tags = append([]string(nil), v.Tags[i%len(v.Tags)]...)
		}
	}

	if sched := spec.Scheduling; sched != nil && sched.Enabled {
		start := baseStart.Add(s.batchOffset(sched, i))
		item.Schedule = &models.JobSchedule{
			Kind:    models.ScheduleOnce,
			StartAt: &start,
		}
	}

	return item
}

// batchOffset is index × interval, optionally jittered by up to ±30% of the
// interval, and never before the batch start
func (s *Service) batchOffset(sched *models.BatchSchedule, i int) time.Duration {
	interval := time.Duration(sched.IntervalSeconds) * time.Second
	offset := time.Duration(i) * interval
	if sched.Jitter && interval > 0 {
		offset += time.Duration(math.Round((s.jitter()*2 - 1) * jitterFraction * float64(interval)))
	}
	if offset < 0 {
		offset = 0
	}
	return offset
}

func batchURL(spec models.BatchJobSpec, i int) string {
	p := spec.URLPattern
	if p == nil {
		return spec.Template.URL
	}

	switch p.Type {
	case models.PatternSequential:
		if p.Template != "" {
			return strings.ReplaceAll(p.Template, "{number}", strconv.Itoa(startNumber(p.StartNumber)+i))
		}
	case models.PatternList:
		if len(p.URLs) > 0 {
			return p.URLs[i%len(p.URLs)]
		}
	}
	return spec.Template.URL
}

func batchName(spec models.BatchJobSpec, i int) string {
	p := spec.NamePattern
	if p != nil {
		switch p.Type {
		case models.PatternSequential:
			prefix := p.Prefix
			if prefix == "" {
				prefix = spec.Template.Name
			}
			return fmt.Sprintf("%s %d", strings.TrimSpace(prefix), startNumber(p.StartNumber)+i)
		case models.PatternList:
			if len(p.Names) > 0 {
				return p.Names[i%len(p.Names)]
			}
		}
	}
	return fmt.Sprintf("%s #%d", spec.Template.Name, i+1)
}

func startNumber(n *int) int {
	if n == nil {
		return 1
	}
	return *n
}
