package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/ternarybob/drover/internal/models"
)

// MemoryManager is an in-process scheduling queue. Contents are lost on restart;
// the master re-enqueues queued jobs from job storage on start (jobs.Service.RestoreQueue).
type MemoryManager struct {
	mu       sync.Mutex
	messages map[string]models.QueueMessage
}

// NewMemoryManager creates an empty in-process queue
func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		messages: make(map[string]models.QueueMessage),
	}
}

// Enqueue adds or replaces the message for msg.JobID
func (m *MemoryManager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages[msg.JobID] = msg
	return nil
}

// Remove deletes the message for jobID. Removing an absent job is not an error.
func (m *MemoryManager) Remove(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.messages, jobID)
	return nil
}

// List returns messages in dispatch order
func (m *MemoryManager) List(ctx context.Context, limit int) ([]models.QueueMessage, error) {
	m.mu.Lock()
	result := make([]models.QueueMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		result = append(result, msg)
	}
	m.mu.Unlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].Less(result[j])
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListRange returns the messages within the priority band in dispatch order
func (m *MemoryManager) ListRange(ctx context.Context, minPriority, maxPriority, offset, limit int) ([]models.QueueMessage, error) {
	lo, hi, ok := priorityBounds(minPriority, maxPriority)
	if !ok {
		return nil, nil
	}

	all, err := m.List(ctx, 0)
	if err != nil {
		return nil, err
	}

	result := make([]models.QueueMessage, 0, len(all))
	skipped := 0
	for _, msg := range all {
		p := models.ClampPriority(msg.Priority)
		if p < lo || p > hi {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		result = append(result, msg)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Len returns the number of queued messages
func (m *MemoryManager) Len(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.messages), nil
}

// Close is a no-op
func (m *MemoryManager) Close() error {
	return nil
}
