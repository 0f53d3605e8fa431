package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/ternarybob/drover/internal/models"
)

// BadgerManager implements a persistent priority queue on the shared BadgerDB.
//
// Key layout:
//
//	queue:{name}:msg:{jobID}                                 -> JSON QueueMessage
//	queue:{name}:index:{inverted priority}:{enqueued}:{jobID} -> empty
//
// Badger iterates keys in byte order, so the index prefix yields
// highest priority first and FIFO within a priority.
type BadgerManager struct {
	db        *badger.DB
	queueName string
}

// NewBadgerManager creates a new Badger-backed queue manager
func NewBadgerManager(db *badger.DB, queueName string) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}

	return &BadgerManager{
		db:        db,
		queueName: queueName,
	}, nil
}

// Enqueue adds a message, replacing any existing entry for the same job
func (m *BadgerManager) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = time.Now()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	return m.db.Update(func(txn *badger.Txn) error {
		if err := m.deleteTxn(txn, msg.JobID); err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(msg.JobID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(msg), []byte{})
	})
}

// Remove deletes the message for jobID if present
func (m *BadgerManager) Remove(ctx context.Context, jobID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return m.deleteTxn(txn, jobID)
	})
}

func (m *BadgerManager) deleteTxn(txn *badger.Txn, jobID string) error {
	item, err := txn.Get(m.msgKey(jobID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	}

	var existing models.QueueMessage
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &existing)
	}); err != nil {
		return err
	}

	if err := txn.Delete(m.indexKey(existing)); err != nil {
		return err
	}
	return txn.Delete(m.msgKey(jobID))
}

// List returns up to limit messages in dispatch order
func (m *BadgerManager) List(ctx context.Context, limit int) ([]models.QueueMessage, error) {
	return m.scan(m.indexPrefix(), models.MaxPriority-models.MinPriority, 0, limit)
}

// ListRange returns the messages within the priority band in dispatch order.
// The scan seeks straight to the band's first key and stops at its last.
func (m *BadgerManager) ListRange(ctx context.Context, minPriority, maxPriority, offset, limit int) ([]models.QueueMessage, error) {
	lo, hi, ok := priorityBounds(minPriority, maxPriority)
	if !ok {
		return nil, nil
	}
	start := []byte(fmt.Sprintf("%s%02d:", m.indexPrefix(), models.MaxPriority-hi))
	return m.scan(start, models.MaxPriority-lo, offset, limit)
}

// scan walks the index from start until an entry's inverted priority
// exceeds lastInverted, skipping offset messages and returning up to limit
func (m *BadgerManager) scan(start []byte, lastInverted, offset, limit int) ([]models.QueueMessage, error) {
	var result []models.QueueMessage

	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := m.indexPrefix()
		skipped := 0
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			inverted, ok := m.invertedFromIndexKey(key)
			if !ok {
				continue
			}
			if inverted > lastInverted {
				break
			}

			item, err := txn.Get(m.msgKey(m.jobIDFromIndexKey(key)))
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					// Orphan index entry; Enqueue/Remove clean these up
					continue
				}
				return err
			}

			if skipped < offset {
				skipped++
				continue
			}

			var msg models.QueueMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}

			result = append(result, msg)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list queue %s: %w", m.queueName, err)
	}

	return result, nil
}

// Len returns the number of queued messages
func (m *BadgerManager) Len(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := m.indexPrefix()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close is a no-op; the database is owned by the storage manager
func (m *BadgerManager) Close() error {
	return nil
}

func (m *BadgerManager) msgKey(jobID string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, jobID))
}

func (m *BadgerManager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *BadgerManager) indexKey(msg models.QueueMessage) []byte {
	inverted := models.MaxPriority - models.ClampPriority(msg.Priority)
	return []byte(fmt.Sprintf("queue:%s:index:%02d:%020d:%s",
		m.queueName, inverted, msg.EnqueuedAt.UnixNano(), msg.JobID))
}

func (m *BadgerManager) invertedFromIndexKey(key []byte) (int, bool) {
	offset := len(m.indexPrefix())
	if len(key) < offset+2 {
		return 0, false
	}
	inverted, err := strconv.Atoi(string(key[offset : offset+2]))
	return inverted, err == nil
}

func (m *BadgerManager) jobIDFromIndexKey(key []byte) string {
	// prefix + "NN:" + 20 digit timestamp + ":"
	offset := len(m.indexPrefix()) + 3 + 20 + 1
	if len(key) <= offset {
		return ""
	}
	return string(key[offset:])
}
