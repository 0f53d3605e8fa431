package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/drover/internal/common"
	"github.com/ternarybob/drover/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db     *BadgerDB
	job    interfaces.JobStorage
	worker interfaces.WorkerStorage
	proxy  interfaces.ProxyStorage
	logger arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:     db,
		job:    NewJobStorage(db, logger),
		worker: NewWorkerStorage(db, logger),
		proxy:  NewProxyStorage(db, logger),
		logger: logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// JobStorage returns the Job storage interface
func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.job
}

// WorkerStorage returns the Worker storage interface
func (m *Manager) WorkerStorage() interfaces.WorkerStorage {
	return m.worker
}

// ProxyStorage returns the Proxy storage interface
func (m *Manager) ProxyStorage() interfaces.ProxyStorage {
	return m.proxy
}

// DB returns the underlying database connection, shared with the Badger queue
func (m *Manager) DB() *BadgerDB {
	return m.db
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
