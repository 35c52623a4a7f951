package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabrica/internal/common"
	"github.com/ternarybob/fabrica/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db      *BadgerDB
	jobs    *JobStorage
	batches *BatchStorage
	logger  arbor.ILogger
}

// Compile-time interface assertion
var _ interfaces.StorageManager = (*Manager)(nil)

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	jobs := NewJobStorage(db, logger)
	manager := &Manager{
		db:      db,
		jobs:    jobs,
		batches: NewBatchStorage(db, jobs, logger),
		logger:  logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// Jobs returns the job storage
func (m *Manager) Jobs() interfaces.JobStorage {
	return m.jobs
}

// Batches returns the batch storage
func (m *Manager) Batches() interfaces.BatchStorage {
	return m.batches
}

// Close closes the underlying database
func (m *Manager) Close() error {
	m.logger.Debug().Msg("Closing Badger storage manager")
	return m.db.Close()
}
