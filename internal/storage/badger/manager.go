package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db          *BadgerDB
	webSources  interfaces.WebSourceStorage
	assignments interfaces.AssignmentStorage
	rules       interfaces.RuleStorage
	jobs        interfaces.JobStorage
	processLogs interfaces.ProcessLogStorage
	staging     interfaces.StagingStorage
	logger      arbor.ILogger
}

// NewManager opens the database and wires every storage onto it
func NewManager(logger arbor.ILogger, config *common.BadgerConfig, staging *common.StagingConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := newManager(db, logger, staging)
	logger.Info().Str("path", config.Path).Msg("Badger storage manager initialized")
	return manager, nil
}

func newManager(db *BadgerDB, logger arbor.ILogger, staging *common.StagingConfig) *Manager {
	return &Manager{
		db:          db,
		webSources:  NewWebSourceStorage(db, logger),
		assignments: NewAssignmentStorage(db, logger),
		rules:       NewRuleStorage(db, logger),
		jobs:        NewJobStorage(db, logger),
		processLogs: NewProcessLogStorage(db, logger),
		staging:     NewStagingStorage(db, logger, staging),
		logger:      logger,
	}
}

func (m *Manager) WebSourceStorage() interfaces.WebSourceStorage {
	return m.webSources
}

func (m *Manager) AssignmentStorage() interfaces.AssignmentStorage {
	return m.assignments
}

func (m *Manager) RuleStorage() interfaces.RuleStorage {
	return m.rules
}

func (m *Manager) JobStorage() interfaces.JobStorage {
	return m.jobs
}

func (m *Manager) ProcessLogStorage() interfaces.ProcessLogStorage {
	return m.processLogs
}

func (m *Manager) StagingStorage() interfaces.StagingStorage {
	return m.staging
}

// Close closes the database
func (m *Manager) Close() error {
	return m.db.Close()
}
