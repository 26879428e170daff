package jobs

import (
	"sync"

	"github.com/ternarybob/quarry/internal/models"
)

// LeaseRegistry holds the single-flight lease of each assignment. A lease is
// taken before a job is created and held until the job reaches a terminal
// state, so the check and the job creation cannot race.
type LeaseRegistry struct {
	mu      sync.Mutex
	holders map[string]string // assignmentID -> jobID
}

// NewLeaseRegistry creates an empty registry
func NewLeaseRegistry() *LeaseRegistry {
	return &LeaseRegistry{holders: make(map[string]string)}
}

// Acquire grants the lease to jobID or returns models.ErrAlreadyRunning
func (r *LeaseRegistry) Acquire(assignmentID, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if holder, held := r.holders[assignmentID]; held && holder != jobID {
		return models.ErrAlreadyRunning
	}
	r.holders[assignmentID] = jobID
	return nil
}

// Release drops the lease if jobID still holds it
func (r *LeaseRegistry) Release(assignmentID, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.holders[assignmentID] == jobID {
		delete(r.holders, assignmentID)
	}
}

// Holder returns the job holding the assignment's lease
func (r *LeaseRegistry) Holder(assignmentID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobID, held := r.holders[assignmentID]
	return jobID, held
}

// Count returns the number of held leases
func (r *LeaseRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.holders)
}
