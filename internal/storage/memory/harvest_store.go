package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// HarvestStore tracks service-mode harvests and their results.
type HarvestStore struct {
	mu       sync.RWMutex
	harvests map[string]leads.Harvest
	results  map[string]map[string][]leads.ContactRecord
	clock    leads.Clock
}

// NewHarvestStore constructs a HarvestStore.
func NewHarvestStore(clock leads.Clock) *HarvestStore {
	return &HarvestStore{
		harvests: make(map[string]leads.Harvest),
		results:  make(map[string]map[string][]leads.ContactRecord),
		clock:    clock,
	}
}

// CreateHarvest stores a new harvest.
func (s *HarvestStore) CreateHarvest(_ context.Context, harvest leads.Harvest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.harvests[harvest.ID]; exists {
		return fmt.Errorf("harvest %s already exists", harvest.ID)
	}
	s.harvests[harvest.ID] = harvest
	return nil
}

// UpdateHarvest records a status transition with its counters.
func (s *HarvestStore) UpdateHarvest(
	_ context.Context,
	id string,
	status leads.HarvestStatus,
	errText string,
	counters leads.HarvestCounter,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	harvest, ok := s.harvests[id]
	if !ok {
		return fmt.Errorf("harvest %s: %w", id, leads.ErrNotFound)
	}
	harvest.Status = status
	harvest.ErrorText = errText
	harvest.Counters = counters
	now := s.now()
	if status == leads.HarvestRunning && harvest.Started == nil {
		harvest.Started = &now
	}
	if isTerminal(status) {
		harvest.Finished = &now
	}
	s.harvests[id] = harvest
	return nil
}

// GetHarvest fetches a harvest by ID.
func (s *HarvestStore) GetHarvest(_ context.Context, id string) (leads.Harvest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	harvest, ok := s.harvests[id]
	if !ok {
		return leads.Harvest{}, fmt.Errorf("harvest %s: %w", id, leads.ErrNotFound)
	}
	return harvest, nil
}

// SaveResult stores the merged contacts produced by a harvest.
func (s *HarvestStore) SaveResult(_ context.Context, id string, contacts map[string][]leads.ContactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.harvests[id]; !ok {
		return fmt.Errorf("harvest %s: %w", id, leads.ErrNotFound)
	}
	s.results[id] = copyContacts(contacts)
	return nil
}

// GetResult returns the stored result of a harvest.
func (s *HarvestStore) GetResult(_ context.Context, id string) (map[string][]leads.ContactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.results[id]
	if !ok {
		return nil, fmt.Errorf("harvest result %s: %w", id, leads.ErrNotFound)
	}
	return copyContacts(result), nil
}

func (s *HarvestStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

func copyContacts(in map[string][]leads.ContactRecord) map[string][]leads.ContactRecord {
	out := make(map[string][]leads.ContactRecord, len(in))
	for business, records := range in {
		cloned := make([]leads.ContactRecord, 0, len(records))
		for _, rec := range records {
			cloned = append(cloned, rec.Clone())
		}
		out[business] = cloned
	}
	return out
}

func isTerminal(status leads.HarvestStatus) bool {
	switch status {
	case leads.HarvestSucceeded, leads.HarvestFailed, leads.HarvestCanceled:
		return true
	default:
		return false
	}
}
