package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// BusinessStore keeps businesses keyed by maps URL, or by (name, query)
// when no URL is known.
type BusinessStore struct {
	mu    sync.RWMutex
	rows  map[leads.BusinessKey]leads.Business
	order []leads.BusinessKey
}

// NewBusinessStore constructs an empty BusinessStore.
func NewBusinessStore() *BusinessStore {
	return &BusinessStore{rows: make(map[leads.BusinessKey]leads.Business)}
}

// UpsertBusinesses inserts new businesses and overwrites rediscovered ones.
func (s *BusinessStore) UpsertBusinesses(_ context.Context, businesses []leads.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range businesses {
		if b.Name == "" {
			return fmt.Errorf("upsert business: name is required")
		}
		key := b.Key()
		if current, ok := s.rows[key]; ok {
			b.ID = current.ID
		} else {
			if b.ID == "" {
				b.ID = uuid.NewString()
			}
			s.order = append(s.order, key)
		}
		s.rows[key] = b
	}
	return nil
}

// List returns the stored businesses in first-seen order.
func (s *BusinessStore) List() []leads.Business {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]leads.Business, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.rows[key])
	}
	return out
}
