// Package memory provides in-process stores used for dry runs, tests and
// service-mode job tracking.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/leadharvest/internal/leads"
)

// ContactStore keeps merged contacts keyed by identity. It enforces the same
// uniqueness rule as the contacts table.
type ContactStore struct {
	mu    sync.RWMutex
	rows  map[leads.IdentityKey]leads.ContactRecord
	order map[string][]leads.IdentityKey
	clock leads.Clock
}

// NewContactStore constructs an empty ContactStore.
func NewContactStore(clock leads.Clock) *ContactStore {
	return &ContactStore{
		rows:  make(map[leads.IdentityKey]leads.ContactRecord),
		order: make(map[string][]leads.IdentityKey),
		clock: clock,
	}
}

// ListContacts returns copies of every contact of businessName in insertion order.
func (s *ContactStore) ListContacts(_ context.Context, businessName string) ([]leads.ContactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.order[businessName]
	out := make([]leads.ContactRecord, 0, len(keys))
	for _, key := range keys {
		out = append(out, s.rows[key].Clone())
	}
	return out, nil
}

// GetContact returns the contact holding key.
func (s *ContactStore) GetContact(_ context.Context, key leads.IdentityKey) (leads.ContactRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.rows[key]
	if !ok {
		return leads.ContactRecord{}, fmt.Errorf("contact %s: %w", key, leads.ErrNotFound)
	}
	return rec.Clone(), nil
}

// InsertContact stores a new contact and assigns its ID.
func (s *ContactStore) InsertContact(_ context.Context, rec leads.ContactRecord) (leads.ContactRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Key()
	if _, exists := s.rows[key]; exists {
		return leads.ContactRecord{}, fmt.Errorf("insert contact %s: %w", key, leads.ErrDuplicateKey)
	}
	stored := rec.Clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	s.rows[key] = stored
	s.order[rec.BusinessName] = append(s.order[rec.BusinessName], key)
	return stored.Clone(), nil
}

// UpdateContact replaces the mutable fields of an existing contact.
func (s *ContactStore) UpdateContact(_ context.Context, rec leads.ContactRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rec.Key()
	current, ok := s.rows[key]
	if !ok {
		return fmt.Errorf("update contact %s: %w", key, leads.ErrNotFound)
	}
	updated := rec.Clone()
	updated.ID = current.ID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = s.now()
	s.rows[key] = updated
	return nil
}

// Snapshot returns every stored contact grouped by business name.
func (s *ContactStore) Snapshot() map[string][]leads.ContactRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]leads.ContactRecord, len(s.order))
	for business, keys := range s.order {
		for _, key := range keys {
			out[business] = append(out[business], s.rows[key].Clone())
		}
	}
	return out
}

func (s *ContactStore) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}
