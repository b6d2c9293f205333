package service

import (
	"context"
	"sort"
	"sync"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// MemAgreementStore is an in-memory domain.AgreementStore. It backs demo
// mode and tests, where no database is available.
type MemAgreementStore struct {
	mu         sync.RWMutex
	agreements map[string]domain.Agreement
}

// NewMemAgreementStore creates an empty in-memory agreement store.
func NewMemAgreementStore() *MemAgreementStore {
	return &MemAgreementStore{agreements: make(map[string]domain.Agreement)}
}

func (s *MemAgreementStore) Upsert(_ context.Context, a domain.Agreement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agreements[a.ID] = a
	return nil
}

func (s *MemAgreementStore) GetByID(_ context.Context, id string) (domain.Agreement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agreements[id]
	if !ok {
		return domain.Agreement{}, domain.ErrNotFound
	}
	return a, nil
}

func (s *MemAgreementStore) List(_ context.Context, opts domain.ListOpts) ([]domain.Agreement, error) {
	return s.filtered(opts, func(domain.Agreement) bool { return true }), nil
}

func (s *MemAgreementStore) ListByStatus(_ context.Context, status domain.AgreementStatus, opts domain.ListOpts) ([]domain.Agreement, error) {
	return s.filtered(opts, func(a domain.Agreement) bool { return a.Status == status }), nil
}

func (s *MemAgreementStore) ListByProtocol(_ context.Context, p domain.Protocol, opts domain.ListOpts) ([]domain.Agreement, error) {
	return s.filtered(opts, func(a domain.Agreement) bool { return a.Protocol == p }), nil
}

func (s *MemAgreementStore) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.agreements)), nil
}

func (s *MemAgreementStore) filtered(opts domain.ListOpts, keep func(domain.Agreement) bool) []domain.Agreement {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Agreement
	for _, a := range s.agreements {
		if !keep(a) {
			continue
		}
		if opts.Since != nil && a.CreatedAt.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && a.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out
}

// MemEventStore is an in-memory domain.EventStore.
type MemEventStore struct {
	mu     sync.RWMutex
	events []domain.Event
}

// NewMemEventStore creates an empty in-memory event store.
func NewMemEventStore() *MemEventStore {
	return &MemEventStore{}
}

func (s *MemEventStore) Insert(_ context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *MemEventStore) ListByAgreement(_ context.Context, agreementID string, opts domain.ListOpts) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Event
	for _, e := range s.events {
		if e.AgreementID == agreementID {
			out = append(out, e)
		}
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (s *MemEventStore) ListRecent(_ context.Context, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	n := len(s.events)
	if limit > n {
		limit = n
	}

	out := make([]domain.Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = s.events[n-1-i]
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ domain.AgreementStore = (*MemAgreementStore)(nil)
	_ domain.EventStore     = (*MemEventStore)(nil)
)
