package store

import (
	"context"
	"sort"
	"sync"

	"github.com/reservd/reservd/internal/model"
)

// MemoryStore is an in-memory Store used for unit tests and local
// prototyping. Copies go in and out; callers never share row memory.
type MemoryStore struct {
	mu           sync.Mutex
	leases       map[string]*model.Lease
	reservations map[string]*model.Reservation
	events       map[string]*model.Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		leases:       make(map[string]*model.Lease),
		reservations: make(map[string]*model.Reservation),
		events:       make(map[string]*model.Event),
	}
}

func (s *MemoryStore) Close() error { return nil }

func copyLease(l *model.Lease) *model.Lease {
	c := *l
	c.Reservations = nil
	c.Events = nil
	return &c
}

func copyReservation(r *model.Reservation) *model.Reservation {
	c := *r
	return &c
}

func copyEvent(e *model.Event) *model.Event {
	c := *e
	return &c
}

func (s *MemoryStore) CreateLease(ctx context.Context, l *model.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.leases {
		if existing.Name == l.Name {
			return ErrDuplicateName
		}
	}
	s.leases[l.ID] = copyLease(l)
	return nil
}

func (s *MemoryStore) GetLease(ctx context.Context, id string) (*model.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLeaseLocked(id)
}

func (s *MemoryStore) getLeaseLocked(id string) (*model.Lease, error) {
	l, ok := s.leases[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := copyLease(l)
	for _, r := range s.reservations {
		if r.LeaseID == id {
			out.Reservations = append(out.Reservations, copyReservation(r))
		}
	}
	sort.Slice(out.Reservations, func(i, j int) bool {
		return out.Reservations[i].ID < out.Reservations[j].ID
	})
	for _, e := range s.events {
		if e.LeaseID == id {
			out.Events = append(out.Events, copyEvent(e))
		}
	}
	sortEvents(out.Events)
	return out, nil
}

func (s *MemoryStore) ListLeases(ctx context.Context, projectID string) ([]*model.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, l := range s.leases {
		if projectID == "" || l.ProjectID == projectID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var out []*model.Lease
	for _, id := range ids {
		l, err := s.getLeaseLocked(id)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *MemoryStore) UpdateLease(ctx context.Context, id string, fn func(*model.Lease) error) (*model.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := copyLease(l)
	if err := fn(work); err != nil {
		return nil, err
	}
	for otherID, other := range s.leases {
		if otherID != id && other.Name == work.Name {
			return nil, ErrDuplicateName
		}
	}
	s.leases[id] = copyLease(work)
	return work, nil
}

func (s *MemoryStore) LeaseStatusCAS(ctx context.Context, id string, to model.LeaseStatus, from ...model.LeaseStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	if !ok {
		return false, nil
	}
	if len(from) > 0 {
		match := false
		for _, f := range from {
			if l.Status == f {
				match = true
				break
			}
		}
		if !match {
			return false, nil
		}
	}
	l.Status = to
	return true, nil
}

func (s *MemoryStore) DeleteLease(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leases[id]; !ok {
		return ErrNotFound
	}
	delete(s.leases, id)
	for rid, r := range s.reservations {
		if r.LeaseID == id {
			delete(s.reservations, rid)
		}
	}
	for eid, e := range s.events {
		if e.LeaseID == id {
			delete(s.events, eid)
		}
	}
	return nil
}

func (s *MemoryStore) CreateReservation(ctx context.Context, r *model.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = copyReservation(r)
	return nil
}

func (s *MemoryStore) UpdateReservation(ctx context.Context, id string, fn func(*model.Reservation) error) (*model.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := copyReservation(r)
	if err := fn(work); err != nil {
		return nil, err
	}
	s.reservations[id] = copyReservation(work)
	return work, nil
}

func (s *MemoryStore) CreateEvent(ctx context.Context, e *model.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.ID] = copyEvent(e)
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyEvent(e), nil
}

func (s *MemoryStore) ListEvents(ctx context.Context, f EventFilter) ([]*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Event
	for _, e := range s.events {
		if f.LeaseID != "" && e.LeaseID != f.LeaseID {
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if !f.NotAfter.IsZero() && e.Time.After(f.NotAfter) {
			continue
		}
		out = append(out, copyEvent(e))
	}
	sortEvents(out)
	return out, nil
}

func (s *MemoryStore) FirstEvent(ctx context.Context, f EventFilter) (*model.Event, error) {
	events, err := s.ListEvents(ctx, f)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotFound
	}
	return events[0], nil
}

func (s *MemoryStore) UpdateEvent(ctx context.Context, id string, fn func(*model.Event) error) (*model.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return nil, ErrNotFound
	}
	work := copyEvent(e)
	if err := fn(work); err != nil {
		return nil, err
	}
	s.events[id] = copyEvent(work)
	return work, nil
}

func (s *MemoryStore) EventStatusCAS(ctx context.Context, id string, from, to model.EventStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return false, nil
	}
	if e.Status != from {
		return false, nil
	}
	e.Status = to
	return true, nil
}

func sortEvents(events []*model.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Time.Equal(events[j].Time) {
			return events[i].ID < events[j].ID
		}
		return events[i].Time.Before(events[j].Time)
	})
}

var _ Store = (*MemoryStore)(nil)
