// Package store provides the persistence gateway for leases, reservations
// and events. Multi-row consistency is the caller's job (compensating
// deletes); every method here is atomic per row.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/reservd/reservd/internal/model"
)

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateName is returned when a lease insert collides on name.
// Callers must be able to tell this apart from other failures.
var ErrDuplicateName = errors.New("store: duplicate lease name")

// EventFilter selects events. Zero fields are ignored.
type EventFilter struct {
	LeaseID string
	Type    model.EventType
	Status  model.EventStatus
	// NotAfter selects events with time <= NotAfter when non-zero
	// (the scheduler's "due at or before T" predicate).
	NotAfter time.Time
}

// Store is the typed facade over the persistence layer.
//
// Update* methods run the mutation function inside a transaction on a
// freshly loaded row; the CAS methods are atomic at the storage layer and
// report whether the swap applied.
type Store interface {
	CreateLease(ctx context.Context, l *model.Lease) error
	GetLease(ctx context.Context, id string) (*model.Lease, error)
	ListLeases(ctx context.Context, projectID string) ([]*model.Lease, error)
	UpdateLease(ctx context.Context, id string, fn func(*model.Lease) error) (*model.Lease, error)
	// LeaseStatusCAS swaps the lease status to "to" if the current status
	// is one of "from". An empty "from" list swaps unconditionally.
	LeaseStatusCAS(ctx context.Context, id string, to model.LeaseStatus, from ...model.LeaseStatus) (bool, error)
	// DeleteLease destroys the lease and cascades to its reservations
	// and events.
	DeleteLease(ctx context.Context, id string) error

	CreateReservation(ctx context.Context, r *model.Reservation) error
	UpdateReservation(ctx context.Context, id string, fn func(*model.Reservation) error) (*model.Reservation, error)

	CreateEvent(ctx context.Context, e *model.Event) error
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	// ListEvents returns matching events sorted by time ascending.
	ListEvents(ctx context.Context, f EventFilter) ([]*model.Event, error)
	// FirstEvent returns the first matching event or ErrNotFound.
	FirstEvent(ctx context.Context, f EventFilter) (*model.Event, error)
	UpdateEvent(ctx context.Context, id string, fn func(*model.Event) error) (*model.Event, error)
	// EventStatusCAS swaps the event status from "from" to "to".
	EventStatusCAS(ctx context.Context, id string, from, to model.EventStatus) (bool, error)

	Close() error
}
