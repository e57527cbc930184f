// Package model defines the persisted lease domain entities and their
// status machines.
package model

import "time"

// DateFormat is the wire format for lease dates, always UTC.
const DateFormat = "2006-01-02 15:04"

// LeaseStatus is the client-visible lifecycle of a lease.
type LeaseStatus string

const (
	LeaseCreating    LeaseStatus = "CREATING"
	LeasePending     LeaseStatus = "PENDING"
	LeaseStarting    LeaseStatus = "STARTING"
	LeaseActive      LeaseStatus = "ACTIVE"
	LeaseUpdating    LeaseStatus = "UPDATING"
	LeaseTerminating LeaseStatus = "TERMINATING"
	LeaseTerminated  LeaseStatus = "TERMINATED"
	LeaseDeleting    LeaseStatus = "DELETING"
	LeaseError       LeaseStatus = "ERROR"
)

// IsStable reports whether the guard may leave this status via a new
// transition. All other statuses are transitional and owned by an
// in-flight operation.
func (s LeaseStatus) IsStable() bool {
	switch s {
	case LeasePending, LeaseActive, LeaseTerminated, LeaseError:
		return true
	}
	return false
}

// ReservationStatus is the lifecycle of a single resource slot.
type ReservationStatus string

const (
	ReservationPending ReservationStatus = "PENDING"
	ReservationActive  ReservationStatus = "ACTIVE"
	ReservationDeleted ReservationStatus = "DELETED"
	ReservationError   ReservationStatus = "ERROR"
)

// IsValidTransition reports whether a reservation may move from s to next.
// ERROR is reachable from anywhere.
func (s ReservationStatus) IsValidTransition(next ReservationStatus) bool {
	if next == ReservationError {
		return true
	}
	switch s {
	case ReservationPending:
		return next == ReservationActive
	case ReservationActive:
		return next == ReservationDeleted
	}
	return false
}

// EventStatus is the lifecycle of a deferred lease action.
type EventStatus string

const (
	EventUndone     EventStatus = "UNDONE"
	EventInProgress EventStatus = "IN_PROGRESS"
	EventDone       EventStatus = "DONE"
	EventError      EventStatus = "ERROR"
)

// EventType identifies the deferred action an event fires.
type EventType string

const (
	EventStartLease     EventType = "start_lease"
	EventEndLease       EventType = "end_lease"
	EventBeforeEndLease EventType = "before_end_lease"
)

// Lease is a tenant-owned reservation of resources across a time window.
// A lease exclusively owns its reservations and events.
type Lease struct {
	ID            string      `json:"id"`
	Name          string      `json:"name"`
	ProjectID     string      `json:"projectId"`
	UserID        string      `json:"userId"`
	TrustID       string      `json:"trustId"`
	StartDate     time.Time   `json:"startDate"`
	EndDate       time.Time   `json:"endDate"`
	BeforeEndDate time.Time   `json:"beforeEndDate,omitempty"` // zero when absent
	Status        LeaseStatus `json:"status"`

	Reservations []*Reservation `json:"reservations,omitempty"`
	Events       []*Event       `json:"events,omitempty"`
}

// Active reports whether now falls inside the lease window.
func (l *Lease) Active(now time.Time) bool {
	return !now.Before(l.StartDate) && !now.After(l.EndDate)
}

// Reservation is one resource-specific slot inside a lease. Its window
// always equals the owning lease's window; resource_type is immutable.
type Reservation struct {
	ID           string            `json:"id"`
	LeaseID      string            `json:"leaseId"`
	ResourceType string            `json:"resourceType"`
	ResourceID   string            `json:"resourceId,omitempty"`
	StartDate    time.Time         `json:"startDate"`
	EndDate      time.Time         `json:"endDate"`
	Status       ReservationStatus `json:"status"`
}

// Event is a deferred lifecycle action scheduled at a wall-clock time.
type Event struct {
	ID      string      `json:"id"`
	LeaseID string      `json:"leaseId"`
	Type    EventType   `json:"eventType"`
	Time    time.Time   `json:"time"`
	Status  EventStatus `json:"status"`
}
