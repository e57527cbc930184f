package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLeaseStatusIsStable(t *testing.T) {
	stable := []LeaseStatus{LeasePending, LeaseActive, LeaseTerminated, LeaseError}
	for _, s := range stable {
		assert.True(t, s.IsStable(), "expected %s to be stable", s)
	}

	transitional := []LeaseStatus{
		LeaseCreating, LeaseStarting, LeaseUpdating, LeaseTerminating, LeaseDeleting,
	}
	for _, s := range transitional {
		assert.False(t, s.IsStable(), "expected %s to be transitional", s)
	}
}

func TestReservationStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to ReservationStatus
		ok       bool
	}{
		{ReservationPending, ReservationActive, true},
		{ReservationActive, ReservationDeleted, true},
		{ReservationPending, ReservationError, true},
		{ReservationActive, ReservationError, true},
		{ReservationDeleted, ReservationError, true},
		{ReservationError, ReservationError, true},
		{ReservationPending, ReservationDeleted, false},
		{ReservationActive, ReservationActive, false},
		{ReservationDeleted, ReservationActive, false},
		{ReservationError, ReservationActive, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.IsValidTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestLeaseActive(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	lease := &Lease{StartDate: start, EndDate: end}

	assert.False(t, lease.Active(start.Add(-time.Minute)))
	assert.True(t, lease.Active(start))
	assert.True(t, lease.Active(start.Add(time.Hour)))
	assert.True(t, lease.Active(end))
	assert.False(t, lease.Active(end.Add(time.Minute)))
}
