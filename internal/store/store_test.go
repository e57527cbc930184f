package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservd/reservd/internal/model"
)

// withStores runs the same contract test against every Store
// implementation.
func withStores(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})
	t.Run("sqlite", func(t *testing.T) {
		s, err := NewSqliteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func testLease(id, name string) *model.Lease {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return &model.Lease{
		ID:        id,
		Name:      name,
		ProjectID: "project-1",
		UserID:    "user-1",
		TrustID:   "trust-1",
		StartDate: start,
		EndDate:   start.Add(2 * time.Hour),
		Status:    model.LeasePending,
	}
}

func TestStoreLeaseRoundTrip(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		lease := testLease("lease-1", "alpha")
		require.NoError(t, s.CreateLease(ctx, lease))

		require.NoError(t, s.CreateReservation(ctx, &model.Reservation{
			ID:           "res-1",
			LeaseID:      "lease-1",
			ResourceType: "dummy",
			StartDate:    lease.StartDate,
			EndDate:      lease.EndDate,
			Status:       model.ReservationPending,
		}))
		require.NoError(t, s.CreateEvent(ctx, &model.Event{
			ID:      "ev-1",
			LeaseID: "lease-1",
			Type:    model.EventStartLease,
			Time:    lease.StartDate,
			Status:  model.EventUndone,
		}))

		got, err := s.GetLease(ctx, "lease-1")
		require.NoError(t, err)
		assert.Equal(t, "alpha", got.Name)
		assert.Equal(t, "project-1", got.ProjectID)
		assert.Equal(t, model.LeasePending, got.Status)
		assert.True(t, got.StartDate.Equal(lease.StartDate))
		assert.True(t, got.EndDate.Equal(lease.EndDate))
		assert.True(t, got.BeforeEndDate.IsZero())

		require.Len(t, got.Reservations, 1)
		assert.Equal(t, "res-1", got.Reservations[0].ID)
		require.Len(t, got.Events, 1)
		assert.Equal(t, model.EventStartLease, got.Events[0].Type)

		_, err = s.GetLease(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreDuplicateLeaseName(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateLease(ctx, testLease("lease-1", "alpha")))

		err := s.CreateLease(ctx, testLease("lease-2", "alpha"))
		assert.ErrorIs(t, err, ErrDuplicateName)

		require.NoError(t, s.CreateLease(ctx, testLease("lease-3", "beta")))
		_, err = s.UpdateLease(ctx, "lease-3", func(l *model.Lease) error {
			l.Name = "alpha"
			return nil
		})
		assert.ErrorIs(t, err, ErrDuplicateName)
	})
}

func TestStoreListLeasesByProject(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		a := testLease("lease-1", "alpha")
		b := testLease("lease-2", "beta")
		b.ProjectID = "project-2"
		require.NoError(t, s.CreateLease(ctx, a))
		require.NoError(t, s.CreateLease(ctx, b))

		all, err := s.ListLeases(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		scoped, err := s.ListLeases(ctx, "project-2")
		require.NoError(t, err)
		require.Len(t, scoped, 1)
		assert.Equal(t, "lease-2", scoped[0].ID)
	})
}

func TestStoreLeaseStatusCAS(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateLease(ctx, testLease("lease-1", "alpha")))

		ok, err := s.LeaseStatusCAS(ctx, "lease-1", model.LeaseStarting, model.LeasePending, model.LeaseActive)
		require.NoError(t, err)
		assert.True(t, ok)

		// Lease is now STARTING, a second guarded swap must not apply.
		ok, err = s.LeaseStatusCAS(ctx, "lease-1", model.LeaseUpdating, model.LeasePending, model.LeaseActive)
		require.NoError(t, err)
		assert.False(t, ok)

		// Unconditional swap always applies.
		ok, err = s.LeaseStatusCAS(ctx, "lease-1", model.LeaseError)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := s.GetLease(ctx, "lease-1")
		require.NoError(t, err)
		assert.Equal(t, model.LeaseError, got.Status)
	})
}

func TestStoreDeleteLeaseCascades(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateLease(ctx, testLease("lease-1", "alpha")))
		require.NoError(t, s.CreateReservation(ctx, &model.Reservation{
			ID: "res-1", LeaseID: "lease-1", ResourceType: "dummy",
			Status:    model.ReservationPending,
			StartDate: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
			EndDate:   time.Date(2026, 1, 1, 14, 0, 0, 0, time.UTC),
		}))
		require.NoError(t, s.CreateEvent(ctx, &model.Event{
			ID: "ev-1", LeaseID: "lease-1", Type: model.EventStartLease,
			Time: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), Status: model.EventUndone,
		}))

		require.NoError(t, s.DeleteLease(ctx, "lease-1"))

		_, err := s.GetLease(ctx, "lease-1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetEvent(ctx, "ev-1")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.UpdateReservation(ctx, "res-1", func(*model.Reservation) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, s.DeleteLease(ctx, "lease-1"), ErrNotFound)
	})
}

func TestStoreEventFilters(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateLease(ctx, testLease("lease-1", "alpha")))

		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		events := []*model.Event{
			{ID: "ev-start", LeaseID: "lease-1", Type: model.EventStartLease, Time: base, Status: model.EventUndone},
			{ID: "ev-before", LeaseID: "lease-1", Type: model.EventBeforeEndLease, Time: base.Add(time.Hour), Status: model.EventUndone},
			{ID: "ev-end", LeaseID: "lease-1", Type: model.EventEndLease, Time: base.Add(2 * time.Hour), Status: model.EventDone},
		}
		for _, e := range events {
			require.NoError(t, s.CreateEvent(ctx, e))
		}

		undone, err := s.ListEvents(ctx, EventFilter{Status: model.EventUndone})
		require.NoError(t, err)
		require.Len(t, undone, 2)
		assert.Equal(t, "ev-start", undone[0].ID)
		assert.Equal(t, "ev-before", undone[1].ID)

		due, err := s.ListEvents(ctx, EventFilter{Status: model.EventUndone, NotAfter: base})
		require.NoError(t, err)
		require.Len(t, due, 1)
		assert.Equal(t, "ev-start", due[0].ID)

		first, err := s.FirstEvent(ctx, EventFilter{LeaseID: "lease-1", Type: model.EventEndLease})
		require.NoError(t, err)
		assert.Equal(t, "ev-end", first.ID)

		_, err = s.FirstEvent(ctx, EventFilter{LeaseID: "lease-1", Type: model.EventEndLease, Status: model.EventUndone})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStoreEventStatusCAS(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateLease(ctx, testLease("lease-1", "alpha")))
		require.NoError(t, s.CreateEvent(ctx, &model.Event{
			ID: "ev-1", LeaseID: "lease-1", Type: model.EventStartLease,
			Time: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC), Status: model.EventUndone,
		}))

		ok, err := s.EventStatusCAS(ctx, "ev-1", model.EventUndone, model.EventInProgress)
		require.NoError(t, err)
		assert.True(t, ok)

		// Already claimed, the second swap loses.
		ok, err = s.EventStatusCAS(ctx, "ev-1", model.EventUndone, model.EventInProgress)
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := s.GetEvent(ctx, "ev-1")
		require.NoError(t, err)
		assert.Equal(t, model.EventInProgress, got.Status)
	})
}

func TestStoreUpdateEvent(t *testing.T) {
	withStores(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateLease(ctx, testLease("lease-1", "alpha")))
		base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.CreateEvent(ctx, &model.Event{
			ID: "ev-1", LeaseID: "lease-1", Type: model.EventStartLease,
			Time: base, Status: model.EventUndone,
		}))

		updated, err := s.UpdateEvent(ctx, "ev-1", func(e *model.Event) error {
			e.Time = base.Add(30 * time.Minute)
			e.Status = model.EventDone
			return nil
		})
		require.NoError(t, err)
		assert.True(t, updated.Time.Equal(base.Add(30*time.Minute)))
		assert.Equal(t, model.EventDone, updated.Status)

		_, err = s.UpdateEvent(ctx, "missing", func(*model.Event) error { return nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
