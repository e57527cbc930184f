package manager

import (
	"context"
	"fmt"

	"github.com/reservd/reservd/internal/log"
	"github.com/reservd/reservd/internal/model"
)

var stableStatuses = []model.LeaseStatus{
	model.LeasePending,
	model.LeaseActive,
	model.LeaseTerminated,
	model.LeaseError,
}

// withLeaseTransition is the single-writer lock per lease: it CAS-moves
// the lease from a stable status into the transitional one, runs fn, and
// resolves back to a stable status on every exit path.
//
// On success the status becomes result(ctx) unless fn already moved it
// off the transitional status; on failure it becomes ERROR and the error
// is rethrown. A lease that is not in a stable status fails immediately
// with ErrInvalidStatus, which the event executor treats as retryable.
func (m *Manager) withLeaseTransition(ctx context.Context, leaseID string, transition model.LeaseStatus, result func(ctx context.Context) model.LeaseStatus, fn func(ctx context.Context) error) error {
	ok, err := m.Store.LeaseStatusCAS(ctx, leaseID, transition, stableStatuses...)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: lease %s is in a transitional status", ErrInvalidStatus, leaseID)
	}

	if err := fn(ctx); err != nil {
		if _, casErr := m.Store.LeaseStatusCAS(ctx, leaseID, model.LeaseError); casErr != nil {
			logger := log.WithComponent("manager")
			logger.Error().Err(casErr).
				Str("lease_id", leaseID).
				Msg("failed to mark lease ERROR after transition failure")
		}
		return err
	}

	// CAS from the transitional status only: an op that already drove the
	// lease to its terminal status wins.
	if _, err := m.Store.LeaseStatusCAS(ctx, leaseID, result(ctx), transition); err != nil {
		return err
	}
	return nil
}

// resolveTo resolves the guard to a fixed status.
func resolveTo(status model.LeaseStatus) func(context.Context) model.LeaseStatus {
	return func(context.Context) model.LeaseStatus { return status }
}

// resolveStable derives the date-appropriate stable status for a lease,
// used when an update returns the lease to rest.
func (m *Manager) resolveStable(leaseID string) func(context.Context) model.LeaseStatus {
	return func(ctx context.Context) model.LeaseStatus {
		lease, err := m.Store.GetLease(ctx, leaseID)
		if err != nil {
			return model.LeaseError
		}
		now := m.Clock.Now()
		switch {
		case now.Before(lease.StartDate):
			return model.LeasePending
		case now.After(lease.EndDate):
			return model.LeaseTerminated
		default:
			return model.LeaseActive
		}
	}
}
