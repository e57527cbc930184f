// Package manager implements the reservation core: the lease
// orchestrator, the event scheduler and the event executor.
package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/reservd/reservd/internal/log"
	"github.com/reservd/reservd/internal/metrics"
	"github.com/reservd/reservd/internal/model"
	"github.com/reservd/reservd/internal/notify"
	"github.com/reservd/reservd/internal/plugin"
	"github.com/reservd/reservd/internal/store"
	"github.com/reservd/reservd/internal/trust"
)

// Options tune the orchestrator and executor behaviour.
type Options struct {
	// MinutesBeforeEndLease derives the before_end_lease event time when
	// the caller did not supply one; 0 disables auto-creation.
	MinutesBeforeEndLease int
	// EventMaxRetries bounds retries of events that hit a transitional
	// lease status. The retry window is event time + retries * 10s.
	EventMaxRetries int
	// PluginTimeout bounds every plugin call; 0 = off.
	PluginTimeout time.Duration
}

// Manager owns the lease lifecycle. All dependencies are injected so the
// whole core is instantiable in tests with a fake clock and fake store.
type Manager struct {
	Store    store.Store
	Registry *plugin.Registry
	Notifier notify.Notifier
	Trust    trust.Broker
	Clock    Clock
	Opts     Options

	logger zerolog.Logger
}

func New(st store.Store, reg *plugin.Registry, n notify.Notifier, tb trust.Broker, clock Clock, opts Options) *Manager {
	if clock == nil {
		clock = RealClock{}
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Manager{
		Store:    st,
		Registry: reg,
		Notifier: n,
		Trust:    tb,
		Clock:    clock,
		Opts:     opts,
		logger:   log.WithComponent("manager"),
	}
}

// pluginCtx bounds plugin calls when a timeout is configured.
func (m *Manager) pluginCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.Opts.PluginTimeout > 0 {
		return context.WithTimeout(ctx, m.Opts.PluginTimeout)
	}
	return ctx, func() {}
}

// GetLease returns a lease with its reservations and events.
func (m *Manager) GetLease(ctx context.Context, leaseID string) (*model.Lease, error) {
	return m.Store.GetLease(ctx, leaseID)
}

// ListLeases lists leases, optionally scoped to a project. The query
// parameter is accepted for wire compatibility and ignored.
func (m *Manager) ListLeases(ctx context.Context, projectID, query string) ([]*model.Lease, error) {
	_ = query
	return m.Store.ListLeases(ctx, projectID)
}

// CreateLease creates a lease with its reservations and seed events.
// Any failure after the lease row exists rolls back by destroying the
// lease, which cascades to reservations and events.
func (m *Manager) CreateLease(ctx context.Context, values map[string]interface{}) (*model.Lease, error) {
	lease, err := m.createLease(ctx, values)
	if err != nil {
		metrics.RecordLeaseOperation("create_lease", "error")
		return nil, err
	}
	metrics.RecordLeaseOperation("create_lease", "success")
	return lease, nil
}

func (m *Manager) createLease(ctx context.Context, values map[string]interface{}) (*model.Lease, error) {
	trustID, ok := stringValue(values, "trust_id")
	if !ok || trustID == "" {
		return nil, ErrMissingTrustID
	}
	if err := requireParams(values, "name", "start_date", "end_date"); err != nil {
		return nil, err
	}

	reservations := listValue(values, "reservations")
	for _, res := range reservations {
		if err := requireParams(res, "resource_type"); err != nil {
			return nil, err
		}
	}

	now := truncMinute(m.Clock.Now())

	rawStart, _ := stringValue(values, "start_date")
	rawEnd, _ := stringValue(values, "end_date")
	startDate, err := parseDate(rawStart, now)
	if err != nil {
		return nil, err
	}
	endDate, err := parseDate(rawEnd, now)
	if err != nil {
		return nil, err
	}

	if startDate.Before(now) {
		return nil, invalidInput("start date must be later than current date")
	}
	if !endDate.After(startDate) {
		return nil, invalidInput("end date must be later than start date")
	}

	ctx, scope, err := m.Trust.ScopedContext(ctx, trustID)
	if err != nil {
		return nil, err
	}

	userID, _ := stringValue(values, "user_id")
	name, _ := stringValue(values, "name")

	lease := &model.Lease{
		ID:        uuid.NewString(),
		Name:      name,
		ProjectID: scope.ProjectID,
		UserID:    userID,
		TrustID:   trustID,
		StartDate: startDate,
		EndDate:   endDate,
		Status:    model.LeaseCreating,
	}

	events := []*model.Event{
		{ID: uuid.NewString(), Type: model.EventStartLease, Time: startDate, Status: model.EventUndone},
		{ID: uuid.NewString(), Type: model.EventEndLease, Time: endDate, Status: model.EventUndone},
	}

	var beforeEndDate time.Time
	if raw, supplied := stringValue(values, "before_end_date"); supplied && raw != "" {
		beforeEndDate, err = parseDate(raw, now)
		if err != nil {
			return nil, err
		}
		if err := checkDateWithinLeaseLimits(beforeEndDate, startDate, endDate); err != nil {
			m.logger.Error().Err(err).Str("lease_name", name).Msg("invalid before_end_date param")
			return nil, err
		}
	} else if m.Opts.MinutesBeforeEndLease > 0 {
		beforeEndDate = endDate.Add(-time.Duration(m.Opts.MinutesBeforeEndLease) * time.Minute)
	}

	if !beforeEndDate.IsZero() {
		beforeEndDate = m.clampBeforeEnd(beforeEndDate, startDate, name)
		lease.BeforeEndDate = beforeEndDate
		events = append(events, &model.Event{
			ID:     uuid.NewString(),
			Type:   model.EventBeforeEndLease,
			Time:   beforeEndDate,
			Status: model.EventUndone,
		})
	}

	if err := m.Store.CreateLease(ctx, lease); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			m.logger.Warn().Str("lease_name", name).Msg("cannot create lease, duplicated lease name")
			return nil, fmt.Errorf("%w: %s", ErrLeaseNameExists, name)
		}
		return nil, err
	}

	for _, res := range reservations {
		if err := m.createReservation(ctx, lease, res); err != nil {
			m.logger.Error().Err(err).Str("lease_id", lease.ID).
				Msg("failed to create reservation for a lease, rolling back")
			m.destroyLease(ctx, lease.ID)
			return nil, err
		}
	}

	for _, event := range events {
		event.LeaseID = lease.ID
		if err := m.Store.CreateEvent(ctx, event); err != nil {
			m.logger.Error().Err(err).Str("lease_id", lease.ID).
				Msg("failed to create event for a lease, rolling back")
			m.destroyLease(ctx, lease.ID)
			return nil, err
		}
	}

	if _, err := m.Store.LeaseStatusCAS(ctx, lease.ID, model.LeasePending); err != nil {
		return nil, err
	}

	created, err := m.Store.GetLease(ctx, lease.ID)
	if err != nil {
		return nil, err
	}
	m.Notifier.Send(ctx, created, "create")
	return created, nil
}

func (m *Manager) createReservation(ctx context.Context, lease *model.Lease, values map[string]interface{}) error {
	resourceType, _ := stringValue(values, "resource_type")
	p, ok := m.Registry.Get(resourceType)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedResource, resourceType)
	}

	reservation := &model.Reservation{
		ID:           uuid.NewString(),
		LeaseID:      lease.ID,
		ResourceType: resourceType,
		StartDate:    lease.StartDate,
		EndDate:      lease.EndDate,
		Status:       model.ReservationPending,
	}
	if err := m.Store.CreateReservation(ctx, reservation); err != nil {
		return err
	}

	pluginValues := make(map[string]interface{}, len(values)+3)
	for k, v := range values {
		pluginValues[k] = v
	}
	pluginValues["lease_id"] = lease.ID
	pluginValues["start_date"] = lease.StartDate
	pluginValues["end_date"] = lease.EndDate

	pctx, cancel := m.pluginCtx(ctx)
	defer cancel()
	resourceID, err := p.ReserveResource(pctx, reservation.ID, pluginValues)
	if err != nil {
		return err
	}

	_, err = m.Store.UpdateReservation(ctx, reservation.ID, func(r *model.Reservation) error {
		r.ResourceID = resourceID
		return nil
	})
	return err
}

// destroyLease is the compensating rollback for create failures.
func (m *Manager) destroyLease(ctx context.Context, leaseID string) {
	if err := m.Store.DeleteLease(ctx, leaseID); err != nil {
		m.logger.Error().Err(err).Str("lease_id", leaseID).Msg("rollback lease destroy failed")
	}
}

// UpdateLease applies a partial update to a lease, its reservations and
// its events. A rename is allowed at any stable status including
// terminated leases; everything else follows the date rules.
func (m *Manager) UpdateLease(ctx context.Context, leaseID string, values map[string]interface{}) (*model.Lease, error) {
	err := m.withLeaseTransition(ctx, leaseID, model.LeaseUpdating, m.resolveStable(leaseID), func(ctx context.Context) error {
		_, err := m.updateLease(ctx, leaseID, values)
		return err
	})
	if err != nil {
		metrics.RecordLeaseOperation("update_lease", "error")
		return nil, err
	}
	metrics.RecordLeaseOperation("update_lease", "success")
	// Reload so the returned lease carries the resolved stable status.
	return m.Store.GetLease(ctx, leaseID)
}

func (m *Manager) updateLease(ctx context.Context, leaseID string, values map[string]interface{}) (*model.Lease, error) {
	if len(values) == 0 {
		return m.Store.GetLease(ctx, leaseID)
	}

	if name, ok := stringValue(values, "name"); ok && len(values) == 1 {
		return m.Store.UpdateLease(ctx, leaseID, func(l *model.Lease) error {
			l.Name = name
			return nil
		})
	}

	lease, err := m.Store.GetLease(ctx, leaseID)
	if err != nil {
		return nil, err
	}

	now := truncMinute(m.Clock.Now())

	startDate := lease.StartDate
	if raw, ok := stringValue(values, "start_date"); ok {
		if startDate, err = parseDate(raw, now); err != nil {
			return nil, err
		}
	}
	endDate := lease.EndDate
	if raw, ok := stringValue(values, "end_date"); ok {
		if endDate, err = parseDate(raw, now); err != nil {
			return nil, err
		}
	}

	if lease.StartDate.Before(now) && !startDate.Equal(lease.StartDate) {
		return nil, invalidInput("cannot modify the start date of already started leases")
	}
	if lease.StartDate.After(now) && startDate.Before(now) {
		return nil, invalidInput("start date must be later than current date")
	}
	if lease.EndDate.Before(now) {
		return nil, invalidInput("terminated leases can only be renamed")
	}
	if !endDate.After(now) || !endDate.After(startDate) {
		return nil, invalidInput("end date must be later than current and start date")
	}

	var beforeEndDate time.Time
	if raw, ok := stringValue(values, "before_end_date"); ok && raw != "" {
		if beforeEndDate, err = parseDate(raw, now); err != nil {
			return nil, err
		}
		if err := checkDateWithinLeaseLimits(beforeEndDate, startDate, endDate); err != nil {
			m.logger.Error().Err(err).Str("lease_id", leaseID).Msg("invalid before_end_date param")
			return nil, err
		}
	}

	ctx, _, err = m.Trust.ScopedContext(ctx, lease.TrustID)
	if err != nil {
		return nil, err
	}

	if err := m.updateReservations(ctx, lease, values, startDate, endDate); err != nil {
		return nil, err
	}

	startEvent, err := m.Store.FirstEvent(ctx, store.EventFilter{LeaseID: leaseID, Type: model.EventStartLease})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("start lease event for lease %s not found", leaseID)
		}
		return nil, err
	}
	if _, err := m.Store.UpdateEvent(ctx, startEvent.ID, func(e *model.Event) error {
		e.Time = startDate
		return nil
	}); err != nil {
		return nil, err
	}

	endEvent, err := m.Store.FirstEvent(ctx, store.EventFilter{LeaseID: leaseID, Type: model.EventEndLease})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("end lease event for lease %s not found", leaseID)
		}
		return nil, err
	}
	if _, err := m.Store.UpdateEvent(ctx, endEvent.ID, func(e *model.Event) error {
		e.Time = endDate
		return nil
	}); err != nil {
		return nil, err
	}

	notifications := []string{"update"}
	effectiveBeforeEnd, err := m.updateBeforeEndEvent(ctx, lease, startDate, endDate, beforeEndDate, &notifications)
	if err != nil {
		return nil, err
	}

	updated, err := m.Store.UpdateLease(ctx, leaseID, func(l *model.Lease) error {
		if name, ok := stringValue(values, "name"); ok {
			l.Name = name
		}
		l.StartDate = startDate
		l.EndDate = endDate
		if !effectiveBeforeEnd.IsZero() {
			l.BeforeEndDate = effectiveBeforeEnd
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.Notifier.Send(ctx, updated, notifications...)
	return updated, nil
}

// updateReservations applies reservation overrides and pushes the new
// window to every reservation's plugin. Plugin rejections are not rolled
// back: the lease row and previously updated reservations stay as they
// are and the guard resolves the lease back to a stable status.
func (m *Manager) updateReservations(ctx context.Context, lease *model.Lease, values map[string]interface{}, startDate, endDate time.Time) error {
	overrides := listValue(values, "reservations")

	byID := make(map[string]map[string]interface{}, len(overrides))
	for _, o := range overrides {
		id, ok := stringValue(o, "id")
		if !ok || id == "" {
			return missingParameter("reservation ID")
		}
		byID[id] = o
	}

	known := make(map[string]bool, len(lease.Reservations))
	for _, r := range lease.Reservations {
		known[r.ID] = true
	}
	var invalid []string
	for id := range byID {
		if !known[id] {
			invalid = append(invalid, id)
		}
	}
	if len(invalid) > 0 {
		return invalidInput(fmt.Sprintf("unknown reservation IDs: %v", invalid))
	}

	for _, reservation := range lease.Reservations {
		v := map[string]interface{}{
			"start_date": startDate,
			"end_date":   endDate,
		}
		for k, val := range byID[reservation.ID] {
			v[k] = val
		}

		resourceType := reservation.ResourceType
		if override, ok := stringValue(v, "resource_type"); ok && override != resourceType {
			return fmt.Errorf("%w: resource_type", ErrCantUpdateParameter)
		}

		p, ok := m.Registry.Get(resourceType)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedResource, resourceType)
		}
		pctx, cancel := m.pluginCtx(ctx)
		err := p.UpdateReservation(pctx, reservation.ID, v)
		cancel()
		if err != nil {
			return err
		}

		if _, err := m.Store.UpdateReservation(ctx, reservation.ID, func(r *model.Reservation) error {
			r.StartDate = startDate
			r.EndDate = endDate
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// updateBeforeEndEvent recomputes the before_end_lease event for the new
// window. When no explicit before_end_date was supplied the previous
// delta from the old end date is preserved. A DONE event is reset to
// UNDONE and the stop notification appended.
func (m *Manager) updateBeforeEndEvent(ctx context.Context, lease *model.Lease, startDate, endDate, beforeEndDate time.Time, notifications *[]string) (time.Time, error) {
	event, err := m.Store.FirstEvent(ctx, store.EventFilter{LeaseID: lease.ID, Type: model.EventBeforeEndLease})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Nothing to do when the lease never had a before-end event.
			return time.Time{}, nil
		}
		return time.Time{}, err
	}

	if beforeEndDate.IsZero() {
		prevDelta := lease.EndDate.Sub(event.Time)
		beforeEndDate = endDate.Add(-prevDelta)
	}
	beforeEndDate = m.clampBeforeEnd(beforeEndDate, startDate, lease.ID)

	reset := event.Status == model.EventDone
	if _, err := m.Store.UpdateEvent(ctx, event.ID, func(e *model.Event) error {
		e.Time = beforeEndDate
		if reset {
			e.Status = model.EventUndone
		}
		return nil
	}); err != nil {
		return time.Time{}, err
	}
	if reset {
		*notifications = append(*notifications, "event.before_end_lease.stop")
	}
	return beforeEndDate, nil
}

// DeleteLease ends every live reservation and destroys the lease. When
// the lease window is open, the pending end_lease event is claimed first
// so the scheduler cannot fire it concurrently.
func (m *Manager) DeleteLease(ctx context.Context, leaseID string) error {
	err := m.withLeaseTransition(ctx, leaseID, model.LeaseDeleting, resolveTo(model.LeaseError), func(ctx context.Context) error {
		return m.deleteLease(ctx, leaseID)
	})
	if err != nil {
		metrics.RecordLeaseOperation("delete_lease", "error")
		return err
	}
	metrics.RecordLeaseOperation("delete_lease", "success")
	return nil
}

func (m *Manager) deleteLease(ctx context.Context, leaseID string) error {
	lease, err := m.Store.GetLease(ctx, leaseID)
	if err != nil {
		return err
	}

	now := m.Clock.Now()
	if lease.Active(now) {
		if _, err := m.Store.FirstEvent(ctx, store.EventFilter{LeaseID: leaseID, Type: model.EventStartLease}); err != nil {
			return fmt.Errorf("start_lease event for lease %s not found", leaseID)
		}
		endEvent, err := m.Store.FirstEvent(ctx, store.EventFilter{
			LeaseID: leaseID,
			Type:    model.EventEndLease,
			Status:  model.EventUndone,
		})
		if err != nil {
			return fmt.Errorf("end_lease event for lease %s not found", leaseID)
		}
		claimed, err := m.Store.EventStatusCAS(ctx, endEvent.ID, model.EventUndone, model.EventInProgress)
		if err != nil {
			return err
		}
		if !claimed {
			return fmt.Errorf("end_lease event for lease %s already claimed", leaseID)
		}
	}

	ctx, _, err = m.Trust.ScopedContext(ctx, lease.TrustID)
	if err != nil {
		return err
	}

	for _, reservation := range lease.Reservations {
		if reservation.Status == model.ReservationDeleted {
			continue
		}
		p, ok := m.Registry.Get(reservation.ResourceType)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnsupportedResource, reservation.ResourceType)
		}
		pctx, cancel := m.pluginCtx(ctx)
		err := p.OnEnd(pctx, reservation.ResourceID)
		cancel()
		if err != nil {
			m.logger.Error().Err(err).
				Str("lease_id", leaseID).
				Str("reservation_id", reservation.ID).
				Msg("failed to delete a reservation for a lease")
			return err
		}
	}

	if err := m.Store.DeleteLease(ctx, leaseID); err != nil {
		return err
	}
	m.Notifier.Send(ctx, lease, "delete")
	return nil
}

// StartLease is the start_lease event handler.
func (m *Manager) StartLease(ctx context.Context, leaseID, eventID string) error {
	return m.withLeaseTransition(ctx, leaseID, model.LeaseStarting, resolveTo(model.LeaseActive), func(ctx context.Context) error {
		return m.basicAction(ctx, leaseID, eventID, actionOnStart, model.ReservationActive)
	})
}

// EndLease is the end_lease event handler.
func (m *Manager) EndLease(ctx context.Context, leaseID, eventID string) error {
	return m.withLeaseTransition(ctx, leaseID, model.LeaseTerminating, resolveTo(model.LeaseTerminated), func(ctx context.Context) error {
		return m.basicAction(ctx, leaseID, eventID, actionOnEnd, model.ReservationDeleted)
	})
}

// BeforeEndLease is the before_end_lease event handler. It is best
// effort and intentionally not guarded.
func (m *Manager) BeforeEndLease(ctx context.Context, leaseID, eventID string) error {
	return m.basicAction(ctx, leaseID, eventID, actionBeforeEnd, "")
}

type actionTime string

const (
	actionOnStart   actionTime = "on_start"
	actionOnEnd     actionTime = "on_end"
	actionBeforeEnd actionTime = "before_end"
)

// basicAction runs one lifecycle callback across every reservation of a
// lease. Partial failures never abort the loop: each failing reservation
// is marked ERROR and flips the event outcome to ERROR, but the
// remaining reservations still get their callback. The accumulated
// outcome is written to the event row at the end.
func (m *Manager) basicAction(ctx context.Context, leaseID, eventID string, action actionTime, target model.ReservationStatus) error {
	lease, err := m.Store.GetLease(ctx, leaseID)
	if err != nil {
		return err
	}

	ctx, _, err = m.Trust.ScopedContext(ctx, lease.TrustID)
	if err != nil {
		return err
	}

	actions := m.Registry.Actions()
	eventStatus := model.EventDone
	for _, reservation := range lease.Reservations {
		err := m.runReservationAction(ctx, actions, reservation, action, target)
		if err != nil {
			m.logger.Error().Err(err).
				Str("action", string(action)).
				Str("lease_id", leaseID).
				Str("reservation_id", reservation.ID).
				Msg("failed to execute reservation action")
			eventStatus = model.EventError
			if _, uerr := m.Store.UpdateReservation(ctx, reservation.ID, func(r *model.Reservation) error {
				r.Status = model.ReservationError
				return nil
			}); uerr != nil {
				m.logger.Error().Err(uerr).Str("reservation_id", reservation.ID).
					Msg("failed to mark reservation ERROR")
			}
			continue
		}
		if target != "" {
			if _, err := m.Store.UpdateReservation(ctx, reservation.ID, func(r *model.Reservation) error {
				r.Status = target
				return nil
			}); err != nil {
				return err
			}
		}
	}

	if _, err := m.Store.UpdateEvent(ctx, eventID, func(e *model.Event) error {
		e.Status = eventStatus
		return nil
	}); err != nil {
		return err
	}

	if eventStatus == model.EventError {
		// Drive the lease to ERROR; the guard leaves it there.
		if _, err := m.Store.LeaseStatusCAS(ctx, leaseID, model.LeaseError); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) runReservationAction(ctx context.Context, actions map[string]plugin.Actions, reservation *model.Reservation, action actionTime, target model.ReservationStatus) error {
	acts, ok := actions[reservation.ResourceType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedResource, reservation.ResourceType)
	}
	if target != "" && !reservation.Status.IsValidTransition(target) {
		return fmt.Errorf("%w: reservation %s cannot move %s -> %s",
			ErrInvalidStatus, reservation.ID, reservation.Status, target)
	}

	var fn func(ctx context.Context, resourceID string) error
	switch action {
	case actionOnStart:
		fn = acts.OnStart
	case actionOnEnd:
		fn = acts.OnEnd
	case actionBeforeEnd:
		fn = acts.BeforeEnd
	default:
		return fmt.Errorf("%w: %s", ErrEventType, action)
	}

	pctx, cancel := m.pluginCtx(ctx)
	defer cancel()
	return fn(pctx, reservation.ResourceID)
}

// checkDateWithinLeaseLimits validates an explicitly supplied
// before-end date against the lease window.
func checkDateWithinLeaseLimits(date, startDate, endDate time.Time) error {
	if !date.After(startDate) || !date.Before(endDate) {
		return invalidInput("datetime is out of lease limits")
	}
	return nil
}

// clampBeforeEnd lifts a derived before-end date up to the lease start
// when it would land before it.
func (m *Manager) clampBeforeEnd(beforeEnd, startDate time.Time, leaseRef string) time.Time {
	if beforeEnd.Before(startDate) {
		m.logger.Warn().
			Time("start_date", startDate).
			Str("lease", leaseRef).
			Msg("start date greater than before_end_date, clamping before_end_date to start date")
		return startDate
	}
	return beforeEnd
}
