package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/reservd/reservd/internal/log"
	"github.com/reservd/reservd/internal/metrics"
	"github.com/reservd/reservd/internal/model"
	"github.com/reservd/reservd/internal/store"
)

// Scheduler polls for due lease events and executes them on a bounded
// worker pool. An event is claimed with an UNDONE -> IN_PROGRESS swap
// before it is handed to a worker, so concurrent schedulers (or a
// concurrent delete_lease) never execute the same event twice.
type Scheduler struct {
	manager  *Manager
	interval time.Duration
	sem      chan struct{}
	wg       sync.WaitGroup
	logger   zerolog.Logger
}

func NewScheduler(m *Manager, interval time.Duration, workers int) *Scheduler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if workers <= 0 {
		workers = 10
	}
	return &Scheduler{
		manager:  m,
		interval: interval,
		sem:      make(chan struct{}, workers),
		logger:   log.WithComponent("scheduler"),
	}
}

// Run ticks until ctx is cancelled, then drains in-flight workers.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Dur("interval", s.interval).Int("workers", cap(s.sem)).
		Msg("event scheduler started")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info().Msg("event scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick claims every due event whose lease is at rest and dispatches it.
// Events of leases in a transitional status stay UNDONE and are picked
// up again on a later tick.
func (s *Scheduler) Tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		metrics.SchedulerTickDuration.Observe(time.Since(started).Seconds())
	}()

	due, err := s.manager.Store.ListEvents(ctx, store.EventFilter{
		Status:   model.EventUndone,
		NotAfter: s.manager.Clock.Now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list due events")
		return
	}

	for _, event := range due {
		lease, err := s.manager.Store.GetLease(ctx, event.LeaseID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			s.logger.Error().Err(err).Str("event_id", event.ID).
				Msg("failed to load lease for due event")
			continue
		}
		if !lease.Status.IsStable() {
			s.logger.Debug().
				Str("event_id", event.ID).
				Str("lease_id", lease.ID).
				Str("lease_status", string(lease.Status)).
				Msg("deferring event, lease is in a transitional status")
			continue
		}

		claimed, err := s.manager.Store.EventStatusCAS(ctx, event.ID, model.EventUndone, model.EventInProgress)
		if err != nil {
			s.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to claim event")
			continue
		}
		if !claimed {
			continue
		}

		s.dispatch(ctx, event)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, event *model.Event) {
	select {
	case s.sem <- struct{}{}:
	default:
		s.logger.Error().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("worker pool exhausted, marking event ERROR")
		if _, err := s.manager.Store.UpdateEvent(ctx, event.ID, func(e *model.Event) error {
			e.Status = model.EventError
			return nil
		}); err != nil {
			s.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to mark event ERROR")
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() { <-s.sem }()
		s.Execute(ctx, event)
	}()
}

// Execute runs one claimed event through its handler and settles the
// event status. The handler itself writes DONE or ERROR on the event
// row; Execute only handles the paths where the handler never ran:
// a transitional lease status resets the event for retry while inside
// the retry window, every other failure is terminal.
func (s *Scheduler) Execute(ctx context.Context, event *model.Event) {
	metrics.EventsInFlight.Inc()
	defer metrics.EventsInFlight.Dec()

	ctx = log.ContextWithCorrelationID(ctx, event.ID)
	logger := log.WithContext(ctx, s.logger).With().
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("lease_id", event.LeaseID).
		Logger()
	logger.Info().Time("event_time", event.Time).Msg("executing event")

	var handler func(ctx context.Context, leaseID, eventID string) error
	switch event.Type {
	case model.EventStartLease:
		handler = s.manager.StartLease
	case model.EventEndLease:
		handler = s.manager.EndLease
	case model.EventBeforeEndLease:
		handler = s.manager.BeforeEndLease
	default:
		logger.Error().Msg("unknown event type")
		s.settle(ctx, event, model.EventError)
		metrics.RecordEventOutcome(string(event.Type), "error")
		return
	}

	err := handler(ctx, event.LeaseID, event.ID)
	switch {
	case err == nil:
		metrics.RecordEventOutcome(string(event.Type), "success")
		s.notifyExecuted(ctx, event)
	case errors.Is(err, ErrInvalidStatus):
		retryUntil := event.Time.Add(time.Duration(s.manager.Opts.EventMaxRetries) * 10 * time.Second)
		if s.manager.Clock.Now().Before(retryUntil) {
			logger.Warn().Err(err).Msg("lease busy, resetting event for retry")
			s.settle(ctx, event, model.EventUndone)
			metrics.EventRetriesTotal.WithLabelValues(string(event.Type)).Inc()
			metrics.RecordEventOutcome(string(event.Type), "retry")
		} else {
			logger.Error().Err(err).Msg("lease busy past the retry window, marking event ERROR")
			s.settle(ctx, event, model.EventError)
			metrics.RecordEventOutcome(string(event.Type), "error")
		}
	default:
		logger.Error().Err(err).Msg("event execution failed")
		s.settle(ctx, event, model.EventError)
		metrics.RecordEventOutcome(string(event.Type), "error")
	}
}

// settle moves an IN_PROGRESS event to its final (or retry) status. The
// swap is conditional so a DONE or ERROR written by the handler wins.
func (s *Scheduler) settle(ctx context.Context, event *model.Event, to model.EventStatus) {
	if _, err := s.manager.Store.EventStatusCAS(ctx, event.ID, model.EventInProgress, to); err != nil {
		s.logger.Error().Err(err).
			Str("event_id", event.ID).
			Str("to", string(to)).
			Msg("failed to settle event status")
	}
}

func (s *Scheduler) notifyExecuted(ctx context.Context, event *model.Event) {
	lease, err := s.manager.Store.GetLease(ctx, event.LeaseID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Error().Err(err).Str("lease_id", event.LeaseID).
				Msg("failed to load lease for event notification")
		}
		return
	}
	ctx, _, err = s.manager.Trust.ScopedContext(ctx, lease.TrustID)
	if err != nil {
		s.logger.Error().Err(err).Str("lease_id", lease.ID).
			Msg("failed to scope notification context")
		return
	}
	s.manager.Notifier.Send(ctx, lease, "event."+string(event.Type))
}
