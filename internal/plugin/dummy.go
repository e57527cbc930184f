package plugin

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/reservd/reservd/internal/log"
)

// Dummy is the no-op VM plugin. It allocates synthetic resource IDs and
// logs lifecycle callbacks. Useful as the default plugin and in tests.
type Dummy struct {
	mu        sync.Mutex
	resources map[string]string // resource_id -> reservation_id
}

func NewDummy() *Dummy {
	return &Dummy{resources: make(map[string]string)}
}

func (d *Dummy) ResourceType() string { return "dummy" }

func (d *Dummy) Setup(opts map[string]string) error { return nil }

func (d *Dummy) ReserveResource(ctx context.Context, reservationID string, values map[string]interface{}) (string, error) {
	resourceID := uuid.NewString()
	d.mu.Lock()
	d.resources[resourceID] = reservationID
	d.mu.Unlock()
	logger := log.WithComponent("plugin.dummy")
	logger.Debug().
		Str("reservation_id", reservationID).
		Str("resource_id", resourceID).
		Msg("reserved dummy resource")
	return resourceID, nil
}

func (d *Dummy) UpdateReservation(ctx context.Context, reservationID string, values map[string]interface{}) error {
	logger := log.WithComponent("plugin.dummy")
	logger.Debug().
		Str("reservation_id", reservationID).
		Msg("updated dummy reservation")
	return nil
}

func (d *Dummy) OnStart(ctx context.Context, resourceID string) error {
	logger := log.WithComponent("plugin.dummy")
	logger.Info().
		Str("resource_id", resourceID).
		Msg("dummy resource started")
	return nil
}

func (d *Dummy) OnEnd(ctx context.Context, resourceID string) error {
	d.mu.Lock()
	delete(d.resources, resourceID)
	d.mu.Unlock()
	logger := log.WithComponent("plugin.dummy")
	logger.Info().
		Str("resource_id", resourceID).
		Msg("dummy resource ended")
	return nil
}

func (d *Dummy) BeforeEnd(ctx context.Context, resourceID string) error {
	logger := log.WithComponent("plugin.dummy")
	logger.Info().
		Str("resource_id", resourceID).
		Msg("dummy resource approaching end of lease")
	return nil
}

var _ Plugin = (*Dummy)(nil)
