// Package plugin defines the resource plugin contract and the registry
// that maps resource types to loaded plugins.
package plugin

import "context"

// Plugin is the capability set every resource-type plugin implements.
// ReserveResource returns the plugin-side resource ID the reservation is
// keyed by from then on. Plugins must tolerate asynchronous deletion of
// the reservation row they were called for.
type Plugin interface {
	ResourceType() string
	ReserveResource(ctx context.Context, reservationID string, values map[string]interface{}) (resourceID string, err error)
	UpdateReservation(ctx context.Context, reservationID string, values map[string]interface{}) error
	OnStart(ctx context.Context, resourceID string) error
	OnEnd(ctx context.Context, resourceID string) error
	BeforeEnd(ctx context.Context, resourceID string) error
	Setup(opts map[string]string) error
}

// Monitor is implemented by plugins that ship an independent probe.
// StartMonitoring is launched in its own goroutine at service boot.
type Monitor interface {
	StartMonitoring(ctx context.Context)
}

// Actions groups the lifecycle callbacks of one resource type.
type Actions struct {
	OnStart   func(ctx context.Context, resourceID string) error
	OnEnd     func(ctx context.Context, resourceID string) error
	BeforeEnd func(ctx context.Context, resourceID string) error
}

// Factory constructs a plugin instance. Construction may fail; the
// registry logs and skips such plugins.
type Factory func() (Plugin, error)
