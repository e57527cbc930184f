package plugin

import (
	"context"
	"errors"
	"fmt"

	"github.com/reservd/reservd/internal/log"
)

// ErrPluginConfiguration signals a fatal plugin setup problem at startup.
var ErrPluginConfiguration = errors.New("plugin: configuration error")

// Registry holds the loaded plugins keyed by resource type.
type Registry struct {
	plugins map[string]Plugin
}

// Builtins returns the factory table of plugins shipped with the service.
func Builtins() map[string]Factory {
	return map[string]Factory{
		"dummy.vm.plugin": func() (Plugin, error) { return NewDummy(), nil },
	}
}

// NewRegistry instantiates the configured plugins from the factory table.
//
// A configured name missing from the table fails startup. A factory that
// errors is logged and skipped. Two loaded plugins claiming the same
// resource type fail startup.
func NewRegistry(names []string, factories map[string]Factory, opts map[string]map[string]string) (*Registry, error) {
	logger := log.WithComponent("plugin")

	for _, name := range names {
		if _, ok := factories[name]; !ok {
			return nil, fmt.Errorf("%w: invalid plugin name %q", ErrPluginConfiguration, name)
		}
	}

	plugins := make(map[string]Plugin, len(names))
	for _, name := range names {
		p, err := factories[name]()
		if err != nil {
			logger.Warn().Err(err).Str("plugin", name).Msg("could not load plugin")
			continue
		}
		if _, dup := plugins[p.ResourceType()]; dup {
			return nil, fmt.Errorf("%w: several plugins configured for resource type %q, set one plugin per resource type",
				ErrPluginConfiguration, p.ResourceType())
		}
		if err := p.Setup(opts[name]); err != nil {
			return nil, fmt.Errorf("%w: setup of %q failed: %v", ErrPluginConfiguration, name, err)
		}
		plugins[p.ResourceType()] = p
	}

	return &Registry{plugins: plugins}, nil
}

// Plugins returns the resource-type to plugin map.
func (r *Registry) Plugins() map[string]Plugin {
	return r.plugins
}

// Get returns the plugin for a resource type.
func (r *Registry) Get(resourceType string) (Plugin, bool) {
	p, ok := r.plugins[resourceType]
	return p, ok
}

// Actions returns the lifecycle callback table per resource type.
func (r *Registry) Actions() map[string]Actions {
	actions := make(map[string]Actions, len(r.plugins))
	for resourceType, p := range r.plugins {
		actions[resourceType] = Actions{
			OnStart:   p.OnStart,
			OnEnd:     p.OnEnd,
			BeforeEnd: p.BeforeEnd,
		}
	}
	return actions
}

// StartMonitors launches the monitor probe of every plugin that has one.
func (r *Registry) StartMonitors(ctx context.Context) {
	for resourceType, p := range r.plugins {
		if m, ok := p.(Monitor); ok {
			logger := log.WithComponent("plugin")
			logger.Info().
				Str("resource_type", resourceType).
				Msg("starting plugin monitor")
			go m.StartMonitoring(ctx)
		}
	}
}
