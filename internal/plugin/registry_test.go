package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPlugin struct {
	resourceType string
	setupErr     error
	setupOpts    map[string]string
}

func (p *stubPlugin) ResourceType() string { return p.resourceType }
func (p *stubPlugin) ReserveResource(context.Context, string, map[string]interface{}) (string, error) {
	return "", nil
}
func (p *stubPlugin) UpdateReservation(context.Context, string, map[string]interface{}) error {
	return nil
}
func (p *stubPlugin) OnStart(context.Context, string) error   { return nil }
func (p *stubPlugin) OnEnd(context.Context, string) error     { return nil }
func (p *stubPlugin) BeforeEnd(context.Context, string) error { return nil }
func (p *stubPlugin) Setup(opts map[string]string) error {
	p.setupOpts = opts
	return p.setupErr
}

func TestNewRegistry(t *testing.T) {
	stub := &stubPlugin{resourceType: "stub"}
	r, err := NewRegistry(
		[]string{"stub.plugin"},
		map[string]Factory{
			"stub.plugin": func() (Plugin, error) { return stub, nil },
		},
		map[string]map[string]string{
			"stub.plugin": {"endpoint": "http://stub"},
		},
	)
	require.NoError(t, err)

	p, ok := r.Get("stub")
	assert.True(t, ok)
	assert.Equal(t, stub, p)
	assert.Equal(t, "http://stub", stub.setupOpts["endpoint"])

	_, ok = r.Get("unknown")
	assert.False(t, ok)

	actions := r.Actions()
	require.Contains(t, actions, "stub")
	assert.NotNil(t, actions["stub"].OnStart)
	assert.NotNil(t, actions["stub"].OnEnd)
	assert.NotNil(t, actions["stub"].BeforeEnd)
}

func TestNewRegistryUnknownName(t *testing.T) {
	_, err := NewRegistry([]string{"missing.plugin"}, Builtins(), nil)
	assert.ErrorIs(t, err, ErrPluginConfiguration)
}

func TestNewRegistryDuplicateResourceType(t *testing.T) {
	_, err := NewRegistry(
		[]string{"one.plugin", "two.plugin"},
		map[string]Factory{
			"one.plugin": func() (Plugin, error) { return &stubPlugin{resourceType: "stub"}, nil },
			"two.plugin": func() (Plugin, error) { return &stubPlugin{resourceType: "stub"}, nil },
		},
		nil,
	)
	assert.ErrorIs(t, err, ErrPluginConfiguration)
}

func TestNewRegistrySkipsFailingFactory(t *testing.T) {
	r, err := NewRegistry(
		[]string{"broken.plugin", "ok.plugin"},
		map[string]Factory{
			"broken.plugin": func() (Plugin, error) { return nil, errors.New("missing credentials") },
			"ok.plugin":     func() (Plugin, error) { return &stubPlugin{resourceType: "ok"}, nil },
		},
		nil,
	)
	require.NoError(t, err)
	assert.Len(t, r.Plugins(), 1)
	_, ok := r.Get("ok")
	assert.True(t, ok)
}

func TestNewRegistrySetupFailureIsFatal(t *testing.T) {
	_, err := NewRegistry(
		[]string{"bad.plugin"},
		map[string]Factory{
			"bad.plugin": func() (Plugin, error) {
				return &stubPlugin{resourceType: "bad", setupErr: errors.New("bad endpoint")}, nil
			},
		},
		nil,
	)
	assert.ErrorIs(t, err, ErrPluginConfiguration)
}

func TestDummyPlugin(t *testing.T) {
	d := NewDummy()
	require.NoError(t, d.Setup(nil))
	assert.Equal(t, "dummy", d.ResourceType())

	ctx := context.Background()
	id, err := d.ReserveResource(ctx, "res-1", map[string]interface{}{"vcpus": 2})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.NoError(t, d.UpdateReservation(ctx, "res-1", nil))
	assert.NoError(t, d.OnStart(ctx, id))
	assert.NoError(t, d.BeforeEnd(ctx, id))
	assert.NoError(t, d.OnEnd(ctx, id))
}
