package registry_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/registry/registrytest"
	"github.com/kamir/global-schema-registry/internal/schema"
)

func fakeConstructor(cfg schema.RegistryConfig, log *zap.Logger) (registry.Registry, error) {
	return registrytest.New(), nil
}

func TestPluginsRegisterValidation(t *testing.T) {
	p := registry.NewPlugins(nil)

	assert.ErrorIs(t, p.Register("", fakeConstructor), schema.ErrInvalidArgument)
	assert.ErrorIs(t, p.Register(schema.RegistryLocal, nil), schema.ErrInvalidArgument)
	require.NoError(t, p.Register(schema.RegistryLocal, fakeConstructor))
	assert.Equal(t, []schema.RegistryType{schema.RegistryLocal}, p.Types())
}

func TestPluginsCreateUnknownType(t *testing.T) {
	p := registry.NewPlugins(nil)

	_, err := p.Create(schema.RegistryConfig{ID: "x", Type: schema.RegistryKarapace}, "x")
	assert.ErrorIs(t, err, schema.ErrUnknownBackendType)
	assert.Empty(t, p.Instances())
}

func TestPluginsCreateStoresAndOverwrites(t *testing.T) {
	p := registry.NewPlugins(nil)
	require.NoError(t, p.Register(schema.RegistryLocal, fakeConstructor))

	cfg := schema.RegistryConfig{ID: "reg1", Type: schema.RegistryLocal, Enabled: true}

	first, err := p.Create(cfg, "reg1")
	require.NoError(t, err)
	second, err := p.Create(cfg, "reg1")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	got, ok := p.Instance("reg1")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, []string{"reg1"}, p.Instances())
}

func TestPluginsCreateWithoutID(t *testing.T) {
	p := registry.NewPlugins(nil)
	require.NoError(t, p.Register(schema.RegistryLocal, fakeConstructor))

	r, err := p.Create(schema.RegistryConfig{Type: schema.RegistryLocal}, "")
	require.NoError(t, err)
	assert.NotNil(t, r)
	assert.Empty(t, p.Instances())
}

func TestPluginsCreateAppliesDefaults(t *testing.T) {
	p := registry.NewPlugins(nil)
	var seen schema.RegistryConfig
	require.NoError(t, p.Register(schema.RegistryLocal, func(cfg schema.RegistryConfig, log *zap.Logger) (registry.Registry, error) {
		seen = cfg
		return registrytest.New(), nil
	}))

	_, err := p.Create(schema.RegistryConfig{ID: "a", Type: schema.RegistryLocal}, "a")
	require.NoError(t, err)
	assert.Equal(t, schema.DefaultTimeout, seen.Timeout)
}

func TestPluginsConstructorError(t *testing.T) {
	p := registry.NewPlugins(nil)
	boom := errors.New("bad url")
	require.NoError(t, p.Register(schema.RegistryLocal, func(schema.RegistryConfig, *zap.Logger) (registry.Registry, error) {
		return nil, boom
	}))

	_, err := p.Create(schema.RegistryConfig{ID: "a", Type: schema.RegistryLocal}, "a")
	assert.ErrorIs(t, err, boom)
	_, ok := p.Instance("a")
	assert.False(t, ok)
}

func TestPluginsRemove(t *testing.T) {
	p := registry.NewPlugins(nil)
	require.NoError(t, p.Register(schema.RegistryLocal, fakeConstructor))
	_, err := p.Create(schema.RegistryConfig{ID: "a", Type: schema.RegistryLocal}, "a")
	require.NoError(t, err)

	assert.True(t, p.Remove("a"))
	assert.False(t, p.Remove("a"))

	_, err = p.Create(schema.RegistryConfig{ID: "a", Type: schema.RegistryLocal}, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, p.Instances())
}
