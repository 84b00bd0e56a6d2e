package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/kamir/global-schema-registry/internal/schema"
)

// Constructor builds a backend instance from its configuration.
type Constructor func(cfg schema.RegistryConfig, log *zap.Logger) (Registry, error)

// Plugins maps backend-type tags to constructors and tracks the named
// instances created through it.
//
// Creating or removing the same instance id concurrently is undefined and
// must be serialized by the caller. Reads may run alongside each other.
type Plugins struct {
	mu           sync.RWMutex
	constructors map[schema.RegistryType]Constructor
	instances    map[string]Registry
	log          *zap.Logger
}

// NewPlugins creates an empty plugin table.
func NewPlugins(log *zap.Logger) *Plugins {
	if log == nil {
		log = zap.NewNop()
	}
	return &Plugins{
		constructors: make(map[schema.RegistryType]Constructor),
		instances:    make(map[string]Registry),
		log:          log,
	}
}

// Register binds a backend-type tag to a constructor. Re-registering a tag
// replaces the previous constructor.
func (p *Plugins) Register(t schema.RegistryType, c Constructor) error {
	if t == "" {
		return schema.InvalidArgumentf("plugin type is required")
	}
	if c == nil {
		return schema.InvalidArgumentf("plugin %s has no constructor", t)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.constructors[t] = c
	p.log.Info("registered plugin", zap.String("type", string(t)))
	return nil
}

// Types returns the registered backend-type tags, sorted.
func (p *Plugins) Types() []schema.RegistryType {
	p.mu.RLock()
	defer p.mu.RUnlock()

	types := make([]schema.RegistryType, 0, len(p.constructors))
	for t := range p.constructors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Create builds an instance for cfg. When id is non-empty the instance is
// stored under id, replacing any previous instance with that id.
func (p *Plugins) Create(cfg schema.RegistryConfig, id string) (Registry, error) {
	p.mu.RLock()
	construct, ok := p.constructors[cfg.Type]
	p.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry type %q: %w", cfg.Type, schema.ErrUnknownBackendType)
	}

	instance, err := construct(cfg.WithDefaults(), p.log.With(zap.String("registry_id", cfg.ID)))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s registry %q: %w", cfg.Type, cfg.ID, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("plugin %s returned no instance: %w", cfg.Type, schema.ErrInvalidArgument)
	}

	if id != "" {
		p.mu.Lock()
		p.instances[id] = instance
		p.mu.Unlock()
		p.log.Info("created registry instance", zap.String("registry_id", id), zap.String("type", string(cfg.Type)))
	}
	return instance, nil
}

// Instance returns the stored instance with the given id.
func (p *Plugins) Instance(id string) (Registry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.instances[id]
	return r, ok
}

// Instances returns the stored instance ids, sorted.
func (p *Plugins) Instances() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Remove forgets the instance with the given id. It does not close it.
func (p *Plugins) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.instances[id]; !ok {
		return false
	}
	delete(p.instances, id)
	return true
}
