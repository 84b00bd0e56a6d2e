// Package plugins wires the built-in backends into a plugin table.
package plugins

import (
	"github.com/kamir/global-schema-registry/internal/plugins/confluent"
	"github.com/kamir/global-schema-registry/internal/plugins/local"
	"github.com/kamir/global-schema-registry/internal/plugins/unitycatalog"
	"github.com/kamir/global-schema-registry/internal/registry"
	"github.com/kamir/global-schema-registry/internal/schema"
)

// Builtins maps every shipped backend-type tag to its constructor.
var Builtins = map[schema.RegistryType]registry.Constructor{
	schema.RegistryConfluent:    confluent.New,
	schema.RegistryUnityCatalog: unitycatalog.New,
	schema.RegistryLocal:        local.New,
}

// RegisterBuiltins registers the built-in backends with p.
func RegisterBuiltins(p *registry.Plugins) error {
	for t, c := range Builtins {
		if err := p.Register(t, c); err != nil {
			return err
		}
	}
	return nil
}
