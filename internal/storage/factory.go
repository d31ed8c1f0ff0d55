// factory.go maps configured backend names (local, s3, azure, gcs) to the
// constructors registered by each backend package.
package storage

import (
	"fmt"
	"sort"

	"github.com/lmco/mcf-sub003/internal/config"
)

// FactoryFunc builds a backend from the loaded configuration.
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register associates a backend name with its constructor. Called from
// backend package init() functions; later registrations replace earlier ones.
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewStorage builds the backend named by storage.default_backend.
func NewStorage(cfg *config.Config) (Storage, error) {
	factory, ok := factories[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend %q (registered: %v)", cfg.Storage.DefaultBackend, registered())
	}
	return factory(cfg)
}

func registered() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
