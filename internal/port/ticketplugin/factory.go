package ticketplugin

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"
)

// Factory constructs a plugin from shared deps and its manifest settings.
// settings is nil when the plugin is registered statically.
type Factory func(deps Deps, settings json.RawMessage) (Plugin, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[string]Factory)
)

// RegisterFactory makes a plugin factory available by name.
// It is typically called from an init() function in the adapter package.
func RegisterFactory(name string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("ticketplugin: duplicate factory registration for %q", name))
	}
	factories[name] = factory
}

// LookupFactory returns the factory registered under name.
func LookupFactory(name string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Factories returns the names of all compiled-in factories, sorted.
func Factories() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
