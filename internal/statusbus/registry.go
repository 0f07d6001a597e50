package statusbus

import "sync"

// Registry lazily constructs and caches one Bus per scope. The composition
// root owns the registry; handlers look buses up by the scope they serve.
type Registry struct {
	mu      sync.Mutex
	factory func(scope string) *Bus
	buses   map[string]*Bus
}

// NewRegistry builds an empty registry around the given factory. The factory
// returns a stopped bus; the registry starts it on first lookup.
func NewRegistry(factory func(scope string) *Bus) *Registry {
	return &Registry{factory: factory, buses: make(map[string]*Bus)}
}

// Get returns the bus for scope, constructing and starting it on first use.
func (r *Registry) Get(scope string) *Bus {
	r.mu.Lock()
	defer r.mu.Unlock()
	bus, ok := r.buses[scope]
	if !ok {
		bus = r.factory(scope)
		bus.Start()
		r.buses[scope] = bus
	}
	return bus
}

// Shutdown stops every bus the registry created. The registry is empty
// afterwards and may be reused.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	buses := make([]*Bus, 0, len(r.buses))
	for _, bus := range r.buses {
		buses = append(buses, bus)
	}
	r.buses = make(map[string]*Bus)
	r.mu.Unlock()
	for _, bus := range buses {
		bus.Stop()
	}
}
