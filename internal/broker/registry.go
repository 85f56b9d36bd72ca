package broker

import (
	"fmt"
	"sort"

	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

// Registry holds the set of configured brokers. It is built once at startup
// and read-only afterwards, so lookups need no locking.
type Registry struct {
	brokers map[string]Broker
	order   []string
}

// NewRegistry builds a registry from the given brokers. Duplicate IDs are a
// wiring bug and rejected outright.
func NewRegistry(brokers ...Broker) (*Registry, error) {
	r := &Registry{brokers: make(map[string]Broker, len(brokers))}
	for _, b := range brokers {
		id := b.ID()
		if id == "" {
			return nil, fmt.Errorf("register broker: empty id")
		}
		if _, exists := r.brokers[id]; exists {
			return nil, fmt.Errorf("register broker: duplicate id %q", id)
		}
		r.brokers[id] = b
		r.order = append(r.order, id)
	}
	sort.Strings(r.order)
	return r, nil
}

// Lookup returns the broker registered under id.
func (r *Registry) Lookup(id string) (Broker, error) {
	b, ok := r.brokers[id]
	if !ok {
		return nil, apperrors.UnknownBroker(id)
	}
	return b, nil
}

// List returns descriptors for all registered brokers, ordered by ID.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, Describe(r.brokers[id]))
	}
	return out
}
