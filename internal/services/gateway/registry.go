package gateway

import (
	"fmt"
	"sort"
	"sync"

	"parish-system/internal/status"
)

// Registry holds the configured gateways; the first one registered is the
// default unless SetPrimary says otherwise.
type Registry struct {
	mu       sync.RWMutex
	gateways map[Provider]Gateway
	primary  Provider
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[Provider]Gateway)}
}

func (r *Registry) Register(g Gateway) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gateways[g.Provider()] = g
	if r.primary == "" {
		r.primary = g.Provider()
	}
}

func (r *Registry) SetPrimary(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.gateways[p]; !ok {
		return fmt.Errorf("%w: %s", status.ErrUnknownProvider, p)
	}
	r.primary = p
	return nil
}

func (r *Registry) Get(p Provider) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	g, ok := r.gateways[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", status.ErrUnknownProvider, p)
	}
	return g, nil
}

// Select returns the gateway for p, or the primary one when p is empty.
func (r *Registry) Select(p Provider) (Gateway, error) {
	if p == "" {
		r.mu.RLock()
		p = r.primary
		r.mu.RUnlock()
	}
	return r.Get(p)
}

func (r *Registry) Providers() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Provider, 0, len(r.gateways))
	for p := range r.gateways {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
