package venue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrUnknownSymbol = errors.New("venue: unknown symbol")
	ErrDuplicate     = errors.New("venue: symbol already registered")
)

// Registry manages the venues of every traded symbol.
type Registry struct {
	mu     sync.RWMutex
	venues map[string]*Venue // symbol -> venue
}

func NewRegistry() *Registry {
	return &Registry{venues: make(map[string]*Venue)}
}

// Register adds v. Returns ErrDuplicate if its symbol is already taken.
func (r *Registry) Register(v *Venue) error {
	if v == nil {
		return fmt.Errorf("cannot register nil venue")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.venues[v.Symbol()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, v.Symbol())
	}
	r.venues[v.Symbol()] = v
	return nil
}

// Get retrieves a venue by symbol
func (r *Registry) Get(symbol string) (*Venue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, exists := r.venues[symbol]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return v, nil
}

// List returns all venues sorted by symbol.
func (r *Registry) List() []*Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Venue, 0, len(r.venues))
	for _, v := range r.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol() < out[j].Symbol() })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.venues)
}

func (r *Registry) Exists(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.venues[symbol]
	return exists
}
