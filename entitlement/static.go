// Package entitlement provides EntitlementSource implementations.
package entitlement

import (
	"context"
	"sync"

	"github.com/musicgen-ai/musicgen"
)

// Static is an in-memory EntitlementSource, used for development and tests
// or fed by a purchase webhook.
type Static struct {
	mu       sync.RWMutex
	products map[string][]string
}

var _ musicgen.EntitlementSource = (*Static)(nil)

// NewStatic creates an empty source.
func NewStatic() *Static {
	return &Static{products: make(map[string][]string)}
}

// Grant marks product as active for userID.
func (s *Static) Grant(userID, product string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.products[userID] {
		if p == product {
			return
		}
	}
	s.products[userID] = append(s.products[userID], product)
}

// Revoke removes product from userID's active products.
func (s *Static) Revoke(userID, product string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.products[userID][:0]
	for _, p := range s.products[userID] {
		if p != product {
			active = append(active, p)
		}
	}
	s.products[userID] = active
}

// ActiveProducts returns a copy of the user's active products.
func (s *Static) ActiveProducts(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.products[userID]))
	copy(out, s.products[userID])
	return out, nil
}
