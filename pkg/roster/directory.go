// Package roster holds the guardian directory used to pick signers.
package roster

import (
	"fmt"
	"sync"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// Directory is an ordered, concurrency-safe guardian registry.
// Order is registration order and drives roster selection.
type Directory struct {
	mu        sync.RWMutex
	order     []string
	guardians map[string]contracts.Guardian
}

// NewDirectory creates a directory seeded with guardians.
func NewDirectory(guardians ...contracts.Guardian) (*Directory, error) {
	d := &Directory{guardians: make(map[string]contracts.Guardian)}
	for _, g := range guardians {
		if err := d.Add(g); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Add registers a guardian. Ids must be unique.
func (d *Directory) Add(g contracts.Guardian) error {
	if g.ID == "" {
		return fmt.Errorf("guardian id is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.guardians[g.ID]; exists {
		return fmt.Errorf("guardian %s already registered", g.ID)
	}
	if len(g.Channels) == 0 {
		g.Channels = []contracts.Channel{contracts.ChannelEmail}
	}
	d.guardians[g.ID] = g
	d.order = append(d.order, g.ID)
	return nil
}

// Remove unregisters a guardian.
func (d *Directory) Remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.guardians[id]; !ok {
		return false
	}
	delete(d.guardians, id)
	for i, gid := range d.order {
		if gid == id {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a guardian by id.
func (d *Directory) Get(id string) (contracts.Guardian, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.guardians[id]
	return g, ok
}

// PublicKey implements crypto.KeyResolver.
func (d *Directory) PublicKey(id string) (string, bool) {
	g, ok := d.Get(id)
	if !ok || g.PublicKey == "" {
		return "", false
	}
	return g.PublicKey, true
}

// Len returns the number of registered guardians.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.order)
}

// Select returns the first n guardians in registration order.
// Fewer are returned when the directory is smaller than n.
func (d *Directory) Select(n int) []contracts.Guardian {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if n > len(d.order) {
		n = len(d.order)
	}
	if n < 0 {
		n = 0
	}
	out := make([]contracts.Guardian, 0, n)
	for _, id := range d.order[:n] {
		out = append(out, d.guardians[id])
	}
	return out
}
