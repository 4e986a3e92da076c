// Package memory holds process-local stores for tests and single-instance runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"shop-assistant/internal/domain"
)

// Catalog is a mutex-guarded product catalog.
type Catalog struct {
	mu       sync.RWMutex
	products map[int64]domain.Product
	nextID   int64
}

func NewCatalog() *Catalog {
	return &Catalog{products: make(map[int64]domain.Product), nextID: 1}
}

// Save inserts p, assigning the next ID when p.ID is zero, or replaces the
// product with the same ID.
func (c *Catalog) Save(_ context.Context, p domain.Product) (domain.Product, error) {
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.ID == 0 {
		p.ID = c.nextID
	}
	if p.ID >= c.nextID {
		c.nextID = p.ID + 1
	}
	c.products[p.ID] = p
	return p, nil
}

func (c *Catalog) Count(_ context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.products), nil
}

func (c *Catalog) GetAll(_ context.Context) ([]domain.Product, error) {
	return c.where(func(domain.Product) bool { return true }), nil
}

func (c *Catalog) GetByID(_ context.Context, id int64) (domain.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return domain.Product{}, fmt.Errorf("memory: product %d: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

func (c *Catalog) GetByBrand(_ context.Context, brand string) ([]domain.Product, error) {
	return c.where(func(p domain.Product) bool { return p.Brand == brand }), nil
}

func (c *Catalog) GetByCategory(_ context.Context, category string) ([]domain.Product, error) {
	return c.where(func(p domain.Product) bool { return p.Category == category }), nil
}

// where returns matching products ordered by ID.
func (c *Catalog) where(keep func(domain.Product) bool) []domain.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Product, 0, len(c.products))
	for _, p := range c.products {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
