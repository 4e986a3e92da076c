// Package seed loads the initial shoe catalog into an empty store.
package seed

import (
	"context"
	"errors"
	"fmt"

	"shop-assistant/internal/domain"
)

// Store is the write side a catalog must offer to be seeded.
type Store interface {
	Count(ctx context.Context) (int, error)
	Save(ctx context.Context, p domain.Product) (domain.Product, error)
}

type row struct {
	name, brand, category, size, color string
	price                              float64
	stock                              int
	description                        string
}

var catalog = []row{
	{"Pegasus 40", "Nike", "Running", "42", "Negro", 120, 8, "Running diaria"},
	{"Ultraboost Light", "Adidas", "Running", "42", "Blanco", 150, 5, "Amortiguación premium"},
	{"Suede Classic", "Puma", "Casual", "41", "Azul", 80, 12, "Clásico de gamuza"},
	{"Classic Leather", "Reebok", "Casual", "42", "Blanco", 90, 10, "Clásico urbano"},
	{"Fresh Foam 1080", "New Balance", "Running", "42", "Gris", 160, 6, "Amortiguación suave"},
	{"Gel-Cumulus 25", "ASICS", "Running", "42", "Azul", 140, 7, "Entrenamiento diario"},
	{"Madrid", "Hush Puppies", "Formal", "42", "Café", 110, 4, "Zapato de vestir"},
	{"Chuck 70", "Converse", "Casual", "42", "Negro", 75, 15, "Clásica lona"},
	{"Old Skool", "Vans", "Casual", "42", "Negro", 70, 20, "Skate clásico"},
	{"Go Run Ride 11", "Skechers", "Running", "42", "Rojo", 95, 9, "Ligero y cómodo"},
}

// Products returns the default catalog as validated, not yet persisted products.
func Products() ([]domain.Product, error) {
	out := make([]domain.Product, 0, len(catalog))
	for _, r := range catalog {
		p, err := domain.NewProduct(0, r.name, r.brand, r.category, r.size, r.color, r.price, r.stock, r.description)
		if err != nil {
			return nil, fmt.Errorf("seed: %s: %w", r.name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// Load saves the default catalog when the store is empty and reports how
// many products it inserted.
func Load(ctx context.Context, s Store) (int, error) {
	if s == nil {
		return 0, errors.New("seed: store must not be nil")
	}
	n, err := s.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("seed: count products: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	products, err := Products()
	if err != nil {
		return 0, err
	}
	for i, p := range products {
		if _, err := s.Save(ctx, p); err != nil {
			return i, fmt.Errorf("seed: save %s: %w", p.Name, err)
		}
	}
	return len(products), nil
}
