package domain

import "strings"

// Product is a catalog entry. ID is zero until the product is persisted.
type Product struct {
	ID          int64
	Name        string
	Brand       string
	Category    string
	Size        string
	Color       string
	Price       float64
	Stock       int
	Description string
}

// NewProduct builds a Product and enforces its invariants, so every code path
// that materializes a catalog entry (seed data, store rows) is validated.
func NewProduct(id int64, name, brand, category, size, color string, price float64, stock int, description string) (Product, error) {
	p := Product{
		ID:          id,
		Name:        name,
		Brand:       brand,
		Category:    category,
		Size:        size,
		Color:       color,
		Price:       price,
		Stock:       stock,
		Description: description,
	}
	if err := p.Validate(); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Validate reports the first violated product invariant.
func (p Product) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("name", "must not be empty")
	}
	if p.Price <= 0 {
		return invalid("price", "must be greater than 0")
	}
	if p.Stock < 0 {
		return invalid("stock", "must not be negative")
	}
	return nil
}

func (p Product) IsAvailable() bool {
	return p.Stock > 0
}

// ReduceStock removes qty units. On error the stock is left unchanged.
func (p *Product) ReduceStock(qty int) error {
	if qty <= 0 {
		return invalid("quantity", "must be positive")
	}
	if qty > p.Stock {
		return invalid("quantity", "exceeds available stock")
	}
	p.Stock -= qty
	return nil
}

func (p *Product) IncreaseStock(qty int) error {
	if qty <= 0 {
		return invalid("quantity", "must be positive")
	}
	p.Stock += qty
	return nil
}
