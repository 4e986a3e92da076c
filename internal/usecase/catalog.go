package usecase

import (
	"context"
	"errors"
	"strings"

	"shop-assistant/internal/domain"
)

// ProductFilter selects products by exact attribute match and an inclusive
// price range. Empty strings and zero prices are ignored.
type ProductFilter struct {
	Brand    string
	Category string
	Size     string
	Color    string
	MinPrice float64
	MaxPrice float64
}

// CatalogService exposes read-only catalog queries.
type CatalogService struct {
	catalog CatalogReader
}

func NewCatalogService(catalog CatalogReader) (*CatalogService, error) {
	if catalog == nil {
		return nil, errors.New("usecase: catalog reader must not be nil")
	}
	return &CatalogService{catalog: catalog}, nil
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.catalog.GetAll(ctx)
	if err != nil {
		return nil, newError(ErrorInternal, "catalog_read_error", err)
	}
	return products, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	if id <= 0 {
		return domain.Product{}, newError(ErrorInvalidInput, "invalid_product_id", nil)
	}
	p, err := s.catalog.GetByID(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Product{}, newError(ErrorNotFound, "product_not_found", err)
	}
	if err != nil {
		return domain.Product{}, newError(ErrorInternal, "catalog_read_error", err)
	}
	return p, nil
}

// AvailableProducts returns products with stock on hand.
func (s *CatalogService) AvailableProducts(ctx context.Context) ([]domain.Product, error) {
	products, err := s.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if p.IsAvailable() {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *CatalogService) SearchProducts(ctx context.Context, f ProductFilter) ([]domain.Product, error) {
	if f.MinPrice < 0 || f.MaxPrice < 0 || (f.MaxPrice > 0 && f.MinPrice > f.MaxPrice) {
		return nil, newError(ErrorInvalidInput, "invalid_price_range", nil)
	}

	var (
		products []domain.Product
		err      error
	)
	brand, category := strings.TrimSpace(f.Brand), strings.TrimSpace(f.Category)
	switch {
	case brand != "":
		products, err = s.catalog.GetByBrand(ctx, brand)
	case category != "":
		products, err = s.catalog.GetByCategory(ctx, category)
	default:
		products, err = s.catalog.GetAll(ctx)
	}
	if err != nil {
		return nil, newError(ErrorInternal, "catalog_read_error", err)
	}

	out := make([]domain.Product, 0, len(products))
	for _, p := range products {
		if f.matches(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f ProductFilter) matches(p domain.Product) bool {
	if v := strings.TrimSpace(f.Brand); v != "" && p.Brand != v {
		return false
	}
	if v := strings.TrimSpace(f.Category); v != "" && p.Category != v {
		return false
	}
	if v := strings.TrimSpace(f.Size); v != "" && p.Size != v {
		return false
	}
	if v := strings.TrimSpace(f.Color); v != "" && p.Color != v {
		return false
	}
	if f.MinPrice > 0 && p.Price < f.MinPrice {
		return false
	}
	if f.MaxPrice > 0 && p.Price > f.MaxPrice {
		return false
	}
	return true
}
