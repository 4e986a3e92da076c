package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/metrics"
)

const productColumns = `id, name, brand, category, size, color, price, stock, description`

// Catalog stores products in the products table.
type Catalog struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

func NewCatalog(db *sql.DB, opts ...Option) (*Catalog, error) {
	if db == nil {
		return nil, errors.New("sqlite: db must not be nil")
	}
	o := buildOptions(opts)
	return &Catalog{db: db, metrics: o.metrics}, nil
}

func (c *Catalog) GetAll(ctx context.Context) (products []domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_get_all", err) }()
	return c.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
}

func (c *Catalog) GetByID(ctx context.Context, id int64) (p domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_get_by_id", err) }()
	row := c.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id)
	p, err = scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("sqlite: product %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("sqlite: GetByID: %w", err)
	}
	return p, nil
}

func (c *Catalog) GetByBrand(ctx context.Context, brand string) (products []domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_get_by_brand", err) }()
	return c.query(ctx, `SELECT `+productColumns+` FROM products WHERE brand = ? ORDER BY id`, brand)
}

func (c *Catalog) GetByCategory(ctx context.Context, category string) (products []domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_get_by_category", err) }()
	return c.query(ctx, `SELECT `+productColumns+` FROM products WHERE category = ? ORDER BY id`, category)
}

func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: Count: %w", err)
	}
	return n, nil
}

// Save inserts p when p.ID is zero, otherwise updates the existing row.
func (c *Catalog) Save(ctx context.Context, p domain.Product) (saved domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_save", err) }()
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}

	if p.ID == 0 {
		res, err := c.db.ExecContext(ctx,
			`INSERT INTO products (name, brand, category, size, color, price, stock, description)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			p.Name, p.Brand, p.Category, p.Size, p.Color, p.Price, p.Stock, p.Description)
		if err != nil {
			return domain.Product{}, fmt.Errorf("sqlite: Save insert: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return domain.Product{}, fmt.Errorf("sqlite: Save insert id: %w", err)
		}
		p.ID = id
		return p, nil
	}

	res, err := c.db.ExecContext(ctx,
		`UPDATE products SET name = ?, brand = ?, category = ?, size = ?, color = ?, price = ?, stock = ?, description = ?
		 WHERE id = ?`,
		p.Name, p.Brand, p.Category, p.Size, p.Color, p.Price, p.Stock, p.Description, p.ID)
	if err != nil {
		return domain.Product{}, fmt.Errorf("sqlite: Save update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Product{}, fmt.Errorf("sqlite: product %d: %w", p.ID, domain.ErrNotFound)
	}
	return p, nil
}

func (c *Catalog) query(ctx context.Context, q string, args ...any) ([]domain.Product, error) {
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate products: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (domain.Product, error) {
	var (
		id                                           int64
		name, brand, category, size, color, descript string
		price                                        float64
		stock                                        int
	)
	if err := s.Scan(&id, &name, &brand, &category, &size, &color, &price, &stock, &descript); err != nil {
		return domain.Product{}, err
	}
	return domain.NewProduct(id, name, brand, category, size, color, price, stock, descript)
}
