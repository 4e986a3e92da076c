// Package postgres implements the product catalog on PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"shop-assistant/internal/domain"
	"shop-assistant/internal/metrics"
)

const (
	storeName      = "postgres"
	productColumns = `id, name, brand, category, size, color, price, stock, description`
)

// querier is the subset of *pgxpool.Pool used by Catalog.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var _ querier = (*pgxpool.Pool)(nil)

// Connect opens a pool and verifies the server is reachable.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the products table if it does not exist.
func EnsureSchema(ctx context.Context, db querier) error {
	_, err := db.Exec(ctx, `
CREATE TABLE IF NOT EXISTS products (
  id bigserial PRIMARY KEY,
  name text NOT NULL,
  brand text NOT NULL DEFAULT '',
  category text NOT NULL DEFAULT '',
  size text NOT NULL DEFAULT '',
  color text NOT NULL DEFAULT '',
  price double precision NOT NULL CHECK (price > 0),
  stock integer NOT NULL DEFAULT 0 CHECK (stock >= 0),
  description text NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS products_brand_idx ON products (brand);
CREATE INDEX IF NOT EXISTS products_category_idx ON products (category);`)
	if err != nil {
		return fmt.Errorf("postgres: ensure schema: %w", err)
	}
	return nil
}

type Catalog struct {
	db      querier
	metrics *metrics.Metrics
}

func NewCatalog(db querier, m *metrics.Metrics) (*Catalog, error) {
	if db == nil {
		return nil, errors.New("postgres: db must not be nil")
	}
	return &Catalog{db: db, metrics: m}, nil
}

func (c *Catalog) GetAll(ctx context.Context) (products []domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_get_all", err) }()
	return c.query(ctx, `SELECT `+productColumns+` FROM products ORDER BY id`)
}

func (c *Catalog) GetByID(ctx context.Context, id int64) (p domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_get_by_id", err) }()
	p, err = scanProduct(c.db.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("postgres: product %d: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Product{}, fmt.Errorf("postgres: GetByID: %w", err)
	}
	return p, nil
}

func (c *Catalog) GetByBrand(ctx context.Context, brand string) (products []domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_get_by_brand", err) }()
	return c.query(ctx, `SELECT `+productColumns+` FROM products WHERE brand = $1 ORDER BY id`, brand)
}

func (c *Catalog) GetByCategory(ctx context.Context, category string) (products []domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_get_by_category", err) }()
	return c.query(ctx, `SELECT `+productColumns+` FROM products WHERE category = $1 ORDER BY id`, category)
}

func (c *Catalog) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRow(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: Count: %w", err)
	}
	return n, nil
}

// Save inserts p when p.ID is zero, otherwise upserts it under its ID.
func (c *Catalog) Save(ctx context.Context, p domain.Product) (saved domain.Product, err error) {
	defer func() { c.metrics.RecordStoreOperation(storeName, "catalog_save", err) }()
	if err := p.Validate(); err != nil {
		return domain.Product{}, err
	}
	if p.ID == 0 {
		err = c.db.QueryRow(ctx,
			`INSERT INTO products (name, brand, category, size, color, price, stock, description)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			p.Name, p.Brand, p.Category, p.Size, p.Color, p.Price, p.Stock, p.Description).Scan(&p.ID)
		if err != nil {
			return domain.Product{}, fmt.Errorf("postgres: Save insert: %w", err)
		}
		return p, nil
	}
	_, err = c.db.Exec(ctx,
		`INSERT INTO products (id, name, brand, category, size, color, price, stock, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, brand = EXCLUDED.brand,
		   category = EXCLUDED.category, size = EXCLUDED.size, color = EXCLUDED.color,
		   price = EXCLUDED.price, stock = EXCLUDED.stock, description = EXCLUDED.description`,
		p.ID, p.Name, p.Brand, p.Category, p.Size, p.Color, p.Price, p.Stock, p.Description)
	if err != nil {
		return domain.Product{}, fmt.Errorf("postgres: Save upsert: %w", err)
	}
	return p, nil
}

func (c *Catalog) query(ctx context.Context, sql string, args ...any) ([]domain.Product, error) {
	rows, err := c.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query products: %w", err)
	}
	defer rows.Close()

	var out []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate products: %w", err)
	}
	return out, nil
}

func scanProduct(row pgx.Row) (domain.Product, error) {
	var (
		id                                        int64
		name, brand, category, size, color, descr string
		price                                     float64
		stock                                     int
	)
	if err := row.Scan(&id, &name, &brand, &category, &size, &color, &price, &stock, &descr); err != nil {
		return domain.Product{}, err
	}
	return domain.NewProduct(id, name, brand, category, size, color, price, stock, descr)
}
