package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/fulfillment/internal/domain/catalog"
)

const (
	getProductSQL = `SELECT id, name, unit_price, discount_percent, has_variants, active
		FROM products WHERE id = $1`

	getVariantSQL = `SELECT id, product_id, size, active
		FROM product_variants WHERE id = $1`

	listProductsSQL = `SELECT id, name, unit_price, discount_percent, has_variants, active
		FROM products WHERE active = TRUE ORDER BY id`

	listVariantsSQL = `SELECT id, product_id, size, active
		FROM product_variants WHERE product_id = $1 ORDER BY id`

	upsertProductSQL = `INSERT INTO products (id, name, unit_price, discount_percent, has_variants, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			unit_price = EXCLUDED.unit_price,
			discount_percent = EXCLUDED.discount_percent,
			has_variants = EXCLUDED.has_variants,
			active = EXCLUDED.active`

	upsertVariantSQL = `INSERT INTO product_variants (id, product_id, size, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			product_id = EXCLUDED.product_id,
			size = EXCLUDED.size,
			active = EXCLUDED.active`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetProduct returns a single product by its identifier.
func (r *CatalogRepository) GetProduct(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}

	p, err := pgx.CollectExactlyOneRow(rows, scanCatalogProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrProductNotFound
		}
		return nil, fmt.Errorf("getting product %q: %w", id, err)
	}
	return &p, nil
}

// GetVariant returns a single product variant by its identifier.
func (r *CatalogRepository) GetVariant(ctx context.Context, id string) (*catalog.Variant, error) {
	rows, err := r.pool.Query(ctx, getVariantSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}

	v, err := pgx.CollectExactlyOneRow(rows, scanVariant)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrVariantNotFound
		}
		return nil, fmt.Errorf("getting variant %q: %w", id, err)
	}
	return &v, nil
}

// ListProducts returns the active catalog ordered by id.
func (r *CatalogRepository) ListProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := r.pool.Query(ctx, listProductsSQL)
	if err != nil {
		return nil, fmt.Errorf("listing products: %w", err)
	}
	return pgx.CollectRows(rows, scanCatalogProduct)
}

// ListVariants returns the variants of one product.
func (r *CatalogRepository) ListVariants(ctx context.Context, productID string) ([]catalog.Variant, error) {
	rows, err := r.pool.Query(ctx, listVariantsSQL, productID)
	if err != nil {
		return nil, fmt.Errorf("listing variants for product %q: %w", productID, err)
	}
	return pgx.CollectRows(rows, scanVariant)
}

// UpsertProduct writes a catalog product, replacing an existing one. Used by
// seeding and bulk imports.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := r.pool.Exec(ctx, upsertProductSQL,
		p.ID, p.Name, p.UnitPrice, p.DiscountPercent, p.HasVariants, p.Active,
	)
	if err != nil {
		return fmt.Errorf("upserting product %q: %w", p.ID, err)
	}
	return nil
}

// UpsertVariant writes a product variant, replacing an existing one.
func (r *CatalogRepository) UpsertVariant(ctx context.Context, v catalog.Variant) error {
	_, err := r.pool.Exec(ctx, upsertVariantSQL, v.ID, v.ProductID, v.Size, v.Active)
	if err != nil {
		return fmt.Errorf("upserting variant %q: %w", v.ID, err)
	}
	return nil
}

func scanCatalogProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.UnitPrice, &p.DiscountPercent, &p.HasVariants, &p.Active)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var v catalog.Variant
	err := row.Scan(&v.ID, &v.ProductID, &v.Size, &v.Active)
	return v, err
}
