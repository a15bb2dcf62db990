// Command seed-db loads the catalog, stock counters, demo cart lines, and API
// keys a fresh deployment needs. Safe to re-run: every write is an upsert.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/shopforge/fulfillment/internal/domain/auth"
	"github.com/shopforge/fulfillment/internal/domain/cart"
	"github.com/shopforge/fulfillment/internal/domain/catalog"
	"github.com/shopforge/fulfillment/internal/handler"
	"github.com/shopforge/fulfillment/internal/storage/postgres"
	"github.com/shopforge/fulfillment/internal/storage/redisstore"
)

// productJSON mirrors one entry of the catalog seed file. Prices are decimal
// strings in major units ("499.00") and are converted to integer minor units
// before they touch the database.
type productJSON struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent int64           `json:"discount_percent"`
	Stock           int64           `json:"stock"`
	Variants        []variantJSON   `json:"variants"`
}

type variantJSON struct {
	ID    string `json:"id"`
	Size  string `json:"size"`
	Stock int64  `json:"stock"`
}

// stockSetter is satisfied by both the PostgreSQL and Redis counter stores.
type stockSetter interface {
	Set(ctx context.Context, skuID string, stock int64) error
}

func main() {
	var (
		databaseURL  string
		redisAddr    string
		catalogFile  string
		buyerKey     string
		adminKey     string
		apiKeyPepper string
		demoCart     bool
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address for stock counters; empty seeds them in PostgreSQL (or REDIS_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&buyerKey, "buyer-key", "", "buyer API key to seed (or SHOP_SEED_BUYER_KEY env)")
	flag.StringVar(&adminKey, "admin-key", "", "admin API key to seed (or SHOP_SEED_ADMIN_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.BoolVar(&demoCart, "demo-cart", false, "seed demo cart lines for the buyer user")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if redisAddr == "" {
		redisAddr = os.Getenv("REDIS_URL")
	}
	if buyerKey == "" {
		buyerKey = os.Getenv("SHOP_SEED_BUYER_KEY")
	}
	if buyerKey == "" {
		slog.Error("buyer API key is required: set --buyer-key or SHOP_SEED_BUYER_KEY")
		os.Exit(1)
	}
	if adminKey == "" {
		adminKey = os.Getenv("SHOP_SEED_ADMIN_KEY")
	}
	if adminKey == "" {
		slog.Error("admin API key is required: set --admin-key or SHOP_SEED_ADMIN_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := seedConfig{
		databaseURL:  databaseURL,
		redisAddr:    redisAddr,
		catalogFile:  catalogFile,
		buyerKey:     buyerKey,
		adminKey:     adminKey,
		apiKeyPepper: apiKeyPepper,
		demoCart:     demoCart,
	}
	if err := run(ctx, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

type seedConfig struct {
	databaseURL  string
	redisAddr    string
	catalogFile  string
	buyerKey     string
	adminKey     string
	apiKeyPepper string
	demoCart     bool
}

func run(ctx context.Context, cfg seedConfig) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, cfg.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var counters stockSetter = postgres.NewStockStore(pool)
	if cfg.redisAddr != "" {
		rdb := redisstore.New(cfg.redisAddr)
		defer func() { _ = rdb.Close() }()
		counters = redisstore.NewStockStore(rdb)
		slog.Info("seeding stock counters into Redis", slog.String("addr", cfg.redisAddr))
	}

	catalogRepo := postgres.NewCatalogRepository(pool)

	if err := seedCatalog(ctx, catalogRepo, counters, cfg.catalogFile); err != nil {
		return errors.Wrap(err, "seed catalog")
	}

	keys := postgres.NewAPIKeyRepository(pool)
	pepper := []byte(cfg.apiKeyPepper)

	if err := seedAPIKey(ctx, keys, auth.APIKeyInfo{
		ID:     "buyer-demo",
		Name:   "Demo buyer key",
		UserID: "user-demo",
		Scopes: []string{auth.ScopeBuyer},
	}, cfg.buyerKey, pepper); err != nil {
		return errors.Wrap(err, "seed buyer api key")
	}

	if err := seedAPIKey(ctx, keys, auth.APIKeyInfo{
		ID:     "admin-ops",
		Name:   "Operations admin key",
		Scopes: []string{auth.ScopeAdmin},
	}, cfg.adminKey, pepper); err != nil {
		return errors.Wrap(err, "seed admin api key")
	}

	if cfg.demoCart {
		if err := seedDemoCart(ctx, postgres.NewCartRepository(pool)); err != nil {
			return errors.Wrap(err, "seed demo cart")
		}
	}

	return nil
}

func seedCatalog(ctx context.Context, repo *postgres.CatalogRepository, counters stockSetter, path string) error {
	slog.Info("reading catalog file", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read catalog file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse catalog JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(products)))

	for _, p := range products {
		unitPrice, err := minorUnits(p.Price)
		if err != nil {
			return errors.Wrapf(err, "product %s price", p.ID)
		}

		if err := repo.UpsertProduct(ctx, catalog.Product{
			ID:              p.ID,
			Name:            p.Name,
			UnitPrice:       unitPrice,
			DiscountPercent: p.DiscountPercent,
			HasVariants:     len(p.Variants) > 0,
			Active:          true,
		}); err != nil {
			return err
		}

		if len(p.Variants) == 0 {
			if err := counters.Set(ctx, catalog.ProductSKU(p.ID), p.Stock); err != nil {
				return err
			}
			slog.Info("upserted product",
				slog.String("id", p.ID),
				slog.Int64("stock", p.Stock),
			)
			continue
		}

		for _, v := range p.Variants {
			if err := repo.UpsertVariant(ctx, catalog.Variant{
				ID:        v.ID,
				ProductID: p.ID,
				Size:      v.Size,
				Active:    true,
			}); err != nil {
				return err
			}
			if err := counters.Set(ctx, catalog.VariantSKU(v.ID), v.Stock); err != nil {
				return err
			}
		}

		slog.Info("upserted product",
			slog.String("id", p.ID),
			slog.Int("variants", len(p.Variants)),
		)
	}

	return nil
}

// minorUnits converts a major-unit decimal price ("499.00") to integer minor
// units, rejecting sub-paisa precision.
func minorUnits(price decimal.Decimal) (int64, error) {
	shifted := price.Shift(2)
	if !shifted.IsInteger() {
		return 0, errors.Errorf("price %s has sub-minor-unit precision", price)
	}
	if shifted.IsNegative() {
		return 0, errors.Errorf("price %s is negative", price)
	}
	return shifted.IntPart(), nil
}

func seedAPIKey(ctx context.Context, repo *postgres.APIKeyRepository, info auth.APIKeyInfo, key string, pepper []byte) error {
	info.KeyHash = handler.HashAPIKey(key, pepper)
	if err := repo.Upsert(ctx, info); err != nil {
		return err
	}
	slog.Info("upserted API key", slog.String("id", info.ID), slog.String("name", info.Name))
	return nil
}

// seedDemoCart gives the demo buyer a ready-to-checkout cart.
func seedDemoCart(ctx context.Context, repo *postgres.CartRepository) error {
	lines := []cart.Line{
		{ID: "cart-demo-1", UserID: "user-demo", ProductID: "tee-classic", VariantID: "tee-classic-m", Quantity: 2},
		{ID: "cart-demo-2", UserID: "user-demo", ProductID: "tote-canvas", Quantity: 1},
	}
	for _, l := range lines {
		if err := repo.Upsert(ctx, l); err != nil {
			return err
		}
	}
	slog.Info("seeded demo cart", slog.Int("lines", len(lines)))
	return nil
}
