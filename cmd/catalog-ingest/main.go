// Command catalog-ingest imports warehouse stock feeds into the stock
// counters. Each feed is a gzip-compressed text file named stockfeed-*.gz
// with one "sku quantity" pair per line, exported per warehouse. Feeds are
// streamed concurrently, quantities for the same SKU are summed across
// warehouses, and only SKUs present in the live catalog are written.
//
// Feeds run far larger than the catalog, so a bloom filter built from the
// live SKU set drops retired-SKU lines before they enter the aggregate; the
// exact catalog check at write time catches the filter's false positives.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/shopforge/fulfillment/internal/domain/catalog"
	"github.com/shopforge/fulfillment/internal/storage/postgres"
	"github.com/shopforge/fulfillment/internal/storage/redisstore"
)

const (
	bloomFPR      = 0.001
	progressEvery = 1_000_000
)

// feedResult holds the aggregated counts from a single warehouse feed.
type feedResult struct {
	counts     map[string]int64
	duplicates uint64
	dropped    uint64
}

type stockSetter interface {
	Set(ctx context.Context, skuID string, stock int64) error
}

func main() {
	var (
		dataDir     string
		databaseURL string
		redisAddr   string
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing stockfeed-*.gz files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&redisAddr, "redis-addr", "", "Redis address for stock counters; empty writes them in PostgreSQL (or REDIS_URL env)")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, redisAddr); err != nil {
		slog.Error("stock ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("stock ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL, redisAddr string) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "stockfeed-*.gz"))
	if err != nil {
		return errors.Wrap(err, "list feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no stockfeed-*.gz files in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	known, err := knownSKUs(ctx, postgres.NewCatalogRepository(pool))
	if err != nil {
		return err
	}

	slog.Info("aggregating warehouse feeds",
		slog.Int("files", len(files)),
		slog.Int("catalog_skus", len(known)),
	)

	merged, err := aggregateFeeds(ctx, files, knownFilter(known))
	if err != nil {
		return errors.Wrap(err, "aggregate feeds")
	}

	slog.Info("feed SKUs aggregated", slog.Int("count", len(merged)))

	var counters stockSetter = postgres.NewStockStore(pool)
	if redisAddr != "" {
		rdb := redisstore.New(redisAddr)
		defer func() { _ = rdb.Close() }()
		counters = redisstore.NewStockStore(rdb)
		slog.Info("writing stock counters to Redis", slog.String("addr", redisAddr))
	}

	if err := writeCounters(ctx, known, counters, merged); err != nil {
		return errors.Wrap(err, "write stock counters")
	}

	return nil
}

// knownFilter packs the live SKU set into a bloom filter cheap enough to
// consult on every feed line. Read-only after construction, so it is shared
// across the feed goroutines without locking.
func knownFilter(known map[string]bool) *bloom.BloomFilter {
	f := bloom.NewWithEstimates(uint(len(known))+1, bloomFPR)
	for sku := range known {
		f.AddString(sku)
	}
	return f
}

// aggregateFeeds streams all feed files concurrently and sums quantities per
// SKU across warehouses.
func aggregateFeeds(ctx context.Context, files []string, prefilter *bloom.BloomFilter) (map[string]int64, error) {
	results := make([]feedResult, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, f := range files {
		g.Go(aggregateFeedFile(ctx, i, f, prefilter, results))
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]int64)
	for _, r := range results {
		for sku, qty := range r.counts {
			merged[sku] += qty
		}
	}

	return merged, nil
}

// aggregateFeedFile reads one warehouse feed. Lines whose SKU the prefilter
// definitely does not know are dropped before they enter the aggregate, so
// the per-feed map stays catalog-sized. A SKU appearing twice in the same
// feed indicates a corrupt export; the first line wins and the duplicate is
// counted.
func aggregateFeedFile(ctx context.Context, idx int, path string, prefilter *bloom.BloomFilter, results []feedResult) func() error {
	return func() error {
		counts := make(map[string]int64)
		var duplicates, dropped uint64
		var lines uint64

		if err := streamGzFile(ctx, path, func(line string) error {
			lines++
			if lines%progressEvery == 0 {
				slog.Info("feed progress",
					slog.String("file", filepath.Base(path)),
					slog.Uint64("lines", lines),
				)
			}

			sku, qty, err := parseFeedLine(line)
			if err != nil {
				return errors.Wrapf(err, "line %d", lines)
			}
			if sku == "" {
				return nil
			}

			if !prefilter.TestString(sku) {
				dropped++
				return nil
			}
			if _, ok := counts[sku]; ok {
				duplicates++
				return nil
			}
			counts[sku] = qty
			return nil
		}); err != nil {
			return errors.Wrapf(err, "read feed %s", filepath.Base(path))
		}

		slog.Info("feed complete",
			slog.String("file", filepath.Base(path)),
			slog.Uint64("lines", lines),
			slog.Int("skus", len(counts)),
			slog.Uint64("duplicates", duplicates),
			slog.Uint64("dropped", dropped),
		)

		results[idx] = feedResult{counts: counts, duplicates: duplicates, dropped: dropped}
		return nil
	}
}

// parseFeedLine splits "sku quantity". Blank lines and #-comments yield an
// empty SKU.
func parseFeedLine(line string) (string, int64, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", 0, nil
	}
	fields := strings.Fields(line)
	if len(fields) != 2 {
		return "", 0, errors.Errorf("malformed line %q", line)
	}
	qty, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return "", 0, errors.Wrapf(err, "parse quantity %q", fields[1])
	}
	if qty < 0 {
		return "", 0, errors.Errorf("negative quantity %d for sku %s", qty, fields[0])
	}
	return fields[0], qty, nil
}

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(scanner.Text()); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// writeCounters writes aggregated counts for SKUs the catalog still sells.
// The exact membership check here is authoritative: retired SKUs that slip
// through the prefilter as false positives are skipped, not failed.
func writeCounters(ctx context.Context, known map[string]bool, counters stockSetter, merged map[string]int64) error {
	slog.Info("writing stock counters",
		slog.Int("feed_skus", len(merged)),
		slog.Int("catalog_skus", len(known)),
	)

	var written, skipped int
	for sku, qty := range merged {
		if !known[sku] {
			skipped++
			continue
		}
		if err := counters.Set(ctx, sku, qty); err != nil {
			return err
		}
		written++
		if written%100 == 0 {
			slog.Info("write progress", slog.Int("written", written))
		}
	}

	slog.Info("stock counters written", slog.Int("written", written), slog.Int("skipped", skipped))
	return nil
}

// knownSKUs builds the set of counter keys the live catalog sells.
func knownSKUs(ctx context.Context, repo *postgres.CatalogRepository) (map[string]bool, error) {
	products, err := repo.ListProducts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}

	known := make(map[string]bool)
	for _, p := range products {
		if !p.HasVariants {
			known[catalog.ProductSKU(p.ID)] = true
			continue
		}
		variants, err := repo.ListVariants(ctx, p.ID)
		if err != nil {
			return nil, errors.Wrapf(err, "list variants for %s", p.ID)
		}
		for _, v := range variants {
			if v.Active {
				known[catalog.VariantSKU(v.ID)] = true
			}
		}
	}

	return known, nil
}
