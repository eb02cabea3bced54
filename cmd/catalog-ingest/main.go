// Command catalog-ingest imports supplier catalog feeds into the product
// table. Feeds are gzip-compressed JSON lines files, one product per line.
// Suppliers routinely re-list the same product across feeds, so lines are
// deduplicated by product ID before hitting the database.
package main

import (
	"bufio"
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/rezerv/storefront/internal/domain/product"
	"github.com/rezerv/storefront/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.0001
	progressEvery = 100_000
)

func main() {
	var (
		dataDir     string
		databaseURL string
		workers     int
	)

	flag.StringVar(&dataDir, "data-dir", "data", "directory containing *.jsonl.gz feed files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&workers, "workers", 3, "number of feed files processed concurrently")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, dataDir, databaseURL, workers); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataDir, databaseURL string, workers int) error {
	files, err := filepath.Glob(filepath.Join(dataDir, "*.jsonl.gz"))
	if err != nil {
		return errors.Wrap(err, "glob feed files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.jsonl.gz files in %s", dataDir)
	}

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	ing := &ingester{
		repo: repository.NewProductRepository(pool),
		seen: bloom.NewWithEstimates(bloomCapacity, bloomFPR),
	}

	slog.Info("ingesting feeds", slog.Int("files", len(files)), slog.Int("workers", workers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, f := range files {
		g.Go(func() error {
			return ing.ingestFile(ctx, f)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("ingest summary",
		slog.Uint64("upserted", ing.upserted.Load()),
		slog.Uint64("duplicates", ing.duplicates.Load()),
		slog.Uint64("malformed", ing.malformed.Load()),
	)

	return nil
}

// ingester holds the state shared between feed workers.
type ingester struct {
	repo *repository.ProductRepository

	// seen tracks product IDs already upserted in this run. A bloom false
	// positive only skips a redundant upsert of the same feed data, so the
	// filter needs no exact fallback.
	mu   sync.Mutex
	seen *bloom.BloomFilter

	upserted   atomic.Uint64
	duplicates atomic.Uint64
	malformed  atomic.Uint64
}

// firstSeen records id and reports whether it was new in this run.
func (ing *ingester) firstSeen(id string) bool {
	ing.mu.Lock()
	defer ing.mu.Unlock()
	return !ing.seen.TestOrAddString(id)
}

func (ing *ingester) ingestFile(ctx context.Context, path string) error {
	slog.Info("ingesting feed", slog.String("file", filepath.Base(path)))

	var count uint64
	err := streamGzLines(ctx, path, func(line []byte) {
		count++
		if count%progressEvery == 0 {
			slog.Info("ingest progress",
				slog.String("file", filepath.Base(path)),
				slog.Uint64("lines", count),
			)
		}

		p, err := decodeFeedLine(line)
		if err != nil {
			ing.malformed.Add(1)
			return
		}
		if !ing.firstSeen(p.ID.String()) {
			ing.duplicates.Add(1)
			return
		}
		if err := ing.repo.Upsert(ctx, p); err != nil {
			slog.Error("upsert product",
				slog.String("id", p.ID.String()),
				slog.String("error", err.Error()),
			)
			return
		}
		ing.upserted.Add(1)
	})
	if err != nil {
		return errors.Wrapf(err, "ingest %s", path)
	}

	slog.Info("feed complete", slog.String("file", filepath.Base(path)), slog.Uint64("lines", count))
	return nil
}

// decodeFeedLine parses one feed line into a Product.
func decodeFeedLine(line []byte) (product.Product, error) {
	var p product.Product
	d := jx.DecodeBytes(line)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			s, err := d.Str()
			if err != nil {
				return err
			}
			id, err := uuid.Parse(s)
			if err != nil {
				return errors.Wrap(err, "product id")
			}
			p.ID = id
			return nil
		case "name":
			s, err := d.Str()
			p.Name = s
			return err
		case "description":
			s, err := d.Str()
			p.Description = s
			return err
		case "price":
			s, err := d.Str()
			if err != nil {
				return err
			}
			price, err := decimal.NewFromString(s)
			if err != nil {
				return errors.Wrap(err, "price")
			}
			p.Price = price
			return nil
		default:
			return d.Skip()
		}
	}); err != nil {
		return product.Product{}, err
	}

	if p.ID == uuid.Nil {
		return product.Product{}, errors.New("missing product id")
	}
	if p.Name == "" {
		return product.Product{}, errors.New("missing product name")
	}
	if p.Price.IsNegative() || p.Price.IsZero() {
		return product.Product{}, errors.New("price must be positive")
	}
	return p, nil
}

// streamGzLines opens a gzip-compressed file and calls fn for each line.
func streamGzLines(ctx context.Context, path string, fn func(line []byte)) error {
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
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Bytes())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}
