// Command seed-db provisions a development database: it runs migrations and
// fills the catalog and user directory with demo data.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rezerv/storefront/internal/domain/product"
	"github.com/rezerv/storefront/internal/domain/user"
	"github.com/rezerv/storefront/internal/repository"
)

func main() {
	var (
		databaseURL string
		products    int
		customers   int
		staff       int
		seed        uint64
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.IntVar(&products, "products", 20, "number of demo products")
	flag.IntVar(&customers, "customers", 10, "number of demo customers")
	flag.IntVar(&staff, "staff", 3, "number of demo staff members")
	flag.Uint64Var(&seed, "seed", 0, "fake data seed, 0 for random")
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

	if err := run(ctx, databaseURL, products, customers, staff, seed); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL string, products, customers, staff int, seed uint64) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	faker := gofakeit.New(seed)

	if err := seedProducts(ctx, repository.NewProductRepository(pool), faker, products); err != nil {
		return errors.Wrap(err, "seed products")
	}

	if err := seedUsers(ctx, repository.NewUserRepository(pool), faker, customers, staff); err != nil {
		return errors.Wrap(err, "seed users")
	}

	return nil
}

func seedProducts(ctx context.Context, repo *repository.ProductRepository, faker *gofakeit.Faker, count int) error {
	slog.Info("seeding products", slog.Int("count", count))

	for range count {
		p := product.Product{
			ID:          uuid.New(),
			Name:        faker.ProductName(),
			Description: faker.ProductDescription(),
			Price:       decimal.NewFromFloat(faker.Price(3, 150)).Round(2),
		}
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("name", p.Name), slog.String("price", p.Price.String()))
	}

	return nil
}

func seedUsers(ctx context.Context, repo *repository.UserRepository, faker *gofakeit.Faker, customers, staff int) error {
	slog.Info("seeding users", slog.Int("customers", customers), slog.Int("staff", staff))

	for range customers {
		u := user.User{
			ID:       uuid.New(),
			Username: faker.Username(),
			Phone:    faker.Phone(),
			Role:     user.RoleCustomer,
			Active:   true,
		}
		if err := repo.Create(ctx, u); err != nil {
			return errors.Wrapf(err, "create customer %s", u.Username)
		}
	}

	for range staff {
		u := user.User{
			ID:       uuid.New(),
			Username: faker.Username(),
			Phone:    faker.Phone(),
			ChatID:   faker.DigitN(9),
			Role:     user.RoleStaff,
			Active:   true,
		}
		if err := repo.Create(ctx, u); err != nil {
			return errors.Wrapf(err, "create staff %s", u.Username)
		}

		slog.Info("created staff member", slog.String("username", u.Username), slog.String("chat_id", u.ChatID))
	}

	return nil
}
