package repository_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/goleak"

	"github.com/rezerv/storefront/internal/domain/cart"
	"github.com/rezerv/storefront/internal/domain/executor"
	"github.com/rezerv/storefront/internal/domain/order"
	"github.com/rezerv/storefront/internal/domain/product"
	"github.com/rezerv/storefront/internal/domain/user"
	"github.com/rezerv/storefront/internal/repository"
)

type repositorySuite struct {
	suite.Suite

	container testcontainers.Container
	pool      *pgxpool.Pool

	products      *repository.ProductRepository
	users         *repository.UserRepository
	carts         *repository.CartRepository
	orders        *repository.OrderRepository
	notifications *repository.NotificationRepository
}

func TestRepositorySuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container-backed tests in short mode")
	}
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("github.com/testcontainers/testcontainers-go.(*Reaper).connect.func1"))

	suite.Run(t, new(repositorySuite))
}

func (s *repositorySuite) SetupSuite() {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("storefront_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	s.Require().NoError(err)

	s.pool, err = repository.NewPool(ctx, connStr)
	s.Require().NoError(err)
	s.Require().NoError(repository.RunMigrations(ctx, s.pool))

	s.products = repository.NewProductRepository(s.pool)
	s.users = repository.NewUserRepository(s.pool)
	s.carts = repository.NewCartRepository(s.pool)
	s.orders = repository.NewOrderRepository(s.pool)
	s.notifications = repository.NewNotificationRepository(s.pool)
}

func (s *repositorySuite) TearDownSuite() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

// --- Fixtures ---

func (s *repositorySuite) createProduct(price string) product.Product {
	p := product.Product{
		ID:          uuid.New(),
		Name:        gofakeit.ProductName() + " " + gofakeit.DigitN(6),
		Description: gofakeit.ProductDescription(),
		Price:       decimal.RequireFromString(price),
	}
	s.Require().NoError(s.products.Upsert(context.Background(), p))
	return p
}

func (s *repositorySuite) createUser(role user.Role, chatID string) user.User {
	u := user.User{
		ID:       uuid.New(),
		Username: gofakeit.Username() + gofakeit.DigitN(6),
		Phone:    gofakeit.Phone(),
		ChatID:   chatID,
		Role:     role,
		Active:   true,
	}
	s.Require().NoError(s.users.Create(context.Background(), u))
	return u
}

// createOrder builds a created order with one line through the cart flow.
func (s *repositorySuite) createOrder(customerID uuid.UUID) *order.Order {
	ctx := context.Background()
	p := s.createProduct("10.00")

	c, err := s.carts.Create(ctx, &customerID)
	s.Require().NoError(err)
	s.Require().NoError(s.carts.AddItem(ctx, c.ID, p.ID, 1))

	o, err := s.carts.ConvertToOrder(ctx, c.ID, gofakeit.Street(), "")
	s.Require().NoError(err)
	return o
}

// --- Products ---

func (s *repositorySuite) TestProductUpsertAndGet() {
	t := s.T()
	ctx := context.Background()

	p := s.createProduct("12.50")

	got, err := s.products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Name, got.Name)
	assert.True(t, p.Price.Equal(got.Price))

	// Upsert with the same ID updates in place.
	p.Price = decimal.RequireFromString("14.00")
	require.NoError(t, s.products.Upsert(ctx, p))

	got, err = s.products.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.Price.Equal(decimal.RequireFromString("14.00")))
}

func (s *repositorySuite) TestProductNotFound() {
	_, err := s.products.GetByID(context.Background(), uuid.New())
	require.ErrorIs(s.T(), err, product.ErrNotFound)
}

// --- Users ---

func (s *repositorySuite) TestUserCreateAndGet() {
	t := s.T()

	u := s.createUser(user.RoleCustomer, "")

	got, err := s.users.GetByID(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, u.Username, got.Username)
	assert.Equal(t, user.RoleCustomer, got.Role)
	assert.Empty(t, got.ChatID)

	_, err = s.users.GetByID(context.Background(), uuid.New())
	require.ErrorIs(t, err, user.ErrNotFound)
}

func (s *repositorySuite) TestListNotifiable() {
	t := s.T()
	ctx := context.Background()

	staff := s.createUser(user.RoleStaff, gofakeit.DigitN(9))
	admin := s.createUser(user.RoleAdmin, gofakeit.DigitN(9))
	s.createUser(user.RoleCustomer, gofakeit.DigitN(9)) // customers never notified
	s.createUser(user.RoleStaff, "")                    // no chat binding

	recipients, err := s.users.ListNotifiable(ctx)
	require.NoError(t, err)

	byID := make(map[uuid.UUID]bool, len(recipients))
	for _, r := range recipients {
		byID[r.ID] = r.CanClaim
	}

	canClaim, ok := byID[staff.ID]
	require.True(t, ok, "staff member must be notifiable")
	assert.True(t, canClaim)

	canClaim, ok = byID[admin.ID]
	require.True(t, ok, "admin must be notifiable")
	assert.False(t, canClaim, "admins get no claim button")
}

// --- Carts ---

func (s *repositorySuite) TestCartAddItemMergesAndReprices() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	p := s.createProduct("10.00")

	c, err := s.carts.Create(ctx, &customer.ID)
	require.NoError(t, err)

	require.NoError(t, s.carts.AddItem(ctx, c.ID, p.ID, 2))
	require.NoError(t, s.carts.AddItem(ctx, c.ID, p.ID, 3))

	got, err := s.carts.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 5, got.Items[0].Quantity)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("50.00")),
		"line price %s", got.Items[0].Price)
}

func (s *repositorySuite) TestCartAddItemUnknownProduct() {
	ctx := context.Background()
	customer := s.createUser(user.RoleCustomer, "")

	c, err := s.carts.Create(ctx, &customer.ID)
	s.Require().NoError(err)

	err = s.carts.AddItem(ctx, c.ID, uuid.New(), 1)
	s.Require().ErrorIs(err, product.ErrNotFound)
}

func (s *repositorySuite) TestCartUpdateAndRemove() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	p := s.createProduct("4.00")

	c, err := s.carts.Create(ctx, &customer.ID)
	require.NoError(t, err)
	require.NoError(t, s.carts.AddItem(ctx, c.ID, p.ID, 1))

	require.NoError(t, s.carts.UpdateQuantity(ctx, c.ID, p.ID, 4))

	got, err := s.carts.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 4, got.Items[0].Quantity)
	assert.True(t, got.Items[0].Price.Equal(decimal.RequireFromString("16.00")))

	require.NoError(t, s.carts.RemoveItem(ctx, c.ID, p.ID))
	require.ErrorIs(t, s.carts.RemoveItem(ctx, c.ID, p.ID), cart.ErrItemNotFound)
	require.ErrorIs(t, s.carts.UpdateQuantity(ctx, c.ID, p.ID, 2), cart.ErrItemNotFound)
}

func (s *repositorySuite) TestCartGetNotFound() {
	_, err := s.carts.Get(context.Background(), uuid.New())
	s.Require().ErrorIs(err, cart.ErrNotFound)
}

// --- Conversion ---

func (s *repositorySuite) TestConvertToOrder() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	roses := s.createProduct("10.00")
	tulips := s.createProduct("5.00")

	c, err := s.carts.Create(ctx, &customer.ID)
	require.NoError(t, err)
	require.NoError(t, s.carts.AddItem(ctx, c.ID, roses.ID, 2))
	require.NoError(t, s.carts.AddItem(ctx, c.ID, tulips.ID, 1))

	o, err := s.carts.ConvertToOrder(ctx, c.ID, "12 Main St", "ring twice")
	require.NoError(t, err)

	assert.Equal(t, order.StatusCreated, o.Status)
	assert.Equal(t, customer.ID, o.CustomerID)
	assert.Nil(t, o.ExecutorID)
	assert.True(t, o.TotalPrice.Equal(decimal.RequireFromString("25.00")), "total %s", o.TotalPrice)
	assert.Equal(t, "12 Main St", o.Address)
	assert.Equal(t, "ring twice", o.Notes)
	assert.Len(t, o.Items, 2)

	// The cart is emptied in the same transaction.
	emptied, err := s.carts.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, emptied.Items)

	// The persisted order matches what conversion returned.
	got, err := s.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalPrice.Equal(o.TotalPrice))
	assert.Len(t, got.Items, 2)
}

func (s *repositorySuite) TestConvertFrozenAgainstPriceChange() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	p := s.createProduct("10.00")

	c, err := s.carts.Create(ctx, &customer.ID)
	require.NoError(t, err)
	require.NoError(t, s.carts.AddItem(ctx, c.ID, p.ID, 2))

	// A price change after the cart was filled must not leak into the order:
	// the cached line price is what gets frozen.
	p.Price = decimal.RequireFromString("99.00")
	require.NoError(t, s.products.Upsert(ctx, p))

	o, err := s.carts.ConvertToOrder(ctx, c.ID, "12 Main St", "")
	require.NoError(t, err)
	assert.True(t, o.TotalPrice.Equal(decimal.RequireFromString("20.00")), "total %s", o.TotalPrice)
}

func (s *repositorySuite) TestConvertEmptyCart() {
	ctx := context.Background()
	customer := s.createUser(user.RoleCustomer, "")

	c, err := s.carts.Create(ctx, &customer.ID)
	s.Require().NoError(err)

	_, err = s.carts.ConvertToOrder(ctx, c.ID, "12 Main St", "")
	s.Require().ErrorIs(err, cart.ErrEmptyCart)
}

func (s *repositorySuite) TestConvertAnonymousCart() {
	ctx := context.Background()
	p := s.createProduct("3.00")

	c, err := s.carts.Create(ctx, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.carts.AddItem(ctx, c.ID, p.ID, 1))

	_, err = s.carts.ConvertToOrder(ctx, c.ID, "12 Main St", "")
	s.Require().ErrorIs(err, cart.ErrNoCustomer)

	// Nothing was cleared on failure.
	got, err := s.carts.Get(ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(got.Items, 1)
}

func (s *repositorySuite) TestConvertMissingCart() {
	_, err := s.carts.ConvertToOrder(context.Background(), uuid.New(), "12 Main St", "")
	s.Require().ErrorIs(err, cart.ErrNotFound)
}

// --- Transitions ---

func (s *repositorySuite) TestTransitionGuardedByStatus() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	o := s.createOrder(customer.ID)

	// created -> shipped has no edge.
	_, err := s.orders.Transition(ctx, o.ID, order.StatusShipped, order.SourcesOf(order.StatusShipped), false)
	var itErr *order.InvalidTransitionError
	require.ErrorAs(t, err, &itErr)
	assert.Equal(t, order.StatusCreated, itErr.From)

	// created -> canceled is legal.
	got, err := s.orders.Transition(ctx, o.ID, order.StatusCanceled, order.SourcesOf(order.StatusCanceled), true)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCanceled, got.Status)

	// Terminal: nothing leaves canceled.
	_, err = s.orders.Transition(ctx, o.ID, order.StatusCanceled, order.SourcesOf(order.StatusCanceled), true)
	require.ErrorAs(t, err, &itErr)
}

func (s *repositorySuite) TestTransitionNotFound() {
	_, err := s.orders.Transition(context.Background(), uuid.New(), order.StatusCanceled, order.SourcesOf(order.StatusCanceled), true)
	s.Require().ErrorIs(err, order.ErrNotFound)
}

func (s *repositorySuite) TestCancelReleasesExecutor() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	staff := s.createUser(user.RoleStaff, gofakeit.DigitN(9))
	o := s.createOrder(customer.ID)

	claimed, err := s.orders.Claim(ctx, o.ID, staff.ID, executor.MaxActiveOrders)
	require.NoError(t, err)
	require.NotNil(t, claimed.ExecutorID)

	canceled, err := s.orders.Transition(ctx, o.ID, order.StatusCanceled, order.SourcesOf(order.StatusCanceled), true)
	require.NoError(t, err)
	assert.Nil(t, canceled.ExecutorID)

	// The freed slot no longer counts against capacity.
	n, err := s.orders.CountActive(ctx, staff.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Claims ---

func (s *repositorySuite) TestClaim() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	staff := s.createUser(user.RoleStaff, gofakeit.DigitN(9))
	o := s.createOrder(customer.ID)

	got, err := s.orders.Claim(ctx, o.ID, staff.ID, executor.MaxActiveOrders)
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)
	require.NotNil(t, got.ExecutorID)
	assert.Equal(t, staff.ID, *got.ExecutorID)

	// A second claim by someone else loses.
	other := s.createUser(user.RoleStaff, gofakeit.DigitN(9))
	_, err = s.orders.Claim(ctx, o.ID, other.ID, executor.MaxActiveOrders)
	require.ErrorIs(t, err, executor.ErrAlreadyClaimed)
}

func (s *repositorySuite) TestClaimCapacity() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	staff := s.createUser(user.RoleStaff, gofakeit.DigitN(9))

	for range executor.MaxActiveOrders {
		o := s.createOrder(customer.ID)
		_, err := s.orders.Claim(ctx, o.ID, staff.ID, executor.MaxActiveOrders)
		require.NoError(t, err)
	}

	extra := s.createOrder(customer.ID)
	_, err := s.orders.Claim(ctx, extra.ID, staff.ID, executor.MaxActiveOrders)

	var capErr *executor.CapacityExceededError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, executor.MaxActiveOrders, capErr.Active)

	// The rejected order stays up for grabs.
	got, err := s.orders.GetByID(ctx, extra.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCreated, got.Status)
	assert.Nil(t, got.ExecutorID)
}

func (s *repositorySuite) TestClaimRequiresActiveStaff() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	o := s.createOrder(customer.ID)

	_, err := s.orders.Claim(ctx, o.ID, uuid.New(), executor.MaxActiveOrders)
	require.ErrorIs(t, err, executor.ErrExecutorNotFound)

	// Customers cannot claim either.
	_, err = s.orders.Claim(ctx, o.ID, customer.ID, executor.MaxActiveOrders)
	require.ErrorIs(t, err, executor.ErrExecutorNotFound)
}

func (s *repositorySuite) TestClaimOrderNotFound() {
	staff := s.createUser(user.RoleStaff, gofakeit.DigitN(9))

	_, err := s.orders.Claim(context.Background(), uuid.New(), staff.ID, executor.MaxActiveOrders)
	s.Require().ErrorIs(err, order.ErrNotFound)
}

func (s *repositorySuite) TestClaimRaceHasOneWinner() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	first := s.createUser(user.RoleStaff, gofakeit.DigitN(9))
	second := s.createUser(user.RoleStaff, gofakeit.DigitN(9))
	o := s.createOrder(customer.ID)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, executorID := range []uuid.UUID{first.ID, second.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = s.orders.Claim(ctx, o.ID, executorID, executor.MaxActiveOrders)
		}()
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, executor.ErrAlreadyClaimed)
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
}

// --- Pending scan ---

func (s *repositorySuite) TestListPending() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	staff := s.createUser(user.RoleStaff, gofakeit.DigitN(9))

	unclaimed := s.createOrder(customer.ID)
	claimed := s.createOrder(customer.ID)
	_, err := s.orders.Claim(ctx, claimed.ID, staff.ID, executor.MaxActiveOrders)
	require.NoError(t, err)

	pending, err := s.orders.ListPending(ctx)
	require.NoError(t, err)

	ids := make(map[uuid.UUID]dispatchPending, len(pending))
	for _, p := range pending {
		ids[p.ID] = dispatchPending{lines: len(p.Lines), customer: p.CustomerName}
	}

	got, ok := ids[unclaimed.ID]
	require.True(t, ok, "unclaimed order must be pending")
	assert.Equal(t, 1, got.lines)
	assert.Equal(t, customer.Username, got.customer)

	_, ok = ids[claimed.ID]
	assert.False(t, ok, "claimed order must not be pending")
}

type dispatchPending struct {
	lines    int
	customer string
}

// --- Notification ledger ---

func (s *repositorySuite) TestNotificationLedger() {
	t := s.T()
	ctx := context.Background()

	customer := s.createUser(user.RoleCustomer, "")
	staff := s.createUser(user.RoleStaff, gofakeit.DigitN(9))
	o := s.createOrder(customer.ID)

	sends, err := s.notifications.LastSends(ctx, o.ID)
	require.NoError(t, err)
	assert.Empty(t, sends)

	first := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, s.notifications.MarkSent(ctx, o.ID, staff.ID, first))

	sends, err = s.notifications.LastSends(ctx, o.ID)
	require.NoError(t, err)
	require.Contains(t, sends, staff.ID)
	assert.WithinDuration(t, first, sends[staff.ID], time.Millisecond)

	// A later send overwrites the pair's timestamp instead of adding rows.
	second := first.Add(2 * time.Minute)
	require.NoError(t, s.notifications.MarkSent(ctx, o.ID, staff.ID, second))

	sends, err = s.notifications.LastSends(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, sends, 1)
	assert.WithinDuration(t, second, sends[staff.ID], time.Millisecond)
}
