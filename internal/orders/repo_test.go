package orders

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	"github.com/printloop/printloop-backend/pkg/pagination"
	"github.com/printloop/printloop-backend/pkg/types"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	orders := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_payment',
  currency TEXT NOT NULL DEFAULT 'USD',
  subtotal_cents INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  referral_code TEXT,
  shipping_address TEXT,
  shipping_method TEXT NOT NULL DEFAULT 'standard',
  paid_at DATETIME,
  fulfilled_at DATETIME,
  canceled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	orderLines := `
CREATE TABLE IF NOT EXISTS order_lines (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  sku TEXT NOT NULL,
  name TEXT NOT NULL,
  asset_url TEXT NOT NULL,
  unit_price_cents INTEGER NOT NULL,
  qty INTEGER NOT NULL,
  total_cents INTEGER NOT NULL,
  created_at DATETIME
);`
	paymentAttempts := `
CREATE TABLE IF NOT EXISTS payment_attempts (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  gateway_ref TEXT NOT NULL UNIQUE,
  client_secret TEXT NOT NULL,
  idempotency_key TEXT NOT NULL UNIQUE,
  amount_cents INTEGER NOT NULL,
  status TEXT NOT NULL DEFAULT 'created',
  failure_reason TEXT,
  succeeded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	for _, stmt := range []string{orders, orderLines, paymentAttempts} {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

func buildOrder(customerID uuid.UUID, status enums.OrderStatus, createdAt time.Time) *models.Order {
	return &models.Order{
		ID:            uuid.New(),
		CustomerID:    customerID,
		Status:        status,
		Currency:      enums.CurrencyUSD,
		SubtotalCents: 2000,
		TotalCents:    2500,
		ShippingAddress: types.Address{
			Name:       "Ada Lovelace",
			Line1:      "12 Print Lane",
			City:       "Austin",
			State:      "TX",
			PostalCode: "78701",
			Country:    "US",
		},
		ShippingMethod: enums.ShippingMethodStandard,
		CreatedAt:      createdAt,
	}
}

func TestOrdersRepoCreateAndFindPreloadsLines(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := buildOrder(uuid.New(), enums.OrderStatusPendingPayment, time.Now().UTC())
	order.Lines = []models.OrderLine{
		{
			ID:             uuid.New(),
			ProductID:      uuid.New(),
			SKU:            "TEE-BLK-M",
			Name:           "Black Tee M",
			AssetURL:       "https://assets.printloop.dev/tee.png",
			UnitPriceCents: 1000,
			Qty:            2,
			TotalCents:     2000,
		},
	}

	created, err := repo.CreateOrder(ctx, order)
	require.NoError(t, err)
	require.Equal(t, order.ID, created.ID)

	attempt, err := repo.CreatePaymentAttempt(ctx, &models.PaymentAttempt{
		ID:             uuid.New(),
		OrderID:        order.ID,
		GatewayRef:     "pi_123",
		ClientSecret:   "pi_123_secret",
		IdempotencyKey: "checkout:" + order.ID.String(),
		AmountCents:    2500,
		Status:         enums.PaymentAttemptStatusCreated,
	})
	require.NoError(t, err)

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, found.Lines, 1)
	assert.Equal(t, "TEE-BLK-M", found.Lines[0].SKU)
	require.Len(t, found.PaymentAttempts, 1)
	assert.Equal(t, attempt.GatewayRef, found.PaymentAttempts[0].GatewayRef)
}

func TestOrdersRepoExpireOnlyTouchesPendingPayment(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	pending := buildOrder(uuid.New(), enums.OrderStatusPendingPayment, time.Now().UTC())
	paid := buildOrder(uuid.New(), enums.OrderStatusPaid, time.Now().UTC())
	for _, order := range []*models.Order{pending, paid} {
		_, err := repo.CreateOrder(ctx, order)
		require.NoError(t, err)
	}

	canceledAt := time.Now().UTC()
	require.NoError(t, repo.ExpireOrder(ctx, pending.ID, canceledAt))

	err := repo.ExpireOrder(ctx, paid.ID, canceledAt)
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)

	reloaded, err := repo.FindByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusCanceled, reloaded.Status)
	require.NotNil(t, reloaded.CanceledAt)

	untouched, err := repo.FindByID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPaid, untouched.Status)
}

func TestOrdersRepoListPaginatesWithCursor(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customerID := uuid.New()
	base := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		order := buildOrder(customerID, enums.OrderStatusPaid, base.Add(time.Duration(i)*time.Minute))
		_, err := repo.CreateOrder(ctx, order)
		require.NoError(t, err)
	}

	filters := OrderFilters{CustomerID: &customerID}

	page, err := repo.List(ctx, pagination.Params{Limit: 2}, filters)
	require.NoError(t, err)
	require.Len(t, page.Orders, 2)
	require.NotEmpty(t, page.NextCursor)
	assert.True(t, page.Orders[0].CreatedAt.After(page.Orders[1].CreatedAt))

	rest, err := repo.List(ctx, pagination.Params{Limit: 2, Cursor: page.NextCursor}, filters)
	require.NoError(t, err)
	require.Len(t, rest.Orders, 1)
	assert.Empty(t, rest.NextCursor)
	assert.WithinDuration(t, base, rest.Orders[0].CreatedAt, time.Second)
}

func TestOrdersRepoListFiltersByStatus(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customerID := uuid.New()
	now := time.Now().UTC()
	_, err := repo.CreateOrder(ctx, buildOrder(customerID, enums.OrderStatusPaid, now))
	require.NoError(t, err)
	_, err = repo.CreateOrder(ctx, buildOrder(customerID, enums.OrderStatusCanceled, now.Add(time.Second)))
	require.NoError(t, err)

	status := enums.OrderStatusCanceled
	page, err := repo.List(ctx, pagination.Params{}, OrderFilters{CustomerID: &customerID, Status: &status})
	require.NoError(t, err)
	require.Len(t, page.Orders, 1)
	assert.Equal(t, enums.OrderStatusCanceled, page.Orders[0].Status)
}

func TestOrdersRepoListPendingPaymentBefore(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	stale := buildOrder(uuid.New(), enums.OrderStatusPendingPayment, cutoff.Add(-2*time.Hour))
	fresh := buildOrder(uuid.New(), enums.OrderStatusPendingPayment, cutoff.Add(time.Hour))
	paid := buildOrder(uuid.New(), enums.OrderStatusPaid, cutoff.Add(-3*time.Hour))
	for _, order := range []*models.Order{stale, fresh, paid} {
		_, err := repo.CreateOrder(ctx, order)
		require.NoError(t, err)
	}

	rows, err := repo.ListPendingPaymentBefore(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stale.ID, rows[0].ID)
}

func TestOrdersRepoPaymentAttemptLookups(t *testing.T) {
	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order := buildOrder(uuid.New(), enums.OrderStatusPendingPayment, time.Now().UTC())
	_, err := repo.CreateOrder(ctx, order)
	require.NoError(t, err)

	attempt := &models.PaymentAttempt{
		ID:             uuid.New(),
		OrderID:        order.ID,
		GatewayRef:     "pi_lookup",
		ClientSecret:   "pi_lookup_secret",
		IdempotencyKey: "checkout:lookup",
		AmountCents:    2500,
		Status:         enums.PaymentAttemptStatusCreated,
	}
	_, err = repo.CreatePaymentAttempt(ctx, attempt)
	require.NoError(t, err)

	byRef, err := repo.FindPaymentAttemptByGatewayRef(ctx, "pi_lookup")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, byRef.ID)

	byKey, err := repo.FindPaymentAttemptByIdempotencyKey(ctx, "checkout:lookup")
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, byKey.ID)

	succeededAt := time.Now().UTC()
	require.NoError(t, repo.UpdatePaymentAttempt(ctx, attempt.ID, map[string]any{
		"status":       enums.PaymentAttemptStatusSucceeded,
		"succeeded_at": succeededAt,
	}))

	updated, err := repo.FindPaymentAttemptByGatewayRef(ctx, "pi_lookup")
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentAttemptStatusSucceeded, updated.Status)
	require.NotNil(t, updated.SucceededAt)
}
