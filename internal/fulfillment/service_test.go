package fulfillment

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/printloop/printloop-backend/internal/orders"
	"github.com/printloop/printloop-backend/pkg/config"
	"github.com/printloop/printloop-backend/pkg/db/models"
	"github.com/printloop/printloop-backend/pkg/enums"
	pkgerrors "github.com/printloop/printloop-backend/pkg/errors"
	"github.com/printloop/printloop-backend/pkg/logger"
	"github.com/printloop/printloop-backend/pkg/outbox"
	"github.com/printloop/printloop-backend/pkg/pagination"
	"github.com/printloop/printloop-backend/pkg/printprovider"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func testConfig() config.FulfillmentConfig {
	return config.FulfillmentConfig{
		MaxAttempts:  5,
		BaseBackoff:  time.Millisecond,
		RequeueAfter: 15 * time.Minute,
	}
}

func paidOrder() *models.Order {
	orderID := uuid.New()
	return &models.Order{
		ID:         orderID,
		CustomerID: uuid.New(),
		Status:     enums.OrderStatusPaid,
		TotalCents: 3000,
		Lines: []models.OrderLine{
			{OrderID: orderID, SKU: "TEE-BLK-M", Qty: 2, AssetURL: "https://assets.test/tee.png"},
		},
	}
}

func newTestService(t *testing.T, repo *stubFulfillmentRepo, ordersRepo *stubOrdersRepo, provider *stubProvider, publisher *stubOutbox) Service {
	t.Helper()
	svc, err := NewService(stubTxRunner{}, repo, ordersRepo, provider, publisher, nil, testConfig(), testLogger())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestDispatchAcceptsOrder(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	repo := &stubFulfillmentRepo{}
	ordersRepo := &stubOrdersRepo{order: order}
	provider := &stubProvider{responses: []providerCall{
		{resp: &printprovider.CreateOrderResponse{ProviderOrderRef: "prov_1", Status: "accepted"}},
	}}
	publisher := &stubOutbox{}
	svc := newTestService(t, repo, ordersRepo, provider, publisher)

	result, err := svc.Dispatch(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if result.Status != enums.FulfillmentStatusAccepted || result.ProviderOrderRef != "prov_1" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.AttemptCount != 1 {
		t.Fatalf("attempts = %d, want 1", result.AttemptCount)
	}
	if got := ordersRepo.updates["status"]; got != enums.OrderStatusFulfilled {
		t.Fatalf("order status = %v, want fulfilled", got)
	}
	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventFulfillmentAccepted {
		t.Fatalf("expected fulfillment_accepted event, got %+v", publisher.events)
	}
	if provider.lastRequest.ExternalRef != order.ID.String() {
		t.Fatalf("external ref = %s", provider.lastRequest.ExternalRef)
	}
	if len(provider.lastRequest.Items) != 1 || provider.lastRequest.Items[0].SKU != "TEE-BLK-M" {
		t.Fatalf("items not built from order lines: %+v", provider.lastRequest.Items)
	}
}

func TestDispatchRecoversFromTransientErrors(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	serverErr := &printprovider.ProviderError{StatusCode: 503, Message: "busy"}
	provider := &stubProvider{responses: []providerCall{
		{err: serverErr}, {err: serverErr}, {err: serverErr}, {err: serverErr},
		{resp: &printprovider.CreateOrderResponse{ProviderOrderRef: "prov_1"}},
	}}
	repo := &stubFulfillmentRepo{}
	ordersRepo := &stubOrdersRepo{order: order}
	svc := newTestService(t, repo, ordersRepo, provider, &stubOutbox{})

	result, err := svc.Dispatch(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Status != enums.FulfillmentStatusAccepted {
		t.Fatalf("status = %s, want accepted", result.Status)
	}
	if result.AttemptCount != 5 {
		t.Fatalf("attempts = %d, want 5", result.AttemptCount)
	}
}

func TestDispatchExhaustsRetries(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	serverErr := &printprovider.ProviderError{StatusCode: 500, Message: "boom"}
	provider := &stubProvider{alwaysErr: serverErr}
	repo := &stubFulfillmentRepo{}
	ordersRepo := &stubOrdersRepo{order: order}
	publisher := &stubOutbox{}
	svc := newTestService(t, repo, ordersRepo, provider, publisher)

	result, err := svc.Dispatch(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("terminal failure is recorded, not returned: %v", err)
	}
	if result.Status != enums.FulfillmentStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if provider.calls != 5 {
		t.Fatalf("provider called %d times, want 5", provider.calls)
	}
	if got := ordersRepo.updates["status"]; got != enums.OrderStatusFulfillmentFailed {
		t.Fatalf("order status = %v, want fulfillment_failed", got)
	}
	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventFulfillmentFailed {
		t.Fatalf("expected fulfillment_failed event, got %+v", publisher.events)
	}
}

func TestDispatchValidationErrorIsTerminal(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	provider := &stubProvider{alwaysErr: &printprovider.ProviderError{StatusCode: 422, Message: "bad sku"}}
	repo := &stubFulfillmentRepo{}
	ordersRepo := &stubOrdersRepo{order: order}
	publisher := &stubOutbox{}
	svc := newTestService(t, repo, ordersRepo, provider, publisher)

	result, err := svc.Dispatch(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.Status != enums.FulfillmentStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if provider.calls != 1 {
		t.Fatalf("4xx must not be retried, provider called %d times", provider.calls)
	}
}

func TestDispatchSkipsAcceptedOrder(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	order.Status = enums.OrderStatusFulfilled
	ref := "prov_1"
	repo := &stubFulfillmentRepo{request: &models.FulfillmentRequest{
		ID:               uuid.New(),
		OrderID:          order.ID,
		Status:           enums.FulfillmentStatusAccepted,
		ProviderOrderRef: &ref,
		AttemptCount:     2,
	}}
	provider := &stubProvider{}
	svc := newTestService(t, repo, &stubOrdersRepo{order: order}, provider, &stubOutbox{})

	result, err := svc.Dispatch(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if result.ProviderOrderRef != "prov_1" {
		t.Fatalf("stored ref not returned: %+v", result)
	}
	if provider.calls != 0 {
		t.Fatalf("provider must not be called again")
	}
}

func TestDispatchRejectsPendingOrder(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	order.Status = enums.OrderStatusPendingPayment
	svc := newTestService(t, &stubFulfillmentRepo{}, &stubOrdersRepo{order: order}, &stubProvider{}, &stubOutbox{})

	_, err := svc.Dispatch(context.Background(), order.ID)
	if coded := pkgerrors.As(err); coded == nil || coded.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestOperatorRetryEmitsManualDispatch(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	order.Status = enums.OrderStatusFulfillmentFailed
	publisher := &stubOutbox{}
	svc := newTestService(t, &stubFulfillmentRepo{}, &stubOrdersRepo{order: order}, &stubProvider{}, publisher)

	if err := svc.OperatorRetry(context.Background(), order.ID); err != nil {
		t.Fatalf("operator retry: %v", err)
	}
	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventFulfillmentDispatch {
		t.Fatalf("expected fulfillment_dispatch event, got %+v", publisher.events)
	}
}

func TestOperatorRetryRequiresFailedOrder(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	svc := newTestService(t, &stubFulfillmentRepo{}, &stubOrdersRepo{order: order}, &stubProvider{}, &stubOutbox{})

	err := svc.OperatorRetry(context.Background(), order.ID)
	if coded := pkgerrors.As(err); coded == nil || coded.Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected STATE_CONFLICT, got %v", err)
	}
}

func TestOperatorCompleteMarksFulfilled(t *testing.T) {
	t.Parallel()

	order := paidOrder()
	order.Status = enums.OrderStatusFulfillmentFailed
	repo := &stubFulfillmentRepo{request: &models.FulfillmentRequest{
		ID:      uuid.New(),
		OrderID: order.ID,
		Status:  enums.FulfillmentStatusFailed,
	}}
	ordersRepo := &stubOrdersRepo{order: order}
	publisher := &stubOutbox{}
	svc := newTestService(t, repo, ordersRepo, &stubProvider{}, publisher)

	if err := svc.OperatorComplete(context.Background(), order.ID, "prov_manual"); err != nil {
		t.Fatalf("operator complete: %v", err)
	}
	if got := ordersRepo.updates["status"]; got != enums.OrderStatusFulfilled {
		t.Fatalf("order status = %v, want fulfilled", got)
	}
	if got := repo.updates["provider_order_ref"]; got != "prov_manual" {
		t.Fatalf("provider ref not stored: %v", got)
	}
	if len(publisher.events) != 1 || publisher.events[0].EventType != enums.EventFulfillmentAccepted {
		t.Fatalf("expected fulfillment_accepted event, got %+v", publisher.events)
	}
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type providerCall struct {
	resp *printprovider.CreateOrderResponse
	err  error
}

type stubProvider struct {
	responses   []providerCall
	alwaysErr   error
	calls       int
	lastRequest printprovider.CreateOrderRequest
}

func (s *stubProvider) CreateOrder(ctx context.Context, req printprovider.CreateOrderRequest) (*printprovider.CreateOrderResponse, error) {
	s.calls++
	s.lastRequest = req
	if s.alwaysErr != nil {
		return nil, s.alwaysErr
	}
	call := s.responses[s.calls-1]
	return call.resp, call.err
}

type stubFulfillmentRepo struct {
	request *models.FulfillmentRequest
	updates map[string]any
}

func (s *stubFulfillmentRepo) WithTx(tx *gorm.DB) Repository { return s }

func (s *stubFulfillmentRepo) Create(ctx context.Context, request *models.FulfillmentRequest) (*models.FulfillmentRequest, error) {
	s.request = request
	return request, nil
}

func (s *stubFulfillmentRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.FulfillmentRequest, error) {
	if s.request != nil && s.request.OrderID == orderID {
		return s.request, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubFulfillmentRepo) FindByOrderIDForUpdate(ctx context.Context, orderID uuid.UUID) (*models.FulfillmentRequest, error) {
	return s.FindByOrderID(ctx, orderID)
}

func (s *stubFulfillmentRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	if s.request == nil || s.request.ID != id {
		return gorm.ErrRecordNotFound
	}
	s.updates = updates
	if status, ok := updates["status"].(enums.FulfillmentStatus); ok {
		s.request.Status = status
	}
	if count, ok := updates["attempt_count"].(int); ok {
		s.request.AttemptCount = count
	}
	if ref, ok := updates["provider_order_ref"].(string); ok {
		s.request.ProviderOrderRef = &ref
	}
	return nil
}

func (s *stubFulfillmentRepo) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.FulfillmentRequest, error) {
	return nil, nil
}

func (s *stubFulfillmentRepo) ListByStatus(ctx context.Context, status enums.FulfillmentStatus, limit int) ([]models.FulfillmentRequest, error) {
	return nil, nil
}

type stubOrdersRepo struct {
	order   *models.Order
	updates map[string]any
}

func (s *stubOrdersRepo) WithTx(tx *gorm.DB) orders.Repository { return s }

func (s *stubOrdersRepo) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	return order, nil
}

func (s *stubOrdersRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	if s.order != nil && s.order.ID == id {
		return s.order, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrdersRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.FindByID(ctx, id)
}

func (s *stubOrdersRepo) UpdateOrder(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	s.updates = updates
	if status, ok := updates["status"].(enums.OrderStatus); ok {
		s.order.Status = status
	}
	return nil
}

func (s *stubOrdersRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.OrderStatus) error {
	return s.UpdateOrder(ctx, id, map[string]any{"status": status})
}

func (s *stubOrdersRepo) List(ctx context.Context, params pagination.Params, filters orders.OrderFilters) (*orders.OrderList, error) {
	return &orders.OrderList{}, nil
}

func (s *stubOrdersRepo) ListPendingPaymentBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

func (s *stubOrdersRepo) ExpireOrder(ctx context.Context, id uuid.UUID, canceledAt time.Time) error {
	return nil
}

func (s *stubOrdersRepo) CreatePaymentAttempt(ctx context.Context, attempt *models.PaymentAttempt) (*models.PaymentAttempt, error) {
	return attempt, nil
}

func (s *stubOrdersRepo) FindPaymentAttemptByGatewayRef(ctx context.Context, gatewayRef string) (*models.PaymentAttempt, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrdersRepo) FindPaymentAttemptByIdempotencyKey(ctx context.Context, key string) (*models.PaymentAttempt, error) {
	return nil, gorm.ErrRecordNotFound
}

func (s *stubOrdersRepo) UpdatePaymentAttempt(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return nil
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (s *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	s.events = append(s.events, event)
	return nil
}
