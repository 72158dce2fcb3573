package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/chemik-burger-system/internal/model"
	"github.com/mmeshcher/chemik-burger-system/internal/payu"
	"github.com/mmeshcher/chemik-burger-system/internal/repository"
	"github.com/mmeshcher/chemik-burger-system/internal/validation"
)

type createdOrder struct {
	params    repository.CreateOrderParams
	order     model.Order
	createdAt time.Time
}

type updateCall struct {
	id       uuid.UUID
	from, to model.OrderStatus
}

type fakeRepo struct {
	now func() time.Time

	prices    map[uuid.UUID]int64
	pricesErr error

	created   []createdOrder
	createErr error

	statuses  map[uuid.UUID]model.OrderStatus
	statusErr error

	updateCalls []updateCall
	updateErr   error

	markPaidCalls   int
	markPaidChanged bool
	markPaidErr     error

	salesCount   int
	salesRevenue int64
	sales        []repository.ProductSales
	salesErr     error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		now:      time.Now,
		prices:   make(map[uuid.UUID]int64),
		statuses: make(map[uuid.UUID]model.OrderStatus),
	}
}

func (f *fakeRepo) Close() error { return nil }

func (f *fakeRepo) ListAvailableProducts(ctx context.Context) ([]model.Product, error) {
	return nil, nil
}

func (f *fakeRepo) GetProductPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error) {
	if f.pricesErr != nil {
		return nil, f.pricesErr
	}
	res := make(map[uuid.UUID]int64)
	for _, id := range ids {
		if price, ok := f.prices[id]; ok {
			res[id] = price
		}
	}
	return res, nil
}

func (f *fakeRepo) SetProductAvailability(ctx context.Context, id uuid.UUID, expected bool) error {
	return nil
}

func (f *fakeRepo) CreateOrder(ctx context.Context, p repository.CreateOrderParams) (*model.Order, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	order := model.Order{
		ID:                 uuid.New(),
		Status:             p.Status,
		TotalAmountInCents: p.TotalAmountInCents,
		PaymentProviderID:  p.PaymentProviderID,
		CreatedAt:          f.now(),
	}

	if p.DayStart != nil {
		maxDaily := 0
		for _, c := range f.created {
			if c.order.DailyOrderNumber != nil && !c.createdAt.Before(*p.DayStart) && *c.order.DailyOrderNumber > maxDaily {
				maxDaily = *c.order.DailyOrderNumber
			}
		}
		next := maxDaily + 1
		order.DailyOrderNumber = &next
	}

	f.created = append(f.created, createdOrder{params: p, order: order, createdAt: order.CreatedAt})
	f.statuses[order.ID] = order.Status

	return &order, nil
}

func (f *fakeRepo) GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error) {
	for _, c := range f.created {
		if c.order.ID == id {
			o := c.order
			return &o, nil
		}
	}
	return nil, repository.ErrOrderNotFound
}

func (f *fakeRepo) GetOrderStatus(ctx context.Context, id uuid.UUID) (model.OrderStatus, error) {
	if f.statusErr != nil {
		return "", f.statusErr
	}
	status, ok := f.statuses[id]
	if !ok {
		return "", repository.ErrOrderNotFound
	}
	return status, nil
}

func (f *fakeRepo) UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) error {
	f.updateCalls = append(f.updateCalls, updateCall{id: id, from: from, to: to})
	if f.updateErr != nil {
		return f.updateErr
	}
	f.statuses[id] = to
	return nil
}

func (f *fakeRepo) MarkOrderPaid(ctx context.Context, id uuid.UUID) (bool, error) {
	f.markPaidCalls++
	if f.markPaidErr != nil {
		return false, f.markPaidErr
	}
	return f.markPaidChanged, nil
}

func (f *fakeRepo) GetActiveOrders(ctx context.Context) ([]model.OrderWithItems, error) {
	return nil, nil
}

func (f *fakeRepo) DailySales(ctx context.Context, dayStart time.Time) (int, int64, []repository.ProductSales, error) {
	if f.salesErr != nil {
		return 0, 0, nil, f.salesErr
	}
	return f.salesCount, f.salesRevenue, f.sales, nil
}

type fakeGateway struct {
	redirectURI string
	err         error
	requests    []payu.OrderRequest
}

func (f *fakeGateway) CreateOrder(ctx context.Context, req payu.OrderRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.redirectURI, nil
}

func validCheckoutInput(productID uuid.UUID) CheckoutInput {
	return CheckoutInput{
		FirstName: "Jan",
		Email:     "jan@example.com",
		Items:     []model.CartItem{{ProductID: productID, Quantity: 2}},
	}
}

func TestCheckout_ComputesTotalFromCatalog(t *testing.T) {
	productID := uuid.New()
	repo := newFakeRepo()
	repo.prices[productID] = 3500
	gw := &fakeGateway{redirectURI: "https://secure.payu.com/pay/xyz"}

	svc := NewService(repo, gw, "http://localhost:8080/")

	redirectURI, err := svc.Checkout(context.Background(), validCheckoutInput(productID))
	if err != nil {
		t.Fatalf("Checkout error: %v", err)
	}
	if redirectURI != "https://secure.payu.com/pay/xyz" {
		t.Fatalf("redirectURI = %q", redirectURI)
	}

	if len(repo.created) != 1 {
		t.Fatalf("orders created = %d, want 1", len(repo.created))
	}

	created := repo.created[0]
	if created.params.Status != model.OrderStatusPendingPayment {
		t.Fatalf("status = %s, want PENDING_PAYMENT", created.params.Status)
	}
	if created.params.TotalAmountInCents != 7000 {
		t.Fatalf("total = %d, want 7000", created.params.TotalAmountInCents)
	}
	if len(created.params.Items) != 1 {
		t.Fatalf("items = %d, want 1", len(created.params.Items))
	}
	if item := created.params.Items[0]; item.PriceAtTimeInCents != 3500 || item.Quantity != 2 {
		t.Fatalf("unexpected item snapshot: %+v", item)
	}

	if len(gw.requests) != 1 {
		t.Fatalf("gateway requests = %d, want 1", len(gw.requests))
	}
	req := gw.requests[0]
	if req.TotalAmountInCents != 7000 {
		t.Fatalf("gateway total = %d, want 7000", req.TotalAmountInCents)
	}
	if req.ExtOrderID != created.order.ID.String() {
		t.Fatalf("extOrderId = %q, want internal order id", req.ExtOrderID)
	}
	if req.NotifyURL != "http://localhost:8080/api/webhooks/payu" {
		t.Fatalf("notifyUrl = %q", req.NotifyURL)
	}
}

func TestCheckout_SnapshotSurvivesPriceChange(t *testing.T) {
	productID := uuid.New()
	repo := newFakeRepo()
	repo.prices[productID] = 3500
	gw := &fakeGateway{redirectURI: "https://pay.example"}

	svc := NewService(repo, gw, "http://localhost:8080")

	if _, err := svc.Checkout(context.Background(), validCheckoutInput(productID)); err != nil {
		t.Fatalf("Checkout error: %v", err)
	}

	// Админ меняет цену после создания заказа. Снимок не должен измениться.
	repo.prices[productID] = 4000

	if got := repo.created[0].params.Items[0].PriceAtTimeInCents; got != 3500 {
		t.Fatalf("snapshot price = %d, want 3500", got)
	}
}

func TestCheckout_UnknownProductPersistsNothing(t *testing.T) {
	repo := newFakeRepo()
	gw := &fakeGateway{}

	svc := NewService(repo, gw, "http://localhost:8080")

	_, err := svc.Checkout(context.Background(), validCheckoutInput(uuid.New()))
	if !errors.Is(err, repository.ErrProductNotFound) {
		t.Fatalf("error = %v, want ErrProductNotFound", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("orders created = %d, want 0", len(repo.created))
	}
	if len(gw.requests) != 0 {
		t.Fatalf("gateway called %d times, want 0", len(gw.requests))
	}
}

func TestCheckout_ZeroTotalRejected(t *testing.T) {
	productID := uuid.New()
	repo := newFakeRepo()
	repo.prices[productID] = 0
	gw := &fakeGateway{}

	svc := NewService(repo, gw, "http://localhost:8080")

	in := CheckoutInput{
		FirstName: "Jan",
		Email:     "jan@example.com",
		Items:     []model.CartItem{{ProductID: productID, Quantity: 1}},
	}

	_, err := svc.Checkout(context.Background(), in)
	if !errors.Is(err, ErrInvalidTotal) {
		t.Fatalf("error = %v, want ErrInvalidTotal", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("orders created = %d, want 0", len(repo.created))
	}
}

func TestCheckout_BuyerValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	in := validCheckoutInput(uuid.New())
	in.FirstName = "J"

	_, err := svc.Checkout(context.Background(), in)

	var fieldErr *validation.FieldError
	if !errors.As(err, &fieldErr) || fieldErr.Field != "firstName" {
		t.Fatalf("error = %v, want firstName FieldError", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("orders created = %d, want 0", len(repo.created))
	}
}

func TestCheckout_GatewayFailureKeepsOrder(t *testing.T) {
	productID := uuid.New()
	repo := newFakeRepo()
	repo.prices[productID] = 3500
	gw := &fakeGateway{err: payu.ErrGateway}

	svc := NewService(repo, gw, "http://localhost:8080")

	_, err := svc.Checkout(context.Background(), validCheckoutInput(productID))
	if !errors.Is(err, payu.ErrGateway) {
		t.Fatalf("error = %v, want ErrGateway", err)
	}

	// Заказ остаётся в PENDING_PAYMENT для ручной сверки.
	if len(repo.created) != 1 {
		t.Fatalf("orders created = %d, want 1", len(repo.created))
	}
	if repo.created[0].params.Status != model.OrderStatusPendingPayment {
		t.Fatalf("status = %s, want PENDING_PAYMENT", repo.created[0].params.Status)
	}
}

func TestCreateCashOrder_DailyNumbersResetEachDay(t *testing.T) {
	productID := uuid.New()
	repo := newFakeRepo()
	repo.prices[productID] = 1500

	day1 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := day1
	clock := func() time.Time { return now }
	repo.now = clock

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")
	svc.now = clock

	items := []model.CartItem{{ProductID: productID, Quantity: 1}}

	for want := 1; want <= 3; want++ {
		got, err := svc.CreateCashOrder(context.Background(), items)
		if err != nil {
			t.Fatalf("CreateCashOrder error: %v", err)
		}
		if got != want {
			t.Fatalf("dailyOrderNumber = %d, want %d", got, want)
		}
		now = now.Add(time.Minute)
	}

	// Следующий календарный день: нумерация начинается заново.
	now = day1.AddDate(0, 0, 1)

	got, err := svc.CreateCashOrder(context.Background(), items)
	if err != nil {
		t.Fatalf("CreateCashOrder error: %v", err)
	}
	if got != 1 {
		t.Fatalf("dailyOrderNumber = %d, want 1 on a new day", got)
	}

	last := repo.created[len(repo.created)-1]
	if last.params.Status != model.OrderStatusPaid {
		t.Fatalf("status = %s, want PAID", last.params.Status)
	}
	if last.params.PaymentProviderID == nil || *last.params.PaymentProviderID != model.PaymentProviderCash {
		t.Fatalf("paymentProviderId = %v, want CASH", last.params.PaymentProviderID)
	}
}

func TestAdvanceOrder_WalksPipeline(t *testing.T) {
	orderID := uuid.New()
	repo := newFakeRepo()
	repo.statuses[orderID] = model.OrderStatusPaid

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	for _, want := range []model.OrderStatus{
		model.OrderStatusPreparing,
		model.OrderStatusReady,
		model.OrderStatusCompleted,
	} {
		got, err := svc.AdvanceOrder(context.Background(), orderID)
		if err != nil {
			t.Fatalf("AdvanceOrder error: %v", err)
		}
		if got != want {
			t.Fatalf("advanced to %s, want %s", got, want)
		}
	}

	// COMPLETED — терминальный статус, дальше двигаться некуда.
	_, err := svc.AdvanceOrder(context.Background(), orderID)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
}

func TestAdvanceOrder_PendingPaymentRejected(t *testing.T) {
	orderID := uuid.New()
	repo := newFakeRepo()
	repo.statuses[orderID] = model.OrderStatusPendingPayment

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	_, err := svc.AdvanceOrder(context.Background(), orderID)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
	if len(repo.updateCalls) != 0 {
		t.Fatalf("update calls = %d, want 0", len(repo.updateCalls))
	}
}

func TestAdvanceOrder_ConcurrentConflict(t *testing.T) {
	orderID := uuid.New()
	repo := newFakeRepo()
	repo.statuses[orderID] = model.OrderStatusPaid
	repo.updateErr = repository.ErrStatusConflict

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	_, err := svc.AdvanceOrder(context.Background(), orderID)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
}

func TestCancelOrder(t *testing.T) {
	orderID := uuid.New()
	repo := newFakeRepo()
	repo.statuses[orderID] = model.OrderStatusPaid

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	if err := svc.CancelOrder(context.Background(), orderID); err != nil {
		t.Fatalf("CancelOrder error: %v", err)
	}
	if repo.statuses[orderID] != model.OrderStatusCancelled {
		t.Fatalf("status = %s, want CANCELLED", repo.statuses[orderID])
	}
}

func TestCancelOrder_PreparingRejected(t *testing.T) {
	orderID := uuid.New()
	repo := newFakeRepo()
	repo.statuses[orderID] = model.OrderStatusPreparing

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	err := svc.CancelOrder(context.Background(), orderID)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("error = %v, want ErrIllegalTransition", err)
	}
}

func TestApplyPaymentNotification_Completed(t *testing.T) {
	repo := newFakeRepo()
	repo.markPaidChanged = true

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	n := &payu.Notification{Order: payu.NotificationOrder{
		ExtOrderID: uuid.New().String(),
		Status:     payu.NotificationStatusCompleted,
	}}

	changed, err := svc.ApplyPaymentNotification(context.Background(), n)
	if err != nil {
		t.Fatalf("ApplyPaymentNotification error: %v", err)
	}
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if repo.markPaidCalls != 1 {
		t.Fatalf("MarkOrderPaid calls = %d, want 1", repo.markPaidCalls)
	}
}

func TestApplyPaymentNotification_DuplicateDelivery(t *testing.T) {
	repo := newFakeRepo()
	repo.markPaidChanged = false // заказ уже PAID

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	n := &payu.Notification{Order: payu.NotificationOrder{
		ExtOrderID: uuid.New().String(),
		Status:     payu.NotificationStatusCompleted,
	}}

	changed, err := svc.ApplyPaymentNotification(context.Background(), n)
	if err != nil {
		t.Fatalf("duplicate delivery must not error: %v", err)
	}
	if changed {
		t.Fatalf("changed = true, want false on duplicate")
	}
}

func TestApplyPaymentNotification_IgnoresOtherStatuses(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	n := &payu.Notification{Order: payu.NotificationOrder{
		ExtOrderID: uuid.New().String(),
		Status:     "PENDING",
	}}

	changed, err := svc.ApplyPaymentNotification(context.Background(), n)
	if err != nil || changed {
		t.Fatalf("changed = %v, err = %v, want no-op", changed, err)
	}
	if repo.markPaidCalls != 0 {
		t.Fatalf("MarkOrderPaid calls = %d, want 0", repo.markPaidCalls)
	}
}

func TestApplyPaymentNotification_BadExtOrderID(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	n := &payu.Notification{Order: payu.NotificationOrder{
		ExtOrderID: "not-a-uuid",
		Status:     payu.NotificationStatusCompleted,
	}}

	_, err := svc.ApplyPaymentNotification(context.Background(), n)
	if !errors.Is(err, payu.ErrBadNotification) {
		t.Fatalf("error = %v, want ErrBadNotification", err)
	}
}

func TestGenerateDailyReport(t *testing.T) {
	repo := newFakeRepo()
	repo.salesCount = 2
	repo.salesRevenue = 8000
	repo.sales = []repository.ProductSales{
		{Name: "Izotop Wołowiny", Quantity: 2},
		{Name: "Złoty Katalizator", Quantity: 1},
	}

	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")
	svc.now = func() time.Time { return time.Date(2025, 6, 1, 18, 30, 0, 0, time.UTC) }

	report, err := svc.GenerateDailyReport(context.Background())
	if err != nil {
		t.Fatalf("GenerateDailyReport error: %v", err)
	}

	if report.Date != "2025-06-01" {
		t.Fatalf("date = %q", report.Date)
	}
	if report.RevenuePLN != "80.00" {
		t.Fatalf("revenue = %q, want 80.00", report.RevenuePLN)
	}
	if !strings.Contains(report.Text, "Liczba zamówień: 2") {
		t.Fatalf("report text missing order count: %q", report.Text)
	}
	if !strings.Contains(report.Text, "- Izotop Wołowiny: 2 szt.") {
		t.Fatalf("report text missing sales line: %q", report.Text)
	}
}

func TestGenerateDailyReport_EmptyDay(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo, &fakeGateway{}, "http://localhost:8080")

	_, err := svc.GenerateDailyReport(context.Background())
	if !errors.Is(err, ErrEmptyReport) {
		t.Fatalf("error = %v, want ErrEmptyReport", err)
	}
}

func TestFormatPLN(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{3500, "35.00"},
		{123456, "1234.56"},
	}
	for _, tt := range tests {
		if got := formatPLN(tt.cents); got != tt.want {
			t.Fatalf("formatPLN(%d) = %q, want %q", tt.cents, got, tt.want)
		}
	}
}
