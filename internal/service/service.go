// Package service реализует бизнес-логику сервиса заказов.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/chemik-burger-system/internal/model"
	"github.com/mmeshcher/chemik-burger-system/internal/payu"
	"github.com/mmeshcher/chemik-burger-system/internal/repository"
	"github.com/mmeshcher/chemik-burger-system/internal/validation"
)

// ErrInvalidTotal возвращается, если вычисленная сумма заказа не положительна.
var (
	ErrInvalidTotal = errors.New("order total must be positive")
	// ErrIllegalTransition возвращается при недопустимом переходе статуса заказа.
	ErrIllegalTransition = errors.New("illegal status transition")
	// ErrEmptyReport возвращается, если за текущий день нет оплаченных заказов.
	ErrEmptyReport = errors.New("no orders today")
)

// Название позиции в платёжной сессии: шлюзу не нужны настоящие названия блюд.
const gatewayProductName = "Produkt z Menu Chemik Burger"

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	ListAvailableProducts(ctx context.Context) ([]model.Product, error)
	GetProductPrices(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]int64, error)
	SetProductAvailability(ctx context.Context, id uuid.UUID, expected bool) error
	CreateOrder(ctx context.Context, p repository.CreateOrderParams) (*model.Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*model.Order, error)
	GetOrderStatus(ctx context.Context, id uuid.UUID) (model.OrderStatus, error)
	UpdateOrderStatus(ctx context.Context, id uuid.UUID, from, to model.OrderStatus) error
	MarkOrderPaid(ctx context.Context, id uuid.UUID) (bool, error)
	GetActiveOrders(ctx context.Context) ([]model.OrderWithItems, error)
	DailySales(ctx context.Context, dayStart time.Time) (int, int64, []repository.ProductSales, error)
}

// PaymentGateway описывает контракт платёжного шлюза, используемый сервисом.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, req payu.OrderRequest) (string, error)
}

// Service содержит бизнес-логику сервиса заказов.
type Service struct {
	repo          Repository
	gateway       PaymentGateway
	publicBaseURL string
	now           func() time.Time
}

// NewService создаёт сервис с указанным репозиторием и платёжным шлюзом.
func NewService(repo Repository, gateway PaymentGateway, publicBaseURL string) *Service {
	return &Service{
		repo:          repo,
		gateway:       gateway,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		now:           time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ListMenu возвращает доступные позиции меню.
func (s *Service) ListMenu(ctx context.Context) ([]model.Product, error) {
	return s.repo.ListAvailableProducts(ctx)
}

// ToggleAvailability переключает доступность продукта при совпадении ожидаемого флага.
func (s *Service) ToggleAvailability(ctx context.Context, id uuid.UUID, expected bool) error {
	return s.repo.SetProductAvailability(ctx, id, expected)
}

// pricedCart — корзина с ценами, перечитанными из каталога.
type pricedCart struct {
	items []repository.OrderItemParams
	total int64
}

// priceCart пересчитывает корзину по актуальным ценам каталога.
// Клиентские цены не принимаются ни в каком виде; арифметика только целочисленная.
func (s *Service) priceCart(ctx context.Context, items []model.CartItem) (*pricedCart, error) {
	if err := validation.ValidateCart(items); err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}

	prices, err := s.repo.GetProductPrices(ctx, ids)
	if err != nil {
		return nil, err
	}

	cart := &pricedCart{items: make([]repository.OrderItemParams, 0, len(items))}
	for _, item := range items {
		price, ok := prices[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", repository.ErrProductNotFound, item.ProductID)
		}

		cart.items = append(cart.items, repository.OrderItemParams{
			ProductID:          item.ProductID,
			Quantity:           item.Quantity,
			PriceAtTimeInCents: price,
		})
		cart.total += price * int64(item.Quantity)
	}

	if cart.total <= 0 {
		return nil, ErrInvalidTotal
	}

	return cart, nil
}

// CheckoutInput описывает входные данные онлайн-оплаты.
type CheckoutInput struct {
	FirstName  string
	Email      string
	Items      []model.CartItem
	CustomerIP string
}

// Checkout собирает заказ по корзине, сохраняет его в PENDING_PAYMENT
// и создаёт платёжную сессию. Возвращает URL страницы оплаты.
// При отказе шлюза заказ намеренно не откатывается: потеря записи
// о денежном обязательстве хуже висящего PENDING_PAYMENT.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (string, error) {
	if err := validation.ValidateBuyer(in.FirstName, in.Email); err != nil {
		return "", err
	}

	cart, err := s.priceCart(ctx, in.Items)
	if err != nil {
		return "", err
	}

	order, err := s.repo.CreateOrder(ctx, repository.CreateOrderParams{
		Status:             model.OrderStatusPendingPayment,
		TotalAmountInCents: cart.total,
		Items:              cart.items,
	})
	if err != nil {
		return "", err
	}

	customerIP := in.CustomerIP
	if customerIP == "" {
		customerIP = "127.0.0.1"
	}

	products := make([]payu.ProductLine, 0, len(cart.items))
	for _, item := range cart.items {
		products = append(products, payu.ProductLine{
			Name:             gatewayProductName,
			UnitPriceInCents: item.PriceAtTimeInCents,
			Quantity:         item.Quantity,
		})
	}

	return s.gateway.CreateOrder(ctx, payu.OrderRequest{
		ExtOrderID:         order.ID.String(),
		Description:        fmt.Sprintf("Zamówienie Chemik Burger: %s", in.FirstName),
		TotalAmountInCents: cart.total,
		BuyerEmail:         in.Email,
		BuyerFirstName:     in.FirstName,
		NotifyURL:          s.publicBaseURL + "/api/webhooks/payu",
		CustomerIP:         customerIP,
		Products:           products,
	})
}

// CreateCashOrder создаёт заказ, оплаченный наличными на кассе.
// Заказ минует PENDING_PAYMENT и сразу получает дневной номер.
func (s *Service) CreateCashOrder(ctx context.Context, items []model.CartItem) (int, error) {
	cart, err := s.priceCart(ctx, items)
	if err != nil {
		return 0, err
	}

	provider := model.PaymentProviderCash
	dayStart := startOfDay(s.now())

	order, err := s.repo.CreateOrder(ctx, repository.CreateOrderParams{
		Status:             model.OrderStatusPaid,
		TotalAmountInCents: cart.total,
		PaymentProviderID:  &provider,
		Items:              cart.items,
		DayStart:           &dayStart,
	})
	if err != nil {
		return 0, err
	}

	if order.DailyOrderNumber == nil {
		return 0, fmt.Errorf("cash order %s created without daily number", order.ID)
	}

	return *order.DailyOrderNumber, nil
}

// AdvanceOrder переводит заказ на следующий шаг кухонного конвейера.
// Следующий статус вычисляется на сервере из текущего: повторный клик
// персонала не может перескочить стадию или продвинуть заказ дважды.
func (s *Service) AdvanceOrder(ctx context.Context, id uuid.UUID) (model.OrderStatus, error) {
	current, err := s.repo.GetOrderStatus(ctx, id)
	if err != nil {
		return "", err
	}

	next, ok := current.Next()
	if !ok {
		return "", fmt.Errorf("%w: cannot advance from %s", ErrIllegalTransition, current)
	}

	if err := s.repo.UpdateOrderStatus(ctx, id, current, next); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return "", fmt.Errorf("%w: %w", ErrIllegalTransition, err)
		}
		return "", err
	}

	return next, nil
}

// CancelOrder отменяет заказ. Отмена допустима только из PENDING_PAYMENT и PAID.
func (s *Service) CancelOrder(ctx context.Context, id uuid.UUID) error {
	current, err := s.repo.GetOrderStatus(ctx, id)
	if err != nil {
		return err
	}

	if !current.Cancellable() {
		return fmt.Errorf("%w: cannot cancel from %s", ErrIllegalTransition, current)
	}

	if err := s.repo.UpdateOrderStatus(ctx, id, current, model.OrderStatusCancelled); err != nil {
		if errors.Is(err, repository.ErrStatusConflict) {
			return fmt.Errorf("%w: %w", ErrIllegalTransition, err)
		}
		return err
	}

	return nil
}

// ApplyPaymentNotification применяет проверенное уведомление шлюза.
// Возвращает признак того, что статус заказа был изменён.
// Повторная доставка того же уведомления безопасна.
func (s *Service) ApplyPaymentNotification(ctx context.Context, n *payu.Notification) (bool, error) {
	if n.Order.Status != payu.NotificationStatusCompleted {
		// Прочие статусы шлюза подтверждаем и игнорируем, иначе он будет ретраить бесконечно.
		return false, nil
	}

	orderID, err := uuid.Parse(n.Order.ExtOrderID)
	if err != nil {
		return false, fmt.Errorf("%w: bad extOrderId %q", payu.ErrBadNotification, n.Order.ExtOrderID)
	}

	return s.repo.MarkOrderPaid(ctx, orderID)
}

// ActiveOrders возвращает заказы в работе для кухонной панели.
func (s *Service) ActiveOrders(ctx context.Context) ([]model.OrderWithItems, error) {
	return s.repo.GetActiveOrders(ctx)
}

// OrderStatus возвращает текущий статус заказа.
func (s *Service) OrderStatus(ctx context.Context, id uuid.UUID) (model.OrderStatus, error) {
	return s.repo.GetOrderStatus(ctx, id)
}

// DailyReport описывает отчёт закрытия дня.
type DailyReport struct {
	Date           string                    `json:"date"`
	OrderCount     int                       `json:"orderCount"`
	RevenueInCents int64                     `json:"revenueInCents"`
	RevenuePLN     string                    `json:"revenuePln"`
	Items          []repository.ProductSales `json:"-"`
	Text           string                    `json:"text"`
}

// GenerateDailyReport строит отчёт по оплаченным заказам текущего дня.
func (s *Service) GenerateDailyReport(ctx context.Context) (*DailyReport, error) {
	dayStart := startOfDay(s.now())

	orderCount, revenue, sales, err := s.repo.DailySales(ctx, dayStart)
	if err != nil {
		return nil, err
	}
	if orderCount == 0 {
		return nil, ErrEmptyReport
	}

	report := &DailyReport{
		Date:           dayStart.Format("2006-01-02"),
		OrderCount:     orderCount,
		RevenueInCents: revenue,
		RevenuePLN:     formatPLN(revenue),
		Items:          sales,
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🍔 RAPORT ZAMKNIĘCIA DNIA\nData: %s\n\n", report.Date)
	fmt.Fprintf(&b, "Utarg całkowity: %s zł\n", report.RevenuePLN)
	fmt.Fprintf(&b, "Liczba zamówień: %d\n\nSPRZEDAŻ:\n", report.OrderCount)
	for _, item := range sales {
		fmt.Fprintf(&b, "- %s: %d szt.\n", item.Name, item.Quantity)
	}
	report.Text = b.String()

	return report, nil
}

// formatPLN форматирует сумму в грошах как злотые без плавающей точки.
func formatPLN(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

// startOfDay возвращает начало календарного дня для момента t.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
