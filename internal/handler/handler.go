// Package handler содержит HTTP-обработчики API сервиса заказов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/chemik-burger-system/internal/model"
	"github.com/mmeshcher/chemik-burger-system/internal/payu"
	"github.com/mmeshcher/chemik-burger-system/internal/repository"
	"github.com/mmeshcher/chemik-burger-system/internal/service"
	"github.com/mmeshcher/chemik-burger-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	ListMenu(ctx context.Context) ([]model.Product, error)
	Checkout(ctx context.Context, in service.CheckoutInput) (string, error)
	CreateCashOrder(ctx context.Context, items []model.CartItem) (int, error)
	AdvanceOrder(ctx context.Context, id uuid.UUID) (model.OrderStatus, error)
	CancelOrder(ctx context.Context, id uuid.UUID) error
	ToggleAvailability(ctx context.Context, id uuid.UUID, expected bool) error
	ApplyPaymentNotification(ctx context.Context, n *payu.Notification) (bool, error)
	ActiveOrders(ctx context.Context) ([]model.OrderWithItems, error)
	OrderStatus(ctx context.Context, id uuid.UUID) (model.OrderStatus, error)
	GenerateDailyReport(ctx context.Context) (*service.DailyReport, error)
}

// Handler реализует HTTP-обработчики API сервиса заказов.
type Handler struct {
	service   Service
	logger    *zap.Logger
	secondKey string

	// Интервал повторных выборок в SSE-потоках. В тестах уменьшается.
	streamInterval time.Duration
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
// secondKey — второй ключ PayU для проверки подписей уведомлений.
func NewHandler(s Service, logger *zap.Logger, secondKey string) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		secondKey:      secondKey,
		streamInterval: 3 * time.Second,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Success: false, Error: msg})
}

// Тексты для клиента. Детали интеграционных сбоев остаются в логах.
const (
	msgBadOrderData = "Nieprawidłowe dane zamówienia."
	msgPaymentError = "Wystąpił błąd podczas płatności."
	msgServerError  = "Wystąpił błąd po stronie serwera."
	msgEmptyReport  = "Brak zamówień z dzisiejszego dnia."
)

type productResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	PriceInCents int64     `json:"priceInCents"`
	IsAvailable  bool      `json:"isAvailable"`
}

// GetMenu возвращает доступные позиции меню.
func (h *Handler) GetMenu(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListMenu(r.Context())
	if err != nil {
		h.logger.Error("list menu error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	resp := make([]productResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, productResponse{
			ID:           p.ID,
			Name:         p.Name,
			Description:  p.Description,
			PriceInCents: p.PriceInCents,
			IsAvailable:  p.IsAvailable,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type cartItemRequest struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// parseCartItems принимает обе формы идентификатора позиции:
// онлайн-корзина шлёт id, кассовый терминал — productId.
func parseCartItems(items []cartItemRequest) ([]model.CartItem, error) {
	cart := make([]model.CartItem, 0, len(items))
	for _, item := range items {
		raw := item.ID
		if raw == "" {
			raw = item.ProductID
		}

		// Невалидный UUID превращается в uuid.Nil и отбрасывается валидацией
		// с указанием поля.
		id, err := uuid.Parse(raw)
		if err != nil {
			id = uuid.Nil
		}

		cart = append(cart, model.CartItem{ProductID: id, Quantity: item.Quantity})
	}
	return cart, validation.ValidateCart(cart)
}

type checkoutRequest struct {
	FirstName string            `json:"firstName"`
	Email     string            `json:"email"`
	Items     []cartItemRequest `json:"items"`
}

type checkoutResponse struct {
	Success     bool   `json:"success"`
	RedirectURI string `json:"redirectUri"`
}

// Checkout оформляет онлайн-заказ и возвращает адрес платёжной страницы.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgBadOrderData)
		return
	}

	items, err := parseCartItems(req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	customerIP, _, _ := net.SplitHostPort(r.RemoteAddr)

	redirectURI, err := h.service.Checkout(r.Context(), service.CheckoutInput{
		FirstName:  req.FirstName,
		Email:      req.Email,
		Items:      items,
		CustomerIP: customerIP,
	})
	if err != nil {
		h.checkoutError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, checkoutResponse{Success: true, RedirectURI: redirectURI})
}

func (h *Handler) checkoutError(w http.ResponseWriter, err error) {
	var fieldErr *validation.FieldError

	switch {
	case errors.As(err, &fieldErr):
		writeError(w, http.StatusBadRequest, fieldErr.Error())
	case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, service.ErrInvalidTotal):
		h.logger.Warn("checkout rejected", zap.Error(err))
		writeError(w, http.StatusUnprocessableEntity, msgBadOrderData)
	case errors.Is(err, payu.ErrGateway), errors.Is(err, payu.ErrNotConfigured):
		// Тело ответа шлюза остаётся в логах и не показывается клиенту.
		h.logger.Error("payment gateway error", zap.Error(err))
		writeError(w, http.StatusBadGateway, msgPaymentError)
	default:
		h.logger.Error("checkout error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
	}
}

type cashOrderRequest struct {
	Items []cartItemRequest `json:"items"`
}

type cashOrderResponse struct {
	Success          bool `json:"success"`
	DailyOrderNumber int  `json:"dailyOrderNumber"`
}

// CreateCashOrder создаёт кассовый заказ и возвращает его дневной номер.
func (h *Handler) CreateCashOrder(w http.ResponseWriter, r *http.Request) {
	var req cashOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgBadOrderData)
		return
	}

	items, err := parseCartItems(req.Items)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	number, err := h.service.CreateCashOrder(r.Context(), items)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrProductNotFound), errors.Is(err, service.ErrInvalidTotal):
			h.logger.Warn("cash order rejected", zap.Error(err))
			writeError(w, http.StatusUnprocessableEntity, msgBadOrderData)
		default:
			h.logger.Error("cash order error", zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, cashOrderResponse{Success: true, DailyOrderNumber: number})
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "orderID"))
}

type statusResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
}

// AdvanceOrder переводит заказ на следующий шаг конвейера.
// Целевой статус не принимается от клиента: его вычисляет сервер.
func (h *Handler) AdvanceOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	next, err := h.service.AdvanceOrder(r.Context(), orderID)
	if err != nil {
		h.transitionError(w, orderID, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: string(next)})
}

// CancelOrder отменяет заказ, если тот ещё не готовится.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}

	if err := h.service.CancelOrder(r.Context(), orderID); err != nil {
		h.transitionError(w, orderID, err)
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Success: true, Status: string(model.OrderStatusCancelled)})
}

func (h *Handler) transitionError(w http.ResponseWriter, orderID uuid.UUID, err error) {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, service.ErrIllegalTransition):
		h.logger.Warn("illegal transition", zap.String("order", orderID.String()), zap.Error(err))
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("transition error", zap.String("order", orderID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
	}
}

type availabilityRequest struct {
	IsAvailable bool `json:"isAvailable"`
}

// ToggleAvailability переключает доступность продукта.
// Клиент присылает флаг, который видит сейчас: расхождение означает,
// что кто-то уже переключил продукт, и запрос отклоняется.
func (h *Handler) ToggleAvailability(w http.ResponseWriter, r *http.Request) {
	productID, err := uuid.Parse(chi.URLParam(r, "productID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	var req availabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.service.ToggleAvailability(r.Context(), productID, req.IsAvailable); err != nil {
		switch {
		case errors.Is(err, repository.ErrProductNotFound):
			writeError(w, http.StatusNotFound, "product not found")
		case errors.Is(err, repository.ErrAvailabilityConflict):
			writeError(w, http.StatusConflict, "product availability already changed")
		default:
			h.logger.Error("toggle availability error", zap.String("product", productID.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, msgServerError)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// PaymentWebhook принимает уведомления PayU об изменении статуса платежа.
// Сырое тело читается до разбора: подпись считается по точным байтам.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if h.secondKey == "" {
		h.logger.Error("webhook rejected: second key not configured")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if err := payu.VerifySignature(rawBody, r.Header.Get(payu.SignatureHeader), h.secondKey); err != nil {
		h.logger.Warn("webhook signature rejected", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	n, err := payu.ParseNotification(rawBody)
	if err != nil {
		h.logger.Warn("webhook payload rejected", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	changed, err := h.service.ApplyPaymentNotification(r.Context(), n)
	switch {
	case err == nil:
	case errors.Is(err, payu.ErrBadNotification):
		h.logger.Warn("webhook payload rejected", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	case errors.Is(err, repository.ErrOrderNotFound):
		// Шлюз ретраит всё, кроме 200. Неизвестный заказ подтверждаем и разбираемся по логам.
		h.logger.Warn("webhook for unknown order",
			zap.String("extOrderId", n.Order.ExtOrderID),
			zap.String("status", n.Order.Status))
	default:
		h.logger.Error("webhook processing error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logger.Info("payment notification processed",
		zap.String("extOrderId", n.Order.ExtOrderID),
		zap.String("status", n.Order.Status),
		zap.Bool("changed", changed))

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// DailyReport возвращает отчёт закрытия дня.
func (h *Handler) DailyReport(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.GenerateDailyReport(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrEmptyReport) {
			writeError(w, http.StatusNotFound, msgEmptyReport)
			return
		}
		h.logger.Error("daily report error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, msgServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Success bool                 `json:"success"`
		Report  *service.DailyReport `json:"report"`
	}{Success: true, Report: report})
}
