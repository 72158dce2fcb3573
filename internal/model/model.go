// Package model содержит доменные сущности сервиса заказов.
package model

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus описывает статус жизненного цикла заказа.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusPaid           OrderStatus = "PAID"
	OrderStatusPreparing      OrderStatus = "PREPARING"
	OrderStatusReady          OrderStatus = "READY"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// PaymentProviderCash — значение payment_provider_id для заказов, оплаченных наличными на кассе.
const PaymentProviderCash = "CASH"

// Next возвращает следующий статус кухонного конвейера.
// Переходы строго линейные: PAID → PREPARING → READY → COMPLETED.
// Для остальных статусов следующего шага нет.
func (s OrderStatus) Next() (OrderStatus, bool) {
	switch s {
	case OrderStatusPaid:
		return OrderStatusPreparing, true
	case OrderStatusPreparing:
		return OrderStatusReady, true
	case OrderStatusReady:
		return OrderStatusCompleted, true
	default:
		return "", false
	}
}

// Terminal сообщает, является ли статус конечным.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// Cancellable сообщает, можно ли отменить заказ из данного статуса.
// Отмена допустима только до начала приготовления.
func (s OrderStatus) Cancellable() bool {
	return s == OrderStatusPendingPayment || s == OrderStatusPaid
}

// Active сообщает, виден ли заказ на кухонной панели.
func (s OrderStatus) Active() bool {
	return s == OrderStatusPaid || s == OrderStatusPreparing || s == OrderStatusReady
}

// Product представляет позицию меню.
type Product struct {
	ID           uuid.UUID
	Name         string
	Description  string
	PriceInCents int64
	IsAvailable  bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Order представляет заказ покупателя.
// TotalAmountInCents всегда вычисляется сервером из снимков цен позиций.
type Order struct {
	ID                 uuid.UUID
	Status             OrderStatus
	TotalAmountInCents int64
	PaymentProviderID  *string
	DailyOrderNumber   *int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// OrderItem представляет позицию заказа со снимком цены на момент создания.
// PriceAtTimeInCents не меняется при последующих правках каталога.
type OrderItem struct {
	ID                 uuid.UUID
	OrderID            uuid.UUID
	ProductID          uuid.UUID
	ProductName        string
	Quantity           int
	PriceAtTimeInCents int64
}

// CartItem — строка корзины, присланная клиентом. Цен не содержит.
type CartItem struct {
	ProductID uuid.UUID
	Quantity  int
}

// OrderWithItems — заказ вместе с позициями, как его видит кухонная панель.
type OrderWithItems struct {
	Order
	Items []OrderItem
}
