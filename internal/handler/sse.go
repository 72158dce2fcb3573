package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/chemik-burger-system/internal/model"
	"github.com/mmeshcher/chemik-burger-system/internal/repository"
)

// SSE-потоки: подписчику сразу отправляется текущее состояние,
// затем оно перечитывается и отправляется раз в streamInterval,
// пока клиент не отключится.

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	flusher.Flush()

	return nil
}

type streamOrderItem struct {
	ID                 uuid.UUID `json:"id"`
	ProductID          uuid.UUID `json:"productId"`
	ProductName        string    `json:"productName"`
	Quantity           int       `json:"quantity"`
	PriceAtTimeInCents int64     `json:"priceAtTimeInCents"`
}

type streamOrder struct {
	ID                 uuid.UUID         `json:"id"`
	Status             string            `json:"status"`
	TotalAmountInCents int64             `json:"totalAmountInCents"`
	DailyOrderNumber   *int              `json:"dailyOrderNumber,omitempty"`
	CreatedAt          string            `json:"createdAt"`
	Items              []streamOrderItem `json:"items"`
}

func toStreamOrders(orders []model.OrderWithItems) []streamOrder {
	resp := make([]streamOrder, 0, len(orders))
	for _, o := range orders {
		so := streamOrder{
			ID:                 o.ID,
			Status:             string(o.Status),
			TotalAmountInCents: o.TotalAmountInCents,
			DailyOrderNumber:   o.DailyOrderNumber,
			CreatedAt:          o.CreatedAt.Format(time.RFC3339),
			Items:              make([]streamOrderItem, 0, len(o.Items)),
		}
		for _, item := range o.Items {
			so.Items = append(so.Items, streamOrderItem{
				ID:                 item.ID,
				ProductID:          item.ProductID,
				ProductName:        item.ProductName,
				Quantity:           item.Quantity,
				PriceAtTimeInCents: item.PriceAtTimeInCents,
			})
		}
		resp = append(resp, so)
	}
	return resp
}

// KitchenStream отдаёт кухонной панели заказы в работе.
// Ошибки выборки не рвут поток: панель переживёт пропущенный кадр,
// а вот переподключаться по каждому сбою БД ей незачем.
func (h *Handler) KitchenStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	setStreamHeaders(w)

	push := func() {
		orders, err := h.service.ActiveOrders(r.Context())
		if err != nil {
			h.logger.Error("kitchen stream query error", zap.Error(err))
			return
		}
		if err := writeEvent(w, flusher, toStreamOrders(orders)); err != nil {
			h.logger.Warn("kitchen stream write error", zap.Error(err))
		}
	}

	push()

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			push()
		}
	}
}

type orderStatusEvent struct {
	Status string `json:"status"`
}

// OrderStream отдаёт покупателю статус одного заказа.
// Поток закрывается сервером, как только заказ достигает терминального статуса.
func (h *Handler) OrderStream(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderIDParam(r)
	if err != nil {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	status, err := h.service.OrderStatus(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			http.Error(w, "order not found", http.StatusNotFound)
			return
		}
		h.logger.Error("order stream query error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	setStreamHeaders(w)

	if err := writeEvent(w, flusher, orderStatusEvent{Status: string(status)}); err != nil {
		h.logger.Warn("order stream write error", zap.Error(err))
		return
	}
	if status.Terminal() {
		return
	}

	ticker := time.NewTicker(h.streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			status, err := h.service.OrderStatus(r.Context(), orderID)
			if err != nil {
				h.logger.Error("order stream query error", zap.Error(err))
				continue
			}

			if err := writeEvent(w, flusher, orderStatusEvent{Status: string(status)}); err != nil {
				h.logger.Warn("order stream write error", zap.Error(err))
				return
			}

			if status.Terminal() {
				return
			}
		}
	}
}
