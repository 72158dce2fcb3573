// Package validation содержит проверки входных данных корзины и покупателя.
package validation

import (
	"fmt"
	"net/mail"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/mmeshcher/chemik-burger-system/internal/model"
)

// FieldError описывает ошибку валидации конкретного поля запроса.
// Текст безопасен для показа клиенту.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MinFirstNameLen — минимальная длина имени покупателя в символах.
const MinFirstNameLen = 2

// ValidateCart проверяет форму корзины: непустой список,
// валидные идентификаторы продуктов и положительные количества.
func ValidateCart(items []model.CartItem) error {
	if len(items) == 0 {
		return &FieldError{Field: "items", Message: "cart must not be empty"}
	}

	for i, item := range items {
		if item.ProductID == uuid.Nil {
			return &FieldError{
				Field:   fmt.Sprintf("items[%d].productId", i),
				Message: "invalid product id",
			}
		}
		if item.Quantity < 1 {
			return &FieldError{
				Field:   fmt.Sprintf("items[%d].quantity", i),
				Message: "quantity must be at least 1",
			}
		}
	}

	return nil
}

// ValidateBuyer проверяет контактные данные покупателя для онлайн-оплаты.
func ValidateBuyer(firstName, email string) error {
	if utf8.RuneCountInString(firstName) < MinFirstNameLen {
		return &FieldError{
			Field:   "firstName",
			Message: fmt.Sprintf("must be at least %d characters", MinFirstNameLen),
		}
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &FieldError{Field: "email", Message: "invalid email address"}
	}

	return nil
}
