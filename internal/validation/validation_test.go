package validation

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/mmeshcher/chemik-burger-system/internal/model"
)

func TestValidateCart(t *testing.T) {
	productID := uuid.New()

	tests := []struct {
		name      string
		items     []model.CartItem
		wantField string
	}{
		{
			name:  "valid single item",
			items: []model.CartItem{{ProductID: productID, Quantity: 2}},
		},
		{
			name:      "empty cart",
			items:     nil,
			wantField: "items",
		},
		{
			name:      "zero quantity",
			items:     []model.CartItem{{ProductID: productID, Quantity: 0}},
			wantField: "items[0].quantity",
		},
		{
			name: "negative quantity in second line",
			items: []model.CartItem{
				{ProductID: productID, Quantity: 1},
				{ProductID: productID, Quantity: -3},
			},
			wantField: "items[1].quantity",
		},
		{
			name:      "nil product id",
			items:     []model.CartItem{{ProductID: uuid.Nil, Quantity: 1}},
			wantField: "items[0].productId",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCart(tt.items)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateCart() = %v, want nil", err)
				}
				return
			}

			var fieldErr *FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("ValidateCart() = %v, want FieldError", err)
			}
			if fieldErr.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", fieldErr.Field, tt.wantField)
			}
		})
	}
}

func TestValidateBuyer(t *testing.T) {
	tests := []struct {
		name      string
		firstName string
		email     string
		wantField string
	}{
		{name: "valid", firstName: "Jan", email: "jan@example.com"},
		{name: "short name", firstName: "J", email: "jan@example.com", wantField: "firstName"},
		{name: "empty name", firstName: "", email: "jan@example.com", wantField: "firstName"},
		{name: "bad email", firstName: "Jan", email: "not-an-email", wantField: "email"},
		{name: "email with display name", firstName: "Jan", email: "Jan <jan@example.com>", wantField: "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBuyer(tt.firstName, tt.email)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("ValidateBuyer() = %v, want nil", err)
				}
				return
			}

			var fieldErr *FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("ValidateBuyer() = %v, want FieldError", err)
			}
			if fieldErr.Field != tt.wantField {
				t.Fatalf("field = %q, want %q", fieldErr.Field, tt.wantField)
			}
		})
	}
}
