package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"example.com/foodorder/pkg/money"
)

func newTestRestaurant() *Restaurant {
	return &Restaurant{
		ID:     "restaurant-1",
		Active: true,
		Products: []Product{
			{ID: "product-1", Name: "Пицца Маргарита", Price: money.FromInt(1200, "RUB"), Available: true},
			{ID: "product-2", Name: "Суши-сет", Price: money.FromInt(2500, "RUB"), Available: false},
		},
	}
}

func TestRestaurant_ValidateApproval_Success(t *testing.T) {
	r := newTestRestaurant()

	failures := r.ValidateApproval([]ApprovalItem{{ProductID: "product-1", Quantity: 2}})

	assert.Empty(t, failures)
}

func TestRestaurant_ValidateApproval_Inactive(t *testing.T) {
	r := newTestRestaurant()
	r.Active = false

	failures := r.ValidateApproval([]ApprovalItem{{ProductID: "product-1", Quantity: 1}})

	assert.Contains(t, failures, "ресторан не принимает заказы")
}

func TestRestaurant_ValidateApproval_EmptyItems(t *testing.T) {
	r := newTestRestaurant()

	failures := r.ValidateApproval(nil)

	assert.Contains(t, failures, "заказ не содержит позиций")
}

func TestRestaurant_ValidateApproval_UnknownProduct(t *testing.T) {
	r := newTestRestaurant()

	failures := r.ValidateApproval([]ApprovalItem{{ProductID: "product-missing", Quantity: 1}})

	assert.Contains(t, failures, "продукт product-missing отсутствует в меню")
}

func TestRestaurant_ValidateApproval_ProductUnavailable(t *testing.T) {
	r := newTestRestaurant()

	failures := r.ValidateApproval([]ApprovalItem{{ProductID: "product-2", Quantity: 1}})

	assert.Contains(t, failures, "продукт Суши-сет временно недоступен")
}

func TestRestaurant_ValidateApproval_InvalidQuantity(t *testing.T) {
	r := newTestRestaurant()

	failures := r.ValidateApproval([]ApprovalItem{{ProductID: "product-1", Quantity: 0}})

	assert.Contains(t, failures, "некорректное количество для позиции product-1")
}

func TestRestaurant_ValidateApproval_MultipleFailuresDeduped(t *testing.T) {
	r := newTestRestaurant()

	failures := r.ValidateApproval([]ApprovalItem{
		{ProductID: "product-missing", Quantity: 1},
		{ProductID: "product-missing", Quantity: 1},
	})

	assert.Len(t, failures, 1)
}
