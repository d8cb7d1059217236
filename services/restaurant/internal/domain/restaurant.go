// Package domain содержит бизнес-сущности Restaurant Service.
package domain

import (
	"example.com/foodorder/pkg/money"
)

// Product — позиция меню ресторана.
type Product struct {
	ID        string      // UUID продукта
	Name      string      // Название
	Price     money.Money // Цена (точный decimal, своя валюта)
	Available bool        // Доступен ли продукт к заказу прямо сейчас
}

// Restaurant — ресторан с его текущим меню.
type Restaurant struct {
	ID       string    // UUID ресторана
	Active   bool      // Принимает ли ресторан заказы
	Products []Product // Текущее меню
}

// ApprovalItem — запрошенная позиция заказа, подлежащая подтверждению.
type ApprovalItem struct {
	ProductID string
	Quantity  int32
}

// findProduct возвращает продукт по ID либо nil, если такого нет в меню.
func (r *Restaurant) findProduct(productID string) *Product {
	for i := range r.Products {
		if r.Products[i].ID == productID {
			return &r.Products[i]
		}
	}
	return nil
}

// ValidateApproval проверяет, может ли ресторан подтвердить заказ с
// указанными позициями: ресторан должен быть активен, а каждая позиция —
// числиться в меню, быть доступной и иметь положительное количество.
// Возвращает список причин отказа (пустой при успехе).
func (r *Restaurant) ValidateApproval(items []ApprovalItem) []string {
	var failures []string

	if !r.Active {
		failures = append(failures, "ресторан не принимает заказы")
		return failures
	}

	if len(items) == 0 {
		failures = append(failures, "заказ не содержит позиций")
		return failures
	}

	for _, item := range items {
		if item.Quantity <= 0 {
			failures = append(failures, "некорректное количество для позиции "+item.ProductID)
			continue
		}
		product := r.findProduct(item.ProductID)
		if product == nil {
			failures = append(failures, "продукт "+item.ProductID+" отсутствует в меню")
			continue
		}
		if !product.Available {
			failures = append(failures, "продукт "+product.Name+" временно недоступен")
		}
	}

	return dedupeFailures(failures)
}

// dedupeFailures схлопывает повторяющиеся причины отказа (множественная
// семантика накопления failureMessages при компенсациях).
func dedupeFailures(failures []string) []string {
	if len(failures) < 2 {
		return failures
	}
	seen := make(map[string]struct{}, len(failures))
	result := make([]string, 0, len(failures))
	for _, f := range failures {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		result = append(result, f)
	}
	return result
}
