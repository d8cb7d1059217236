// Package domain содержит бизнес-сущности Restaurant Service.
package domain

import "errors"

// Доменные ошибки Restaurant Service.
var (
	// ErrRestaurantNotFound — ресторан не найден.
	ErrRestaurantNotFound = errors.New("ресторан не найден")

	// ErrInvalidRestaurant — некорректные данные ресторана.
	ErrInvalidRestaurant = errors.New("некорректные данные ресторана")

	// ErrDuplicateProduct — продукт с таким ID уже есть в меню ресторана.
	ErrDuplicateProduct = errors.New("продукт с таким ID уже существует в меню")
)
