// Package domain содержит бизнес-сущности и доменные ошибки Order Service.
package domain

import "errors"

// Доменные ошибки Order Service.
// Используются для передачи бизнес-ошибок между слоями приложения.
var (
	// ErrOrderNotFound возвращается, когда заказ не найден в базе данных.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrEmptyOrderItems возвращается при попытке создать заказ без позиций.
	ErrEmptyOrderItems = errors.New("заказ должен содержать хотя бы одну позицию")

	// ErrInvalidCustomerID возвращается при пустом или некорректном идентификаторе клиента.
	ErrInvalidCustomerID = errors.New("некорректный идентификатор клиента")

	// ErrInvalidRestaurantID возвращается при пустом или некорректном идентификаторе ресторана.
	ErrInvalidRestaurantID = errors.New("некорректный идентификатор ресторана")

	// ErrInvalidDeliveryAddress возвращается при неполном адресе доставки.
	ErrInvalidDeliveryAddress = errors.New("некорректный адрес доставки")

	// ErrInvalidProductID возвращается при пустом или некорректном идентификаторе товара.
	ErrInvalidProductID = errors.New("некорректный идентификатор товара")

	// ErrInvalidQuantity возвращается, когда количество товара меньше или равно нулю.
	ErrInvalidQuantity = errors.New("количество должно быть больше нуля")

	// ErrInvalidPrice возвращается, когда цена товара меньше или равна нулю.
	ErrInvalidPrice = errors.New("цена должна быть больше нуля")

	// ErrSubTotalMismatch возвращается, когда subTotal позиции не равен quantity*unitPrice (инвариант I2).
	ErrSubTotalMismatch = errors.New("subTotal позиции не соответствует quantity*unitPrice")

	// ErrPriceMismatch возвращается, когда заявленная сумма заказа не равна сумме subTotal позиций (инвариант I1).
	ErrPriceMismatch = errors.New("заявленная цена заказа не равна сумме позиций")

	// ErrIllegalTransition возвращается при попытке выполнить переход, запрещённый в текущем статусе (инвариант I3/I4).
	ErrIllegalTransition = errors.New("переход запрещён в текущем статусе заказа")

	// ErrDuplicateOrder возвращается при попытке создать заказ с уже существующим idempotency_key.
	ErrDuplicateOrder = errors.New("заказ с таким idempotency_key уже существует")

	// ErrRestaurantNotFound возвращается, когда ресторан отсутствует в локальной реплике.
	ErrRestaurantNotFound = errors.New("ресторан не найден в локальной реплике")

	// ErrRestaurantInactive возвращается, когда ресторан неактивен на момент создания заказа.
	ErrRestaurantInactive = errors.New("ресторан неактивен")
)
