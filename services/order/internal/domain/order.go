// Package domain содержит бизнес-сущности и доменные ошибки Order Service.
package domain

import (
	"strings"
	"time"

	"example.com/foodorder/pkg/money"
)

// OrderStatus — статус заказа в системе.
//
// Легальные переходы:
//
//	PENDING --pay()--> PAID --approve()--> APPROVED
//	PENDING --initCancel()--> CANCELLED
//	PAID --initCancel()--> CANCELLING --cancel()--> CANCELLED
//
// APPROVED и CANCELLED — поглощающие состояния (I4): из них нет легальных переходов.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusPaid       OrderStatus = "PAID"
	OrderStatusApproved   OrderStatus = "APPROVED"
	OrderStatusCancelling OrderStatus = "CANCELLING"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// DeliveryAddress — адрес доставки заказа.
type DeliveryAddress struct {
	Street     string
	PostalCode string
	City       string
}

// Validate проверяет, что все поля адреса заполнены.
func (a DeliveryAddress) Validate() error {
	if strings.TrimSpace(a.Street) == "" || strings.TrimSpace(a.PostalCode) == "" || strings.TrimSpace(a.City) == "" {
		return ErrInvalidDeliveryAddress
	}
	return nil
}

// Order — заказ в системе. Единственный путь его мутации — методы ниже
// (Initialize, Pay, Approve, InitCancel, Cancel); заказ никогда не удаляется.
type Order struct {
	ID              string
	CustomerID      string
	RestaurantID    string
	DeliveryAddress DeliveryAddress
	Items           []OrderItem
	Price           money.Money
	Status          OrderStatus
	FailureMessages []string // хранится как JSON-массив, см. SPEC_FULL.md §5
	TrackingID      string   // непрозрачный идентификатор, отдаваемый клиенту
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// OrderItem — позиция заказа (productId, quantity, unitPrice, subTotal).
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int32
	UnitPrice   money.Money
	SubTotal    money.Money
}

// Validate проверяет инвариант I2: subTotal = quantity * unitPrice.
func (oi *OrderItem) Validate() error {
	if strings.TrimSpace(oi.ProductID) == "" {
		return ErrInvalidProductID
	}
	if oi.Quantity <= 0 {
		return ErrInvalidQuantity
	}
	if !oi.UnitPrice.IsPositive() {
		return ErrInvalidPrice
	}
	expected := oi.UnitPrice.MulInt(oi.Quantity)
	if !expected.Equal(oi.SubTotal) {
		return ErrSubTotalMismatch
	}
	return nil
}

// Initialize валидирует и переводит только что созданный заказ в PENDING.
// Проверяет инварианты I1 (price = Σ subTotal) и I2, а также наличие
// непустого списка позиций, непустого клиента и активного ресторана
// (снимок ресторана читается из локальной реплики вызывающей стороной
// и передаётся уже проверенным через restaurantActive/pricesMatchCatalog).
func (o *Order) Initialize(restaurantActive bool, pricesMatchCatalog bool) error {
	if strings.TrimSpace(o.CustomerID) == "" {
		return ErrInvalidCustomerID
	}
	if strings.TrimSpace(o.RestaurantID) == "" {
		return ErrInvalidRestaurantID
	}
	if err := o.DeliveryAddress.Validate(); err != nil {
		return err
	}
	if len(o.Items) == 0 {
		return ErrEmptyOrderItems
	}
	if !restaurantActive {
		return ErrRestaurantInactive
	}
	if !pricesMatchCatalog {
		return ErrPriceMismatch
	}

	sum := money.Zero(o.Price.Currency)
	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return err
		}
		var err error
		sum, err = sum.Add(o.Items[i].SubTotal)
		if err != nil {
			return err
		}
	}
	if !sum.Equal(o.Price) {
		return ErrPriceMismatch
	}

	o.Status = OrderStatusPending
	o.UpdatedAt = time.Now()
	return nil
}

// Pay переводит заказ PENDING -> PAID в ответ на PaymentCompleted.
func (o *Order) Pay() error {
	if o.Status != OrderStatusPending {
		return ErrIllegalTransition
	}
	o.Status = OrderStatusPaid
	o.UpdatedAt = time.Now()
	return nil
}

// Approve переводит заказ PAID -> APPROVED в ответ на Approved. Поглощающее состояние (I4).
func (o *Order) Approve() error {
	if o.Status != OrderStatusPaid {
		return ErrIllegalTransition
	}
	o.Status = OrderStatusApproved
	o.UpdatedAt = time.Now()
	return nil
}

// InitCancel начинает отмену заказа. Из PENDING (платёж отклонён) ведёт сразу
// в CANCELLED; из PAID (ресторан отклонил одобрение) ведёт в промежуточное
// состояние CANCELLING, ожидающее подтверждения компенсации платежа.
func (o *Order) InitCancel(failures []string) error {
	switch o.Status {
	case OrderStatusPending:
		o.Status = OrderStatusCancelled
	case OrderStatusPaid:
		o.Status = OrderStatusCancelling
	default:
		return ErrIllegalTransition
	}
	o.appendFailures(failures)
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel завершает отмену CANCELLING -> CANCELLED после подтверждения компенсации платежа.
func (o *Order) Cancel(failures []string) error {
	if o.Status != OrderStatusCancelling {
		return ErrIllegalTransition
	}
	o.Status = OrderStatusCancelled
	o.appendFailures(failures)
	o.UpdatedAt = time.Now()
	return nil
}

// appendFailures добавляет сообщения об ошибках аддитивно и идемпотентно:
// пустой список ничего не меняет, повторяющиеся сообщения схлопываются (set-семантика).
func (o *Order) appendFailures(failures []string) {
	if len(failures) == 0 {
		return
	}
	seen := make(map[string]struct{}, len(o.FailureMessages))
	for _, f := range o.FailureMessages {
		seen[f] = struct{}{}
	}
	for _, f := range failures {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		o.FailureMessages = append(o.FailureMessages, f)
	}
}

// IsTerminal возвращает true для поглощающих состояний (I4).
func (o *Order) IsTerminal() bool {
	return o.Status == OrderStatusApproved || o.Status == OrderStatusCancelled
}
