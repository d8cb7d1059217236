// Package saga содержит общие типы событий саги заказа, которыми обмениваются
// Order, Payment, Restaurant и Customer через Kafka. Единый источник правды
// для форматов сообщений — исключает рассинхронизацию между сервисами.
package saga

import (
	"encoding/json"
	"time"

	"example.com/foodorder/pkg/money"
)

// PaymentOrderStatus — статус заказа с точки зрения Payment-шага саги.
type PaymentOrderStatus string

const (
	PaymentOrderStatusPending    PaymentOrderStatus = "PENDING"
	PaymentOrderStatusCancelling PaymentOrderStatus = "CANCELLING"
)

// PaymentRequest — событие Order -> Payment: списать или вернуть средства.
type PaymentRequest struct {
	SagaID             string             `json:"sagaId"`
	CustomerID         string             `json:"customerId"`
	OrderID            string             `json:"orderId"`
	Price              money.Money        `json:"price"`
	CreatedAt          time.Time          `json:"createdAt"`
	PaymentOrderStatus PaymentOrderStatus `json:"paymentOrderStatus"`
}

// ToJSON сериализует событие в JSON.
func (r *PaymentRequest) ToJSON() ([]byte, error) { return json.Marshal(r) }

// PaymentRequestFromJSON десериализует событие из JSON.
func PaymentRequestFromJSON(data []byte) (*PaymentRequest, error) {
	var r PaymentRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// PaymentStatus — результат обработки платежа.
type PaymentStatus string

const (
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusCancelled PaymentStatus = "CANCELLED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// PaymentResponse — событие Payment -> Order: результат списания/возврата.
type PaymentResponse struct {
	SagaID          string        `json:"sagaId"`
	CustomerID      string        `json:"customerId"`
	OrderID         string        `json:"orderId"`
	Price           money.Money   `json:"price"`
	CreatedAt       time.Time     `json:"createdAt"`
	PaymentStatus   PaymentStatus `json:"paymentStatus"`
	FailureMessages []string      `json:"failureMessages,omitempty"`
}

func (r *PaymentResponse) ToJSON() ([]byte, error) { return json.Marshal(r) }

func PaymentResponseFromJSON(data []byte) (*PaymentResponse, error) {
	var r PaymentResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *PaymentResponse) IsSuccess() bool { return r.PaymentStatus == PaymentStatusCompleted }

// OrderApprovalProduct — позиция заказа, передаваемая на подтверждение ресторану.
type OrderApprovalProduct struct {
	ID       string `json:"id"`
	Quantity int32  `json:"quantity"`
}

// RestaurantOrderStatus — статус заказа с точки зрения Restaurant-шага саги.
type RestaurantOrderStatus string

const (
	RestaurantOrderStatusPaid       RestaurantOrderStatus = "PAID"
	RestaurantOrderStatusCancelling RestaurantOrderStatus = "CANCELLING"
)

// ApprovalRequest — событие Order -> Restaurant: подтвердить или отменить заказ.
type ApprovalRequest struct {
	SagaID                string                  `json:"sagaId"`
	OrderID               string                  `json:"orderId"`
	RestaurantID          string                  `json:"restaurantId"`
	CreatedAt             time.Time               `json:"createdAt"`
	RestaurantOrderStatus RestaurantOrderStatus   `json:"restaurantOrderStatus"`
	Products              []OrderApprovalProduct `json:"products"`
}

func (r *ApprovalRequest) ToJSON() ([]byte, error) { return json.Marshal(r) }

func ApprovalRequestFromJSON(data []byte) (*ApprovalRequest, error) {
	var r ApprovalRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// OrderApprovalStatus — результат подтверждения заказа рестораном.
type OrderApprovalStatus string

const (
	OrderApprovalStatusApproved OrderApprovalStatus = "APPROVED"
	OrderApprovalStatusRejected OrderApprovalStatus = "REJECTED"
)

// ApprovalResponse — событие Restaurant -> Order: решение по заказу.
type ApprovalResponse struct {
	SagaID              string              `json:"sagaId"`
	OrderID             string              `json:"orderId"`
	CreatedAt           time.Time           `json:"createdAt"`
	OrderApprovalStatus OrderApprovalStatus `json:"orderApprovalStatus"`
	FailureMessages     []string            `json:"failureMessages,omitempty"`
}

func (r *ApprovalResponse) ToJSON() ([]byte, error) { return json.Marshal(r) }

func ApprovalResponseFromJSON(data []byte) (*ApprovalResponse, error) {
	var r ApprovalResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *ApprovalResponse) IsApproved() bool {
	return r.OrderApprovalStatus == OrderApprovalStatusApproved
}

// CustomerModel — событие Customer -> Order: снимок клиента для локальной реплики.
type CustomerModel struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

func (c *CustomerModel) ToJSON() ([]byte, error) { return json.Marshal(c) }

func CustomerModelFromJSON(data []byte) (*CustomerModel, error) {
	var c CustomerModel
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ProductModel — продукт внутри снимка каталога ресторана.
type ProductModel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Price     money.Money `json:"price"`
	Available bool        `json:"available"`
}

// RestaurantCatalogModel — событие Restaurant -> Order: снимок каталога
// ресторана для локальной реплики, используемой при валидации заказа (§4.6).
type RestaurantCatalogModel struct {
	ID       string         `json:"id"`
	Active   bool           `json:"active"`
	Products []ProductModel `json:"products"`
}

func (r *RestaurantCatalogModel) ToJSON() ([]byte, error) { return json.Marshal(r) }

func RestaurantCatalogModelFromJSON(data []byte) (*RestaurantCatalogModel, error) {
	var r RestaurantCatalogModel
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
