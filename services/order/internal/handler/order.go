// Package handler содержит HTTP обработчики Order Service.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/pkg/money"
	"example.com/foodorder/services/order/internal/domain"
	"example.com/foodorder/services/order/internal/service"
)

// OrderHandler — HTTP обработчик заказов.
type OrderHandler struct {
	orderService service.OrderService
}

// NewOrderHandler создаёт новый обработчик заказов.
func NewOrderHandler(orderService service.OrderService) *OrderHandler {
	return &OrderHandler{orderService: orderService}
}

// === Request/Response DTOs ===

// CreateOrderRequest — запрос на создание заказа.
type CreateOrderRequest struct {
	CustomerID     string                   `json:"customer_id" binding:"required,uuid"`
	RestaurantID   string                   `json:"restaurant_id" binding:"required,uuid"`
	IdempotencyKey string                   `json:"idempotency_key" binding:"required"`
	DeliveryAddress DeliveryAddressRequest  `json:"delivery_address" binding:"required"`
	Items          []CreateOrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// DeliveryAddressRequest — адрес доставки в запросе.
type DeliveryAddressRequest struct {
	Street     string `json:"street" binding:"required"`
	PostalCode string `json:"postal_code" binding:"required"`
	City       string `json:"city" binding:"required"`
}

// CreateOrderItemRequest — позиция в запросе на создание заказа.
type CreateOrderItemRequest struct {
	ProductID   string       `json:"product_id" binding:"required,uuid"`
	ProductName string       `json:"product_name" binding:"required,min=1"`
	Quantity    int32        `json:"quantity" binding:"required,min=1"`
	UnitPrice   MoneyRequest `json:"unit_price" binding:"required"`
	SubTotal    MoneyRequest `json:"sub_total" binding:"required"`
}

// MoneyRequest — денежная сумма в запросе.
type MoneyRequest struct {
	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required,len=3"`
}

func (m MoneyRequest) toDomain() (money.Money, error) {
	return money.New(m.Amount, m.Currency)
}

// CreateOrderResponse — ответ на создание заказа.
type CreateOrderResponse struct {
	OrderID    string `json:"order_id"`
	TrackingID string `json:"tracking_id"`
	Status     string `json:"status"`
}

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// MoneyResponse — денежная сумма в ответе.
type MoneyResponse struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// OrderItemResponse — позиция заказа в ответе.
type OrderItemResponse struct {
	ProductID   string        `json:"product_id"`
	ProductName string        `json:"product_name"`
	Quantity    int32         `json:"quantity"`
	UnitPrice   MoneyResponse `json:"unit_price"`
	SubTotal    MoneyResponse `json:"sub_total"`
}

// OrderResponse — информация о заказе в ответе.
type OrderResponse struct {
	ID              string              `json:"id"`
	CustomerID      string              `json:"customer_id"`
	RestaurantID    string              `json:"restaurant_id"`
	TrackingID      string              `json:"tracking_id"`
	Items           []OrderItemResponse `json:"items"`
	Price           MoneyResponse       `json:"price"`
	Status          string              `json:"status"`
	FailureMessages []string            `json:"failure_messages,omitempty"`
	CreatedAt       int64               `json:"created_at"`
	UpdatedAt       int64               `json:"updated_at"`
}

// ListOrdersResponse — ответ на запрос списка заказов.
type ListOrdersResponse struct {
	Orders     []OrderResponse    `json:"orders"`
	Pagination PaginationResponse `json:"pagination"`
}

// PaginationResponse — информация о пагинации.
type PaginationResponse struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
}

// CancelOrderResponse — ответ на отмену заказа.
type CancelOrderResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// === Handlers ===

// CreateOrder создаёт новый заказ.
// POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на создание заказа")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
		return
	}

	items := make([]domain.OrderItem, len(req.Items))
	for i, item := range req.Items {
		unitPrice, err := item.UnitPrice.toDomain()
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "некорректная цена позиции"})
			return
		}
		subTotal, err := item.SubTotal.toDomain()
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "некорректный subTotal позиции"})
			return
		}
		items[i] = domain.OrderItem{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   unitPrice,
			SubTotal:    subTotal,
		}
	}

	address := domain.DeliveryAddress{
		Street:     req.DeliveryAddress.Street,
		PostalCode: req.DeliveryAddress.PostalCode,
		City:       req.DeliveryAddress.City,
	}

	order, err := h.orderService.CreateOrder(ctx, req.CustomerID, req.RestaurantID, req.IdempotencyKey, address, items)
	if err != nil {
		handleError(c, err, "CreateOrder")
		return
	}

	log.Info().
		Str("order_id", order.ID).
		Str("customer_id", req.CustomerID).
		Int("items_count", len(items)).
		Msg("Заказ создан")

	c.JSON(http.StatusCreated, CreateOrderResponse{
		OrderID:    order.ID,
		TrackingID: order.TrackingID,
		Status:     string(order.Status),
	})
}

// GetOrder возвращает заказ по ID.
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	orderID := c.Param("id")

	order, err := h.orderService.GetOrder(ctx, orderID)
	if err != nil {
		handleError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, orderToResponse(order))
}

// TrackOrder возвращает заказ по непрозрачному идентификатору отслеживания.
// GET /api/v1/orders/track/:trackingId
func (h *OrderHandler) TrackOrder(c *gin.Context) {
	ctx := c.Request.Context()
	trackingID := c.Param("trackingId")

	order, err := h.orderService.TrackOrder(ctx, trackingID)
	if err != nil {
		handleError(c, err, "TrackOrder")
		return
	}

	c.JSON(http.StatusOK, orderToResponse(order))
}

// ListOrders возвращает заказы клиента с пагинацией.
// GET /api/v1/orders?customer_id=...&page=1&page_size=20&status=PENDING
func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	customerID := c.Query("customer_id")
	if customerID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "customer_id обязателен"})
		return
	}

	page := 1
	pageSize := 20
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	if ps, err := strconv.Atoi(c.Query("page_size")); err == nil && ps > 0 && ps <= 100 {
		pageSize = ps
	}

	var statusFilter *domain.OrderStatus
	if s := c.Query("status"); s != "" {
		st := domain.OrderStatus(s)
		statusFilter = &st
	}

	orders, total, err := h.orderService.ListOrders(ctx, customerID, statusFilter, page, pageSize)
	if err != nil {
		handleError(c, err, "ListOrders")
		return
	}

	responses := make([]OrderResponse, len(orders))
	for i, o := range orders {
		responses[i] = orderToResponse(o)
	}

	totalPages := int(total) / pageSize
	if int(total)%pageSize > 0 {
		totalPages++
	}

	log.Debug().Str("customer_id", customerID).Int("count", len(responses)).Msg("Список заказов получен")

	c.JSON(http.StatusOK, ListOrdersResponse{
		Orders: responses,
		Pagination: PaginationResponse{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalItems:  total,
			TotalPages:  totalPages,
		},
	})
}

// CancelOrder отменяет заказ клиента, пока он ещё PENDING.
// DELETE /api/v1/orders/:id
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)
	orderID := c.Param("id")

	if err := h.orderService.CancelOrder(ctx, orderID); err != nil {
		handleError(c, err, "CancelOrder")
		return
	}

	log.Info().Str("order_id", orderID).Msg("Заказ отменён клиентом")
	c.JSON(http.StatusOK, CancelOrderResponse{Success: true, Message: "заказ отменён"})
}

// === Helpers ===

func orderToResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = OrderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   MoneyResponse{Amount: item.UnitPrice.Amount.String(), Currency: item.UnitPrice.Currency},
			SubTotal:    MoneyResponse{Amount: item.SubTotal.Amount.String(), Currency: item.SubTotal.Currency},
		}
	}

	return OrderResponse{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		TrackingID:      o.TrackingID,
		Items:           items,
		Price:           MoneyResponse{Amount: o.Price.Amount.String(), Currency: o.Price.Currency},
		Status:          string(o.Status),
		FailureMessages: o.FailureMessages,
		CreatedAt:       o.CreatedAt.Unix(),
		UpdatedAt:       o.UpdatedAt.Unix(),
	}
}

// handleError преобразует доменные ошибки в HTTP статусы.
func handleError(c *gin.Context, err error, method string) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not_found", Message: err.Error()})
	case errors.Is(err, domain.ErrDuplicateOrder):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "already_exists", Message: err.Error()})
	case errors.Is(err, domain.ErrIllegalTransition):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "illegal_transition", Message: err.Error()})
	case errors.Is(err, domain.ErrRestaurantInactive),
		errors.Is(err, domain.ErrRestaurantNotFound),
		errors.Is(err, domain.ErrPriceMismatch),
		errors.Is(err, domain.ErrSubTotalMismatch),
		errors.Is(err, domain.ErrEmptyOrderItems),
		errors.Is(err, domain.ErrInvalidCustomerID),
		errors.Is(err, domain.ErrInvalidRestaurantID),
		errors.Is(err, domain.ErrInvalidDeliveryAddress),
		errors.Is(err, domain.ErrInvalidProductID),
		errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidPrice):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: err.Error()})
	default:
		log.Error().Err(err).Str("method", method).Msg("Внутренняя ошибка обработчика заказов")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "внутренняя ошибка сервера"})
	}
}
