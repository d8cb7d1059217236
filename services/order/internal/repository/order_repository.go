// Package repository содержит реализацию доступа к данным для Order Service.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"example.com/foodorder/pkg/money"
	"example.com/foodorder/services/order/internal/domain"
)

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// Transaction выполняет fn в рамках одной транзакции БД. Используется
	// реакторами саги для атомарной записи состояния заказа и строки outbox.
	Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error

	// CreateTx создаёт заказ с позициями внутри переданной транзакции.
	CreateTx(ctx context.Context, tx *gorm.DB, order *domain.Order) error

	// GetByID возвращает заказ по ID с загруженными позициями.
	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIdempotencyKey возвращает заказ по ключу идемпотентности.
	GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Order, error)

	// GetByTrackingID возвращает заказ по публичному идентификатору отслеживания.
	GetByTrackingID(ctx context.Context, trackingID string) (*domain.Order, error)

	// ListByUserID возвращает заказы пользователя с пагинацией.
	ListByUserID(ctx context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error)

	// UpdateStatusTx внутри переданной транзакции переводит заказ в новый статус,
	// сохраняя накопленные failureMessages. Используется реакторами саги вместе
	// с записью dedupe-строки outbox в той же транзакции.
	UpdateStatusTx(ctx context.Context, tx *gorm.DB, orderID string, status domain.OrderStatus, failureMessages []string) error

	// GetStuckOrders возвращает заказы, застрявшие в нетерминальном статусе
	// дольше stuckSince — используется ExpiryWorker.
	GetStuckOrders(ctx context.Context, statuses []domain.OrderStatus, stuckSince time.Time, limit int) ([]*domain.Order, error)
}

// OrderModel — GORM модель для таблицы orders.
type OrderModel struct {
	ID              string           `gorm:"column:id;type:varchar(36);primaryKey"`
	CustomerID      string           `gorm:"column:customer_id;type:varchar(36);not null;index"`
	RestaurantID    string           `gorm:"column:restaurant_id;type:varchar(36);not null;index"`
	Street          string           `gorm:"column:street;type:varchar(255);not null"`
	PostalCode      string           `gorm:"column:postal_code;type:varchar(20);not null"`
	City            string           `gorm:"column:city;type:varchar(100);not null"`
	Status          string           `gorm:"column:status;type:varchar(20);not null;index"`
	Price           money.Money      `gorm:"column:price;type:varchar(40);not null"`
	FailureMessages []byte           `gorm:"column:failure_messages;type:json"`
	TrackingID      string           `gorm:"column:tracking_id;type:varchar(36);uniqueIndex"`
	IdempotencyKey  *string          `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items           []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

func (OrderModel) TableName() string { return "orders" }

// OrderItemModel — GORM модель для таблицы order_items.
type OrderItemModel struct {
	ID          string      `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string      `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID   string      `gorm:"column:product_id;type:varchar(36);not null"`
	ProductName string      `gorm:"column:product_name;type:varchar(255);not null"`
	Quantity    int32       `gorm:"column:quantity;not null"`
	UnitPrice   money.Money `gorm:"column:unit_price;type:varchar(40);not null"`
	SubTotal    money.Money `gorm:"column:sub_total;type:varchar(40);not null"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime"`
}

func (OrderItemModel) TableName() string { return "order_items" }

func (m *OrderModel) toDomain() *domain.Order {
	order := &domain.Order{
		ID:         m.ID,
		CustomerID: m.CustomerID,
		RestaurantID: m.RestaurantID,
		DeliveryAddress: domain.DeliveryAddress{
			Street:     m.Street,
			PostalCode: m.PostalCode,
			City:       m.City,
		},
		Status:     domain.OrderStatus(m.Status),
		Price:      m.Price,
		TrackingID: m.TrackingID,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
		Items:      make([]domain.OrderItem, len(m.Items)),
	}
	if m.IdempotencyKey != nil {
		order.IdempotencyKey = *m.IdempotencyKey
	}
	if len(m.FailureMessages) > 0 {
		_ = json.Unmarshal(m.FailureMessages, &order.FailureMessages)
	}
	for i, item := range m.Items {
		order.Items[i] = item.toDomain()
	}
	return order
}

func (m *OrderItemModel) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		ProductName: m.ProductName,
		Quantity:    m.Quantity,
		UnitPrice:   m.UnitPrice,
		SubTotal:    m.SubTotal,
	}
}

func orderModelFromDomain(o *domain.Order) *OrderModel {
	model := &OrderModel{
		ID:              o.ID,
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		Street:          o.DeliveryAddress.Street,
		PostalCode:      o.DeliveryAddress.PostalCode,
		City:            o.DeliveryAddress.City,
		Status:          string(o.Status),
		Price:           o.Price,
		TrackingID:      o.TrackingID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           make([]OrderItemModel, len(o.Items)),
	}
	if o.IdempotencyKey != "" {
		model.IdempotencyKey = &o.IdempotencyKey
	}
	if len(o.FailureMessages) > 0 {
		if data, err := json.Marshal(o.FailureMessages); err == nil {
			model.FailureMessages = data
		}
	}
	for i, item := range o.Items {
		model.Items[i] = orderItemModelFromDomain(&item)
	}
	return model
}

func orderItemModelFromDomain(oi *domain.OrderItem) OrderItemModel {
	return OrderItemModel{
		ID:          oi.ID,
		OrderID:     oi.OrderID,
		ProductID:   oi.ProductID,
		ProductName: oi.ProductName,
		Quantity:    oi.Quantity,
		UnitPrice:   oi.UnitPrice,
		SubTotal:    oi.SubTotal,
	}
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт новый репозиторий заказов.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func (r *orderRepository) session(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db
}

func (r *orderRepository) CreateTx(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	model := orderModelFromDomain(order)
	if err := r.session(tx).WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return domain.ErrDuplicateOrder
		}
		return err
	}
	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	for i := range order.Items {
		order.Items[i].ID = model.Items[i].ID
	}
	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).Preload("Items").Where("idempotency_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *orderRepository) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Order, error) {
	var model OrderModel
	if err := r.db.WithContext(ctx).Preload("Items").Where("tracking_id = ?", trackingID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *orderRepository) ListByUserID(ctx context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	var models []OrderModel
	var totalCount int64

	query := r.db.WithContext(ctx).Model(&OrderModel{}).Where("customer_id = ?", userID)
	if status != nil {
		query = query.Where("status = ?", string(*status))
	}
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Preload("Items").Order("created_at DESC").Offset(offset).Limit(limit).Find(&models).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, totalCount, nil
}

func (r *orderRepository) UpdateStatusTx(ctx context.Context, tx *gorm.DB, orderID string, status domain.OrderStatus, failureMessages []string) error {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": time.Now(),
	}
	if len(failureMessages) > 0 {
		data, err := json.Marshal(failureMessages)
		if err != nil {
			return err
		}
		updates["failure_messages"] = data
	}

	result := r.session(tx).WithContext(ctx).Model(&OrderModel{}).Where("id = ?", orderID).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (r *orderRepository) GetStuckOrders(ctx context.Context, statuses []domain.OrderStatus, stuckSince time.Time, limit int) ([]*domain.Order, error) {
	statusStrs := make([]string, len(statuses))
	for i, s := range statuses {
		statusStrs[i] = string(s)
	}

	var models []OrderModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statusStrs, stuckSince).
		Order("updated_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	result := make([]*domain.Order, len(models))
	for i := range models {
		result[i] = models[i].toDomain()
	}
	return result, nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом ключа (MySQL 1062).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
