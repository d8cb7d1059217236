// Package service содержит бизнес-логику Order Service.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/pkg/money"
	"example.com/foodorder/services/order/internal/domain"
	"example.com/foodorder/services/order/internal/repository"
	"example.com/foodorder/services/order/internal/saga"
)

// Константы для валидации пагинации.
const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
	minPageSize     = 1
)

// RestaurantCatalog предоставляет данные ресторана и каталога, необходимые
// для валидации заказа при создании (ресторан активен, цены совпадают
// с каталогом).
type RestaurantCatalog interface {
	IsActive(ctx context.Context, restaurantID string) (bool, error)
	ValidatePrices(ctx context.Context, restaurantID string, items []domain.OrderItem) (bool, error)
}

// OrderService определяет интерфейс бизнес-логики заказов.
type OrderService interface {
	// CreateOrder создаёт новый заказ с идемпотентностью и запускает сагу.
	CreateOrder(ctx context.Context, customerID, restaurantID, idempotencyKey string, address domain.DeliveryAddress, items []domain.OrderItem) (*domain.Order, error)

	// GetOrder возвращает заказ по ID.
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// TrackOrder возвращает заказ по публичному идентификатору отслеживания.
	TrackOrder(ctx context.Context, trackingID string) (*domain.Order, error)

	// ListOrders возвращает заказы пользователя с пагинацией.
	ListOrders(ctx context.Context, customerID string, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error)

	// CancelOrder отменяет заказ клиента, пока он ещё PENDING.
	CancelOrder(ctx context.Context, orderID string) error
}

// orderService — реализация OrderService.
type orderService struct {
	repo      repository.OrderRepository
	initiator *saga.Initiator
	catalog   RestaurantCatalog
}

// NewOrderService создаёт новый сервис заказов. initiator может быть nil —
// тогда заказ создаётся без события PaymentRequest (для тестов без Kafka).
func NewOrderService(repo repository.OrderRepository, initiator *saga.Initiator, catalog RestaurantCatalog) OrderService {
	return &orderService{repo: repo, initiator: initiator, catalog: catalog}
}

// CreateOrder создаёт новый заказ с идемпотентностью и атомарно ставит в
// очередь первое событие саги (PaymentRequest).
func (s *orderService) CreateOrder(ctx context.Context, customerID, restaurantID, idempotencyKey string, address domain.DeliveryAddress, items []domain.OrderItem) (*domain.Order, error) {
	log := logger.FromContext(ctx)

	if idempotencyKey != "" {
		existing, err := s.repo.GetByIdempotencyKey(ctx, idempotencyKey)
		if err == nil && existing != nil {
			log.Info().Str("order_id", existing.ID).Str("idempotency_key", idempotencyKey).Msg("Возвращён существующий заказ по ключу идемпотентности")
			return existing, nil
		}
		if err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
			return nil, fmt.Errorf("ошибка проверки идемпотентности: %w", err)
		}
	}

	restaurantActive, err := s.catalog.IsActive(ctx, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки ресторана: %w", err)
	}
	pricesMatch, err := s.catalog.ValidatePrices(ctx, restaurantID, items)
	if err != nil {
		return nil, fmt.Errorf("ошибка проверки цен каталога: %w", err)
	}

	orderID := uuid.New().String()
	now := time.Now()

	orderItems := make([]domain.OrderItem, len(items))
	var total money.Money
	for i := range items {
		orderItems[i] = items[i]
		orderItems[i].ID = uuid.New().String()
		orderItems[i].OrderID = orderID
		if i == 0 {
			total = orderItems[i].SubTotal
		} else {
			total, err = total.Add(orderItems[i].SubTotal)
			if err != nil {
				return nil, err
			}
		}
	}

	order := &domain.Order{
		ID:              orderID,
		CustomerID:      customerID,
		RestaurantID:    restaurantID,
		DeliveryAddress: address,
		Items:           orderItems,
		Price:           total,
		IdempotencyKey:  idempotencyKey,
		TrackingID:      uuid.New().String(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := order.Initialize(restaurantActive, pricesMatch); err != nil {
		log.Warn().Err(err).Str("customer_id", customerID).Msg("Ошибка валидации заказа")
		return nil, err
	}

	if s.initiator != nil {
		if err := s.initiator.CreateOrder(ctx, order); err != nil {
			log.Error().Err(err).Str("customer_id", customerID).Msg("Ошибка создания заказа с сагой")
			return nil, fmt.Errorf("ошибка создания заказа: %w", err)
		}
	} else {
		if err := s.repo.Transaction(ctx, func(tx *gorm.DB) error {
			return s.repo.CreateTx(ctx, tx, order)
		}); err != nil {
			return nil, fmt.Errorf("ошибка создания заказа: %w", err)
		}
	}

	log.Info().
		Str("order_id", order.ID).
		Str("customer_id", customerID).
		Str("price", order.Price.String()).
		Int("items_count", len(order.Items)).
		Msg("Заказ успешно создан")

	return order, nil
}

// GetOrder возвращает заказ по ID.
func (s *orderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// TrackOrder возвращает заказ по публичному идентификатору отслеживания.
func (s *orderService) TrackOrder(ctx context.Context, trackingID string) (*domain.Order, error) {
	return s.repo.GetByTrackingID(ctx, trackingID)
}

// ListOrders возвращает заказы пользователя с пагинацией.
func (s *orderService) ListOrders(ctx context.Context, customerID string, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error) {
	page = normalizePage(page)
	pageSize = normalizePageSize(pageSize)
	offset := (page - 1) * pageSize
	return s.repo.ListByUserID(ctx, customerID, status, offset, pageSize)
}

// CancelOrder отменяет заказ клиента. Без инициатора (режим без Kafka, тесты)
// отмена недоступна — компенсация требует события саги.
func (s *orderService) CancelOrder(ctx context.Context, orderID string) error {
	if s.initiator == nil {
		return fmt.Errorf("отмена заказа недоступна: саги отключены")
	}
	if err := s.initiator.CancelOrder(ctx, orderID); err != nil {
		logger.FromContext(ctx).Warn().Err(err).Str("order_id", orderID).Msg("Ошибка отмены заказа")
		return err
	}
	return nil
}

func normalizePage(page int) int {
	if page < 1 {
		return defaultPage
	}
	return page
}

func normalizePageSize(pageSize int) int {
	if pageSize < minPageSize {
		return defaultPageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}
