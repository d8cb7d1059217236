// Package testutil содержит общие моки и утилиты для тестирования.
// Моки вынесены сюда для избежания дублирования (DRY).
// ВАЖНО: этот пакет НЕ должен импортировать saga (circular dependency).
package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gorm.io/gorm"

	"example.com/foodorder/services/order/internal/domain"
)

// =============================================================================
// MockOrderRepository — мок для repository.OrderRepository
// =============================================================================

// MockOrderRepository — мок OrderRepository для unit-тестов.
// Используется в saga и service пакетах.
type MockOrderRepository struct {
	mock.Mock
}

func (m *MockOrderRepository) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(nil)
}

func (m *MockOrderRepository) CreateTx(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	return m.Called(ctx, tx, order).Error(0)
}

func (m *MockOrderRepository) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByIdempotencyKey(ctx context.Context, idempotencyKey string) (*domain.Order, error) {
	args := m.Called(ctx, idempotencyKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Order, error) {
	args := m.Called(ctx, trackingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *MockOrderRepository) ListByUserID(ctx context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	args := m.Called(ctx, userID, status, offset, limit)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*domain.Order), args.Get(1).(int64), args.Error(2)
}

func (m *MockOrderRepository) UpdateStatusTx(ctx context.Context, tx *gorm.DB, orderID string, status domain.OrderStatus, failureMessages []string) error {
	return m.Called(ctx, tx, orderID, status, failureMessages).Error(0)
}

func (m *MockOrderRepository) GetStuckOrders(ctx context.Context, statuses []domain.OrderStatus, stuckSince time.Time, limit int) ([]*domain.Order, error) {
	args := m.Called(ctx, statuses, stuckSince, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

// =============================================================================
// MockRestaurantCatalog — мок для service.RestaurantCatalog
// =============================================================================

// MockRestaurantCatalog — мок RestaurantCatalog для unit-тестов OrderService.
type MockRestaurantCatalog struct {
	mock.Mock
}

func (m *MockRestaurantCatalog) IsActive(ctx context.Context, restaurantID string) (bool, error) {
	args := m.Called(ctx, restaurantID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRestaurantCatalog) ValidatePrices(ctx context.Context, restaurantID string, items []domain.OrderItem) (bool, error) {
	args := m.Called(ctx, restaurantID, items)
	return args.Bool(0), args.Error(1)
}
