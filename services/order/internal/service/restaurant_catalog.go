package service

import (
	"context"

	"example.com/foodorder/services/order/internal/domain"
	"example.com/foodorder/services/order/internal/repository"
)

// replicaRestaurantCatalog реализует RestaurantCatalog поверх локальной
// read-only реплики ресторана (таблица restaurant_replicas), заполняемой
// консьюмером топика restaurant-catalog — вместо синхронного вызова
// Restaurant Service на каждое создание заказа.
type replicaRestaurantCatalog struct {
	replicas repository.ReplicaRepository
}

// NewReplicaRestaurantCatalog создаёт RestaurantCatalog на основе локальной реплики.
func NewReplicaRestaurantCatalog(replicas repository.ReplicaRepository) RestaurantCatalog {
	return &replicaRestaurantCatalog{replicas: replicas}
}

func (c *replicaRestaurantCatalog) IsActive(ctx context.Context, restaurantID string) (bool, error) {
	active, _, found, err := c.replicas.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, domain.ErrRestaurantNotFound
	}
	return active, nil
}

func (c *replicaRestaurantCatalog) ValidatePrices(ctx context.Context, restaurantID string, items []domain.OrderItem) (bool, error) {
	_, products, found, err := c.replicas.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, domain.ErrRestaurantNotFound
	}

	byID := make(map[string]repository.ProductSnapshot, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	for _, item := range items {
		product, ok := byID[item.ProductID]
		if !ok || !product.Available {
			return false, nil
		}
		if !product.Price.Equal(item.UnitPrice) {
			return false, nil
		}
	}
	return true, nil
}
