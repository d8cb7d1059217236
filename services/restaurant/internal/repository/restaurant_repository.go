// Package repository содержит реализацию доступа к данным для Restaurant Service.
package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/foodorder/pkg/money"
	"example.com/foodorder/services/restaurant/internal/domain"
)

// RestaurantRepository определяет интерфейс для работы с ресторанами в БД.
type RestaurantRepository interface {
	// GetByID возвращает ресторан вместе с меню.
	GetByID(ctx context.Context, restaurantID string) (*domain.Restaurant, error)

	// ListAll возвращает все рестораны — используется CatalogPublisher'ом
	// для периодической публикации снимков каталога в restaurant-catalog.
	ListAll(ctx context.Context) ([]*domain.Restaurant, error)

	// Upsert создаёт либо обновляет ресторан целиком (меню перезаписывается).
	// Используется при сидировании каталога из конфигурации при старте сервиса.
	Upsert(ctx context.Context, restaurant *domain.Restaurant) error
}

// =============================================================================
// GORM модель
// =============================================================================

// productModel — продукт внутри JSON-колонки products (см. RestaurantReplicaModel
// в Order Service, откуда заимствован этот приём: меню не требует отдельных
// join'ов, т.к. читается и пишется целиком вместе с рестораном).
type productModel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Price     money.Money `json:"price"`
	Available bool        `json:"available"`
}

// RestaurantModel — GORM модель для таблицы restaurants.
type RestaurantModel struct {
	ID       string `gorm:"column:id;type:varchar(36);primaryKey"`
	Active   bool   `gorm:"column:active;not null"`
	Products []byte `gorm:"column:products;type:json"` // []productModel сериализован в JSON
}

func (RestaurantModel) TableName() string { return "restaurants" }

func (m *RestaurantModel) toDomain() (*domain.Restaurant, error) {
	var products []productModel
	if len(m.Products) > 0 {
		if err := json.Unmarshal(m.Products, &products); err != nil {
			return nil, err
		}
	}

	domainProducts := make([]domain.Product, 0, len(products))
	for _, p := range products {
		domainProducts = append(domainProducts, domain.Product{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Available: p.Available,
		})
	}

	return &domain.Restaurant{
		ID:       m.ID,
		Active:   m.Active,
		Products: domainProducts,
	}, nil
}

func restaurantModelFromDomain(r *domain.Restaurant) (*RestaurantModel, error) {
	products := make([]productModel, 0, len(r.Products))
	for _, p := range r.Products {
		products = append(products, productModel{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Available: p.Available,
		})
	}

	data, err := json.Marshal(products)
	if err != nil {
		return nil, err
	}

	return &RestaurantModel{ID: r.ID, Active: r.Active, Products: data}, nil
}

// =============================================================================
// Реализация репозитория
// =============================================================================

type restaurantRepository struct {
	db *gorm.DB
}

// NewRestaurantRepository создаёт новый репозиторий ресторанов.
func NewRestaurantRepository(db *gorm.DB) RestaurantRepository {
	return &restaurantRepository{db: db}
}

func (r *restaurantRepository) GetByID(ctx context.Context, restaurantID string) (*domain.Restaurant, error) {
	var model RestaurantModel

	if err := r.db.WithContext(ctx).Where("id = ?", restaurantID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRestaurantNotFound
		}
		return nil, err
	}

	return model.toDomain()
}

func (r *restaurantRepository) ListAll(ctx context.Context) ([]*domain.Restaurant, error) {
	var models []RestaurantModel

	if err := r.db.WithContext(ctx).Find(&models).Error; err != nil {
		return nil, err
	}

	restaurants := make([]*domain.Restaurant, 0, len(models))
	for i := range models {
		restaurant, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		restaurants = append(restaurants, restaurant)
	}

	return restaurants, nil
}

func (r *restaurantRepository) Upsert(ctx context.Context, restaurant *domain.Restaurant) error {
	model, err := restaurantModelFromDomain(restaurant)
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "products"}),
	}).Create(model).Error
}
