package repository

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/foodorder/pkg/money"
)

// CustomerReplicaModel — локальная read-only реплика клиента, заполняемая
// консьюмером топика customer. Наличие строки — единственное, что требуется
// ядру перед валидацией заказа (см. ReplicaRepository.CustomerExists).
type CustomerReplicaModel struct {
	ID        string `gorm:"column:id;type:varchar(36);primaryKey"`
	Username  string `gorm:"column:username;type:varchar(100);not null"`
	FirstName string `gorm:"column:first_name;type:varchar(100)"`
	LastName  string `gorm:"column:last_name;type:varchar(100)"`
}

func (CustomerReplicaModel) TableName() string { return "customer_replicas" }

// RestaurantReplicaModel — локальная read-only реплика ресторана вместе с
// каталогом продуктов, заполняемая консьюмером топика restaurant-catalog.
type RestaurantReplicaModel struct {
	ID       string `gorm:"column:id;type:varchar(36);primaryKey"`
	Active   bool   `gorm:"column:active;not null"`
	Products []byte `gorm:"column:products;type:json"` // []ProductSnapshot сериализован в JSON
}

func (RestaurantReplicaModel) TableName() string { return "restaurant_replicas" }

// ProductSnapshot — снимок продукта внутри каталога ресторана, достаточный
// для проверки каталога при создании заказа (совпадение цены и доступности).
type ProductSnapshot struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Price     money.Money `json:"price"`
	Available bool        `json:"available"`
}

// ReplicaRepository даёт доступ к локальным read-only репликам Customer и
// Restaurant, которыми Order Service владеет самостоятельно — вместо
// синхронного похода в чужой сервис на каждое создание заказа.
type ReplicaRepository interface {
	// UpsertCustomer применяет снимок CustomerModel, полученный из топика customer.
	UpsertCustomer(ctx context.Context, id, username, firstName, lastName string) error

	// CustomerExists проверяет, что реплика клиента уже материализована.
	CustomerExists(ctx context.Context, customerID string) (bool, error)

	// UpsertRestaurant применяет снимок каталога ресторана из топика restaurant-catalog.
	UpsertRestaurant(ctx context.Context, id string, active bool, products []ProductSnapshot) error

	// GetRestaurant возвращает снимок ресторана, если реплика уже материализована.
	GetRestaurant(ctx context.Context, restaurantID string) (active bool, products []ProductSnapshot, found bool, err error)
}

type replicaRepository struct {
	db *gorm.DB
}

// NewReplicaRepository создаёт репозиторий реплик Customer/Restaurant.
func NewReplicaRepository(db *gorm.DB) ReplicaRepository {
	return &replicaRepository{db: db}
}

func (r *replicaRepository) UpsertCustomer(ctx context.Context, id, username, firstName, lastName string) error {
	model := &CustomerReplicaModel{ID: id, Username: username, FirstName: firstName, LastName: lastName}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"username", "first_name", "last_name"}),
	}).Create(model).Error
}

func (r *replicaRepository) CustomerExists(ctx context.Context, customerID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&CustomerReplicaModel{}).Where("id = ?", customerID).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *replicaRepository) UpsertRestaurant(ctx context.Context, id string, active bool, products []ProductSnapshot) error {
	data, err := json.Marshal(products)
	if err != nil {
		return err
	}
	model := &RestaurantReplicaModel{ID: id, Active: active, Products: data}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"active", "products"}),
	}).Create(model).Error
}

func (r *replicaRepository) GetRestaurant(ctx context.Context, restaurantID string) (bool, []ProductSnapshot, bool, error) {
	var model RestaurantReplicaModel
	if err := r.db.WithContext(ctx).Where("id = ?", restaurantID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil, false, nil
		}
		return false, nil, false, err
	}
	var products []ProductSnapshot
	if len(model.Products) > 0 {
		if err := json.Unmarshal(model.Products, &products); err != nil {
			return false, nil, false, err
		}
	}
	return model.Active, products, true, nil
}
