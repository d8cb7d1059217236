package repository

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/foodorder/pkg/money"
)

func setupReplicaMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return gormDB, mock, func() { _ = db.Close() }
}

func TestReplicaRepository_UpsertCustomer(t *testing.T) {
	db, mock, cleanup := setupReplicaMockDB(t)
	defer cleanup()

	repo := NewReplicaRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `customer_replicas`")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpsertCustomer(context.Background(), "customer-1", "ivan", "Иван", "Иванов")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplicaRepository_CustomerExists_True(t *testing.T) {
	db, mock, cleanup := setupReplicaMockDB(t)
	defer cleanup()

	repo := NewReplicaRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `customer_replicas`")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.CustomerExists(context.Background(), "customer-1")

	require.NoError(t, err)
	assert.True(t, exists)
}

func TestReplicaRepository_CustomerExists_False(t *testing.T) {
	db, mock, cleanup := setupReplicaMockDB(t)
	defer cleanup()

	repo := NewReplicaRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `customer_replicas`")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	exists, err := repo.CustomerExists(context.Background(), "missing")

	require.NoError(t, err)
	assert.False(t, exists)
}

func TestReplicaRepository_UpsertRestaurant(t *testing.T) {
	db, mock, cleanup := setupReplicaMockDB(t)
	defer cleanup()

	repo := NewReplicaRepository(db)

	products := []ProductSnapshot{
		{ID: "product-1", Name: "Пицца", Price: money.FromInt(1200, "RUB"), Available: true},
	}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `restaurant_replicas`")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpsertRestaurant(context.Background(), "restaurant-1", true, products)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReplicaRepository_GetRestaurant_Found(t *testing.T) {
	db, mock, cleanup := setupReplicaMockDB(t)
	defer cleanup()

	repo := NewReplicaRepository(db)

	productsJSON := `[{"id":"product-1","name":"Пицца","price":{"amount":"12.00","currency":"RUB"},"available":true}]`
	rows := sqlmock.NewRows([]string{"id", "active", "products"}).
		AddRow("restaurant-1", true, productsJSON)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `restaurant_replicas`")).
		WillReturnRows(rows)

	active, products, found, err := repo.GetRestaurant(context.Background(), "restaurant-1")

	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, active)
	require.Len(t, products, 1)
	assert.Equal(t, "product-1", products[0].ID)
}

func TestReplicaRepository_GetRestaurant_NotFound(t *testing.T) {
	db, mock, cleanup := setupReplicaMockDB(t)
	defer cleanup()

	repo := NewReplicaRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `restaurant_replicas`")).
		WillReturnError(gorm.ErrRecordNotFound)

	active, products, found, err := repo.GetRestaurant(context.Background(), "missing")

	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, active)
	assert.Nil(t, products)
}
