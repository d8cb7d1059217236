// Package repository содержит unit тесты для CreditHistoryRepository.
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
	"example.com/foodorder/services/payment/internal/domain"
)

func setupCreditMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
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

func TestCreditHistoryRepository_GetForUpdateTx_Existing(t *testing.T) {
	db, mock, cleanup := setupCreditMockDB(t)
	defer cleanup()

	repo := NewCreditHistoryRepository(db)

	rows := sqlmock.NewRows([]string{"customer_id", "total_credit", "total_debit", "created_at", "updated_at"}).
		AddRow("customer-1", "1000", "200", nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `credit_histories`")).
		WillReturnRows(rows)

	history, err := repo.GetForUpdateTx(context.Background(), db, "customer-1", money.FromInt(1000, "USD"))

	require.NoError(t, err)
	assert.Equal(t, "customer-1", history.CustomerID)
	assert.True(t, history.TotalCredit.Equal(money.FromInt(1000, "USD")))
	assert.True(t, history.TotalDebit.Equal(money.FromInt(200, "USD")))
}

func TestCreditHistoryRepository_GetForUpdateTx_CreatesWhenMissing(t *testing.T) {
	db, mock, cleanup := setupCreditMockDB(t)
	defer cleanup()

	repo := NewCreditHistoryRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `credit_histories`")).
		WillReturnError(gorm.ErrRecordNotFound)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `credit_histories`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	history, err := repo.GetForUpdateTx(context.Background(), db, "customer-new", money.FromInt(1000, "USD"))

	require.NoError(t, err)
	assert.Equal(t, "customer-new", history.CustomerID)
	assert.True(t, history.TotalCredit.Equal(money.FromInt(1000, "USD")))
	assert.True(t, history.TotalDebit.IsZero())
}

func TestCreditHistoryRepository_SaveTx_NotFound(t *testing.T) {
	db, mock, cleanup := setupCreditMockDB(t)
	defer cleanup()

	repo := NewCreditHistoryRepository(db)
	history := &domain.CreditHistory{
		CustomerID:  "customer-ghost",
		TotalCredit: money.FromInt(1000, "USD"),
		TotalDebit:  money.Zero("USD"),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `credit_histories`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.SaveTx(context.Background(), db, history)

	require.ErrorIs(t, err, domain.ErrCreditHistoryNotFound)
}

func TestCreditHistoryRepository_SaveTx_Success(t *testing.T) {
	db, mock, cleanup := setupCreditMockDB(t)
	defer cleanup()

	repo := NewCreditHistoryRepository(db)
	history := &domain.CreditHistory{
		CustomerID:  "customer-1",
		TotalCredit: money.FromInt(1000, "USD"),
		TotalDebit:  money.FromInt(200, "USD"),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `credit_histories`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SaveTx(context.Background(), db, history)

	require.NoError(t, err)
}

func TestCreditHistoryRepository_AppendEntryTx(t *testing.T) {
	db, mock, cleanup := setupCreditMockDB(t)
	defer cleanup()

	repo := NewCreditHistoryRepository(db)
	entry := &domain.CreditHistoryEntry{
		CustomerID: "customer-1",
		SagaID:     "saga-1",
		Type:       domain.LedgerEntryDebit,
		Amount:     money.FromInt(200, "USD"),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `credit_history_entries`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.AppendEntryTx(context.Background(), db, entry)

	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
}
