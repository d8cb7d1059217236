// Package outbox содержит unit тесты для Repository.
package outbox

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupMockDB создаёт мок базы данных с GORM.
func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock, func() { _ = db.Close() }
}

func sampleMessage() *Message {
	return &Message{
		ID:           "outbox-1",
		SagaID:       "saga-1",
		Topic:        "payment-response",
		Type:         "PaymentResponse",
		Payload:      []byte(`{"sagaId":"saga-1"}`),
		SagaStatus:   SagaStatus("PAY"),
		OutboxStatus: StatusStarted,
	}
}

func TestRepository_TryInsertDedupe_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewRepository(db, "payment_response_outbox")
	msg := sampleMessage()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_response_outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.TryInsertDedupe(context.Background(), nil, msg)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_TryInsertDedupe_Duplicate(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewRepository(db, "payment_response_outbox")
	msg := sampleMessage()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_response_outbox`")).
		WillReturnError(errors.New("Error 1062: Duplicate entry 'saga-1-PAY' for key 'idx_outbox_dedupe'"))
	mock.ExpectRollback()

	err := repo.TryInsertDedupe(context.Background(), nil, msg)

	require.ErrorIs(t, err, ErrDuplicateDedupeKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_TryInsertDedupe_OtherDBError(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewRepository(db, "payment_response_outbox")
	msg := sampleMessage()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_response_outbox`")).
		WillReturnError(errors.New("connection refused"))
	mock.ExpectRollback()

	err := repo.TryInsertDedupe(context.Background(), nil, msg)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDuplicateDedupeKey)
}

func TestRepository_MarkPublished_VersionConflict(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewRepository(db, "payment_response_outbox")
	msg := sampleMessage()
	msg.Version = 2

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `payment_response_outbox`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.MarkPublished(context.Background(), msg)

	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestRepository_MarkPublished_Success(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewRepository(db, "payment_response_outbox")
	msg := sampleMessage()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `payment_response_outbox`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.MarkPublished(context.Background(), msg)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, msg.OutboxStatus)
	assert.Equal(t, 1, msg.Version)
	assert.NotNil(t, msg.ProcessedAt)
}

func TestRepository_GetPendingForSweep(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewRepository(db, "payment_response_outbox")

	rows := sqlmock.NewRows([]string{"id", "saga_id", "topic", "type", "payload", "headers", "order_status", "saga_status", "outbox_status", "version", "retry_count", "last_error", "created_at", "processed_at"}).
		AddRow("outbox-1", "saga-1", "payment-response", "PaymentResponse", []byte(`{}`), nil, "", "PAY", "STARTED", 0, 0, nil, time.Now(), nil)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payment_response_outbox`")).
		WillReturnRows(rows)

	messages, err := repo.GetPendingForSweep(context.Background(), 100)

	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "outbox-1", messages[0].ID)
	assert.Equal(t, StatusStarted, messages[0].OutboxStatus)
}

func TestRepository_GetBySagaIDAndStatus_NotFound(t *testing.T) {
	db, mock, cleanup := setupMockDB(t)
	defer cleanup()

	repo := NewRepository(db, "payment_response_outbox")

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `payment_response_outbox`")).
		WillReturnError(gorm.ErrRecordNotFound)

	_, err := repo.GetBySagaIDAndStatus(context.Background(), "saga-missing", SagaStatus("PAY"))

	require.ErrorIs(t, err, ErrNotFound)
}
