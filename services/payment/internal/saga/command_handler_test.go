package saga

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/foodorder/pkg/money"
	outboxpkg "example.com/foodorder/pkg/outbox"
	sagapkg "example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/payment/internal/domain"
)

// =============================================================================
// Моки репозиториев
// =============================================================================

// mockPaymentRepo вызывает fn с переданным тестом gorm-подключением, эмулируя
// Transaction без реального BEGIN/COMMIT на уровне GORM-хелпера (это делает
// сам sqlmock через ожидания, см. настройку тестов ниже).
type mockPaymentRepo struct {
	mock.Mock
	tx *gorm.DB
}

func (m *mockPaymentRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(m.tx)
}

func (m *mockPaymentRepo) CreateTx(ctx context.Context, tx *gorm.DB, payment *domain.Payment) error {
	args := m.Called(ctx, payment)
	return args.Error(0)
}

func (m *mockPaymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return nil, errors.New("не используется обработчиком")
}

func (m *mockPaymentRepo) GetBySagaID(ctx context.Context, sagaID string) (*domain.Payment, error) {
	return nil, errors.New("не используется обработчиком")
}

func (m *mockPaymentRepo) Update(ctx context.Context, payment *domain.Payment) error {
	return errors.New("не используется обработчиком")
}

func (m *mockPaymentRepo) GetStuckPending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Payment, error) {
	return nil, nil
}

type mockCreditRepo struct {
	mock.Mock
}

func (m *mockCreditRepo) GetForUpdateTx(ctx context.Context, tx *gorm.DB, customerID string, defaultCredit money.Money) (*domain.CreditHistory, error) {
	args := m.Called(ctx, customerID, defaultCredit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CreditHistory), args.Error(1)
}

func (m *mockCreditRepo) SaveTx(ctx context.Context, tx *gorm.DB, history *domain.CreditHistory) error {
	args := m.Called(ctx, history)
	return args.Error(0)
}

func (m *mockCreditRepo) AppendEntryTx(ctx context.Context, tx *gorm.DB, entry *domain.CreditHistoryEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

// =============================================================================
// Setup
// =============================================================================

func setupHandlerTest(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *redis.Client) {
	db, sqlMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dialector := mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true})
	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return gormDB, sqlMock, rdb
}

func defaultLimit() money.Money { return money.FromInt(1000, "USD") }

// =============================================================================
// Тесты applyCharge (PAY)
// =============================================================================

func TestPaymentRequestHandler_Handle_ChargeSuccess(t *testing.T) {
	gormDB, sqlMock, rdb := setupHandlerTest(t)

	paymentRepo := &mockPaymentRepo{tx: gormDB}
	creditRepo := &mockCreditRepo{}
	responseOutbox := outboxpkg.NewRepository(gormDB, "payment_response_outbox")

	history := domain.NewCreditHistory("customer-1", defaultLimit())
	creditRepo.On("GetForUpdateTx", mock.Anything, "customer-1", defaultLimit()).Return(history, nil)
	paymentRepo.On("CreateTx", mock.Anything, mock.AnythingOfType("*domain.Payment")).Return(nil)
	creditRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	creditRepo.On("AppendEntryTx", mock.Anything, mock.Anything).Return(nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_response_outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectCommit()

	handler := NewPaymentRequestHandler(paymentRepo, creditRepo, responseOutbox, rdb, defaultLimit())

	req := &sagapkg.PaymentRequest{
		SagaID:             "saga-1",
		CustomerID:         "customer-1",
		OrderID:            "order-1",
		Price:              money.FromInt(200, "USD"),
		CreatedAt:          time.Now(),
		PaymentOrderStatus: sagapkg.PaymentOrderStatusPending,
	}

	err := handler.Handle(context.Background(), req)

	require.NoError(t, err)
	paymentRepo.AssertExpectations(t)
	creditRepo.AssertExpectations(t)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestPaymentRequestHandler_Handle_ChargeInsufficientFunds(t *testing.T) {
	gormDB, sqlMock, rdb := setupHandlerTest(t)

	paymentRepo := &mockPaymentRepo{tx: gormDB}
	creditRepo := &mockCreditRepo{}
	responseOutbox := outboxpkg.NewRepository(gormDB, "payment_response_outbox")

	history := domain.NewCreditHistory("customer-1", money.FromInt(100, "USD"))
	creditRepo.On("GetForUpdateTx", mock.Anything, "customer-1", defaultLimit()).Return(history, nil)
	paymentRepo.On("CreateTx", mock.Anything, mock.AnythingOfType("*domain.Payment")).Return(nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_response_outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectCommit()

	handler := NewPaymentRequestHandler(paymentRepo, creditRepo, responseOutbox, rdb, defaultLimit())

	req := &sagapkg.PaymentRequest{
		SagaID:             "saga-2",
		CustomerID:         "customer-1",
		OrderID:            "order-1",
		Price:              money.FromInt(200, "USD"), // превышает остаток лимита (100)
		CreatedAt:          time.Now(),
		PaymentOrderStatus: sagapkg.PaymentOrderStatusPending,
	}

	err := handler.Handle(context.Background(), req)

	require.NoError(t, err, "бизнес-отказ не должен возвращать ошибку — PaymentResponse всё равно ставится в очередь")
	paymentRepo.AssertExpectations(t)
	creditRepo.AssertNotCalled(t, "SaveTx")
	creditRepo.AssertNotCalled(t, "AppendEntryTx")
}

func TestPaymentRequestHandler_Handle_DuplicateIsNoop(t *testing.T) {
	gormDB, sqlMock, rdb := setupHandlerTest(t)

	paymentRepo := &mockPaymentRepo{tx: gormDB}
	creditRepo := &mockCreditRepo{}
	responseOutbox := outboxpkg.NewRepository(gormDB, "payment_response_outbox")

	history := domain.NewCreditHistory("customer-1", defaultLimit())
	creditRepo.On("GetForUpdateTx", mock.Anything, "customer-1", defaultLimit()).Return(history, nil)
	paymentRepo.On("CreateTx", mock.Anything, mock.AnythingOfType("*domain.Payment")).Return(nil)
	creditRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	creditRepo.On("AppendEntryTx", mock.Anything, mock.Anything).Return(nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_response_outbox`")).
		WillReturnError(errors.New("Error 1062: Duplicate entry 'saga-3-PAY' for key 'idx_outbox_dedupe'"))
	sqlMock.ExpectRollback()

	handler := NewPaymentRequestHandler(paymentRepo, creditRepo, responseOutbox, rdb, defaultLimit())

	req := &sagapkg.PaymentRequest{
		SagaID:             "saga-3",
		CustomerID:         "customer-1",
		OrderID:            "order-1",
		Price:              money.FromInt(200, "USD"),
		CreatedAt:          time.Now(),
		PaymentOrderStatus: sagapkg.PaymentOrderStatusPending,
	}

	err := handler.Handle(context.Background(), req)

	require.NoError(t, err, "ErrDuplicateDedupeKey должен трактоваться как тихий no-op")
}

// =============================================================================
// Тесты applyRefund (CANCEL)
// =============================================================================

func TestPaymentRequestHandler_Handle_RefundSuccess(t *testing.T) {
	gormDB, sqlMock, rdb := setupHandlerTest(t)

	paymentRepo := &mockPaymentRepo{tx: gormDB}
	creditRepo := &mockCreditRepo{}
	responseOutbox := outboxpkg.NewRepository(gormDB, "payment_response_outbox")

	history := domain.NewCreditHistory("customer-1", defaultLimit())
	require.NoError(t, history.Debit(money.FromInt(200, "USD")))
	creditRepo.On("GetForUpdateTx", mock.Anything, "customer-1", defaultLimit()).Return(history, nil)
	creditRepo.On("SaveTx", mock.Anything, mock.Anything).Return(nil)
	creditRepo.On("AppendEntryTx", mock.Anything, mock.Anything).Return(nil)
	paymentRepo.On("CreateTx", mock.Anything, mock.AnythingOfType("*domain.Payment")).Return(nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payment_response_outbox`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectCommit()

	handler := NewPaymentRequestHandler(paymentRepo, creditRepo, responseOutbox, rdb, defaultLimit())

	req := &sagapkg.PaymentRequest{
		SagaID:             "saga-4",
		CustomerID:         "customer-1",
		OrderID:            "order-1",
		Price:              money.FromInt(200, "USD"),
		CreatedAt:          time.Now(),
		PaymentOrderStatus: sagapkg.PaymentOrderStatusCancelling,
	}

	err := handler.Handle(context.Background(), req)

	require.NoError(t, err)
	assert.True(t, history.TotalCredit.Equal(money.FromInt(1200, "USD")))
}

// =============================================================================
// Redis fast-path idempotency
// =============================================================================

func TestPaymentRequestHandler_Handle_RedisSeenSkipsProcessing(t *testing.T) {
	gormDB, _, rdb := setupHandlerTest(t)

	paymentRepo := &mockPaymentRepo{tx: gormDB}
	creditRepo := &mockCreditRepo{}
	responseOutbox := outboxpkg.NewRepository(gormDB, "payment_response_outbox")

	handler := NewPaymentRequestHandler(paymentRepo, creditRepo, responseOutbox, rdb, defaultLimit())

	req := &sagapkg.PaymentRequest{
		SagaID:             "saga-5",
		CustomerID:         "customer-1",
		OrderID:            "order-1",
		Price:              money.FromInt(200, "USD"),
		CreatedAt:          time.Now(),
		PaymentOrderStatus: sagapkg.PaymentOrderStatusPending,
	}

	require.NoError(t, rdb.SetNX(context.Background(), "payment:seen:saga-5:PAY", "1", time.Hour).Err())

	err := handler.Handle(context.Background(), req)

	require.NoError(t, err)
	creditRepo.AssertNotCalled(t, "GetForUpdateTx")
}

func TestDedupeTypeFor(t *testing.T) {
	assert.Equal(t, outboxpkg.SagaStatus("PAY"), dedupeTypeFor(sagapkg.PaymentOrderStatusPending))
	assert.Equal(t, outboxpkg.SagaStatus("CANCEL"), dedupeTypeFor(sagapkg.PaymentOrderStatusCancelling))
}
