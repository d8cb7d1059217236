package saga

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"example.com/foodorder/pkg/money"
	outboxpkg "example.com/foodorder/pkg/outbox"
	sagapkg "example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/order/internal/domain"
)

// mockOrderRepo открывает транзакцию на переданном тестом gorm-подключении,
// как и реальный orderRepository.Transaction; BEGIN/COMMIT/ROLLBACK
// проверяются ожиданиями sqlmock, настроенными в каждом тесте.
type mockOrderRepo struct {
	mock.Mock
	tx *gorm.DB
}

func (m *mockOrderRepo) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return m.tx.WithContext(ctx).Transaction(fn)
}

func (m *mockOrderRepo) CreateTx(ctx context.Context, tx *gorm.DB, order *domain.Order) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

func (m *mockOrderRepo) GetByID(ctx context.Context, orderID string) (*domain.Order, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Order), args.Error(1)
}

func (m *mockOrderRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error) {
	return nil, errors.New("не используется реакторами")
}

func (m *mockOrderRepo) GetByTrackingID(ctx context.Context, trackingID string) (*domain.Order, error) {
	return nil, errors.New("не используется реакторами")
}

func (m *mockOrderRepo) ListByUserID(ctx context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	return nil, 0, errors.New("не используется реакторами")
}

func (m *mockOrderRepo) UpdateStatusTx(ctx context.Context, tx *gorm.DB, orderID string, status domain.OrderStatus, failureMessages []string) error {
	args := m.Called(ctx, orderID, status, failureMessages)
	return args.Error(0)
}

func (m *mockOrderRepo) GetStuckOrders(ctx context.Context, statuses []domain.OrderStatus, stuckSince time.Time, limit int) ([]*domain.Order, error) {
	args := m.Called(ctx, statuses, stuckSince, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Order), args.Error(1)
}

func setupReactorTest(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	db, sqlMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	dialector := mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true})
	gormDB, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)

	return gormDB, sqlMock
}

func pendingOrder() *domain.Order {
	return &domain.Order{
		ID:           "order-1",
		CustomerID:   "customer-1",
		RestaurantID: "restaurant-1",
		Status:       domain.OrderStatusPending,
		Price:        money.FromInt(1200, "RUB"),
		Items: []domain.OrderItem{
			{ProductID: "product-1", Quantity: 1, UnitPrice: money.FromInt(1200, "RUB"), SubTotal: money.FromInt(1200, "RUB")},
		},
	}
}

var outboxRowColumns = []string{"id", "saga_id", "topic", "type", "payload", "headers", "order_status", "saga_status", "outbox_status", "version", "retry_count", "last_error", "created_at", "processed_at"}

// expectOutboxRow настраивает sqlmock на возврат одной строки outbox с заданным
// saga_status — используется для GetBySagaIDAndStatus, которым реакторы
// находят исходную строку перед CAS-переходом (outboxTransition).
func expectOutboxRow(sqlMock sqlmock.Sqlmock, table, sagaStatus string) {
	rows := sqlmock.NewRows(outboxRowColumns).
		AddRow("outbox-1", "order-1", "topic", "Type", []byte(`{}`), nil, "", sagaStatus, "STARTED", 0, 0, nil, time.Now(), nil)
	sqlMock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM `" + table + "`")).WillReturnRows(rows)
}

// expectOutboxTransition добавляет ожидание UPDATE внутри уже открытой
// транзакции — это CAS-переход, который commitStep применяет перед вставкой
// dedupe-строки и мутацией заказа.
func expectOutboxTransition(sqlMock sqlmock.Sqlmock, table string) {
	sqlMock.ExpectExec(regexp.QuoteMeta("UPDATE `" + table + "`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// =============================================================================
// Initiator
// =============================================================================

func TestInitiator_CreateOrder_Success(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	orderRepo.On("CreateTx", mock.Anything, mock.AnythingOfType("*domain.Order")).Return(nil)

	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `" + TablePaymentOutbox + "`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectCommit()

	initiator := NewInitiator(orderRepo, paymentOutbox)
	err := initiator.CreateOrder(context.Background(), pendingOrder())

	require.NoError(t, err)
	orderRepo.AssertExpectations(t)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestInitiator_CancelOrder_FromPending(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)

	orderRepo.On("GetByID", mock.Anything, "order-1").Return(pendingOrder(), nil)
	orderRepo.On("UpdateStatusTx", mock.Anything, "order-1", domain.OrderStatusCancelled, []string(nil)).Return(nil)

	expectOutboxRow(sqlMock, TablePaymentOutbox, "STARTED")
	sqlMock.ExpectBegin()
	expectOutboxTransition(sqlMock, TablePaymentOutbox)
	sqlMock.ExpectCommit()

	initiator := NewInitiator(orderRepo, paymentOutbox)
	err := initiator.CancelOrder(context.Background(), "order-1")

	require.NoError(t, err)
	orderRepo.AssertExpectations(t)
}

func TestInitiator_CancelOrder_IllegalFromApproved(t *testing.T) {
	gormDB, _ := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)

	approved := pendingOrder()
	approved.Status = domain.OrderStatusApproved
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(approved, nil)

	initiator := NewInitiator(orderRepo, paymentOutbox)
	err := initiator.CancelOrder(context.Background(), "order-1")

	require.ErrorIs(t, err, domain.ErrIllegalTransition)
	orderRepo.AssertNotCalled(t, "UpdateStatusTx")
}

// =============================================================================
// PaymentResponseReactor
// =============================================================================

func TestPaymentResponseReactor_Handle_Approved(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	orderRepo.On("GetByID", mock.Anything, "order-1").Return(pendingOrder(), nil)
	orderRepo.On("UpdateStatusTx", mock.Anything, "order-1", domain.OrderStatusPaid, []string(nil)).Return(nil)

	expectOutboxRow(sqlMock, TablePaymentOutbox, "STARTED")
	sqlMock.ExpectBegin()
	expectOutboxTransition(sqlMock, TablePaymentOutbox)
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `" + TableApprovalOutbox + "`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectCommit()

	reactor := NewPaymentResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.PaymentResponse{SagaID: "order-1", OrderID: "order-1", PaymentStatus: sagapkg.PaymentStatusCompleted}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err)
	orderRepo.AssertExpectations(t)
}

func TestPaymentResponseReactor_Handle_Rejected(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	orderRepo.On("GetByID", mock.Anything, "order-1").Return(pendingOrder(), nil)
	orderRepo.On("UpdateStatusTx", mock.Anything, "order-1", domain.OrderStatusCancelled, []string{"недостаточно средств"}).Return(nil)

	expectOutboxRow(sqlMock, TablePaymentOutbox, "STARTED")
	sqlMock.ExpectBegin()
	expectOutboxTransition(sqlMock, TablePaymentOutbox)
	sqlMock.ExpectCommit()

	reactor := NewPaymentResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.PaymentResponse{
		SagaID: "order-1", OrderID: "order-1",
		PaymentStatus:   sagapkg.PaymentStatusFailed,
		FailureMessages: []string{"недостаточно средств"},
	}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err)
	orderRepo.AssertExpectations(t)
}

func TestPaymentResponseReactor_Handle_RefundCompleted(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	cancelling := pendingOrder()
	cancelling.Status = domain.OrderStatusCancelling
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(cancelling, nil)
	orderRepo.On("UpdateStatusTx", mock.Anything, "order-1", domain.OrderStatusCancelled, []string(nil)).Return(nil)

	expectOutboxRow(sqlMock, TablePaymentOutbox, "COMPENSATING")
	sqlMock.ExpectBegin()
	expectOutboxTransition(sqlMock, TablePaymentOutbox)
	sqlMock.ExpectCommit()

	reactor := NewPaymentResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.PaymentResponse{SagaID: "order-1", OrderID: "order-1", PaymentStatus: sagapkg.PaymentStatusCancelled}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err)
	orderRepo.AssertExpectations(t)
}

func TestPaymentResponseReactor_Handle_StaleEventSkipped(t *testing.T) {
	gormDB, _ := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	approved := pendingOrder()
	approved.Status = domain.OrderStatusApproved
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(approved, nil)

	reactor := NewPaymentResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.PaymentResponse{SagaID: "order-1", OrderID: "order-1", PaymentStatus: sagapkg.PaymentStatusCompleted}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err)
	orderRepo.AssertNotCalled(t, "UpdateStatusTx")
}

// =============================================================================
// ApprovalResponseReactor
// =============================================================================

func TestApprovalResponseReactor_Handle_Approved(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	paid := pendingOrder()
	paid.Status = domain.OrderStatusPaid
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(paid, nil)
	orderRepo.On("UpdateStatusTx", mock.Anything, "order-1", domain.OrderStatusApproved, []string(nil)).Return(nil)

	expectOutboxRow(sqlMock, TableApprovalOutbox, "PROCESSING")
	sqlMock.ExpectBegin()
	expectOutboxTransition(sqlMock, TableApprovalOutbox)
	sqlMock.ExpectCommit()

	reactor := NewApprovalResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.ApprovalResponse{SagaID: "order-1", OrderID: "order-1", OrderApprovalStatus: sagapkg.OrderApprovalStatusApproved}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err)
	orderRepo.AssertExpectations(t)
}

func TestApprovalResponseReactor_Handle_Rejected(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	paid := pendingOrder()
	paid.Status = domain.OrderStatusPaid
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(paid, nil)
	orderRepo.On("UpdateStatusTx", mock.Anything, "order-1", domain.OrderStatusCancelling, []string{"позиция недоступна"}).Return(nil)

	expectOutboxRow(sqlMock, TableApprovalOutbox, "PROCESSING")
	sqlMock.ExpectBegin()
	expectOutboxTransition(sqlMock, TableApprovalOutbox)
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `" + TablePaymentOutbox + "`")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	sqlMock.ExpectCommit()

	reactor := NewApprovalResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.ApprovalResponse{
		SagaID: "order-1", OrderID: "order-1",
		OrderApprovalStatus: sagapkg.OrderApprovalStatusRejected,
		FailureMessages:     []string{"позиция недоступна"},
	}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err)
	orderRepo.AssertExpectations(t)
}

func TestApprovalResponseReactor_Handle_WrongStatusSkipped(t *testing.T) {
	gormDB, _ := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	orderRepo.On("GetByID", mock.Anything, "order-1").Return(pendingOrder(), nil)

	reactor := NewApprovalResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.ApprovalResponse{SagaID: "order-1", OrderID: "order-1", OrderApprovalStatus: sagapkg.OrderApprovalStatusApproved}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err)
	orderRepo.AssertNotCalled(t, "UpdateStatusTx")
}

// =============================================================================
// commitStep — дедупликация
// =============================================================================

func TestCommitStep_DuplicateDedupeInsertIsNoop(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	paid := pendingOrder()
	paid.Status = domain.OrderStatusPaid
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(paid, nil)
	orderRepo.On("UpdateStatusTx", mock.Anything, "order-1", domain.OrderStatusCancelling, mock.Anything).Return(nil)

	expectOutboxRow(sqlMock, TableApprovalOutbox, "PROCESSING")
	sqlMock.ExpectBegin()
	expectOutboxTransition(sqlMock, TableApprovalOutbox)
	sqlMock.ExpectExec(regexp.QuoteMeta("INSERT INTO `" + TablePaymentOutbox + "`")).
		WillReturnError(errors.New("Error 1062: Duplicate entry 'order-1-COMPENSATING' for key 'idx_outbox_dedupe'"))
	sqlMock.ExpectRollback()

	reactor := NewApprovalResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.ApprovalResponse{
		SagaID: "order-1", OrderID: "order-1",
		OrderApprovalStatus: sagapkg.OrderApprovalStatusRejected,
		FailureMessages:     []string{"позиция недоступна"},
	}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err, "ErrDuplicateDedupeKey должен трактоваться как тихий no-op")
}

func TestCommitStep_VersionConflictIsNoop(t *testing.T) {
	gormDB, sqlMock := setupReactorTest(t)

	orderRepo := &mockOrderRepo{tx: gormDB}
	paymentOutbox := outboxpkg.NewRepository(gormDB, TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(gormDB, TableApprovalOutbox)

	paid := pendingOrder()
	paid.Status = domain.OrderStatusPaid
	orderRepo.On("GetByID", mock.Anything, "order-1").Return(paid, nil)

	expectOutboxRow(sqlMock, TableApprovalOutbox, "PROCESSING")
	sqlMock.ExpectBegin()
	sqlMock.ExpectExec(regexp.QuoteMeta("UPDATE `" + TableApprovalOutbox + "`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	sqlMock.ExpectRollback()

	reactor := NewApprovalResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
	resp := &sagapkg.ApprovalResponse{SagaID: "order-1", OrderID: "order-1", OrderApprovalStatus: sagapkg.OrderApprovalStatusApproved}

	err := reactor.Handle(context.Background(), resp)

	require.NoError(t, err, "ErrVersionConflict должен трактоваться как тихий no-op")
	orderRepo.AssertNotCalled(t, "UpdateStatusTx")
}
