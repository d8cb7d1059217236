package saga

import (
	"context"
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

	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/money"
	outboxpkg "example.com/foodorder/pkg/outbox"
	sagapkg "example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/payment/internal/domain"
)

// mockKafkaConsumer мокает KafkaConsumer.
type mockKafkaConsumer struct {
	mock.Mock
}

func (m *mockKafkaConsumer) ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error {
	args := m.Called(ctx, handler, maxRetries)
	return args.Error(0)
}

func (m *mockKafkaConsumer) Close() error {
	args := m.Called()
	return args.Error(0)
}

func TestPaymentRequestConsumer_Run_DelegatesToConsumeWithRetry(t *testing.T) {
	consumer := &mockKafkaConsumer{}
	consumer.On("ConsumeWithRetry", mock.Anything, mock.Anything, 3).Return(nil)

	handler := &PaymentRequestHandler{}
	c := NewPaymentRequestConsumer(consumer, handler)

	err := c.Run(context.Background())

	require.NoError(t, err)
	consumer.AssertExpectations(t)
}

func TestPaymentRequestConsumer_Close(t *testing.T) {
	consumer := &mockKafkaConsumer{}
	consumer.On("Close").Return(nil)

	c := NewPaymentRequestConsumer(consumer, &PaymentRequestHandler{})

	require.NoError(t, c.Close())
	consumer.AssertExpectations(t)
}

func TestPaymentRequestConsumer_HandleMessage_InvokesHandler(t *testing.T) {
	db, sqlMock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	gormDB, err := gorm.Open(mysql.New(mysql.Config{Conn: db, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

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
	consumer := &mockKafkaConsumer{}
	c := NewPaymentRequestConsumer(consumer, handler)

	req := &sagapkg.PaymentRequest{
		SagaID:             "saga-consumer-1",
		CustomerID:         "customer-1",
		OrderID:            "order-1",
		Price:              money.FromInt(100, "USD"),
		CreatedAt:          time.Now(),
		PaymentOrderStatus: sagapkg.PaymentOrderStatusPending,
	}
	payload, marshalErr := req.ToJSON()
	require.NoError(t, marshalErr)

	msg := &kafka.Message{Value: payload}
	handleErr := c.handleMessage(context.Background(), msg)

	require.NoError(t, handleErr)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestPaymentRequestConsumer_HandleMessage_InvalidJSON(t *testing.T) {
	c := NewPaymentRequestConsumer(&mockKafkaConsumer{}, &PaymentRequestHandler{})

	err := c.handleMessage(context.Background(), &kafka.Message{Value: []byte("not-json")})

	require.Error(t, err)
}
