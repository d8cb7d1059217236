package saga

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	outboxpkg "example.com/foodorder/pkg/outbox"
	"example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/order/internal/domain"
	"example.com/foodorder/services/order/internal/repository"
)

// ExpiryWorkerConfig — настройки воркера обнаружения зависших саг.
type ExpiryWorkerConfig struct {
	// PollInterval — интервал между сканированиями таблицы orders.
	PollInterval time.Duration

	// OrderTimeout — максимальное время ожидания ответа на текущем шаге саги,
	// после которого заказ считается зависшим.
	OrderTimeout time.Duration

	// BatchSize — максимальное количество зависших заказов за один цикл.
	BatchSize int
}

// DefaultExpiryWorkerConfig возвращает конфигурацию по умолчанию, унаследованную
// от прежнего SagaTimeoutWorker (30с опрос, 5 минут таймаут, 50 записей за проход).
func DefaultExpiryWorkerConfig() ExpiryWorkerConfig {
	return ExpiryWorkerConfig{
		PollInterval: 30 * time.Second,
		OrderTimeout: 5 * time.Minute,
		BatchSize:    50,
	}
}

// ExpiryWorker периодически сканирует таблицу orders и находит заказы,
// застрявшие в PENDING или PAID дольше OrderTimeout (ответ от Payment или
// Restaurant так и не пришёл), и принудительно завершает сагу компенсацией.
// Заказы, застрявшие в CANCELLING, только логируются — запрос на возврат уже
// поставлен в очередь, повторная отправка создала бы дублирующий refund.
type ExpiryWorker struct {
	orderRepo      repository.OrderRepository
	paymentOutbox  *outboxpkg.Repository
	approvalOutbox *outboxpkg.Repository
	cfg            ExpiryWorkerConfig
}

// NewExpiryWorker создаёт новый ExpiryWorker.
func NewExpiryWorker(orderRepo repository.OrderRepository, paymentOutbox, approvalOutbox *outboxpkg.Repository, cfg ExpiryWorkerConfig) *ExpiryWorker {
	return &ExpiryWorker{orderRepo: orderRepo, paymentOutbox: paymentOutbox, approvalOutbox: approvalOutbox, cfg: cfg}
}

// Run запускает Worker. Блокирует выполнение до отмены контекста.
func (w *ExpiryWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Dur("order_timeout", w.cfg.OrderTimeout).
		Msg("Запуск Saga Expiry Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка Saga Expiry Worker")
			return
		case <-ticker.C:
			w.processStuckOrders(ctx)
		}
	}
}

func (w *ExpiryWorker) processStuckOrders(ctx context.Context) {
	log := logger.FromContext(ctx)

	stuckSince := time.Now().Add(-w.cfg.OrderTimeout)
	statuses := []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusCancelling}

	orders, err := w.orderRepo.GetStuckOrders(ctx, statuses, stuckSince, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка поиска зависших заказов")
		return
	}
	if len(orders) == 0 {
		return
	}

	log.Warn().Int("count", len(orders)).Msg("Обнаружены зависшие заказы")

	for _, order := range orders {
		select {
		case <-ctx.Done():
			return
		default:
		}
		w.expireOne(ctx, order)
	}
}

func (w *ExpiryWorker) expireOne(ctx context.Context, order *domain.Order) {
	log := logger.FromContext(ctx)

	switch order.Status {
	case domain.OrderStatusPending:
		w.expirePending(ctx, order)
	case domain.OrderStatusPaid:
		w.expirePaid(ctx, order)
	case domain.OrderStatusCancelling:
		log.Warn().
			Str("order_id", order.ID).
			Time("updated_at", order.UpdatedAt).
			Msg("Заказ долго ждёт подтверждения возврата средств — требуется ручная проверка")
	}
}

func (w *ExpiryWorker) expirePending(ctx context.Context, order *domain.Order) {
	log := logger.FromContext(ctx)
	reason := []string{"таймаут ожидания ответа от Payment Service"}

	if err := order.InitCancel(reason); err != nil {
		if !errors.Is(err, domain.ErrIllegalTransition) {
			log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка отмены зависшего заказа")
		}
		return
	}

	paymentRow, err := w.paymentOutbox.GetBySagaIDAndStatus(ctx, order.ID, outboxpkg.SagaStatusStarted)
	if err != nil {
		if !errors.Is(err, outboxpkg.ErrNotFound) {
			log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка чтения строки payment outbox")
		}
		return
	}

	transition := &outboxTransition{repo: w.paymentOutbox, message: paymentRow, newStatus: outboxpkg.SagaStatusFailed}
	if err := commitStep(ctx, w.orderRepo, order.ID, domain.OrderStatusCancelled, reason, nil, nil, transition); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка фиксации компенсации по таймауту")
	}
}

func (w *ExpiryWorker) expirePaid(ctx context.Context, order *domain.Order) {
	log := logger.FromContext(ctx)
	reason := []string{"таймаут ожидания ответа от Restaurant Service"}

	if err := order.InitCancel(reason); err != nil {
		if !errors.Is(err, domain.ErrIllegalTransition) {
			log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка отмены зависшего заказа")
		}
		return
	}

	approvalRow, err := w.approvalOutbox.GetBySagaIDAndStatus(ctx, order.ID, outboxpkg.SagaStatusProcessing)
	if err != nil {
		if !errors.Is(err, outboxpkg.ErrNotFound) {
			log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка чтения строки approval outbox")
		}
		return
	}

	refundReq := &saga.PaymentRequest{
		SagaID:             order.ID,
		CustomerID:         order.CustomerID,
		OrderID:            order.ID,
		Price:              order.Price,
		CreatedAt:          time.Now(),
		PaymentOrderStatus: saga.PaymentOrderStatusCancelling,
	}
	payload, err := refundReq.ToJSON()
	if err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка сериализации запроса на возврат")
		return
	}

	dedupe := &outboxpkg.Message{
		ID:           uuid.New().String(),
		SagaID:       order.ID,
		Topic:        kafka.TopicPaymentRequest,
		Type:         "PaymentRequest",
		Payload:      payload,
		OrderStatus:  string(domain.OrderStatusCancelling),
		SagaStatus:   outboxpkg.SagaStatusCompensating,
		OutboxStatus: outboxpkg.StatusStarted,
	}

	transition := &outboxTransition{repo: w.approvalOutbox, message: approvalRow, newStatus: outboxpkg.SagaStatusCompensating}
	if err := commitStep(ctx, w.orderRepo, order.ID, domain.OrderStatusCancelling, reason, w.paymentOutbox, dedupe, transition); err != nil {
		log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка фиксации компенсации по таймауту")
	}
}
