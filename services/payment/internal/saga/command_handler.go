// Package saga обрабатывает запросы платежа, пришедшие из Order Service
// по топику payment-request, и атомарно ставит в очередь ответ.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/pkg/money"
	outboxpkg "example.com/foodorder/pkg/outbox"
	"example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/payment/internal/domain"
	"example.com/foodorder/services/payment/internal/repository"
)

// redisIdempotencyTTL — время жизни быстрого ключа идемпотентности в Redis,
// защищающего от повторной обработки до того, как запись дойдёт до БД.
const redisIdempotencyTTL = 24 * time.Hour

// dedupeTypeFor возвращает дискриминатор (sagaId, type) для дедупликации
// ответа, как того требует §4.4: PAY для списания, CANCEL для возврата.
func dedupeTypeFor(status saga.PaymentOrderStatus) outboxpkg.SagaStatus {
	if status == saga.PaymentOrderStatusCancelling {
		return outboxpkg.SagaStatus("CANCEL")
	}
	return outboxpkg.SagaStatus("PAY")
}

// PaymentRequestHandler обрабатывает одно событие PaymentRequest: списывает
// или зачисляет кредитную историю клиента и атомарно ставит в очередь
// PaymentResponse — без синхронной отправки в Kafka из самого обработчика
// (это делает отдельный pkg/outbox.Sweeper).
type PaymentRequestHandler struct {
	paymentRepo        repository.PaymentRepository
	creditRepo         repository.CreditHistoryRepository
	responseOutbox     *outboxpkg.Repository
	redis              *redis.Client
	defaultCreditLimit money.Money
}

// NewPaymentRequestHandler создаёт обработчик входящих PaymentRequest.
func NewPaymentRequestHandler(
	paymentRepo repository.PaymentRepository,
	creditRepo repository.CreditHistoryRepository,
	responseOutbox *outboxpkg.Repository,
	redisClient *redis.Client,
	defaultCreditLimit money.Money,
) *PaymentRequestHandler {
	return &PaymentRequestHandler{
		paymentRepo:        paymentRepo,
		creditRepo:         creditRepo,
		responseOutbox:     responseOutbox,
		redis:              redisClient,
		defaultCreditLimit: defaultCreditLimit,
	}
}

// Handle обрабатывает одно событие PaymentRequest.
func (h *PaymentRequestHandler) Handle(ctx context.Context, req *saga.PaymentRequest) error {
	log := logger.FromContext(ctx)
	dedupeType := dedupeTypeFor(req.PaymentOrderStatus)

	if h.redis != nil {
		seenKey := "payment:seen:" + req.SagaID + ":" + string(dedupeType)
		wasSet, err := h.redis.SetNX(ctx, seenKey, "1", redisIdempotencyTTL).Result()
		if err != nil {
			log.Warn().Err(err).Str("saga_id", req.SagaID).Msg("Ошибка Redis при быстрой проверке идемпотентности, полагаемся на БД")
		} else if !wasSet {
			log.Debug().Str("saga_id", req.SagaID).Str("type", string(dedupeType)).Msg("PaymentRequest уже обработан (Redis), пропускаем")
			return nil
		}
	}

	var resp *saga.PaymentResponse

	err := h.paymentRepo.Transaction(ctx, func(tx *gorm.DB) error {
		var (
			built    *saga.PaymentResponse
			buildErr error
		)

		if req.PaymentOrderStatus == saga.PaymentOrderStatusCancelling {
			built, buildErr = h.applyRefund(ctx, tx, req)
		} else {
			built, buildErr = h.applyCharge(ctx, tx, req)
		}
		if buildErr != nil {
			return buildErr
		}
		resp = built

		payload, err := resp.ToJSON()
		if err != nil {
			return fmt.Errorf("ошибка сериализации PaymentResponse: %w", err)
		}

		now := time.Now()
		dedupe := &outboxpkg.Message{
			ID:           uuid.New().String(),
			SagaID:       req.SagaID,
			Topic:        kafka.TopicPaymentResponse,
			Type:         "PaymentResponse",
			Payload:      payload,
			Headers:      headersFromContext(ctx),
			SagaStatus:   dedupeType,
			OutboxStatus: outboxpkg.StatusStarted,
			ProcessedAt:  nil,
			CreatedAt:    now,
		}
		return h.responseOutbox.TryInsertDedupe(ctx, tx, dedupe)
	})

	if err == outboxpkg.ErrDuplicateDedupeKey {
		log.Debug().Str("saga_id", req.SagaID).Str("type", string(dedupeType)).Msg("Ответ на этот PaymentRequest уже поставлен в очередь, пропускаем (idempotent consumer)")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("saga_id", req.SagaID).
		Str("order_id", req.OrderID).
		Str("payment_status", string(resp.PaymentStatus)).
		Msg("PaymentRequest обработан")

	return nil
}

// applyCharge выполняет списание (PAY): создаёт запись платежа и пробует
// списать сумму с кредитной истории клиента.
func (h *PaymentRequestHandler) applyCharge(ctx context.Context, tx *gorm.DB, req *saga.PaymentRequest) (*saga.PaymentResponse, error) {
	payment := &domain.Payment{
		ID:             uuid.New().String(),
		OrderID:        req.OrderID,
		SagaID:         req.SagaID,
		UserID:         req.CustomerID,
		Amount:         req.Price,
		Status:         domain.PaymentStatusPending,
		PaymentMethod:  "wallet",
		IdempotencyKey: req.SagaID + ":PAY",
	}
	if err := payment.Validate(); err != nil {
		return failedResponse(req, []string{err.Error()}), nil
	}

	history, err := h.creditRepo.GetForUpdateTx(ctx, tx, req.CustomerID, h.defaultCreditLimit)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки кредитной истории: %w", err)
	}

	if debitErr := history.Debit(req.Price); debitErr != nil {
		_ = payment.Fail(debitErr.Error())
		if err := h.paymentRepo.CreateTx(ctx, tx, payment); err != nil {
			return nil, fmt.Errorf("ошибка сохранения отклонённого платежа: %w", err)
		}
		return failedResponse(req, []string{"недостаточно средств для оплаты"}), nil
	}

	if err := payment.Complete(); err != nil {
		return nil, fmt.Errorf("ошибка перехода платежа в COMPLETED: %w", err)
	}
	if err := h.paymentRepo.CreateTx(ctx, tx, payment); err != nil {
		return nil, fmt.Errorf("ошибка сохранения платежа: %w", err)
	}
	if err := h.creditRepo.SaveTx(ctx, tx, history); err != nil {
		return nil, fmt.Errorf("ошибка сохранения кредитной истории: %w", err)
	}
	entry := &domain.CreditHistoryEntry{CustomerID: req.CustomerID, SagaID: req.SagaID, Type: domain.LedgerEntryDebit, Amount: req.Price}
	if err := h.creditRepo.AppendEntryTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("ошибка записи в ledger: %w", err)
	}

	return &saga.PaymentResponse{
		SagaID:        req.SagaID,
		CustomerID:    req.CustomerID,
		OrderID:       req.OrderID,
		Price:         req.Price,
		CreatedAt:     time.Now(),
		PaymentStatus: saga.PaymentStatusCompleted,
	}, nil
}

// applyRefund выполняет возврат (CANCEL): зачисляет сумму обратно клиенту и
// сохраняет отдельный платёж-возврат в статусе COMPLETED (ключ идемпотентности
// saga_id+":CANCEL"). Исходный платёж этого saga_id не читается и не
// изменяется: его статус остаётся прежним, а зачисление выполняется всегда.
func (h *PaymentRequestHandler) applyRefund(ctx context.Context, tx *gorm.DB, req *saga.PaymentRequest) (*saga.PaymentResponse, error) {
	history, err := h.creditRepo.GetForUpdateTx(ctx, tx, req.CustomerID, h.defaultCreditLimit)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки кредитной истории: %w", err)
	}
	if err := history.Credit(req.Price); err != nil {
		return nil, fmt.Errorf("ошибка зачисления возврата: %w", err)
	}
	if err := h.creditRepo.SaveTx(ctx, tx, history); err != nil {
		return nil, fmt.Errorf("ошибка сохранения кредитной истории: %w", err)
	}
	entry := &domain.CreditHistoryEntry{CustomerID: req.CustomerID, SagaID: req.SagaID, Type: domain.LedgerEntryCredit, Amount: req.Price}
	if err := h.creditRepo.AppendEntryTx(ctx, tx, entry); err != nil {
		return nil, fmt.Errorf("ошибка записи в ledger: %w", err)
	}

	refundPayment := &domain.Payment{
		ID:             uuid.New().String(),
		OrderID:        req.OrderID,
		SagaID:         req.SagaID,
		UserID:         req.CustomerID,
		Amount:         req.Price,
		Status:         domain.PaymentStatusPending,
		PaymentMethod:  "wallet",
		IdempotencyKey: req.SagaID + ":CANCEL",
	}
	if err := refundPayment.Complete(); err != nil {
		return nil, fmt.Errorf("ошибка перехода записи возврата: %w", err)
	}
	if err := h.paymentRepo.CreateTx(ctx, tx, refundPayment); err != nil {
		return nil, fmt.Errorf("ошибка сохранения записи возврата: %w", err)
	}

	return &saga.PaymentResponse{
		SagaID:        req.SagaID,
		CustomerID:    req.CustomerID,
		OrderID:       req.OrderID,
		Price:         req.Price,
		CreatedAt:     time.Now(),
		PaymentStatus: saga.PaymentStatusCancelled,
	}, nil
}

func failedResponse(req *saga.PaymentRequest, failureMessages []string) *saga.PaymentResponse {
	return &saga.PaymentResponse{
		SagaID:          req.SagaID,
		CustomerID:      req.CustomerID,
		OrderID:         req.OrderID,
		Price:           req.Price,
		CreatedAt:       time.Now(),
		PaymentStatus:   saga.PaymentStatusFailed,
		FailureMessages: failureMessages,
	}
}

func headersFromContext(ctx context.Context) map[string]string {
	return map[string]string{
		kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
	}
}
