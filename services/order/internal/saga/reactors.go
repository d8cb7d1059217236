package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	outboxpkg "example.com/foodorder/pkg/outbox"
	"example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/order/internal/domain"
	"example.com/foodorder/services/order/internal/repository"
)

func headersFromContext(ctx context.Context) map[string]string {
	return map[string]string{
		kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
	}
}

func approvalProducts(order *domain.Order) []saga.OrderApprovalProduct {
	products := make([]saga.OrderApprovalProduct, len(order.Items))
	for i, item := range order.Items {
		products[i] = saga.OrderApprovalProduct{ID: item.ProductID, Quantity: item.Quantity}
	}
	return products
}

// =============================================================================
// Initiator — первый шаг саги: создание заказа + PaymentRequest
// =============================================================================

// Initiator создаёт заказ и атомарно ставит в очередь первое событие саги
// (PaymentRequest). Дальше реакторы реагируют на ответы шаг за шагом — без
// центрального координатора.
type Initiator struct {
	orderRepo     repository.OrderRepository
	paymentOutbox *outboxpkg.Repository
}

// NewInitiator создаёт Initiator.
func NewInitiator(orderRepo repository.OrderRepository, paymentOutbox *outboxpkg.Repository) *Initiator {
	return &Initiator{orderRepo: orderRepo, paymentOutbox: paymentOutbox}
}

// CreateOrder атомарно записывает заказ и событие PaymentRequest.
func (in *Initiator) CreateOrder(ctx context.Context, order *domain.Order) error {
	req := &saga.PaymentRequest{
		SagaID:             order.ID,
		CustomerID:         order.CustomerID,
		OrderID:            order.ID,
		Price:              order.Price,
		CreatedAt:          time.Now(),
		PaymentOrderStatus: saga.PaymentOrderStatusPending,
	}
	payload, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации PaymentRequest: %w", err)
	}

	msg := &outboxpkg.Message{
		ID:           uuid.New().String(),
		SagaID:       order.ID,
		Topic:        kafka.TopicPaymentRequest,
		Type:         "PaymentRequest",
		Payload:      payload,
		Headers:      headersFromContext(ctx),
		OrderStatus:  string(domain.OrderStatusPending),
		SagaStatus:   outboxpkg.SagaStatusStarted,
		OutboxStatus: outboxpkg.StatusStarted,
	}

	return in.orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		if err := in.orderRepo.CreateTx(ctx, tx, order); err != nil {
			return err
		}
		return in.paymentOutbox.Create(ctx, tx, msg)
	})
}

// CancelOrder отменяет заказ по запросу клиента. Разрешено только пока заказ
// ещё ждёт ответа от Payment (PENDING) — после PAID отмена возможна лишь через
// отказ ресторана (ApprovalResponseReactor.onRejected), чтобы гарантировать
// компенсацию уже списанного платежа. Если PaymentResponse COMPLETED придёт
// после этой отмены, PaymentResponseReactor увидит заказ не в PENDING и
// пропустит событие как устаревшее (см. Handle's default-ветку) — списанные
// средства в этом случае требуют ручного возврата.
//
// Исходная строка PaymentRequest (saga_status=STARTED) переводится в FAILED —
// сага завершается, так и не дождавшись ответа от Payment.
func (in *Initiator) CancelOrder(ctx context.Context, orderID string) error {
	order, err := in.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPending {
		return domain.ErrIllegalTransition
	}
	if err := order.InitCancel(nil); err != nil {
		return err
	}

	paymentRow, err := in.paymentOutbox.GetBySagaIDAndStatus(ctx, order.ID, outboxpkg.SagaStatusStarted)
	if err != nil {
		if errors.Is(err, outboxpkg.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка чтения строки payment outbox: %w", err)
	}

	transition := &outboxTransition{repo: in.paymentOutbox, message: paymentRow, newStatus: outboxpkg.SagaStatusFailed}
	return commitStep(ctx, in.orderRepo, order.ID, domain.OrderStatusCancelled, nil, nil, nil, transition)
}

// =============================================================================
// PaymentResponseReactor
// =============================================================================

// PaymentResponseReactor реагирует на результат обработки платежа: при успехе
// запрашивает подтверждение у ресторана, при неудаче завершает заказ без
// дальнейших действий, при завершённом возврате средств (сага в CANCELLING)
// завершает компенсацию.
type PaymentResponseReactor struct {
	orderRepo      repository.OrderRepository
	paymentOutbox  *outboxpkg.Repository
	approvalOutbox *outboxpkg.Repository
}

// NewPaymentResponseReactor создаёт реактор для топика payment-response.
func NewPaymentResponseReactor(orderRepo repository.OrderRepository, paymentOutbox, approvalOutbox *outboxpkg.Repository) *PaymentResponseReactor {
	return &PaymentResponseReactor{orderRepo: orderRepo, paymentOutbox: paymentOutbox, approvalOutbox: approvalOutbox}
}

// Handle обрабатывает одно событие PaymentResponse.
func (r *PaymentResponseReactor) Handle(ctx context.Context, resp *saga.PaymentResponse) error {
	log := logger.FromContext(ctx)

	order, err := r.orderRepo.GetByID(ctx, resp.OrderID)
	if err != nil {
		return fmt.Errorf("заказ не найден: %w", err)
	}

	switch {
	case order.Status == domain.OrderStatusPending && resp.PaymentStatus == saga.PaymentStatusCompleted:
		return r.onPaymentApproved(ctx, order)
	case order.Status == domain.OrderStatusPending && resp.PaymentStatus == saga.PaymentStatusFailed:
		return r.onPaymentRejected(ctx, order, resp.FailureMessages)
	case order.Status == domain.OrderStatusCancelling && resp.PaymentStatus == saga.PaymentStatusCancelled:
		return r.onRefundCompleted(ctx, order)
	default:
		log.Debug().
			Str("order_id", order.ID).
			Str("order_status", string(order.Status)).
			Str("payment_status", string(resp.PaymentStatus)).
			Msg("PaymentResponse не относится к ожидаемому шагу саги, пропускаем (дубликат или устаревшее событие)")
		return nil
	}
}

// onPaymentApproved переводит исходную строку PaymentRequest (STARTED) в
// PROCESSING и атомарно ставит в очередь ApprovalRequest — новую строку в
// approval-outbox с saga_status=PROCESSING. Уникальный индекс
// (saga_id, saga_status) на этой новой строке — и есть дедупликатор входящего
// PaymentCompleted: повторная доставка события второй раз вставить такую же
// строку не сможет (см. сценарий с дублирующим ответом в SPEC_FULL.md §8).
func (r *PaymentResponseReactor) onPaymentApproved(ctx context.Context, order *domain.Order) error {
	if err := order.Pay(); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			return nil
		}
		return err
	}

	paymentRow, err := r.paymentOutbox.GetBySagaIDAndStatus(ctx, order.ID, outboxpkg.SagaStatusStarted)
	if err != nil {
		if errors.Is(err, outboxpkg.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка чтения строки payment outbox: %w", err)
	}

	req := &saga.ApprovalRequest{
		SagaID:                order.ID,
		OrderID:               order.ID,
		RestaurantID:          order.RestaurantID,
		CreatedAt:             time.Now(),
		RestaurantOrderStatus: saga.RestaurantOrderStatusPaid,
		Products:              approvalProducts(order),
	}
	payload, err := req.ToJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации ApprovalRequest: %w", err)
	}

	dedupe := &outboxpkg.Message{
		ID:           uuid.New().String(),
		SagaID:       order.ID,
		Topic:        kafka.TopicApprovalRequest,
		Type:         "ApprovalRequest",
		Payload:      payload,
		Headers:      headersFromContext(ctx),
		OrderStatus:  string(domain.OrderStatusPaid),
		SagaStatus:   outboxpkg.SagaStatusProcessing,
		OutboxStatus: outboxpkg.StatusStarted,
	}

	transition := &outboxTransition{repo: r.paymentOutbox, message: paymentRow, newStatus: outboxpkg.SagaStatusProcessing}
	return commitStep(ctx, r.orderRepo, order.ID, domain.OrderStatusPaid, nil, r.approvalOutbox, dedupe, transition)
}

// onPaymentRejected переводит исходную строку PaymentRequest в FAILED —
// платёж так и не прошёл, компенсация не требуется.
func (r *PaymentResponseReactor) onPaymentRejected(ctx context.Context, order *domain.Order, failures []string) error {
	if err := order.InitCancel(failures); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			return nil
		}
		return err
	}

	paymentRow, err := r.paymentOutbox.GetBySagaIDAndStatus(ctx, order.ID, outboxpkg.SagaStatusStarted)
	if err != nil {
		if errors.Is(err, outboxpkg.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка чтения строки payment outbox: %w", err)
	}

	transition := &outboxTransition{repo: r.paymentOutbox, message: paymentRow, newStatus: outboxpkg.SagaStatusFailed}
	return commitStep(ctx, r.orderRepo, order.ID, domain.OrderStatusCancelled, failures, nil, nil, transition)
}

// onRefundCompleted подтверждает завершение компенсации: строка PaymentRequest
// типа CANCEL (поставленная ApprovalResponseReactor.onRejected или
// ExpiryWorker.expirePaid в saga_status=COMPENSATING) переводится в терминальное
// COMPENSATED.
func (r *PaymentResponseReactor) onRefundCompleted(ctx context.Context, order *domain.Order) error {
	if err := order.Cancel(nil); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			return nil
		}
		return err
	}

	paymentRow, err := r.paymentOutbox.GetBySagaIDAndStatus(ctx, order.ID, outboxpkg.SagaStatusCompensating)
	if err != nil {
		if errors.Is(err, outboxpkg.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка чтения строки payment outbox: %w", err)
	}

	transition := &outboxTransition{repo: r.paymentOutbox, message: paymentRow, newStatus: outboxpkg.SagaStatusCompensated}
	return commitStep(ctx, r.orderRepo, order.ID, domain.OrderStatusCancelled, nil, nil, nil, transition)
}

// =============================================================================
// ApprovalResponseReactor
// =============================================================================

// ApprovalResponseReactor реагирует на решение ресторана: при подтверждении
// заказ переходит в финальный APPROVED, при отказе запускается компенсация —
// запрос на возврат средств через Payment.
type ApprovalResponseReactor struct {
	orderRepo      repository.OrderRepository
	paymentOutbox  *outboxpkg.Repository
	approvalOutbox *outboxpkg.Repository
}

// NewApprovalResponseReactor создаёт реактор для топика restaurant-approval-response.
func NewApprovalResponseReactor(orderRepo repository.OrderRepository, paymentOutbox, approvalOutbox *outboxpkg.Repository) *ApprovalResponseReactor {
	return &ApprovalResponseReactor{orderRepo: orderRepo, paymentOutbox: paymentOutbox, approvalOutbox: approvalOutbox}
}

// Handle обрабатывает одно событие ApprovalResponse.
func (r *ApprovalResponseReactor) Handle(ctx context.Context, resp *saga.ApprovalResponse) error {
	log := logger.FromContext(ctx)

	order, err := r.orderRepo.GetByID(ctx, resp.OrderID)
	if err != nil {
		return fmt.Errorf("заказ не найден: %w", err)
	}

	if order.Status != domain.OrderStatusPaid {
		log.Debug().
			Str("order_id", order.ID).
			Str("order_status", string(order.Status)).
			Msg("ApprovalResponse не относится к ожидаемому шагу саги, пропускаем")
		return nil
	}

	if resp.IsApproved() {
		return r.onApproved(ctx, order)
	}
	return r.onRejected(ctx, order, resp.FailureMessages)
}

// onApproved переводит строку ApprovalRequest (PROCESSING, поставленную
// onPaymentApproved) в терминальное SUCCEEDED — сага завершена успехом.
func (r *ApprovalResponseReactor) onApproved(ctx context.Context, order *domain.Order) error {
	if err := order.Approve(); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			return nil
		}
		return err
	}

	approvalRow, err := r.approvalOutbox.GetBySagaIDAndStatus(ctx, order.ID, outboxpkg.SagaStatusProcessing)
	if err != nil {
		if errors.Is(err, outboxpkg.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка чтения строки approval outbox: %w", err)
	}

	transition := &outboxTransition{repo: r.approvalOutbox, message: approvalRow, newStatus: outboxpkg.SagaStatusSucceeded}
	return commitStep(ctx, r.orderRepo, order.ID, domain.OrderStatusApproved, nil, nil, nil, transition)
}

// onRejected переводит строку ApprovalRequest в COMPENSATING и атомарно ставит
// в очередь компенсирующий PaymentRequest (type=CANCEL) — новую строку в
// payment-outbox с saga_status=COMPENSATING. Её подтверждение обрабатывает
// PaymentResponseReactor.onRefundCompleted.
func (r *ApprovalResponseReactor) onRejected(ctx context.Context, order *domain.Order, failures []string) error {
	if err := order.InitCancel(failures); err != nil {
		if errors.Is(err, domain.ErrIllegalTransition) {
			return nil
		}
		return err
	}

	approvalRow, err := r.approvalOutbox.GetBySagaIDAndStatus(ctx, order.ID, outboxpkg.SagaStatusProcessing)
	if err != nil {
		if errors.Is(err, outboxpkg.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("ошибка чтения строки approval outbox: %w", err)
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
		return fmt.Errorf("ошибка сериализации PaymentRequest (refund): %w", err)
	}

	dedupe := &outboxpkg.Message{
		ID:           uuid.New().String(),
		SagaID:       order.ID,
		Topic:        kafka.TopicPaymentRequest,
		Type:         "PaymentRequest",
		Payload:      payload,
		Headers:      headersFromContext(ctx),
		OrderStatus:  string(domain.OrderStatusCancelling),
		SagaStatus:   outboxpkg.SagaStatusCompensating,
		OutboxStatus: outboxpkg.StatusStarted,
	}

	transition := &outboxTransition{repo: r.approvalOutbox, message: approvalRow, newStatus: outboxpkg.SagaStatusCompensating}
	return commitStep(ctx, r.orderRepo, order.ID, domain.OrderStatusCancelling, failures, r.paymentOutbox, dedupe, transition)
}

// outboxTransition описывает CAS-переход уже существующей строки outbox через
// словарь saga_status (STARTED/PROCESSING/SUCCEEDED/COMPENSATING/COMPENSATED/
// FAILED), применяемый commitStep в той же транзакции, что и переход заказа и
// (если задан) dedupe-вставка новой строки.
type outboxTransition struct {
	repo      *outboxpkg.Repository
	message   *outboxpkg.Message
	newStatus outboxpkg.SagaStatus
}

// commitStep переводит заказ в новый статус и, в одной транзакции, опционально
// переводит через CAS существующую строку outbox (transition) и/или вставляет
// новую dedupe-строку (dedupe). Два независимых защитных механизма: проигрыш
// CAS по version (ErrVersionConflict) и нарушение уникального индекса
// (saga_id, saga_status) при вставке (ErrDuplicateDedupeKey) — оба означают,
// что этот шаг саги уже применён другим воркером, и оба трактуются как
// безопасный no-op с откатом транзакции.
func commitStep(ctx context.Context, orderRepo repository.OrderRepository, orderID string, newStatus domain.OrderStatus, failures []string, outboxRepo *outboxpkg.Repository, dedupe *outboxpkg.Message, transition *outboxTransition) error {
	log := logger.FromContext(ctx)

	err := orderRepo.Transaction(ctx, func(tx *gorm.DB) error {
		if transition != nil {
			if err := transition.repo.UpdateStatus(ctx, tx, transition.message, transition.newStatus, outboxpkg.StatusCompleted); err != nil {
				return err
			}
		}
		if err := orderRepo.UpdateStatusTx(ctx, tx, orderID, newStatus, failures); err != nil {
			return err
		}
		if dedupe != nil {
			return outboxRepo.TryInsertDedupe(ctx, tx, dedupe)
		}
		return nil
	})

	if errors.Is(err, outboxpkg.ErrDuplicateDedupeKey) || errors.Is(err, outboxpkg.ErrVersionConflict) {
		log.Debug().Str("order_id", orderID).Msg("Шаг саги уже обработан, пропускаем (idempotent consumer)")
		return nil
	}
	return err
}
