// Package saga обрабатывает запросы подтверждения заказа, пришедшие из Order
// Service по топику restaurant-approval-request, и атомарно ставит в очередь
// ответ.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	outboxpkg "example.com/foodorder/pkg/outbox"
	"example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/restaurant/internal/domain"
	"example.com/foodorder/services/restaurant/internal/repository"
)

// approvalDedupeStatus — единственное значение дискриминатора дедупликации
// ответа, как того требует §4.5: здесь в отличие от Payment нет второго
// дискриминатора типа (PAY/CANCEL), потому что решение об одобрении заказа
// принимается ровно один раз за sagaId.
const approvalDedupeStatus = outboxpkg.SagaStatus("DECIDED")

// ApprovalRequestHandler обрабатывает одно событие ApprovalRequest: проверяет
// активность ресторана и доступность позиций заказа, и атомарно ставит в
// очередь ApprovalResponse — без синхронной отправки в Kafka из самого
// обработчика (это делает отдельный pkg/outbox.Sweeper).
type ApprovalRequestHandler struct {
	restaurantRepo repository.RestaurantRepository
	responseOutbox *outboxpkg.Repository
}

// NewApprovalRequestHandler создаёт обработчик входящих ApprovalRequest.
func NewApprovalRequestHandler(
	restaurantRepo repository.RestaurantRepository,
	responseOutbox *outboxpkg.Repository,
) *ApprovalRequestHandler {
	return &ApprovalRequestHandler{
		restaurantRepo: restaurantRepo,
		responseOutbox: responseOutbox,
	}
}

// Handle обрабатывает одно событие ApprovalRequest.
func (h *ApprovalRequestHandler) Handle(ctx context.Context, req *saga.ApprovalRequest) error {
	log := logger.FromContext(ctx)

	restaurant, err := h.restaurantRepo.GetByID(ctx, req.RestaurantID)
	if err != nil {
		if err == domain.ErrRestaurantNotFound {
			return h.enqueueResponse(ctx, rejectedResponse(req, []string{"ресторан не найден"}))
		}
		return fmt.Errorf("ошибка загрузки ресторана: %w", err)
	}

	items := make([]domain.ApprovalItem, 0, len(req.Products))
	for _, p := range req.Products {
		items = append(items, domain.ApprovalItem{ProductID: p.ID, Quantity: p.Quantity})
	}

	failures := restaurant.ValidateApproval(items)

	var resp *saga.ApprovalResponse
	if len(failures) > 0 {
		resp = rejectedResponse(req, failures)
	} else {
		resp = &saga.ApprovalResponse{
			SagaID:              req.SagaID,
			OrderID:             req.OrderID,
			CreatedAt:           time.Now(),
			OrderApprovalStatus: saga.OrderApprovalStatusApproved,
		}
	}

	err = h.enqueueResponse(ctx, resp)
	if err == outboxpkg.ErrDuplicateDedupeKey {
		log.Debug().Str("saga_id", req.SagaID).Msg("Ответ на этот ApprovalRequest уже поставлен в очередь, пропускаем (idempotent consumer)")
		return nil
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("saga_id", req.SagaID).
		Str("order_id", req.OrderID).
		Str("approval_status", string(resp.OrderApprovalStatus)).
		Msg("ApprovalRequest обработан")

	return nil
}

// enqueueResponse вставляет строку-дедупликатор с ответом в одной транзакции
// с дедуп-ключом (sagaId) — домашняя таблица не требует мутации агрегата,
// поэтому вся "транзакция" сводится к единственной вставке.
func (h *ApprovalRequestHandler) enqueueResponse(ctx context.Context, resp *saga.ApprovalResponse) error {
	payload, err := resp.ToJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации ApprovalResponse: %w", err)
	}

	dedupe := &outboxpkg.Message{
		ID:           uuid.New().String(),
		SagaID:       resp.SagaID,
		Topic:        kafka.TopicApprovalResponse,
		Type:         "ApprovalResponse",
		Payload:      payload,
		Headers:      headersFromContext(ctx),
		SagaStatus:   approvalDedupeStatus,
		OutboxStatus: outboxpkg.StatusStarted,
		ProcessedAt:  nil,
		CreatedAt:    time.Now(),
	}

	return h.responseOutbox.TryInsertDedupe(ctx, nil, dedupe)
}

func rejectedResponse(req *saga.ApprovalRequest, failureMessages []string) *saga.ApprovalResponse {
	return &saga.ApprovalResponse{
		SagaID:              req.SagaID,
		OrderID:             req.OrderID,
		CreatedAt:           time.Now(),
		OrderApprovalStatus: saga.OrderApprovalStatusRejected,
		FailureMessages:     failureMessages,
	}
}

func headersFromContext(ctx context.Context) map[string]string {
	return map[string]string{
		kafka.HeaderTraceID:       kafka.TraceIDFromContext(ctx),
		kafka.HeaderCorrelationID: kafka.CorrelationIDFromContext(ctx),
	}
}
