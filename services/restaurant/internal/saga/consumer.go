package saga

import (
	"context"
	"fmt"

	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/pkg/saga"
)

// KafkaConsumer — интерфейс для чтения сообщений из Kafka. Позволяет
// замокать kafka.Consumer в unit-тестах (Dependency Inversion).
type KafkaConsumer interface {
	ConsumeWithRetry(ctx context.Context, handler kafka.MessageHandler, maxRetries int) error
	Close() error
}

// ApprovalRequestConsumer слушает restaurant-approval-request и делегирует
// обработку ApprovalRequestHandler.
type ApprovalRequestConsumer struct {
	consumer KafkaConsumer
	handler  *ApprovalRequestHandler
}

// NewApprovalRequestConsumer создаёт consumer для топика restaurant-approval-request.
func NewApprovalRequestConsumer(consumer KafkaConsumer, handler *ApprovalRequestHandler) *ApprovalRequestConsumer {
	return &ApprovalRequestConsumer{consumer: consumer, handler: handler}
}

// Run запускает чтение запросов. Блокирует до отмены контекста.
func (c *ApprovalRequestConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().Str("topic", kafka.TopicApprovalRequest).Msg("Запуск ApprovalRequestConsumer")
	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

func (c *ApprovalRequestConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	req, err := saga.ApprovalRequestFromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("ошибка десериализации ApprovalRequest: %w", err)
	}
	return c.handler.Handle(ctx, req)
}

// Close закрывает consumer.
func (c *ApprovalRequestConsumer) Close() error { return c.consumer.Close() }
