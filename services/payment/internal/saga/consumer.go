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

// PaymentRequestConsumer слушает payment-request и делегирует обработку
// PaymentRequestHandler.
type PaymentRequestConsumer struct {
	consumer KafkaConsumer
	handler  *PaymentRequestHandler
}

// NewPaymentRequestConsumer создаёт consumer для топика payment-request.
func NewPaymentRequestConsumer(consumer KafkaConsumer, handler *PaymentRequestHandler) *PaymentRequestConsumer {
	return &PaymentRequestConsumer{consumer: consumer, handler: handler}
}

// Run запускает чтение запросов. Блокирует до отмены контекста.
func (c *PaymentRequestConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().Str("topic", kafka.TopicPaymentRequest).Msg("Запуск PaymentRequestConsumer")
	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

func (c *PaymentRequestConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	req, err := saga.PaymentRequestFromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("ошибка десериализации PaymentRequest: %w", err)
	}
	return c.handler.Handle(ctx, req)
}

// Close закрывает consumer.
func (c *PaymentRequestConsumer) Close() error { return c.consumer.Close() }
