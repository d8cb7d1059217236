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

// PaymentResponseConsumer слушает payment-response и делегирует обработку
// PaymentResponseReactor.
type PaymentResponseConsumer struct {
	consumer KafkaConsumer
	reactor  *PaymentResponseReactor
}

// NewPaymentResponseConsumer создаёт consumer для топика payment-response.
func NewPaymentResponseConsumer(consumer KafkaConsumer, reactor *PaymentResponseReactor) *PaymentResponseConsumer {
	return &PaymentResponseConsumer{consumer: consumer, reactor: reactor}
}

// Run запускает чтение ответов. Блокирует до отмены контекста.
func (c *PaymentResponseConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().Str("topic", kafka.TopicPaymentResponse).Msg("Запуск PaymentResponseConsumer")
	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

func (c *PaymentResponseConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	resp, err := saga.PaymentResponseFromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("ошибка десериализации PaymentResponse: %w", err)
	}
	return c.reactor.Handle(ctx, resp)
}

// Close закрывает consumer.
func (c *PaymentResponseConsumer) Close() error { return c.consumer.Close() }

// ApprovalResponseConsumer слушает restaurant-approval-response и делегирует
// обработку ApprovalResponseReactor.
type ApprovalResponseConsumer struct {
	consumer KafkaConsumer
	reactor  *ApprovalResponseReactor
}

// NewApprovalResponseConsumer создаёт consumer для топика restaurant-approval-response.
func NewApprovalResponseConsumer(consumer KafkaConsumer, reactor *ApprovalResponseReactor) *ApprovalResponseConsumer {
	return &ApprovalResponseConsumer{consumer: consumer, reactor: reactor}
}

// Run запускает чтение ответов. Блокирует до отмены контекста.
func (c *ApprovalResponseConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().Str("topic", kafka.TopicApprovalResponse).Msg("Запуск ApprovalResponseConsumer")
	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

func (c *ApprovalResponseConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	resp, err := saga.ApprovalResponseFromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("ошибка десериализации ApprovalResponse: %w", err)
	}
	return c.reactor.Handle(ctx, resp)
}

// Close закрывает consumer.
func (c *ApprovalResponseConsumer) Close() error { return c.consumer.Close() }
