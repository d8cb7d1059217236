package saga

import (
	"context"
	"fmt"

	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/order/internal/repository"
)

// CustomerReplicaConsumer слушает топик customer и материализует снимки
// клиентов в локальную реплику — без участия в саге, без outbox и без
// компенсаций (§4.6).
type CustomerReplicaConsumer struct {
	consumer KafkaConsumer
	replicas repository.ReplicaRepository
}

// NewCustomerReplicaConsumer создаёт consumer для топика customer.
func NewCustomerReplicaConsumer(consumer KafkaConsumer, replicas repository.ReplicaRepository) *CustomerReplicaConsumer {
	return &CustomerReplicaConsumer{consumer: consumer, replicas: replicas}
}

// Run запускает чтение снимков клиентов. Блокирует до отмены контекста.
func (c *CustomerReplicaConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().Str("topic", kafka.TopicCustomer).Msg("Запуск CustomerReplicaConsumer")
	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

func (c *CustomerReplicaConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	model, err := saga.CustomerModelFromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("ошибка десериализации CustomerModel: %w", err)
	}
	return c.replicas.UpsertCustomer(ctx, model.ID, model.Username, model.FirstName, model.LastName)
}

// Close закрывает consumer.
func (c *CustomerReplicaConsumer) Close() error { return c.consumer.Close() }

// RestaurantCatalogConsumer слушает топик restaurant-catalog и материализует
// снимки каталога ресторана в локальную реплику, используемую
// RestaurantCatalog при валидации создаваемых заказов.
type RestaurantCatalogConsumer struct {
	consumer KafkaConsumer
	replicas repository.ReplicaRepository
}

// NewRestaurantCatalogConsumer создаёт consumer для топика restaurant-catalog.
func NewRestaurantCatalogConsumer(consumer KafkaConsumer, replicas repository.ReplicaRepository) *RestaurantCatalogConsumer {
	return &RestaurantCatalogConsumer{consumer: consumer, replicas: replicas}
}

// Run запускает чтение снимков каталога. Блокирует до отмены контекста.
func (c *RestaurantCatalogConsumer) Run(ctx context.Context) error {
	log := logger.FromContext(ctx)
	log.Info().Str("topic", kafka.TopicRestaurantCatalog).Msg("Запуск RestaurantCatalogConsumer")
	return c.consumer.ConsumeWithRetry(ctx, c.handleMessage, 3)
}

func (c *RestaurantCatalogConsumer) handleMessage(ctx context.Context, msg *kafka.Message) error {
	model, err := saga.RestaurantCatalogModelFromJSON(msg.Value)
	if err != nil {
		return fmt.Errorf("ошибка десериализации RestaurantCatalogModel: %w", err)
	}
	products := make([]repository.ProductSnapshot, len(model.Products))
	for i, p := range model.Products {
		products[i] = repository.ProductSnapshot{ID: p.ID, Name: p.Name, Price: p.Price, Available: p.Available}
	}
	return c.replicas.UpsertRestaurant(ctx, model.ID, model.Active, products)
}

// Close закрывает consumer.
func (c *RestaurantCatalogConsumer) Close() error { return c.consumer.Close() }
