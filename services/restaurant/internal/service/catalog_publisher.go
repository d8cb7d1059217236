// Package service содержит фоновые операции Restaurant Service: публикацию
// снимков каталога в restaurant-catalog (у сервиса нет HTTP-поверхности,
// поэтому публикация каталога — единственный канал, которым Order Service
// узнаёт об изменениях меню) и сидирование стартового каталога из конфигурации.
package service

import (
	"context"
	"fmt"
	"time"

	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	outboxpkg "example.com/foodorder/pkg/outbox"
	sagapkg "example.com/foodorder/pkg/saga"
	"example.com/foodorder/services/restaurant/internal/domain"
	"example.com/foodorder/services/restaurant/internal/repository"
)

// CatalogPublisherConfig — настройки периодической публикации каталога.
type CatalogPublisherConfig struct {
	PollInterval time.Duration
}

// DefaultCatalogPublisherConfig возвращает конфигурацию по умолчанию.
func DefaultCatalogPublisherConfig() CatalogPublisherConfig {
	return CatalogPublisherConfig{PollInterval: 1 * time.Minute}
}

// CatalogPublisher периодически перечитывает все рестораны и публикует их
// снимки каталога в restaurant-catalog — по тому же принципу, что и
// RecoveryWorker Payment Service (тикер + фоновый проход), но с другим
// доменным действием: здесь нет зависших записей для восстановления, есть
// только необходимость держать локальную реплику Order Service в курсе
// изменений меню без отдельной административной поверхности.
type CatalogPublisher struct {
	repo      repository.RestaurantRepository
	publisher outboxpkg.Publisher
	cfg       CatalogPublisherConfig
}

// NewCatalogPublisher создаёт воркер публикации каталога.
func NewCatalogPublisher(repo repository.RestaurantRepository, publisher outboxpkg.Publisher, cfg CatalogPublisherConfig) *CatalogPublisher {
	return &CatalogPublisher{repo: repo, publisher: publisher, cfg: cfg}
}

// Run запускает Worker. Блокирует выполнение до отмены контекста.
func (w *CatalogPublisher) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().Dur("poll_interval", w.cfg.PollInterval).Msg("Запуск CatalogPublisher")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	if err := w.publishAll(ctx); err != nil {
		log.Error().Err(err).Msg("Ошибка первичной публикации каталога")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка CatalogPublisher")
			return
		case <-ticker.C:
			if err := w.publishAll(ctx); err != nil {
				log.Error().Err(err).Msg("Ошибка публикации каталога")
			}
		}
	}
}

// publishAll публикует снимок каждого ресторана в restaurant-catalog,
// используя restaurantId как ключ партиционирования (см. таблицу топиков).
func (w *CatalogPublisher) publishAll(ctx context.Context) error {
	log := logger.FromContext(ctx)

	restaurants, err := w.repo.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("ошибка получения списка ресторанов: %w", err)
	}

	for _, restaurant := range restaurants {
		if err := w.publishOne(ctx, restaurant); err != nil {
			log.Warn().Err(err).Str("restaurant_id", restaurant.ID).Msg("Ошибка публикации снимка каталога")
			continue
		}
	}

	log.Debug().Int("count", len(restaurants)).Msg("Каталог опубликован")
	return nil
}

func (w *CatalogPublisher) publishOne(ctx context.Context, restaurant *domain.Restaurant) error {
	products := make([]sagapkg.ProductModel, 0, len(restaurant.Products))
	for _, p := range restaurant.Products {
		products = append(products, sagapkg.ProductModel{
			ID:        p.ID,
			Name:      p.Name,
			Price:     p.Price,
			Available: p.Available,
		})
	}

	snapshot := &sagapkg.RestaurantCatalogModel{
		ID:       restaurant.ID,
		Active:   restaurant.Active,
		Products: products,
	}

	payload, err := snapshot.ToJSON()
	if err != nil {
		return fmt.Errorf("ошибка сериализации RestaurantCatalogModel: %w", err)
	}

	return w.publisher.SendWithHeaders(ctx, kafka.TopicRestaurantCatalog, []byte(restaurant.ID), payload, nil)
}
