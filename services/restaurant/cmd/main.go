// Restaurant Service — микросервис каталога ресторанов. Участвует в саге
// заказа как choreographed-участник: слушает restaurant-approval-request,
// проверяет активность ресторана и доступность позиций меню, и ставит
// ApprovalResponse в outbox. Не имеет HTTP edge — вся работа происходит через
// Kafka; публикация каталога в restaurant-catalog — единственный канал,
// которым Order Service узнаёт об изменениях меню.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/foodorder/pkg/config"
	dbpkg "example.com/foodorder/pkg/db"
	"example.com/foodorder/pkg/healthcheck"
	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/pkg/metrics"
	outboxpkg "example.com/foodorder/pkg/outbox"
	"example.com/foodorder/pkg/tracing"
	"example.com/foodorder/services/restaurant/internal/repository"
	"example.com/foodorder/services/restaurant/internal/saga"
	"example.com/foodorder/services/restaurant/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:  cfg.App.LogLevel,
		Pretty: cfg.App.LogPretty,
	})

	log := logger.With().Str("service", "restaurant-service").Logger()
	log.Info().Str("env", cfg.App.Env).Msg("Запуск Restaurant Service")

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "restaurant-service",
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	db, err := dbpkg.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	restaurantRepo := repository.NewRestaurantRepository(db)
	responseOutbox := outboxpkg.NewRepository(db, saga.TableResponseOutbox)

	seedCtx, seedCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := service.SeedRestaurants(seedCtx, restaurantRepo, cfg.Restaurant.SeedFile); err != nil {
		log.Error().Err(err).Msg("Ошибка сидирования каталога ресторанов")
	}
	seedCancel()

	// === Saga: обработчик запросов, consumer, sweeper ответов, публикация каталога ===

	var kafkaProducer *kafka.Producer
	var responseSweeper *outboxpkg.Sweeper
	var requestConsumer *saga.ApprovalRequestConsumer
	var catalogPublisher *service.CatalogPublisher

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka для Restaurant Service")

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		requestHandler := saga.NewApprovalRequestHandler(restaurantRepo, responseOutbox)

		responseSweeper = outboxpkg.NewSweeper(responseOutbox, kafkaProducer, kafka.TopicApprovalResponse, outboxpkg.DefaultSweeperConfig(), "restaurant.response-outbox")

		requestKafkaConsumer, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers}, kafka.TopicApprovalRequest, "restaurant-service-approval-request")
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для restaurant-approval-request")
		}
		requestKafkaConsumer.SetDLQProducer(kafkaProducer)
		requestConsumer = saga.NewApprovalRequestConsumer(requestKafkaConsumer, requestHandler)

		catalogPublisher = service.NewCatalogPublisher(restaurantRepo, kafkaProducer, service.CatalogPublisherConfig{
			PollInterval: cfg.Restaurant.CatalogPublishInterval,
		})

		log.Info().Msg("Компоненты саги подтверждения заказа инициализированы")
	} else {
		log.Warn().Msg("Kafka не настроена — Restaurant Service не обрабатывает события")
	}

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"restaurant-service",
			metrics.WithReadinessCheck(readinessCheck),
		)
		metricsWg.Add(1)
		go func() {
			defer metricsWg.Done()
			if err := metricsServer.Start(); err != nil {
				log.Error().Err(err).Msg("Ошибка Metrics Server")
			}
		}()
	}

	// === Фоновые воркеры ===

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workersWg sync.WaitGroup

	runWorker := func(name string, run func(context.Context)) {
		workersWg.Add(1)
		go func() {
			defer workersWg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("worker", name).Msg("Паника в фоновом воркере")
				}
			}()
			run(ctx)
		}()
	}

	if responseSweeper != nil {
		runWorker("response-sweeper", responseSweeper.Run)
	}
	if requestConsumer != nil {
		runWorker("approval-request-consumer", func(ctx context.Context) {
			if err := requestConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка ApprovalRequestConsumer")
			}
		})
	}
	if catalogPublisher != nil {
		runWorker("catalog-publisher", catalogPublisher.Run)
	}

	// === Graceful shutdown ===

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")

	cancel()
	workersWg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if requestConsumer != nil {
		if err := requestConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия ApprovalRequestConsumer")
		}
	}
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}

	if sqlDB, err := db.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Metrics Server")
		}
		metricsWg.Wait()
	}

	if shutdownTracing != nil {
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
	}

	log.Info().Msg("Restaurant Service остановлен")
}
