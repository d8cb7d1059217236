// Order Service — микросервис управления заказами и инициатор саги заказа.
// Предоставляет HTTP API для создания, получения, отслеживания и отмены
// заказов; реагирует на ответы Payment и Restaurant через choreographed
// saga reactors вместо центрального координатора.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"example.com/foodorder/pkg/config"
	dbpkg "example.com/foodorder/pkg/db"
	"example.com/foodorder/pkg/healthcheck"
	"example.com/foodorder/pkg/httpmw"
	"example.com/foodorder/pkg/kafka"
	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/pkg/metrics"
	outboxpkg "example.com/foodorder/pkg/outbox"
	"example.com/foodorder/pkg/tracing"
	"example.com/foodorder/services/order/internal/handler"
	"example.com/foodorder/services/order/internal/repository"
	"example.com/foodorder/services/order/internal/saga"
	"example.com/foodorder/services/order/internal/service"
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

	log := logger.With().Str("service", "order-service").Logger()
	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.OrderService.Port).
		Msg("Запуск Order Service")

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "order-service",
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

	orderRepo := repository.NewOrderRepository(db)
	replicaRepo := repository.NewReplicaRepository(db)
	catalog := service.NewReplicaRestaurantCatalog(replicaRepo)

	paymentOutbox := outboxpkg.NewRepository(db, saga.TablePaymentOutbox)
	approvalOutbox := outboxpkg.NewRepository(db, saga.TableApprovalOutbox)

	// === Saga: инициатор, реакторы, консьюмеры, свиперы ===

	var initiator *saga.Initiator
	var kafkaProducer *kafka.Producer
	var paymentSweeper, approvalSweeper *outboxpkg.Sweeper
	var paymentConsumer *saga.PaymentResponseConsumer
	var approvalConsumer *saga.ApprovalResponseConsumer
	var customerConsumer *saga.CustomerReplicaConsumer
	var catalogConsumer *saga.RestaurantCatalogConsumer
	var expiryWorker *saga.ExpiryWorker

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka для саги заказа")

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		initiator = saga.NewInitiator(orderRepo, paymentOutbox)
		paymentReactor := saga.NewPaymentResponseReactor(orderRepo, paymentOutbox, approvalOutbox)
		approvalReactor := saga.NewApprovalResponseReactor(orderRepo, paymentOutbox, approvalOutbox)

		paymentSweeper = outboxpkg.NewSweeper(paymentOutbox, kafkaProducer, kafka.TopicPaymentRequest, outboxpkg.DefaultSweeperConfig(), "order.payment-outbox")
		approvalSweeper = outboxpkg.NewSweeper(approvalOutbox, kafkaProducer, kafka.TopicApprovalRequest, outboxpkg.DefaultSweeperConfig(), "order.approval-outbox")

		paymentKafkaConsumer, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers}, kafka.TopicPaymentResponse, "order-service-payment-response")
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для payment-response")
		}
		paymentKafkaConsumer.SetDLQProducer(kafkaProducer)
		paymentConsumer = saga.NewPaymentResponseConsumer(paymentKafkaConsumer, paymentReactor)

		approvalKafkaConsumer, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers}, kafka.TopicApprovalResponse, "order-service-approval-response")
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для restaurant-approval-response")
		}
		approvalKafkaConsumer.SetDLQProducer(kafkaProducer)
		approvalConsumer = saga.NewApprovalResponseConsumer(approvalKafkaConsumer, approvalReactor)

		customerKafkaConsumer, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers}, kafka.TopicCustomer, "order-service-customer-replica")
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для customer")
		}
		customerKafkaConsumer.SetDLQProducer(kafkaProducer)
		customerConsumer = saga.NewCustomerReplicaConsumer(customerKafkaConsumer, replicaRepo)

		catalogKafkaConsumer, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers}, kafka.TopicRestaurantCatalog, "order-service-restaurant-catalog")
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для restaurant-catalog")
		}
		catalogKafkaConsumer.SetDLQProducer(kafkaProducer)
		catalogConsumer = saga.NewRestaurantCatalogConsumer(catalogKafkaConsumer, replicaRepo)

		expiryWorker = saga.NewExpiryWorker(orderRepo, paymentOutbox, approvalOutbox, saga.DefaultExpiryWorkerConfig())

		log.Info().Msg("Компоненты саги заказа инициализированы")
	} else {
		log.Warn().Msg("Kafka не настроена — сага заказа отключена, заказы создаются без событий")
	}

	orderService := service.NewOrderService(orderRepo, initiator, catalog)
	orderHandler := handler.NewOrderHandler(orderService)

	readinessCheck := func(ctx context.Context) error {
		return healthcheck.CheckMySQL(ctx, db)
	}

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"order-service",
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

	// === HTTP сервер ===

	router := handler.NewRouter(handler.RouterConfig{
		OrderHandler:   orderHandler,
		ReadinessCheck: readinessCheck,
		CORSConfig:     httpmw.DefaultCORSConfig(),
	})
	httpServer := &http.Server{
		Addr:    cfg.HTTP.OrderService.Addr(),
		Handler: router,
	}

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

	if paymentSweeper != nil {
		runWorker("payment-sweeper", paymentSweeper.Run)
	}
	if approvalSweeper != nil {
		runWorker("approval-sweeper", approvalSweeper.Run)
	}
	if expiryWorker != nil {
		runWorker("expiry-worker", expiryWorker.Run)
	}
	if paymentConsumer != nil {
		runWorker("payment-response-consumer", func(ctx context.Context) {
			if err := paymentConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка PaymentResponseConsumer")
			}
		})
	}
	if approvalConsumer != nil {
		runWorker("approval-response-consumer", func(ctx context.Context) {
			if err := approvalConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка ApprovalResponseConsumer")
			}
		})
	}
	if customerConsumer != nil {
		runWorker("customer-replica-consumer", func(ctx context.Context) {
			if err := customerConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка CustomerReplicaConsumer")
			}
		})
	}
	if catalogConsumer != nil {
		runWorker("restaurant-catalog-consumer", func(ctx context.Context) {
			if err := catalogConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка RestaurantCatalogConsumer")
			}
		})
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("Паника в HTTP сервере")
			}
		}()
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// === Graceful shutdown ===

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	cancel()
	workersWg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	if paymentConsumer != nil {
		if err := paymentConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия PaymentResponseConsumer")
		}
	}
	if approvalConsumer != nil {
		if err := approvalConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия ApprovalResponseConsumer")
		}
	}
	if customerConsumer != nil {
		if err := customerConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия CustomerReplicaConsumer")
		}
	}
	if catalogConsumer != nil {
		if err := catalogConsumer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия RestaurantCatalogConsumer")
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

	log.Info().Msg("Order Service остановлен")
}
