// Payment Service — микросервис учёта кредитной истории клиентов. Участвует
// в саге заказа как choreographed-участник: слушает payment-request,
// атомарно списывает/зачисляет средства и ставит PaymentResponse в outbox.
// Не имеет HTTP edge — вся работа происходит через Kafka.
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
	"example.com/foodorder/pkg/money"
	outboxpkg "example.com/foodorder/pkg/outbox"
	"example.com/foodorder/pkg/tracing"
	"example.com/foodorder/services/payment/internal/repository"
	"example.com/foodorder/services/payment/internal/saga"
	"example.com/foodorder/services/payment/internal/service"
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

	log := logger.With().Str("service", "payment-service").Logger()
	log.Info().Str("env", cfg.App.Env).Msg("Запуск Payment Service")

	shutdownTracing, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "payment-service",
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

	redisClient := dbpkg.ConnectRedis(cfg.Redis)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	pingCancel()
	log.Info().Msg("Подключение к Redis установлено")

	defaultCreditLimit, err := money.New(cfg.Payment.DefaultCreditLimit, cfg.Payment.DefaultCurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("Некорректный PAYMENT_DEFAULT_CREDIT_LIMIT/PAYMENT_DEFAULT_CURRENCY")
	}

	paymentRepo := repository.NewPaymentRepository(db)
	creditRepo := repository.NewCreditHistoryRepository(db)
	responseOutbox := outboxpkg.NewRepository(db, saga.TableResponseOutbox)

	paymentService := service.NewPaymentService(paymentRepo)
	recoveryWorker := service.NewRecoveryWorker(paymentService, service.DefaultRecoveryWorkerConfig())

	// === Saga: обработчик запросов, consumer, sweeper ответов ===

	var kafkaProducer *kafka.Producer
	var responseSweeper *outboxpkg.Sweeper
	var requestConsumer *saga.PaymentRequestConsumer

	if len(cfg.Kafka.Brokers) > 0 {
		log.Info().Strs("brokers", cfg.Kafka.Brokers).Msg("Инициализация Kafka для Payment Service")

		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, kafka.DefaultTopics()); err != nil {
			log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}

		kafkaProducer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Producer")
		}

		requestHandler := saga.NewPaymentRequestHandler(paymentRepo, creditRepo, responseOutbox, redisClient, defaultCreditLimit)

		responseSweeper = outboxpkg.NewSweeper(responseOutbox, kafkaProducer, kafka.TopicPaymentResponse, outboxpkg.DefaultSweeperConfig(), "payment.response-outbox")

		requestKafkaConsumer, err := kafka.NewConsumer(kafka.Config{Brokers: cfg.Kafka.Brokers}, kafka.TopicPaymentRequest, "payment-service-payment-request")
		if err != nil {
			log.Fatal().Err(err).Msg("Ошибка создания Kafka Consumer для payment-request")
		}
		requestKafkaConsumer.SetDLQProducer(kafkaProducer)
		requestConsumer = saga.NewPaymentRequestConsumer(requestKafkaConsumer, requestHandler)

		log.Info().Msg("Компоненты саги платежа инициализированы")
	} else {
		log.Warn().Msg("Kafka не настроена — Payment Service не обрабатывает события")
	}

	readinessCheck := healthcheck.Composite(
		func(ctx context.Context) error { return healthcheck.CheckMySQL(ctx, db) },
		func(ctx context.Context) error { return healthcheck.CheckRedis(ctx, redisClient) },
	)

	// === Observability: Metrics ===

	var metricsServer *metrics.Server
	var metricsWg sync.WaitGroup
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(
			cfg.Metrics.Addr(),
			"payment-service",
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

	runWorker("recovery-worker", recoveryWorker.Run)

	if responseSweeper != nil {
		runWorker("response-sweeper", responseSweeper.Run)
	}
	if requestConsumer != nil {
		runWorker("payment-request-consumer", func(ctx context.Context) {
			if err := requestConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка PaymentRequestConsumer")
			}
		})
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
			log.Error().Err(err).Msg("Ошибка закрытия PaymentRequestConsumer")
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
	if err := redisClient.Close(); err != nil {
		log.Error().Err(err).Msg("Ошибка закрытия Redis")
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

	log.Info().Msg("Payment Service остановлен")
}
