package outbox

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"example.com/foodorder/pkg/circuitbreaker"
	"example.com/foodorder/pkg/logger"
)

// Publisher — интерфейс для отправки сообщений в Kafka. Позволяет замокать
// kafka.Producer в unit-тестах (Dependency Inversion), как и у остальных
// портов этого модуля.
type Publisher interface {
	SendWithHeaders(ctx context.Context, topic string, key []byte, value []byte, headers map[string]string) error
}

// SweeperConfig — настройки периодического обхода таблицы outbox.
type SweeperConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxRetries      int
	CleanupInterval time.Duration
	CleanupRetention time.Duration
}

// DefaultSweeperConfig возвращает конфигурацию по умолчанию, унаследованную
// от прежнего OutboxWorker (1с опрос, 100 строк за проход, 5 попыток перед
// dead-letter, часовая уборка, семидневное хранение).
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		PollInterval:     1 * time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		CleanupInterval:  1 * time.Hour,
		CleanupRetention: 7 * 24 * time.Hour,
	}
}

// Sweeper — единый периодический обходчик таблицы outbox, используемый
// всеми тремя сервисами с outbox (ранее были два почти идентичных воркера:
// pkg/outbox.OutboxWorker и services/order/internal/saga.OutboxWorker —
// здесь они объединены в один тип, параметризуемый таблицей и топиком).
type Sweeper struct {
	repo     *Repository
	producer Publisher
	topic    string
	cfg      SweeperConfig
	name     string // имя для логов, например "order.payment-outbox"
	breaker  *circuitbreaker.Breaker
}

// NewSweeper создаёт Sweeper для конкретной таблицы outbox и топика публикации.
// Публикация оборачивается в собственный Circuit Breaker — при длительной
// недоступности брокера он открывается и тик пропускает попытки мгновенно,
// вместо того чтобы на каждой записи ждать экспоненциальный backoff целиком.
func NewSweeper(repo *Repository, producer Publisher, topic string, cfg SweeperConfig, name string) *Sweeper {
	return &Sweeper{repo: repo, producer: producer, topic: topic, cfg: cfg, name: name, breaker: circuitbreaker.New(name)}
}

// Run запускает обе периодические задачи (публикация + уборка). Блокирует
// до отмены контекста.
func (s *Sweeper) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().Str("name", s.name).Dur("poll_interval", s.cfg.PollInterval).Msg("Запуск Outbox Sweeper")

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("name", s.name).Msg("Остановка Outbox Sweeper")
			return
		case <-ticker.C:
			s.sweep(ctx)
		case <-cleanupTicker.C:
			s.cleanup(ctx)
		}
	}
}

// sweep публикует один пакет STARTED-строк в порядке createdAt.
func (s *Sweeper) sweep(ctx context.Context) {
	log := logger.FromContext(ctx)

	records, err := s.repo.GetPendingForSweep(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Str("name", s.name).Msg("Ошибка чтения outbox")
		return
	}
	if len(records) == 0 {
		return
	}

	for _, record := range records {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if record.RetryCount >= s.cfg.MaxRetries {
			log.Warn().
				Str("outbox_id", record.ID).
				Str("saga_id", record.SagaID).
				Int("retry_count", record.RetryCount).
				Msg("Dead letter: превышен лимит попыток публикации, строка выведена из очереди")
			if err := s.repo.MarkDead(ctx, record); err != nil && err != ErrVersionConflict {
				log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки dead letter")
			}
			continue
		}

		s.publish(ctx, record)
	}
}

// publish публикует одну строку с несколькими быстрыми повторами через
// экспоненциальный backoff перед тем, как сдаться до следующего тика —
// столбец retry_count отслеживает долгосрочные отказы между тиками,
// backoff здесь сглаживает кратковременные сбои публикации внутри одного тика.
func (s *Sweeper) publish(ctx context.Context, record *Message) {
	log := logger.FromContext(ctx)

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		err := s.breaker.Execute(func() error {
			return s.producer.SendWithHeaders(ctx, s.topic, []byte(record.SagaID), record.Payload, record.Headers)
		})
		if err == circuitbreaker.ErrOpen {
			return backoff.Permanent(err)
		}
		return err
	}, bo)

	if err != nil {
		log.Error().Err(err).Str("outbox_id", record.ID).Str("topic", s.topic).Msg("Ошибка публикации в Kafka")
		if markErr := s.repo.MarkPublishFailed(ctx, record, err); markErr != nil && markErr != ErrVersionConflict {
			log.Error().Err(markErr).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как failed")
		}
		return
	}

	if err := s.repo.MarkPublished(ctx, record); err != nil && err != ErrVersionConflict {
		log.Error().Err(err).Str("outbox_id", record.ID).Msg("Ошибка пометки outbox как опубликованной")
		return
	}

	log.Debug().Str("outbox_id", record.ID).Str("topic", s.topic).Str("type", record.Type).Msg("Сообщение опубликовано")
}

// cleanup удаляет COMPLETED-строки старше срока хранения.
func (s *Sweeper) cleanup(ctx context.Context) {
	log := logger.FromContext(ctx)

	before := time.Now().Add(-s.cfg.CleanupRetention)
	deleted, err := s.repo.DeleteCompletedBefore(ctx, before)
	if err != nil {
		log.Error().Err(err).Str("name", s.name).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		log.Info().Int64("deleted", deleted).Str("name", s.name).Msg("Очистка обработанных записей outbox")
	}
}
