package service

import (
	"context"
	"time"

	"example.com/foodorder/pkg/logger"
)

// RecoveryWorkerConfig — настройки периодического поиска зависших платежей.
type RecoveryWorkerConfig struct {
	PollInterval time.Duration
}

// DefaultRecoveryWorkerConfig возвращает конфигурацию по умолчанию.
func DefaultRecoveryWorkerConfig() RecoveryWorkerConfig {
	return RecoveryWorkerConfig{PollInterval: 1 * time.Minute}
}

// RecoveryWorker периодически вызывает PaymentService.RecoverStuckPayments,
// закрывая платежи, заставшие PENDING из-за падения процесса между CreateTx
// и коммитом транзакции.
type RecoveryWorker struct {
	service PaymentService
	cfg     RecoveryWorkerConfig
}

// NewRecoveryWorker создаёт воркер восстановления зависших платежей.
func NewRecoveryWorker(service PaymentService, cfg RecoveryWorkerConfig) *RecoveryWorker {
	return &RecoveryWorker{service: service, cfg: cfg}
}

// Run запускает Worker. Блокирует выполнение до отмены контекста.
func (w *RecoveryWorker) Run(ctx context.Context) {
	log := logger.FromContext(ctx)
	log.Info().Dur("poll_interval", w.cfg.PollInterval).Msg("Запуск RecoveryWorker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка RecoveryWorker")
			return
		case <-ticker.C:
			if _, err := w.service.RecoverStuckPayments(ctx); err != nil {
				log.Error().Err(err).Msg("Ошибка восстановления зависших платежей")
			}
		}
	}
}
