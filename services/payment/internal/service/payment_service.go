// Package service содержит read-модель и фоновые операции Payment Service.
// Атомарная обработка PaymentRequest (списание/зачисление + постановка
// ответа в outbox) находится в internal/saga — она должна выполняться в
// одной транзакции с записью outbox, поэтому не проходит через этот слой.
package service

import (
	"context"
	"fmt"
	"time"

	"example.com/foodorder/pkg/logger"
	"example.com/foodorder/services/payment/internal/domain"
	"example.com/foodorder/services/payment/internal/repository"
)

// PaymentService — операции над платежами, не требующие атомарности с
// outbox: точечные запросы и фоновое восстановление зависших записей.
type PaymentService interface {
	// GetPayment возвращает платёж по ID.
	GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error)

	// GetPaymentBySagaID возвращает платёж по ID саги.
	GetPaymentBySagaID(ctx context.Context, sagaID string) (*domain.Payment, error)

	// RecoverStuckPayments помечает зависшие PENDING платежи как FAILED.
	// Вызывается периодически для очистки "забытых" платежей — в норме
	// платёж никогда не должен оставаться PENDING, так как applyCharge
	// переводит его в COMPLETED/FAILED в той же транзакции, что и создание;
	// PENDING-запись переживает только при падении процесса между CreateTx
	// и commit, поэтому это настоящее восстановление после сбоя.
	RecoverStuckPayments(ctx context.Context) (int, error)
}

type paymentService struct {
	repo repository.PaymentRepository
}

// NewPaymentService создаёт сервис чтения и восстановления платежей.
func NewPaymentService(repo repository.PaymentRepository) PaymentService {
	return &paymentService{repo: repo}
}

func (s *paymentService) GetPayment(ctx context.Context, paymentID string) (*domain.Payment, error) {
	return s.repo.GetByID(ctx, paymentID)
}

func (s *paymentService) GetPaymentBySagaID(ctx context.Context, sagaID string) (*domain.Payment, error) {
	return s.repo.GetBySagaID(ctx, sagaID)
}

// RecoverStuckPayments помечает платежи в статусе PENDING старше 5 минут как FAILED.
func (s *paymentService) RecoverStuckPayments(ctx context.Context) (int, error) {
	log := logger.FromContext(ctx)

	stuckPayments, err := s.repo.GetStuckPending(ctx, 5*time.Minute, 100)
	if err != nil {
		return 0, fmt.Errorf("ошибка получения зависших платежей: %w", err)
	}
	if len(stuckPayments) == 0 {
		return 0, nil
	}

	recovered := 0
	for _, payment := range stuckPayments {
		if err := payment.Fail("таймаут обработки платежа"); err != nil {
			log.Warn().Err(err).Str("payment_id", payment.ID).Msg("Не удалось пометить платёж как FAILED")
			continue
		}
		if err := s.repo.Update(ctx, payment); err != nil {
			log.Warn().Err(err).Str("payment_id", payment.ID).Msg("Ошибка обновления зависшего платежа")
			continue
		}
		log.Info().Str("payment_id", payment.ID).Str("saga_id", payment.SagaID).Msg("Зависший платёж помечен как FAILED")
		recovered++
	}

	if recovered > 0 {
		log.Info().Int("count", recovered).Msg("Восстановлено зависших платежей")
	}

	return recovered, nil
}
