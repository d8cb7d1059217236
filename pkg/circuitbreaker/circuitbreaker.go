// Package circuitbreaker предоставляет Circuit Breaker для защиты от каскадных сбоев.
// Используется вокруг публикации в Kafka внутри Outbox Sweeper: при длительной
// недоступности брокера breaker открывается и последующие попытки публикации
// в этом тике отклоняются мгновенно, не дожидаясь собственных таймаутов клиента.
//
// Состояния Circuit Breaker:
//   - Closed: нормальная работа, вызовы проходят
//   - Open: брокер недоступен, вызовы отклоняются мгновенно (без ожидания timeout)
//   - Half-Open: пробный период, пропускаем часть вызовов для проверки восстановления
//
// Использование:
//
//	cb := circuitbreaker.New("order.payment-outbox")
//	err := cb.Execute(func() error { return producer.SendWithHeaders(ctx, topic, key, value, headers) })
package circuitbreaker

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/foodorder/pkg/logger"
)

// ErrOpen возвращается, когда breaker находится в состоянии Open или
// Half-Open с исчерпанным лимитом пробных запросов.
var ErrOpen = errors.New("circuit breaker открыт — вызов отклонён")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Макс. запросов в Half-Open состоянии (по умолчанию 1)
	Interval     time.Duration // Интервал сброса счётчика в Closed (по умолчанию 60s)
	Timeout      time.Duration // Время в Open до перехода в Half-Open (по умолчанию 30s)
	FailureRatio float64       // Доля ошибок для перехода в Open (по умолчанию 0.5)
	MinRequests  uint32        // Мин. запросов для расчёта ratio (по умолчанию 5)
}

// DefaultSettings возвращает настройки по умолчанию.
// Оптимизированы для микросервисов с быстрым восстановлением.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — обёртка над gobreaker с логированием смены состояния.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт новый Circuit Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings создаёт Circuit Breaker с пользовательскими настройками.
func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},

		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем восстановить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — восстановлен")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

// Execute выполняет fn через Circuit Breaker. Возвращает ErrOpen без вызова
// fn, если breaker в состоянии Open или Half-Open с исчерпанным лимитом.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrOpen
	}
	return err
}

// State возвращает текущее состояние breaker.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name возвращает имя breaker.
func (b *Breaker) Name() string {
	return b.name
}
