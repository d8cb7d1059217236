// Package outbox реализует Transactional Outbox Pattern для гарантированной
// доставки сообщений в Kafka и идемпотентной обработки входящих событий.
//
// Используется всеми тремя сервисами с outbox: Order владеет двумя таблицами outbox
// (PaymentOutbox, ApprovalOutbox), Payment и Restaurant — по одной
// (собственный response outbox). В одной транзакции пишем бизнес-данные и
// строку outbox; отдельный Sweeper читает STARTED-строки и публикует их в
// Kafka, используя оптимистическую блокировку по столбцу version, чтобы два
// параллельных sweeper'а не опубликовали одну и ту же строку дважды.
package outbox

import (
	"encoding/json"
	"time"
)

// SagaStatus — состояние саги, зафиксированное в строке outbox в момент записи.
type SagaStatus string

const (
	SagaStatusStarted      SagaStatus = "STARTED"
	SagaStatusProcessing   SagaStatus = "PROCESSING"
	SagaStatusSucceeded    SagaStatus = "SUCCEEDED"
	SagaStatusCompensating SagaStatus = "COMPENSATING"
	SagaStatusCompensated  SagaStatus = "COMPENSATED"
	SagaStatusFailed       SagaStatus = "FAILED"
)

// Status — состояние публикации самой строки outbox (не саги).
type Status string

const (
	StatusStarted   Status = "STARTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Message — запись в таблице outbox.
type Message struct {
	ID            string
	SagaID        string // ключ партиционирования при публикации
	Topic         string
	Type          string // дискриминатор события (PAY, CANCEL, PaymentCompleted, ...)
	Payload       []byte
	Headers       map[string]string
	OrderStatus   string // снимок доменного статуса на момент постановки в очередь
	SagaStatus    SagaStatus
	OutboxStatus  Status
	Version       int
	RetryCount    int
	LastError     *string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
}

// HeadersJSON сериализует headers в JSON для хранения в БД.
func (m *Message) HeadersJSON() ([]byte, error) {
	if m.Headers == nil {
		return nil, nil
	}
	return json.Marshal(m.Headers)
}

// SetHeadersFromJSON десериализует headers из JSON.
func (m *Message) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &m.Headers)
}
