package outbox

import "time"

// Model — GORM модель строки outbox. Таблица передаётся Repository через
// .Table(name), поэтому один и тот же Model обслуживает все таблицы outbox
// (order_payment_outbox, order_approval_outbox, payment_response_outbox,
// restaurant_response_outbox).
type Model struct {
	ID           string     `gorm:"column:id;type:varchar(36);primaryKey"`
	SagaID       string     `gorm:"column:saga_id;type:varchar(36);not null;uniqueIndex:idx_outbox_dedupe,priority:1"`
	Topic        string     `gorm:"column:topic;type:varchar(100);not null"`
	Type         string     `gorm:"column:type;type:varchar(50);not null"`
	Payload      []byte     `gorm:"column:payload;type:json;not null"`
	Headers      []byte     `gorm:"column:headers;type:json"`
	OrderStatus  string     `gorm:"column:order_status;type:varchar(20)"`
	SagaStatus   string     `gorm:"column:saga_status;type:varchar(20);not null;uniqueIndex:idx_outbox_dedupe,priority:2"`
	OutboxStatus string     `gorm:"column:outbox_status;type:varchar(20);not null;index:idx_outbox_sweep"`
	Version      int        `gorm:"column:version;not null;default:0"`
	RetryCount   int        `gorm:"column:retry_count;not null;default:0"`
	LastError    *string    `gorm:"column:last_error;type:text"`
	CreatedAt    time.Time  `gorm:"column:created_at;autoCreateTime;index:idx_outbox_sweep"`
	ProcessedAt  *time.Time `gorm:"column:processed_at"`
}

// ToDomain конвертирует GORM модель в доменную сущность.
func (m *Model) ToDomain() *Message {
	msg := &Message{
		ID:           m.ID,
		SagaID:       m.SagaID,
		Topic:        m.Topic,
		Type:         m.Type,
		Payload:      m.Payload,
		OrderStatus:  m.OrderStatus,
		SagaStatus:   SagaStatus(m.SagaStatus),
		OutboxStatus: Status(m.OutboxStatus),
		Version:      m.Version,
		RetryCount:   m.RetryCount,
		LastError:    m.LastError,
		CreatedAt:    m.CreatedAt,
		ProcessedAt:  m.ProcessedAt,
	}
	if len(m.Headers) > 0 {
		_ = msg.SetHeadersFromJSON(m.Headers)
	}
	return msg
}

// modelFromDomain конвертирует доменную сущность в GORM модель.
func modelFromDomain(msg *Message) *Model {
	model := &Model{
		ID:           msg.ID,
		SagaID:       msg.SagaID,
		Topic:        msg.Topic,
		Type:         msg.Type,
		Payload:      msg.Payload,
		OrderStatus:  msg.OrderStatus,
		SagaStatus:   string(msg.SagaStatus),
		OutboxStatus: string(msg.OutboxStatus),
		Version:      msg.Version,
		RetryCount:   msg.RetryCount,
		LastError:    msg.LastError,
		CreatedAt:    msg.CreatedAt,
		ProcessedAt:  msg.ProcessedAt,
	}
	if msg.Headers != nil {
		if data, err := msg.HeadersJSON(); err == nil {
			model.Headers = data
		}
	}
	return model
}
