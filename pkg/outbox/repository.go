package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// ErrNotFound — запись outbox не найдена.
var ErrNotFound = errors.New("запись outbox не найдена")

// ErrVersionConflict возвращается при проигрыше CAS по столбцу version —
// другой воркер уже применил обновление. Вызывающая сторона обязана
// трактовать это как no-op (см. SPEC_FULL.md §4.3).
var ErrVersionConflict = errors.New("outbox: конфликт версий (оптимистическая блокировка)")

// ErrDuplicateDedupeKey возвращается, когда вставка строки-дедупликатора
// нарушает уникальный индекс (saga_id, saga_status): кто-то уже применил
// этот ответ раньше. Вызывающая сторона обязана проигнорировать событие.
var ErrDuplicateDedupeKey = errors.New("outbox: строка с таким (saga_id, saga_status) уже существует")

// Repository работает с одной таблицей outbox, имя которой задаётся при
// создании. Каждый сервис создаёт свой экземпляр на таблицу
// (например "order_payment_outbox", "payment_response_outbox").
type Repository struct {
	db    *gorm.DB
	table string
}

// NewRepository создаёт репозиторий, работающий с таблицей table.
func NewRepository(db *gorm.DB, table string) *Repository {
	return &Repository{db: db, table: table}
}

func (r *Repository) session(ctx context.Context, tx *gorm.DB) *gorm.DB {
	db := r.db
	if tx != nil {
		db = tx
	}
	return db.WithContext(ctx).Table(r.table)
}

// Create вставляет новую строку outbox. Если tx не nil, выполняется в рамках
// переданной транзакции — это то, что делает запись аггрегата и запись
// outbox атомарной (закон "atomic enqueue", SPEC_FULL.md §8).
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, msg *Message) error {
	model := modelFromDomain(msg)
	if err := r.session(ctx, tx).Create(model).Error; err != nil {
		return err
	}
	msg.CreatedAt = model.CreatedAt
	return nil
}

// TryInsertDedupe пытается вставить строку-дедупликатор с ключом
// (saga_id, saga_status). При нарушении уникального индекса возвращает
// ErrDuplicateDedupeKey — вызывающий обязан обработать это как тихий no-op:
// только поток, выигравший вставку, продолжает мутировать агрегат.
func (r *Repository) TryInsertDedupe(ctx context.Context, tx *gorm.DB, msg *Message) error {
	err := r.Create(ctx, tx, msg)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateDedupeKey
		}
		return err
	}
	return nil
}

// GetBySagaID возвращает строку outbox по sagaId (для outbox-таблиц, где
// saga_id уникален в рамках таблицы, например ApprovalResponseOutbox).
func (r *Repository) GetBySagaID(ctx context.Context, sagaID string) (*Message, error) {
	var model Model
	if err := r.session(ctx, nil).Where("saga_id = ?", sagaID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetBySagaIDAndStatus возвращает строку outbox по составному ключу дедупликации.
func (r *Repository) GetBySagaIDAndStatus(ctx context.Context, sagaID string, sagaStatus SagaStatus) (*Message, error) {
	var model Model
	if err := r.session(ctx, nil).
		Where("saga_id = ? AND saga_status = ?", sagaID, string(sagaStatus)).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// UpdateStatus переводит строку outbox в новое (sagaStatus, outboxStatus) с
// проверкой версии через compare-and-set. Используется реакторами саги для
// фиксации шага (например STARTED->PROCESSING при приходе PaymentCompleted).
// Проигрыш CAS — ErrVersionConflict, обязан трактоваться как no-op.
func (r *Repository) UpdateStatus(ctx context.Context, tx *gorm.DB, msg *Message, sagaStatus SagaStatus, outboxStatus Status) error {
	result := r.session(ctx, tx).
		Where("id = ? AND version = ?", msg.ID, msg.Version).
		Updates(map[string]any{
			"saga_status":   string(sagaStatus),
			"outbox_status": string(outboxStatus),
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	msg.SagaStatus = sagaStatus
	msg.OutboxStatus = outboxStatus
	msg.Version++
	return nil
}

// GetPendingForSweep возвращает строки со статусом STARTED, упорядоченные по
// createdAt — именно в этом порядке их должен публиковать Sweeper (§4.3).
func (r *Repository) GetPendingForSweep(ctx context.Context, limit int) ([]*Message, error) {
	var models []Model
	if err := r.session(ctx, nil).
		Where("outbox_status = ?", string(StatusStarted)).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	result := make([]*Message, len(models))
	for i := range models {
		result[i] = models[i].ToDomain()
	}
	return result, nil
}

// MarkPublished помечает строку как COMPLETED после успешной публикации,
// через CAS по version. Проигрыш CAS означает, что другой sweeper уже
// опубликовал и обновил эту строку — безопасный no-op.
func (r *Repository) MarkPublished(ctx context.Context, msg *Message) error {
	now := time.Now()
	result := r.session(ctx, nil).
		Where("id = ? AND version = ?", msg.ID, msg.Version).
		Updates(map[string]any{
			"outbox_status": string(StatusCompleted),
			"processed_at":  now,
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	msg.OutboxStatus = StatusCompleted
	msg.ProcessedAt = &now
	msg.Version++
	return nil
}

// MarkPublishFailed увеличивает retry_count и сохраняет текст ошибки через CAS.
func (r *Repository) MarkPublishFailed(ctx context.Context, msg *Message, publishErr error) error {
	errStr := publishErr.Error()
	result := r.session(ctx, nil).
		Where("id = ? AND version = ?", msg.ID, msg.Version).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  errStr,
			"version":     gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	msg.RetryCount++
	msg.LastError = &errStr
	msg.Version++
	return nil
}

// MarkDead паркует строку как FAILED после исчерпания лимита попыток
// (dead-letter policy, SPEC_FULL.md §5 Open Question 1).
func (r *Repository) MarkDead(ctx context.Context, msg *Message) error {
	result := r.session(ctx, nil).
		Where("id = ? AND version = ?", msg.ID, msg.Version).
		Updates(map[string]any{
			"outbox_status": string(StatusFailed),
			"version":       gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	msg.OutboxStatus = StatusFailed
	msg.Version++
	return nil
}

// DeleteCompletedBefore удаляет COMPLETED-строки старше before, не более 1000 за вызов.
func (r *Repository) DeleteCompletedBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.session(ctx, nil).
		Where("outbox_status = ? AND processed_at IS NOT NULL AND processed_at < ?", string(StatusCompleted), before).
		Limit(1000).
		Delete(&Model{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

// isDuplicateKeyError проверяет, является ли ошибка дубликатом уникального ключа (MySQL 1062).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Duplicate entry") || strings.Contains(msg, "1062")
}
