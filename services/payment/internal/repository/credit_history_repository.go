package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/foodorder/pkg/money"
	"example.com/foodorder/services/payment/internal/domain"
)

// CreditHistoryRepository работает с кредитной историей клиентов и её
// append-only ledger'ом (CreditHistoryEntry).
type CreditHistoryRepository interface {
	// GetForUpdateTx блокирует и возвращает строку кредитной истории
	// клиента (SELECT ... FOR UPDATE) внутри переданной транзакции. Если
	// строки ещё нет, создаёт её с начальным кредитным лимитом
	// defaultCredit — см. domain.NewCreditHistory.
	GetForUpdateTx(ctx context.Context, tx *gorm.DB, customerID string, defaultCredit money.Money) (*domain.CreditHistory, error)

	// SaveTx сохраняет изменённые totalCredit/totalDebit.
	SaveTx(ctx context.Context, tx *gorm.DB, history *domain.CreditHistory) error

	// AppendEntryTx добавляет неизменяемую запись в ledger.
	AppendEntryTx(ctx context.Context, tx *gorm.DB, entry *domain.CreditHistoryEntry) error
}

// CreditHistoryModel — GORM модель таблицы credit_histories.
type CreditHistoryModel struct {
	CustomerID  string      `gorm:"column:customer_id;type:varchar(36);primaryKey"`
	TotalCredit money.Money `gorm:"column:total_credit;type:varchar(40);not null"`
	TotalDebit  money.Money `gorm:"column:total_debit;type:varchar(40);not null"`
	CreatedAt   time.Time   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time   `gorm:"column:updated_at;autoUpdateTime"`
}

func (CreditHistoryModel) TableName() string { return "credit_histories" }

func (m *CreditHistoryModel) toDomain() *domain.CreditHistory {
	return &domain.CreditHistory{
		CustomerID:  m.CustomerID,
		TotalCredit: m.TotalCredit,
		TotalDebit:  m.TotalDebit,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// CreditHistoryEntryModel — GORM модель append-only ledger'а.
type CreditHistoryEntryModel struct {
	ID         string      `gorm:"column:id;type:varchar(36);primaryKey"`
	CustomerID string      `gorm:"column:customer_id;type:varchar(36);not null;index"`
	SagaID     string      `gorm:"column:saga_id;type:varchar(36);not null;index"`
	Type       string      `gorm:"column:type;type:varchar(10);not null"`
	Amount     money.Money `gorm:"column:amount;type:varchar(40);not null"`
	CreatedAt  time.Time   `gorm:"column:created_at;autoCreateTime"`
}

func (CreditHistoryEntryModel) TableName() string { return "credit_history_entries" }

type creditHistoryRepository struct {
	db *gorm.DB
}

// NewCreditHistoryRepository создаёт репозиторий кредитной истории.
func NewCreditHistoryRepository(db *gorm.DB) CreditHistoryRepository {
	return &creditHistoryRepository{db: db}
}

func (r *creditHistoryRepository) GetForUpdateTx(ctx context.Context, tx *gorm.DB, customerID string, defaultCredit money.Money) (*domain.CreditHistory, error) {
	var model CreditHistoryModel

	err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("customer_id = ?", customerID).
		First(&model).Error

	if err == nil {
		// Колонки хранят только сумму; валюта берётся из defaultCredit.
		model.TotalCredit.Currency = defaultCredit.Currency
		model.TotalDebit.Currency = defaultCredit.Currency
		return model.toDomain(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	history := domain.NewCreditHistory(customerID, defaultCredit)
	newModel := &CreditHistoryModel{
		CustomerID:  history.CustomerID,
		TotalCredit: history.TotalCredit,
		TotalDebit:  history.TotalDebit,
	}
	if err := tx.WithContext(ctx).Create(newModel).Error; err != nil {
		return nil, err
	}
	history.CreatedAt = newModel.CreatedAt
	history.UpdatedAt = newModel.UpdatedAt
	return history, nil
}

func (r *creditHistoryRepository) SaveTx(ctx context.Context, tx *gorm.DB, history *domain.CreditHistory) error {
	result := tx.WithContext(ctx).
		Model(&CreditHistoryModel{}).
		Where("customer_id = ?", history.CustomerID).
		Updates(map[string]any{
			"total_credit": history.TotalCredit,
			"total_debit":  history.TotalDebit,
			"updated_at":   time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrCreditHistoryNotFound
	}
	return nil
}

func (r *creditHistoryRepository) AppendEntryTx(ctx context.Context, tx *gorm.DB, entry *domain.CreditHistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	model := &CreditHistoryEntryModel{
		ID:         entry.ID,
		CustomerID: entry.CustomerID,
		SagaID:     entry.SagaID,
		Type:       string(entry.Type),
		Amount:     entry.Amount,
	}
	if err := tx.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	entry.CreatedAt = model.CreatedAt
	return nil
}
