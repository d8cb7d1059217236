package domain

import (
	"time"

	"example.com/foodorder/pkg/money"
)

// LedgerEntryType различает два вида операций над кредитной историей клиента.
type LedgerEntryType string

const (
	// LedgerEntryDebit — списание при оплате заказа (PAY).
	LedgerEntryDebit LedgerEntryType = "DEBIT"

	// LedgerEntryCredit — пополнение при возврате средств (CANCEL).
	LedgerEntryCredit LedgerEntryType = "CREDIT"
)

// CreditHistory — кредитная история клиента: одна строка на клиента с
// накопительными totalCredit/totalDebit. Сравнение этих двух сумм и есть
// инвариант "клиенту хватает средств" (SPEC_FULL.md §4.4): totalDebit
// никогда не должен превышать totalCredit.
type CreditHistory struct {
	CustomerID  string
	TotalCredit money.Money
	TotalDebit  money.Money
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewCreditHistory создаёт кредитную историю нового клиента, выдавая ему
// начальный кредитный лимит (initialCredit). Без этого первый же платёж
// нового клиента упирался бы в totalDebit > totalCredit=0 независимо от суммы.
func NewCreditHistory(customerID string, initialCredit money.Money) *CreditHistory {
	now := time.Now()
	return &CreditHistory{
		CustomerID:  customerID,
		TotalCredit: initialCredit,
		TotalDebit:  money.Zero(initialCredit.Currency),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Available возвращает текущий доступный остаток (totalCredit - totalDebit).
func (h *CreditHistory) Available() (money.Money, error) {
	return h.TotalCredit.Sub(h.TotalDebit)
}

// Debit списывает amount со счёта клиента (операция PAY). Нарушение
// инварианта totalDebit <= totalCredit возвращает ErrInsufficientFunds и не
// изменяет состояние.
func (h *CreditHistory) Debit(amount money.Money) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	newDebit, err := h.TotalDebit.Add(amount)
	if err != nil {
		return err
	}
	if newDebit.Cmp(h.TotalCredit) > 0 {
		return ErrInsufficientFunds
	}
	h.TotalDebit = newDebit
	h.UpdatedAt = time.Now()
	return nil
}

// Credit пополняет счёт клиента (операция CANCEL — возврат ранее списанной
// суммы). Увеличивает totalCredit, а не уменьшает totalDebit, чтобы ledger
// оставался монотонным и отражал фактическую историю операций, а не просто
// текущий баланс.
func (h *CreditHistory) Credit(amount money.Money) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	newCredit, err := h.TotalCredit.Add(amount)
	if err != nil {
		return err
	}
	h.TotalCredit = newCredit
	h.UpdatedAt = time.Now()
	return nil
}

// CreditHistoryEntry — неизменяемая запись одной операции над кредитной
// историей (append-only ledger, аудиторский след вместо одного
// изменяемого счётчика баланса).
type CreditHistoryEntry struct {
	ID         string
	CustomerID string
	SagaID     string
	Type       LedgerEntryType
	Amount     money.Money
	CreatedAt  time.Time
}
