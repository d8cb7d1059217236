// Package money содержит Money — денежный тип с произвольной точностью.
// В отличие от int64 в минимальных единицах, decimal.Decimal не теряет точность
// при умножении на дробное количество и не требует фиксированного масштаба валюты.
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money — сумма в указанной валюте с точным десятичным представлением.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// Zero возвращает нулевую сумму в указанной валюте.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

// New создаёт Money из строкового представления суммы (без потери точности).
func New(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, fmt.Errorf("невалидная сумма %q: %w", amount, err)
	}
	return Money{Amount: d, Currency: currency}, nil
}

// FromInt создаёт Money из целого числа основных единиц валюты (FromInt(1000, "USD") — 1000.00 USD).
func FromInt(amount int64, currency string) Money {
	return Money{Amount: decimal.NewFromInt(amount), Currency: currency}
}

// IsZero возвращает true, если сумма равна нулю.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsNegative возвращает true, если сумма отрицательна.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// IsPositive возвращает true, если сумма строго больше нуля.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

// sameCurrency проверяет совпадение валют перед арифметикой.
func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("несовпадение валют: %s != %s", m.Currency, other.Currency)
	}
	return nil
}

// Add складывает две суммы в одной валюте. Операция ассоциативна и точна.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub вычитает other из m в одной валюте.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Mul умножает сумму на произвольный множитель (например, на количество позиций).
func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor), Currency: m.Currency}
}

// MulInt умножает сумму на целочисленное количество.
func (m Money) MulInt(qty int32) Money {
	return m.Mul(decimal.NewFromInt32(qty))
}

// Equal сравнивает суммы по значению (не по внутреннему представлению масштаба).
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// Cmp возвращает -1, 0 или 1 при сравнении m с other. Паникует при разных валютах,
// так как сравнение сумм в разных валютах без курса не имеет смысла.
func (m Money) Cmp(other Money) int {
	if m.Currency != other.Currency {
		panic(fmt.Sprintf("сравнение разных валют: %s != %s", m.Currency, other.Currency))
	}
	return m.Amount.Cmp(other.Amount)
}

// GreaterThanOrEqual возвращает true если m >= other.
func (m Money) GreaterThanOrEqual(other Money) bool {
	return m.Cmp(other) >= 0
}

// String возвращает человекочитаемое представление, например "199.99 USD".
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}

// Value реализует driver.Valuer для хранения суммы как строки в БД.
func (m Money) Value() (driver.Value, error) {
	return m.Amount.String(), nil
}

// Scan реализует sql.Scanner для чтения суммы из БД.
func (m *Money) Scan(value interface{}) error {
	if value == nil {
		m.Amount = decimal.Zero
		return nil
	}
	switch v := value.(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		m.Amount = d
	case []byte:
		d, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		m.Amount = d
	default:
		return fmt.Errorf("money: неподдерживаемый тип для Scan: %T", value)
	}
	return nil
}
