package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/SparingSoftware/getpaid-go/pkg/errors"
)

// Money is an exact decimal amount in a single ISO-4217 currency. Values are
// treated as immutable: every operation returns a new Money and never mutates
// its receiver. Arithmetic between two different currencies is an error.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// NewMoney constructs a Money value. The currency must be a 3-letter code and
// the amount must not be negative.
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return Money{}, apperrors.InvalidAmount(fmt.Sprintf("currency must be a 3-letter ISO code, got %q", currency))
	}
	if amount.IsNegative() {
		return Money{}, apperrors.InvalidAmount(fmt.Sprintf("amount must not be negative, got %s", amount))
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// ParseMoney constructs a Money value from a decimal string such as "100.00".
func ParseMoney(amount, currency string) (Money, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return Money{}, apperrors.InvalidAmount(fmt.Sprintf("malformed amount %q", amount))
	}
	return NewMoney(d, currency)
}

// Zero returns a zero Money in the given currency.
func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: strings.ToUpper(currency)}
}

func (m Money) sameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return apperrors.CurrencyMismatch(m.Currency, other.Currency)
	}
	return nil
}

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Both values must share a currency. The result may be
// negative; callers check with IsNegative.
func (m Money) Sub(other Money) (Money, error) {
	if err := m.sameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// Cmp compares m against other: -1 if m < other, 0 if equal, +1 if m > other.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.sameCurrency(other); err != nil {
		return 0, err
	}
	return m.Amount.Cmp(other.Amount), nil
}

// Equal reports whether two Money values have the same currency and amount.
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool {
	return m.Amount.IsNegative()
}

// IsPositive reports whether the amount is above zero.
func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.StringFixed(2), m.Currency)
}
