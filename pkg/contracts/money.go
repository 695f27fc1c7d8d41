package contracts

import (
	"fmt"
	"strings"
)

// Money is an amount in integer minor units.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"` // ISO 4217 or asset ticker
	Scale       int    `json:"scale"`    // 2 for fiat, 8 for BTC/ETH
}

// NewMoney creates a Money value with the conventional scale for the currency.
func NewMoney(amountMinor int64, currency string) Money {
	currency = strings.ToUpper(currency)
	scale := 2
	if currency == "BTC" || currency == "ETH" {
		scale = 8
	}
	return Money{AmountMinor: amountMinor, Currency: currency, Scale: scale}
}

// IsPositive returns true if the amount is > 0.
func (m Money) IsPositive() bool {
	return m.AmountMinor > 0
}

// ExceedsMajor reports whether the amount is strictly greater than units
// whole major units, honouring the amount's scale.
func (m Money) ExceedsMajor(units int64) bool {
	div := int64(1)
	for i := 0; i < m.Scale; i++ {
		div *= 10
	}
	whole, frac := m.AmountMinor/div, m.AmountMinor%div
	return whole > units || (whole == units && frac > 0)
}

// String renders the amount in major units, e.g. "45.50 USD".
func (m Money) String() string {
	if m.Scale <= 0 {
		return fmt.Sprintf("%d %s", m.AmountMinor, m.Currency)
	}
	div := int64(1)
	for i := 0; i < m.Scale; i++ {
		div *= 10
	}
	sign := ""
	amt := m.AmountMinor
	if amt < 0 {
		sign = "-"
		amt = -amt
	}
	return fmt.Sprintf("%s%d.%0*d %s", sign, amt/div, m.Scale, amt%div, m.Currency)
}
