package core

import (
	"fmt"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const monetaryPrecision int32 = 2 // prices and valuations are kept in hundredths

// Currency is a fixed-point monetary amount in hundredths of a currency unit.
// Integer representation keeps strict-improvement and tie comparisons exact.
type Currency int64

// Units returns the amount for a whole number of currency units.
func Units(n int64) Currency {
	return Currency(n * 100)
}

// CurrencyFromDecimal rounds d to monetaryPrecision and converts it to Currency.
func CurrencyFromDecimal(d decimal.Decimal) Currency {
	return Currency(d.Round(monetaryPrecision).Shift(monetaryPrecision).IntPart())
}

// CurrencyFromFloat converts a float amount using decimal arithmetic to avoid binary rounding errors.
func CurrencyFromFloat(f float64) Currency {
	return CurrencyFromDecimal(decimal.NewFromFloat(f))
}

// ParseCurrency parses a decimal string such as "12.5".
func ParseCurrency(s string) (Currency, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse currency %q: %w", s, err)
	}
	return CurrencyFromDecimal(d), nil
}

// Decimal returns the amount as a decimal in currency units.
func (c Currency) Decimal() decimal.Decimal {
	return decimal.New(int64(c), -monetaryPrecision)
}

// Float64 returns the amount in currency units. Only for presentation.
func (c Currency) Float64() float64 {
	f, _ := c.Decimal().Float64()
	return f
}

func (c Currency) String() string {
	return c.Decimal().StringFixed(monetaryPrecision)
}

// MarshalJSON encodes the amount as a plain JSON number.
func (c Currency) MarshalJSON() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted decimal strings.
func (c *Currency) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	*c = CurrencyFromDecimal(d)
	return nil
}

// MarshalYAML encodes the amount as a decimal string.
func (c Currency) MarshalYAML() (any, error) {
	return c.String(), nil
}

// UnmarshalYAML accepts YAML numbers and strings.
func (c *Currency) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: currency must be a scalar", value.Line)
	}
	parsed, err := ParseCurrency(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*c = parsed
	return nil
}
