package reporting

import (
	"github.com/shopspring/decimal"
)

// LovelacePerADA is the number of lovelace in one ADA.
const LovelacePerADA = 1_000_000

// FormatADA renders lovelace as ADA with six decimals.
func FormatADA(lovelace int64) string {
	return decimal.New(lovelace, -6).StringFixed(6)
}

// ParseADA converts an ADA amount such as "12.5" to lovelace.
// Amounts finer than one lovelace are rejected.
func ParseADA(s string) (int64, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	l := d.Shift(6)
	if !l.IsInteger() {
		return 0, false
	}
	return l.IntPart(), true
}
