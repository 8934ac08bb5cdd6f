package domain

import "math"

// AddAmount returns a+b. ok is false when the sum leaves the int64 range.
func AddAmount(a, b int64) (sum int64, ok bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}

// CheckedSum returns the total lovelace of the given records.
// ok is false when the total does not fit in int64.
func CheckedSum(funds []*FundRecord) (total int64, ok bool) {
	for _, f := range funds {
		if total, ok = AddAmount(total, f.Amount); !ok {
			return 0, false
		}
	}
	return total, true
}
