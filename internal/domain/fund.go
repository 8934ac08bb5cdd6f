package domain

import "math"

// Asset is a non-currency token attached to a fund record.
type Asset struct {
	PolicyID  string `json:"policy_id"`
	AssetName string `json:"asset_name"`
	Quantity  int64  `json:"quantity"`
}

// FundRecord is an immutable unit of currency held by a pot.
// Spending removes the record and inserts new ones; records are never updated.
type FundRecord struct {
	FundID    string  // deterministic hash
	PotID     string  // owning pot
	Amount    int64   // lovelace
	Assets    []Asset // non-currency content (settlement marker)
	Datum     []byte  // attached data (outcome record JSON)
	CreatedAt int64   // Unix timestamp in milliseconds
}

// HasDatum reports whether the record carries attached data.
func (f *FundRecord) HasDatum() bool {
	return len(f.Datum) > 0
}

// IsReserved reports whether the record is not plain spendable currency.
// Non-currency assets reserve a record, with or without attached data.
func (f *FundRecord) IsReserved() bool {
	for _, a := range f.Assets {
		if a.Quantity != 0 {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (f *FundRecord) Clone() *FundRecord {
	c := *f
	if f.Assets != nil {
		c.Assets = append([]Asset(nil), f.Assets...)
	}
	if f.Datum != nil {
		c.Datum = append([]byte(nil), f.Datum...)
	}
	return &c
}

// SumAmounts returns the total lovelace of the given records, saturating at
// math.MaxInt64. Use CheckedSum where the exact value matters.
func SumAmounts(funds []*FundRecord) int64 {
	total, ok := CheckedSum(funds)
	if !ok {
		return math.MaxInt64
	}
	return total
}
