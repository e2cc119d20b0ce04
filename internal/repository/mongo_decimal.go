package repository

import (
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Money and percentages are stored as Decimal128 so no float rounding reaches the ledger.

func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

// decimalFrom reads a stored numeric value. Older documents may carry doubles or ints.
func decimalFrom(raw interface{}) decimal.Decimal {
	switch v := raw.(type) {
	case primitive.Decimal128:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	case int32:
		return decimal.NewFromInt(int64(v))
	}
	return decimal.Zero
}

func int64From(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		return int64(v), true
	}
	return 0, false
}
