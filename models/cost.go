package models

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// Cost is a money amount as it arrives from the data feeds. Spreadsheet
// imports send numbers, numeric strings, empty strings or nothing at all, so
// decoding never fails: anything that is not a number is stored as invalid
// and counts as zero.
type Cost struct {
	Value decimal.Decimal
	Valid bool
}

// NewCost returns a valid cost.
func NewCost(v decimal.Decimal) Cost {
	return Cost{Value: v, Valid: true}
}

// CostFromFloat is a shorthand used by importers and tests.
func CostFromFloat(f float64) Cost {
	return NewCost(decimal.NewFromFloat(f))
}

// Amount returns the value, or zero when the cost is invalid.
func (c Cost) Amount() decimal.Decimal {
	if !c.Valid {
		return decimal.Zero
	}
	return c.Value
}

func (c *Cost) UnmarshalJSON(data []byte) error {
	*c = Cost{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}
	if raw == "" {
		return nil
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	*c = NewCost(v)
	return nil
}

func (c Cost) MarshalJSON() ([]byte, error) {
	if !c.Valid {
		return []byte("null"), nil
	}
	return []byte(c.Value.String()), nil
}

// Costed is implemented by every dated expense record the dashboard sums.
type Costed interface {
	CostDate() string
	CostAmount() Cost
}
