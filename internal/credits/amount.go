package credits

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/angelmondragon/relaycrm-backend/pkg/errors"
)

// maxIntegerDigits is the digit count of math.MaxInt64.
const maxIntegerDigits = 19

var (
	maxAmount = decimal.NewFromInt(math.MaxInt64)
	minAmount = decimal.NewFromInt(math.MinInt64)
)

// ParseAmount accepts a JSON number or numeric string and truncates any fractional
// part toward zero. Zero, non-numeric and out-of-range values are rejected.
func ParseAmount(raw json.RawMessage) (int64, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, amountError("amount is required")
	}

	text := string(trimmed)
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return 0, amountError("amount must be numeric")
		}
	}
	return ParseAmountString(text)
}

// ParseAmountString applies the same rules as ParseAmount to a bare string.
func ParseAmountString(text string) (int64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, amountError("amount is required")
	}
	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, amountError("amount must be numeric")
	}
	// Bound the magnitude from the exponent before anything rescales the
	// coefficient; 1e100000000 would otherwise be expanded in full.
	integerDigits := d.NumDigits() + int(d.Exponent())
	if integerDigits > maxIntegerDigits {
		return 0, amountError("amount is out of range")
	}
	if integerDigits <= 0 {
		return 0, amountError("amount must be a non-zero integer")
	}
	whole := d.Truncate(0)
	if whole.GreaterThan(maxAmount) || whole.LessThan(minAmount) {
		return 0, amountError("amount is out of range")
	}
	value := whole.IntPart()
	if value == 0 {
		return 0, amountError("amount must be a non-zero integer")
	}
	return value, nil
}

func amountError(msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"field": "amount"})
}
