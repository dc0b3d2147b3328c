package rest

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Number decodes venue numbers sent either as JSON numbers or strings.
// Empty strings and null decode to zero.
type Number struct {
	decimal.Decimal
}

func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		n.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("decode number %q: %w", b, err)
	}
	n.Decimal = d
	return nil
}
