package db

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Dec scans a NUMERIC column selected as ::text into dst. NULL scans as zero.
func Dec(dst *decimal.Decimal) any {
	return decScanner{dst: dst}
}

type decScanner struct {
	dst *decimal.Decimal
}

func (s decScanner) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case nil:
		*s.dst = decimal.Zero
		return nil
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("scan decimal: unsupported type %T", src)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("scan decimal: %w", err)
	}
	*s.dst = d
	return nil
}
