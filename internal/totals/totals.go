package totals

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type AdjustmentType string

const (
	AdjustmentFixed      AdjustmentType = "fixed"
	AdjustmentPercentage AdjustmentType = "percentage"
)

type CurrencyScale int32

const DefaultCurrencyScale CurrencyScale = 2

var hundred = decimal.NewFromInt(100)

// Adjustment is a document-level discount or tax. Value is an amount for
// fixed adjustments and a percentage like 19 for 19%.
type Adjustment struct {
	Type  AdjustmentType  `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type Line struct {
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	// DiscountPercent is an optional per-line percentage discount.
	DiscountPercent decimal.Decimal `json:"discountPercent"`
}

type Input struct {
	Lines       []Line
	Discount    Adjustment
	Tax         Adjustment
	FiscalStamp decimal.Decimal
}

type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	AfterDiscount decimal.Decimal `json:"afterDiscount"`
	Tax           decimal.Decimal `json:"tax"`
	FiscalStamp   decimal.Decimal `json:"fiscalStamp"`
	Total         decimal.Decimal `json:"total"`
}

type ValidationError struct {
	Code    string
	Message string
}

func (e ValidationError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LineTotal is quantity x unit price less the line discount, rounded to scale.
func LineTotal(l Line, scale CurrencyScale) decimal.Decimal {
	if scale <= 0 {
		scale = DefaultCurrencyScale
	}
	amt := l.Quantity.Mul(l.UnitPrice)
	if l.DiscountPercent.IsPositive() {
		amt = amt.Sub(amt.Mul(l.DiscountPercent).Div(hundred))
	}
	return amt.Round(int32(scale))
}

// Calculate computes document totals.
//
// Rules:
// - Subtotal is the sum of rounded line totals.
// - Discount applies to the subtotal; tax applies to the amount after discount.
// - Every component is rounded to scale before summing, so
//   Total == (Subtotal - Discount) + Tax + FiscalStamp holds exactly.
func Calculate(in Input, scale CurrencyScale) (Totals, error) {
	if scale <= 0 {
		scale = DefaultCurrencyScale
	}
	s := int32(scale)

	subtotal := decimal.Zero
	for _, l := range in.Lines {
		if l.Quantity.IsNegative() || l.UnitPrice.IsNegative() {
			return Totals{}, ValidationError{Code: "LINE_INVALID", Message: "quantity and unit price must be >= 0"}
		}
		if l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(hundred) {
			return Totals{}, ValidationError{Code: "LINE_DISCOUNT_INVALID", Message: "line discount must be between 0 and 100"}
		}
		subtotal = subtotal.Add(LineTotal(l, scale))
	}

	discount, err := apply(in.Discount, subtotal, s, "DISCOUNT")
	if err != nil {
		return Totals{}, err
	}
	if discount.GreaterThan(subtotal) {
		return Totals{}, ValidationError{Code: "DISCOUNT_EXCEEDS_SUBTOTAL", Message: "discount cannot exceed subtotal"}
	}
	after := subtotal.Sub(discount)

	tax, err := apply(in.Tax, after, s, "TAX")
	if err != nil {
		return Totals{}, err
	}

	if in.FiscalStamp.IsNegative() {
		return Totals{}, ValidationError{Code: "FISCAL_STAMP_INVALID", Message: "fiscal stamp must be >= 0"}
	}
	stamp := in.FiscalStamp.Round(s)

	return Totals{
		Subtotal:      subtotal,
		Discount:      discount,
		AfterDiscount: after,
		Tax:           tax,
		FiscalStamp:   stamp,
		Total:         after.Add(tax).Add(stamp),
	}, nil
}

func apply(a Adjustment, base decimal.Decimal, scale int32, code string) (decimal.Decimal, error) {
	if a.Value.IsZero() {
		return decimal.Zero, nil
	}
	if a.Value.IsNegative() {
		return decimal.Zero, ValidationError{Code: code + "_INVALID", Message: strings.ToLower(code) + " must be >= 0"}
	}
	switch a.Type {
	case AdjustmentFixed, "":
		return a.Value.Round(scale), nil
	case AdjustmentPercentage:
		if a.Value.GreaterThan(hundred) {
			return decimal.Zero, ValidationError{Code: code + "_INVALID", Message: strings.ToLower(code) + " percentage must be <= 100"}
		}
		return base.Mul(a.Value).Div(hundred).Round(scale), nil
	default:
		return decimal.Zero, ValidationError{Code: code + "_TYPE_INVALID", Message: strings.ToLower(code) + " type must be fixed or percentage"}
	}
}

// Format renders an amount the one way both JSON and PDF output show it.
func Format(amount decimal.Decimal, currency string, scale CurrencyScale) string {
	if scale <= 0 {
		scale = DefaultCurrencyScale
	}
	s := amount.StringFixed(int32(scale))
	if currency == "" {
		return s
	}
	return s + " " + currency
}

// Formatted is Totals rendered with Format.
type Formatted struct {
	Subtotal      string `json:"subtotal"`
	Discount      string `json:"discount"`
	AfterDiscount string `json:"afterDiscount"`
	Tax           string `json:"tax"`
	FiscalStamp   string `json:"fiscalStamp"`
	Total         string `json:"total"`
}

func (t Totals) Format(currency string, scale CurrencyScale) Formatted {
	return Formatted{
		Subtotal:      Format(t.Subtotal, currency, scale),
		Discount:      Format(t.Discount, currency, scale),
		AfterDiscount: Format(t.AfterDiscount, currency, scale),
		Tax:           Format(t.Tax, currency, scale),
		FiscalStamp:   Format(t.FiscalStamp, currency, scale),
		Total:         Format(t.Total, currency, scale),
	}
}
