package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var currencySymbols = map[string]string{
	"CRC": "₡",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
	"MXN": "$",
}

// CurrencyFormatter prints whole currency amounts with the grouping rules of
// a locale. Fractional digits are always rounded away.
//
// The symbol always comes before the number ("₡125.000" for de), even in
// locales that write it after the amount, since x/text exposes grouping but
// no currency pattern. Amounts past the int64 range keep the locale's
// separator but are grouped in threes.
type CurrencyFormatter struct {
	printer *message.Printer
	unit    currency.Unit
	symbol  string
}

func NewCurrencyFormatter(locale, code string) (*CurrencyFormatter, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return nil, fmt.Errorf("invalid locale %q: %w", locale, err)
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("invalid currency %q: %w", code, err)
	}
	symbol, ok := currencySymbols[unit.String()]
	if !ok {
		symbol = unit.String() + " "
	}
	return &CurrencyFormatter{
		printer: message.NewPrinter(tag),
		unit:    unit,
		symbol:  symbol,
	}, nil
}

// MustCurrencyFormatter panics on an invalid locale or code. For defaults only.
func MustCurrencyFormatter(locale, code string) *CurrencyFormatter {
	f, err := NewCurrencyFormatter(locale, code)
	if err != nil {
		panic(err)
	}
	return f
}

var maxWhole = decimal.NewFromInt(math.MaxInt64)

func (f *CurrencyFormatter) Format(amount decimal.Decimal) string {
	rounded := amount.Round(0)
	sign := ""
	if rounded.IsNegative() {
		sign = "-"
		rounded = rounded.Neg()
	}
	if rounded.GreaterThan(maxWhole) {
		return sign + f.symbol + groupDigits(rounded.String(), f.groupSeparator())
	}
	return sign + f.symbol + f.printer.Sprint(number.Decimal(rounded.IntPart()))
}

// groupSeparator is what the locale puts between thousands, read back from a
// formatted million so locales that skip grouping at four digits still show it.
func (f *CurrencyFormatter) groupSeparator() string {
	rest := strings.TrimPrefix(f.printer.Sprint(number.Decimal(1000000)), "1")
	if len(rest) < 6 {
		return ""
	}
	return rest[:(len(rest)-6)/2]
}

func groupDigits(digits, sep string) string {
	if len(digits) <= 3 || sep == "" {
		return digits
	}
	var b strings.Builder
	head := len(digits) % 3
	if head == 0 {
		head = 3
	}
	b.WriteString(digits[:head])
	for i := head; i < len(digits); i += 3 {
		b.WriteString(sep)
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// Zero is what a target shows when nothing has been spent.
func (f *CurrencyFormatter) Zero() string {
	return f.Format(decimal.Zero)
}

func (f *CurrencyFormatter) Currency() string { return f.unit.String() }
