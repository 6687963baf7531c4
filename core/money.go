package core

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatAmount renders a BRL amount for humans, e.g. "R$ 12.500,00" for pt-BR.
func FormatAmount(locale string, amount decimal.Decimal) string {
	tag, err := language.Parse(locale)
	if err != nil {
		tag = language.BrazilianPortuguese
	}
	f, _ := amount.Round(2).Float64()
	return message.NewPrinter(tag).Sprintf("R$ %.2f", f)
}
