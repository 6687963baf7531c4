package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		name   string
		locale string
		amount decimal.Decimal
		want   string
	}{
		{name: "pt-BR grouping", locale: "pt-BR", amount: decimal.RequireFromString("12500"), want: "R$ 12.500,00"},
		{name: "en grouping", locale: "en", amount: decimal.RequireFromString("1234.5"), want: "R$ 1,234.50"},
		{name: "rounds to cents", locale: "pt-BR", amount: decimal.RequireFromString("0.129"), want: "R$ 0,13"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(tt.locale, tt.amount))
		})
	}
}
