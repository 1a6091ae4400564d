package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-pricing/internal/domain/apperr"
	"github.com/xenking/kart-pricing/internal/domain/discount"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPrice_NoDiscount(t *testing.T) {
	items := []Item{
		{Line: Line{ExternalArticleID: "x", Quantity: 5}, ArticleID: 1},
		{Line: Line{ExternalArticleID: "y", Quantity: 3}, ArticleID: 2},
	}
	prices := map[int64]decimal.Decimal{1: dec("10"), 2: dec("0.10")}

	p, err := Price(items, prices, nil, nil)
	require.NoError(t, err)
	assert.True(t, dec("50.30").Equal(p.Total), p.Total.String())
	require.Len(t, p.Lines, 2)
	assert.True(t, dec("0.3").Equal(p.Lines[1].Amount))
	assert.Nil(t, p.Lines[0].DiscountAmount)
}

func TestPrice_NotTaxed(t *testing.T) {
	items := []Item{{Line: Line{ExternalArticleID: "x", Quantity: 1}, ArticleID: 1}}

	_, err := Price(items, map[int64]decimal.Decimal{}, nil, nil)
	var notTaxed *ArticleNotTaxedError
	require.ErrorAs(t, err, &notTaxed)
	assert.Equal(t, "x", notTaxed.ExternalArticleID)
	assert.ErrorIs(t, err, apperr.ErrBadRequest)
}

func TestPrice_Tiers(t *testing.T) {
	// Every line is max(a*q*p + r*n - base, 0) for k = a*q + r.
	tests := []struct {
		name     string
		qty      int64
		tierQty  int64
		tierPr   string
		price    string
		base     string
		want     string
		discount string
	}{
		{"one tier and remainder", 5, 3, "8", "10", "0", "44", "6"},
		{"exact tiers", 6, 3, "8", "10", "0", "48", "12"},
		{"below tier", 2, 3, "8", "10", "0", "20", "0"},
		{"base reduces line", 5, 3, "8", "10", "4", "40", "10"},
		{"floored at zero", 3, 3, "1", "10", "100", "0", "30"},
		{"fractional prices", 7, 2, "1.25", "1.50", "0.5", "8.5", "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := []Item{{Line: Line{ExternalArticleID: "x", Quantity: tt.qty}, ArticleID: 1}}
			d := &discount.Discount{ID: 1, BaseDiscountedAmount: dec(tt.base)}
			tiers := map[int64]discount.ArticleDiscount{
				1: {ArticleID: 1, DiscountID: 1, TierQuantity: tt.tierQty, TierPrice: dec(tt.tierPr)},
			}

			p, err := Price(items, map[int64]decimal.Decimal{1: dec(tt.price)}, d, tiers)
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(p.Total), "total %s", p.Total)
			require.NotNil(t, p.Lines[0].DiscountAmount)
			assert.True(t, dec(tt.discount).Equal(*p.Lines[0].DiscountAmount), "discount %s", p.Lines[0].DiscountAmount)
		})
	}
}

func TestPrice_TierOnOneLineOnly(t *testing.T) {
	items := []Item{
		{Line: Line{ExternalArticleID: "x", Quantity: 4}, ArticleID: 1},
		{Line: Line{ExternalArticleID: "y", Quantity: 2}, ArticleID: 2},
	}
	prices := map[int64]decimal.Decimal{1: dec("10"), 2: dec("3")}
	d := &discount.Discount{ID: 1, BaseDiscountedAmount: dec("2")}
	tiers := map[int64]discount.ArticleDiscount{
		1: {ArticleID: 1, DiscountID: 1, TierQuantity: 2, TierPrice: dec("7")},
	}

	p, err := Price(items, prices, d, tiers)
	require.NoError(t, err)
	// x: 4*7 - 2 = 26, y: 2*3 = 6; base is not applied again to the total.
	assert.True(t, dec("32").Equal(p.Total), p.Total.String())
	assert.Nil(t, p.Lines[1].DiscountAmount)
}

func TestPrice_CartWide(t *testing.T) {
	items := []Item{{Line: Line{ExternalArticleID: "x", Quantity: 5}, ArticleID: 1}}
	prices := map[int64]decimal.Decimal{1: dec("10")}

	p, err := Price(items, prices, &discount.Discount{ID: 2, BaseDiscountedAmount: dec("5")}, nil)
	require.NoError(t, err)
	assert.True(t, dec("45").Equal(p.Total))
	assert.True(t, dec("50").Equal(p.Lines[0].Amount))

	p, err = Price(items, prices, &discount.Discount{ID: 2, BaseDiscountedAmount: dec("80")}, nil)
	require.NoError(t, err)
	assert.True(t, p.Total.IsZero())
}
